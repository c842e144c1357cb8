package config

import (
	"os"
	"strings"
)

// Config captures everything main needs to wire the engine. Values come from
// the environment so deployments stay twelve-factor and main stays lean.
type Config struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  []string
	AuditTopic    string
	HashAlgorithm string
}

// FromEnv builds a Config from environment variables. Backend selection is
// by presence: a database URL wins over a Redis URL, and with neither the
// engine runs on the in-memory store (development only).
func FromEnv() Config {
	addr := os.Getenv("CUSTODIA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var brokers []string
	if raw := os.Getenv("CUSTODIA_KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return Config{
		Addr:          addr,
		DatabaseURL:   os.Getenv("CUSTODIA_DATABASE_URL"),
		RedisURL:      os.Getenv("CUSTODIA_REDIS_URL"),
		KafkaBrokers:  brokers,
		AuditTopic:    os.Getenv("CUSTODIA_AUDIT_TOPIC"),
		HashAlgorithm: os.Getenv("CUSTODIA_HASH_ALGORITHM"),
	}
}
