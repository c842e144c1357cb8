package correlation_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/pkg/platform/middleware/correlation"
	"custodia/pkg/requestcontext"
)

func TestMiddlewarePropagatesCallerID(t *testing.T) {
	var got string
	handler := correlation.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = requestcontext.CorrelationID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/v1/audit/events", nil)
	r.Header.Set(correlation.Header, "corr-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, "corr-42", got)
	assert.Equal(t, "corr-42", w.Header().Get(correlation.Header))
}

func TestMiddlewareGeneratesIDWhenMissing(t *testing.T) {
	var got string
	handler := correlation.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = requestcontext.CorrelationID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/audit/events", nil))

	_, err := uuid.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, got, w.Header().Get(correlation.Header))
}
