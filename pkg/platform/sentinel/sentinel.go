package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Store implementations return
// these (optionally wrapped) so the service layer can translate them into
// domain errors without knowing which backend is in play.
//
//   - ErrNotFound: the tenant has no chain yet, or the range is empty
//   - ErrConflict: the conditional append lost the tail race; nothing was written
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)
