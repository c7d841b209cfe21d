package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error", New(ErrInvalidInput, http.StatusTeapot, "x"), http.StatusTeapot},
		{"app error without status", Newf(ErrInvalidInput, 0, "limit %d", -1), http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("loading: %w", ErrNotFound), http.StatusNotFound},
		{"invalid input", ErrInvalidInput, http.StatusBadRequest},
		{"worker failed", fmt.Errorf("query: %w", ErrWorkerFailed), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestProtocolErrorUnwrap(t *testing.T) {
	assert.ErrorIs(t, &ProtocolError{Code: "schema-mismatch"}, ErrSchemaMismatch)
	assert.ErrorIs(t, &ProtocolError{Code: "unknown-batch"}, ErrProtocol)
	assert.NotErrorIs(t, &ProtocolError{Code: "unknown-batch"}, ErrSchemaMismatch)
}
