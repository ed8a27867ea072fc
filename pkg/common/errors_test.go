package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"config", NewConfigError("missing key", nil), ErrConfig},
		{"data store", NewDataStoreError("fetch routes", errors.New("timeout")), ErrDataStore},
		{"state", NewStateError("COMPLETED -> WAITING"), ErrState},
		{"geometry", NewGeometryError("single-vertex ring"), ErrGeometry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.kind))
			assert.False(t, errors.Is(tt.err, ErrBusTimeout))
		})
	}
}

func TestAppErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("HTTP 503")
	err := NewDataStoreError("fetch depots", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "fetch depots")
	assert.Contains(t, err.Error(), "HTTP 503")

	wrapped := fmt.Errorf("reload: %w", err)
	assert.True(t, errors.Is(wrapped, ErrDataStore))
}
