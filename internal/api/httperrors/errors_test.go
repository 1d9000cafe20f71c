package httperrors

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		typ  string
	}{
		{"duplicate task", protocol.NewDuplicateTaskError("dup"), http.StatusConflict, "DUPLICATE_TASK"},
		{"unknown task", protocol.ErrUnknownTask, http.StatusNotFound, "UNKNOWN_TASK"},
		{"wrapped no capacity", errors.Wrap(protocol.NewNoCapacityError("m"), "plan"), http.StatusServiceUnavailable, "NO_CAPACITY"},
		{"generic", errors.New("boom"), http.StatusInternalServerError, "GENERIC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := FromError(tt.err)
			assert.Equal(t, tt.code, he.Code)
			body, ok := he.Message.(*HTTPError)
			require.True(t, ok)
			assert.Equal(t, tt.typ, body.Type)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}
