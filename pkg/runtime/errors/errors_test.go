package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want string
	}{
		{GeneralFailure, "GENERAL_FAILURE"},
		{IllegalArgument, "ILLEGAL_ARGUMENT"},
		{IllegalState, "ILLEGAL_STATE"},
		{Kind(0), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestRuntimeError(t *testing.T) {
	t.Parallel()

	t.Run("MessageOnly", func(t *testing.T) {
		err := NewIllegalArgument("unknown module %q", "svc")
		assert.Equal(t, `ILLEGAL_ARGUMENT: unknown module "svc"`, err.Error())
	})

	t.Run("WithCause", func(t *testing.T) {
		err := Wrap(GeneralFailure, io.ErrUnexpectedEOF, "copy module")
		assert.Equal(t, "GENERAL_FAILURE: copy module: unexpected EOF", err.Error())
		assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	})

	t.Run("SuppressedAreReachable", func(t *testing.T) {
		hookErr := stderrors.New("stop hook failed")
		err := NewGeneralFailure("shutdown").Suppress(nil, hookErr)
		require.Len(t, err.Suppressed, 1)
		assert.True(t, stderrors.Is(err, hookErr))
		assert.Contains(t, err.Error(), "(1 suppressed)")
	})
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Kind(0), KindOf(nil))
	assert.Equal(t, GeneralFailure, KindOf(io.EOF))
	assert.Equal(t, IllegalState, KindOf(NewIllegalState("already running")))

	wrapped := fmt.Errorf("handler: %w", NewIllegalArgument("bad name"))
	assert.True(t, IsIllegalArgument(wrapped))
	assert.False(t, IsIllegalState(wrapped))
	assert.True(t, IsGeneralFailure(stderrors.New("boom")))
}
