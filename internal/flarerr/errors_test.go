package flarerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Run("typed errors report their kind", func(t *testing.T) {
		assert.Equal(t, KindInvalidInput, KindOf(InvalidInput("bad")))
		assert.Equal(t, KindNotFound, KindOf(NotFound("missing")))
		assert.Equal(t, KindTransport, KindOf(Transport(errors.New("eof"), "read")))
	})

	t.Run("plain errors are internal", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	})

	t.Run("kind survives wrapping with fmt.Errorf", func(t *testing.T) {
		err := fmt.Errorf("open sample: %w", NotFound("sample instance not found"))
		assert.Equal(t, KindNotFound, KindOf(err))
		assert.True(t, IsKind(err, KindNotFound))
	})
}

func TestMissingOption(t *testing.T) {
	err := MissingOption("sample_data_dir")
	require.Error(t, err)
	assert.Equal(t, "missing option 'sample_data_dir'", err.Error())
	assert.Equal(t, KindInvalidInput, err.Kind())
}

func TestWrap(t *testing.T) {
	t.Run("nil cause yields nil", func(t *testing.T) {
		var e error
		if w := Wrap(KindTransport, nil, "dial"); w != nil {
			e = w
		}
		assert.NoError(t, e)
	})

	t.Run("cause is unwrappable", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(KindTransport, cause, "dial agent")
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "dial agent")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "invalid_input", KindInvalidInput.String())
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "transport", KindTransport.String())
	assert.Equal(t, "internal", KindInternal.String())
}
