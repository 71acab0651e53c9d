package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapFormat(t *testing.T) {
	err := Wrap(ErrInvalidData, "convert", "Encode", "decode rgb565")
	require.Error(t, err)
	assert.Equal(t, "convert.Encode: decode rgb565 failed: invalid data format", err.Error())
	assert.True(t, Is(err, ErrInvalidData))
	assert.Nil(t, Wrap(nil, "a", "b", "c"))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"fatal wrap", WrapFatal(ErrResourceExhausted, "memtier", "Allocate", "allocate"), ErrorFatal},
		{"invalid wrap", WrapInvalid(fmt.Errorf("bad fps"), "config", "Validate", "check fps"), ErrorInvalid},
		{"transient wrap", WrapTransient(context.DeadlineExceeded, "server", "WriteFrame", "write"), ErrorTransient},
		{"bare exhausted", fmt.Errorf("outer: %w", ErrResourceExhausted), ErrorFatal},
		{"bare invalid config", ErrInvalidConfig, ErrorInvalid},
		{"unknown", fmt.Errorf("boom"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, Classify(tt.err))
		})
	}
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	err := WrapFatal(ErrResourceExhausted, "memtier", "Allocate", "allocate 10 bytes")
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
	assert.True(t, Is(err, ErrResourceExhausted))

	var ce *ClassifiedError
	require.True(t, As(err, &ce))
	assert.Equal(t, "memtier", ce.Component)
	assert.Equal(t, "Allocate", ce.Operation)
	assert.Equal(t, "fatal", ce.Class.String())
}

func TestNilIsNeverClassified(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsInvalid(nil))
	assert.Nil(t, WrapFatal(nil, "a", "b", "c"))
}
