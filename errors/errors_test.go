package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Registry", "Register", "duplicate check")

	require.Error(t, err)
	assert.Equal(t, "Registry.Register: duplicate check failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrap_NilError(t *testing.T) {
	assert.NoError(t, Wrap(nil, "Registry", "Register", "anything"))
	assert.NoError(t, WrapTransient(nil, "Router", "Route", "anything"))
	assert.NoError(t, WrapInvalid(nil, "Router", "Route", "anything"))
	assert.NoError(t, WrapFatal(nil, "Router", "Route", "anything"))
}

func TestClassifiedError_Unwrap(t *testing.T) {
	err := WrapInvalid(ErrInvalidRecord, "Registry", "Register", "field validation")

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "Registry", ce.Component)
	assert.True(t, stderrors.Is(err, ErrInvalidRecord))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "queue saturated", err: ErrQueueSaturated, want: true},
		{name: "queue full", err: ErrQueueFull, want: true},
		{name: "no available service", err: ErrNoAvailableService, want: true},
		{name: "delivery failed", err: ErrDeliveryFailed, want: true},
		{name: "timeout sentinel", err: ErrTimeout, want: true},
		{name: "wrapped saturation", err: fmt.Errorf("route: %w", ErrQueueSaturated), want: true},
		{name: "duplicate service", err: ErrDuplicateService, want: false},
		{name: "classified transient", err: WrapTransient(stderrors.New("x"), "c", "m", "a"), want: true},
		{name: "classified invalid", err: WrapInvalid(stderrors.New("x"), "c", "m", "a"), want: false},
		{name: "message pattern", err: stderrors.New("backend temporarily unavailable"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrInvalidRecord))
	assert.True(t, IsInvalid(ErrDuplicateService))
	assert.True(t, IsInvalid(ErrAuthorization))
	assert.True(t, IsInvalid(fmt.Errorf("submit: %w", ErrInvalidRule)))
	assert.False(t, IsInvalid(ErrQueueFull))
	assert.False(t, IsInvalid(nil))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidRecord))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("unknown")))
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}
