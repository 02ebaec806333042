package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Transient("smtp unreachable", cause)

	assert.Contains(t, err.Error(), "smtp unreachable")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)

	bare := Permanent("no such recipient", nil)
	assert.Equal(t, "no such recipient", bare.Error())
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, IsValidation(Validation("bad input", nil)))
	assert.True(t, IsPermanent(Permanent("gone", nil)))
	assert.True(t, IsStore(Store("query failed", nil)))

	assert.False(t, IsPermanent(Transient("flaky", nil)))
	assert.False(t, IsValidation(Store("query failed", nil)))
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.False(t, IsPermanent(nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("processing record: %w", Permanent("recipient has no email address", nil))
	require.True(t, IsPermanent(err))
	assert.False(t, IsValidation(err))
}
