package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorPredicates(t *testing.T) {
	unknown := NewUnknownModelError("nope")
	assert.True(t, IsUnknownModel(unknown))
	assert.True(t, IsUnknownModel(fmt.Errorf("single model: %w", unknown)))
	assert.False(t, IsTransient(unknown))

	cause := errors.New("deadline exceeded")
	transient := NewTransientError("tiger_reid", "request timed out", cause)
	assert.True(t, IsTransient(transient))
	assert.True(t, IsEmbeddingFailure(transient))
	assert.ErrorIs(t, transient, cause)
	assert.Contains(t, transient.Error(), "deadline exceeded")

	permanent := NewPermanentError("tiger_reid", "rejected", nil)
	assert.True(t, IsPermanent(permanent))
	assert.True(t, IsEmbeddingFailure(permanent))

	assert.True(t, IsInvalidCalibration(NewInvalidCalibrationError("bad")))
	assert.False(t, IsDomainError(errors.New("plain")))
	assert.Nil(t, GetDomainError(nil))
}

func TestDecisionTerminal(t *testing.T) {
	assert.False(t, DecisionPending.Terminal())
	assert.False(t, DecisionConsulting.Terminal())
	assert.True(t, DecisionAccepted.Terminal())
	assert.True(t, DecisionRejected.Terminal())
	assert.True(t, DecisionNeedsReview.Terminal())
}
