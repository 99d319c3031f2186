package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeDecay(t *testing.T) {
	assert.Equal(t, 0.0, ComputeDecay(0))
	assert.Equal(t, 1.0, ComputeDecay(1))
	assert.Equal(t, 90.0, ComputeDecay(90))
	assert.Equal(t, 0.5, ComputeDecay(0.5))
}

func TestComputeDecayNegativeElapsed(t *testing.T) {
	// Clock skew must never heal the pet.
	assert.Equal(t, 0.0, ComputeDecay(-30))
}
