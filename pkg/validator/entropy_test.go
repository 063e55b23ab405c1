package validator_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meshvault/meshvault/pkg/validator"
)

func TestEntropyOfRepeatedBytes(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = 0x41
	}
	assert.Less(t, validator.CalculateEntropy(data), 1.0)
}

func TestEntropyOfRandomBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := make([]byte, 1000)
	rng.Read(data)
	assert.Greater(t, validator.CalculateEntropy(data), 7.0)
}

func TestEntropyBounds(t *testing.T) {
	assert.Equal(t, 0.0, validator.CalculateEntropy(nil))
	assert.Equal(t, 0.0, validator.CalculateEntropy([]byte{0x00}))

	// All 256 byte values exactly once: maximum entropy of 8 bits/byte.
	uniform := make([]byte, 256)
	for i := range uniform {
		uniform[i] = byte(i)
	}
	assert.InDelta(t, 8.0, validator.CalculateEntropy(uniform), 0.0001)
}
