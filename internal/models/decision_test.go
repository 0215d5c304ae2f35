package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecision_RetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, Decision{}.RetryAfterSeconds())
	assert.Equal(t, 1, Decision{RetryAfter: 200 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 1, Decision{RetryAfter: time.Second}.RetryAfterSeconds())
	assert.Equal(t, 2, Decision{RetryAfter: 1100 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 300, Decision{RetryAfter: 5 * time.Minute}.RetryAfterSeconds())
}

func TestMitigationsFor(t *testing.T) {
	for _, attackType := range []AttackType{AttackBruteForce, AttackFlood, AttackScraping, AttackAPIAbuse} {
		assert.NotEmpty(t, MitigationsFor(attackType), "attack type %s", attackType)
	}

	// Returned slice is a copy, not the shared table.
	m := MitigationsFor(AttackFlood)
	m[0] = "mutated"
	assert.NotEqual(t, "mutated", MitigationsFor(AttackFlood)[0])
}
