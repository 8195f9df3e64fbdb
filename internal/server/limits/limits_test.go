package limits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllow_BurstThenReject(t *testing.T) {
	l := New(1, 2)

	assert.True(t, l.Allow("id1"))
	assert.True(t, l.Allow("id1"))
	assert.False(t, l.Allow("id1"))
}

func TestAllow_IdentitiesAreIndependent(t *testing.T) {
	l := New(1, 1)

	assert.True(t, l.Allow("id1"))
	assert.False(t, l.Allow("id1"))
	assert.True(t, l.Allow("id2"))
}
