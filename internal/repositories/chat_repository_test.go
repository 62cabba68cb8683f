package repositories

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePairOrderIndependent(t *testing.T) {
	a1, b1, err := normalizePair("alice", "bob")
	require.NoError(t, err)
	a2, b2, err := normalizePair("bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.Equal(t, b1, b2)
	assert.Equal(t, "alice", a1)
	assert.Equal(t, "bob", b1)
}

func TestNormalizePairRejectsSelfChat(t *testing.T) {
	_, _, err := normalizePair("alice", "alice")
	assert.ErrorIs(t, err, ErrInvalidParticipants)
}

func TestNormalizePairRejectsEmptyHandle(t *testing.T) {
	_, _, err := normalizePair("", "bob")
	assert.ErrorIs(t, err, ErrInvalidParticipants)
}
