package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_OrderIndependent(t *testing.T) {
	pairs := [][2]string{
		{"u1", "u2"},
		{"65a1f0c2b3d4e5f60718293a", "65a1f0c2b3d4e5f60718293b"},
		{"alice", "bob"},
		{"same", "same"},
	}
	for _, p := range pairs {
		k1, err := Key(p[0], p[1])
		require.NoError(t, err)
		k2, err := Key(p[1], p[0])
		require.NoError(t, err)
		assert.Equal(t, k1, k2, "pair %v", p)
	}
}

func TestKey_Example(t *testing.T) {
	k, err := Key("u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1-u2", k)
}

func TestKey_DistinctPairs(t *testing.T) {
	ab, _ := Key("a", "b")
	ac, _ := Key("a", "c")
	bc, _ := Key("b", "c")
	assert.NotEqual(t, ab, ac)
	assert.NotEqual(t, ab, bc)
	assert.NotEqual(t, ac, bc)
}

func TestKey_RejectsMalformed(t *testing.T) {
	cases := [][2]string{
		{"", "u2"},
		{"u1", ""},
		{"u-1", "u2"},
		{"u1", "u 2"},
	}
	for _, c := range cases {
		_, err := Key(c[0], c[1])
		assert.ErrorIs(t, err, ErrInvalidIdentity, "pair %q", c)
	}
}

func TestParticipants(t *testing.T) {
	a, b, err := Participants("u1-u2")
	require.NoError(t, err)
	assert.Equal(t, "u1", a)
	assert.Equal(t, "u2", b)

	_, _, err = Participants("u2-u1")
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, _, err = Participants("g1")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestIncludesAndPeer(t *testing.T) {
	assert.True(t, Includes("u1-u2", "u1"))
	assert.True(t, Includes("u1-u2", "u2"))
	assert.False(t, Includes("u1-u2", "u3"))
	assert.False(t, Includes("garbage", "u1"))

	peer, err := Peer("u1-u2", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u1", peer)

	_, err = Peer("u1-u2", "u3")
	assert.Error(t, err)
}
