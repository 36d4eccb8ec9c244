package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPasswordWithSalt(t *testing.T) {
	// sha256("passwordsalt")
	require.Equal(t,
		"7a37b85c8918eac19a9089c0fa5a2ab4dce3f90528dcdeec108b23ddf3607b99",
		HashPasswordWithSalt("password", "salt"))
}

func TestGenerateAndVerify(t *testing.T) {
	hash, salt, err := GenerateHashAndSalt("hunter2")
	require.NoError(t, err)
	require.Len(t, salt, 32)

	require.True(t, Verify("hunter2", salt, hash))
	require.False(t, Verify("hunter3", salt, hash))
	require.False(t, Verify("hunter2", "other", hash))
	require.False(t, Verify("hunter2", salt, ""))
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(8)
	require.NoError(t, err)
	b, err := RandomHex(8)
	require.NoError(t, err)
	require.Len(t, a, 16)
	require.NotEqual(t, a, b)
}
