package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	encoded, err := Hash("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$"))

	require.True(t, Verify("correct horse battery staple", encoded))
	require.False(t, Verify("wrong password", encoded))
}

func TestHashIsSalted(t *testing.T) {
	first, err := Hash("same input")
	require.NoError(t, err)
	second, err := Hash("same input")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	require.False(t, Verify("x", ""))
	require.False(t, Verify("x", "$argon2id$v=19$garbage"))
	require.False(t, Verify("x", "$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"))
}
