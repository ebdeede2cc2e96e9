package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserPassword(t *testing.T) {
	u := &User{Username: "marie"}
	require.NoError(t, u.SetPassword("s3cret-pass"))
	require.NotEqual(t, "s3cret-pass", u.PasswordHash)
	require.True(t, u.CheckPassword("s3cret-pass"))
	require.False(t, u.CheckPassword("wrong"))
}
