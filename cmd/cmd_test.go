package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/camden-git/albumconverter/config"
	"github.com/camden-git/albumconverter/services"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	t.Helper()
	root := t.TempDir()
	t.Setenv("MEDIA_ROOT", root)
	t.Setenv("DATABASE_PATH", filepath.Join(root, "cli.db"))
	t.Setenv("DB_LOG_LEVEL", "silent")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("JWT_SECRET", "cli-secret")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		cleanupDays, cleanupDryRun = 14, false
		approveRevoke, approveAdmin = false, false
		for _, c := range []string{"days", "dry-run"} {
			cleanupCmd.Flags().Lookup(c).Changed = false
		}
		for _, c := range []string{"revoke", "admin"} {
			approveUserCmd.Flags().Lookup(c).Changed = false
		}
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCleanup_NothingToDelete(t *testing.T) {
	setupEnv(t)
	out, err := run(t, "cleanup", "--dry-run", "--days", "3")
	require.NoError(t, err)
	require.Contains(t, out, "No album older than 3 days.")
}

func TestApproveUser(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "approve-user", "ghost")
	require.ErrorContains(t, err, `user "ghost" not found`)

	loaded, err := config.LoadConfig()
	require.NoError(t, err)
	a, err := newApp(loaded)
	require.NoError(t, err)
	_, err = a.auth.Register(services.RegisterInput{
		Username:  "carol",
		Email:     "carol@example.com",
		Password1: "long enough password",
		Password2: "long enough password",
	})
	require.NoError(t, err)
	_, _, _, err = a.auth.Login("carol", "long enough password")
	require.ErrorIs(t, err, services.ErrNotApproved)
	a.Close()

	out, err := run(t, "approve-user", "carol", "--admin")
	require.NoError(t, err)
	require.Contains(t, out, "carol approved.")

	a, err = newApp(loaded)
	require.NoError(t, err)
	defer a.Close()
	user, _, expiresAt, err := a.auth.Login("carol", "long enough password")
	require.NoError(t, err)
	require.True(t, user.IsAdmin)
	require.True(t, expiresAt.After(time.Now()))
}
