package command

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestOSRunnerCapturesStreams(t *testing.T) {
	requireShell(t)
	r := NewOSRunner("HOOK_TEST_VALUE=from-runner")

	res, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", `echo "out:$HOOK_TEST_VALUE:$EXTRA"; echo err >&2`},
		Env:  []string{"EXTRA=from-command"},
	})

	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, "out:from-runner:from-command\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestOSRunnerReportsExitCode(t *testing.T) {
	requireShell(t)
	res, err := NewOSRunner().Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo nope >&2; exit 3"}})

	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "nope\n", res.Stderr)
}

func TestOSRunnerMissingBinary(t *testing.T) {
	_, err := NewOSRunner().Run(context.Background(), Command{Name: "build-hook-no-such-binary"})
	require.Error(t, err)
}

func TestOSRunnerContextDeadline(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := NewOSRunner().Run(ctx, Command{Name: "sh", Args: []string{"-c", "sleep 5"}})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, res.ExitCode)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "git", Command{Name: "git"}.String())
	assert.Equal(t, "docker buildx ls", Command{Name: "docker", Args: []string{"buildx", "ls"}}.String())
}
