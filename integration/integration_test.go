//go:build integration

package integration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/duplexrpc-go"
)

var (
	buildOnce sync.Once
	childPath string
	buildErr  error
	buildOut  []byte
)

// pingChild builds examples/ping_child once per test run and returns the
// binary path. The test is skipped when the Go toolchain is unavailable.
func pingChild(t *testing.T) string {
	t.Helper()

	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not installed")
	}

	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "duplexrpc-integration-")
		if err != nil {
			buildErr = err

			return
		}

		childPath = filepath.Join(dir, "ping_child")

		cmd := exec.Command(goBin, "build", "-o", childPath, "./examples/ping_child")
		cmd.Dir = ".."
		buildOut, buildErr = cmd.CombinedOutput()
	})

	require.NoError(t, buildErr, "build ping_child: %s", buildOut)

	return childPath
}

// startChild runs conn against a fresh ping_child and returns the
// ListenProcess result channel.
func startChild(t *testing.T, ctx context.Context, conn *duplexrpc.Conn) <-chan error {
	t.Helper()

	path := pingChild(t)
	errCh := make(chan error, 1)

	go func() {
		errCh <- conn.ListenProcess(ctx, exec.Command(path))
	}()

	return errCh
}

func waitListen(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("ListenProcess did not return")

		return nil
	}
}
