package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/shellbridge/shellbridge/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxedShell(t *testing.T) {
	test.Integration(t)

	ctx := context.Background()
	s := MustNew()
	t.Cleanup(func() {
		require.NoError(t, s.Cleanup(context.Background()))
	})

	box, err := s.Launch(ctx)
	require.NoError(t, err)

	rs, err := box.OpenShell(ctx)
	require.NoError(t, err)
	defer rs.Close()

	require.NoError(t, rs.Exec(ctx, "echo sandboxed"))

	deadline := time.After(30 * time.Second)
	for {
		select {
		case c, ok := <-rs.Chunks():
			require.True(t, ok, "chunk stream ended early")
			if c.Text == "sandboxed\n" {
				assert.False(t, c.Stderr)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for sandboxed output")
		}
	}
}
