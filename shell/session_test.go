package shell

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Sink that captures every chunk for later inspection.
type recorder struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (r *recorder) Send(c Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
}

func (r *recorder) snapshot() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Chunk(nil), r.chunks...)
}

func (r *recorder) count(match func(Chunk) bool) int {
	n := 0
	for _, c := range r.snapshot() {
		if match(c) {
			n++
		}
	}
	return n
}

// waitFor polls until a captured chunk satisfies match, failing the test after five seconds.
func (r *recorder) waitFor(t *testing.T, desc string, match func(Chunk) bool) Chunk {
	t.Helper()
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, c := range r.snapshot() {
			if match(c) {
				return c
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for chunk: %s (got %+v)", desc, r.snapshot())
			return Chunk{}
		case <-ticker.C:
		}
	}
}

func hasText(text string) func(Chunk) bool {
	return func(c Chunk) bool { return c.Text == text }
}

func isNotice(c Chunk) bool {
	return strings.HasPrefix(c.Text, ">> ")
}

func TestExecuteCommandAutoStarts(t *testing.T) {
	rec := &recorder{}
	s := NewSession(rec)
	defer s.Dispose()

	require.True(t, s.ExecuteCommand("echo hello"))

	created := rec.waitFor(t, "created notice", hasText(createdNotice))
	assert.False(t, created.Stderr)
	out := rec.waitFor(t, "echo output", hasText("hello\n"))
	assert.False(t, out.Stderr)
}

func TestCommandBytesForwardedExactlyOnce(t *testing.T) {
	// cat echoes its stdin verbatim, so the captured output is exactly what the session
	// wrote to the interpreter's input stream.
	rec := &recorder{}
	s := NewSession(rec, WithInterpreter(Interpreter{Command: "cat", WD: "/"}))
	defer s.Dispose()

	require.True(t, s.ExecuteCommand("abc"))
	rec.waitFor(t, "echoed command", hasText("abc\n"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count(hasText("abc\n")))
}

func TestStderrChunksTagged(t *testing.T) {
	rec := &recorder{}
	s := NewSession(rec)
	defer s.Dispose()

	require.True(t, s.ExecuteCommand("printf bar 1>&2"))
	c := rec.waitFor(t, "stderr output", hasText("bar"))
	assert.True(t, c.Stderr)
}

func TestPartialLineFlushedWithoutNewline(t *testing.T) {
	rec := &recorder{}
	s := NewSession(rec)
	defer s.Dispose()

	require.True(t, s.ExecuteCommand("printf foo"))

	require.Eventually(t, func() bool {
		return strings.HasSuffix(stdoutText(rec), "foo")
	}, 5*time.Second, 10*time.Millisecond, "partial output never flushed")
}

// stdoutText concatenates non-notice stdout payloads in arrival order.
func stdoutText(rec *recorder) string {
	var b strings.Builder
	for _, c := range rec.snapshot() {
		if !c.Stderr && !isNotice(c) {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

func TestUnexpectedClosureRespawnsOnce(t *testing.T) {
	rec := &recorder{}
	s := NewSession(rec)
	defer s.Dispose()

	require.NoError(t, s.Start())
	rec.waitFor(t, "created notice", hasText(createdNotice))

	// The interpreter exiting on its own is an unexpected closure: both drain loops race
	// to observe it, but only one notice and one respawn may result.
	require.True(t, s.ExecuteCommand("exit 0"))

	closed := rec.waitFor(t, "closed notice", hasText(closedNotice))
	assert.True(t, closed.Stderr)
	require.Eventually(t, func() bool {
		return rec.count(hasText(createdNotice)) == 2
	}, 5*time.Second, 10*time.Millisecond, "no respawn observed")

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, rec.count(hasText(closedNotice)))
	assert.Equal(t, 2, rec.count(hasText(createdNotice)))

	// The respawned session is usable.
	require.True(t, s.ExecuteCommand("echo back"))
	rec.waitFor(t, "post-respawn output", hasText("back\n"))
}

func TestSingleStreamClosureTearsDownInstance(t *testing.T) {
	rec := &recorder{}
	s := NewSession(rec)

	require.NoError(t, s.Start())
	rec.waitFor(t, "created notice", hasText(createdNotice))

	// Closing just stdout leaves the interpreter running: the respawn must kill
	// the old instance anyway, or its stderr drain wedges on a read forever.
	require.True(t, s.ExecuteCommand("exec 1>&-"))

	closed := rec.waitFor(t, "closed notice", hasText(closedNotice))
	assert.True(t, closed.Stderr)
	require.Eventually(t, func() bool {
		return rec.count(hasText(createdNotice)) == 2
	}, 5*time.Second, 10*time.Millisecond, "no respawn observed")

	require.True(t, s.ExecuteCommand("echo alive"))
	rec.waitFor(t, "post-respawn output", hasText("alive\n"))

	done := make(chan struct{})
	go func() {
		s.Dispose()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Dispose hung after single-stream closure respawn")
	}
}

func TestRespawnFailureReportedThenRetriedOnNextCommand(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "interp")
	script := []byte("#!/bin/sh\nexec /bin/sh\n")
	require.NoError(t, os.WriteFile(bin, script, 0755))

	rec := &recorder{}
	s := NewSession(rec, WithInterpreter(Interpreter{Command: bin}))
	defer s.Dispose()

	require.NoError(t, s.Start())
	rec.waitFor(t, "created notice", hasText(createdNotice))

	// With the binary gone the crash-path respawn must fail: one failure chunk,
	// then processless until the next command retries the spawn.
	require.NoError(t, os.Remove(bin))
	require.True(t, s.ExecuteCommand("exit 0"))

	rec.waitFor(t, "closed notice", hasText(closedNotice))
	isRespawnFailure := func(c Chunk) bool {
		return strings.HasPrefix(c.Text, ">> Session respawn failed:")
	}
	failed := rec.waitFor(t, "respawn failure notice", isRespawnFailure)
	assert.True(t, failed.Stderr)

	require.Eventually(t, func() bool { return !s.Live() }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count(isRespawnFailure))
	assert.Equal(t, 1, rec.count(hasText(createdNotice)))

	// Restoring the binary lets the next command spawn a fresh instance.
	require.NoError(t, os.WriteFile(bin, script, 0755))
	require.True(t, s.ExecuteCommand("echo revived"))
	assert.Equal(t, 2, rec.count(hasText(createdNotice)))
	rec.waitFor(t, "post-retry output", hasText("revived\n"))
}

func TestClosedNoticePrecedesRespawnCreatedNotice(t *testing.T) {
	rec := &recorder{}
	s := NewSession(rec)
	defer s.Dispose()

	require.NoError(t, s.Start())
	rec.waitFor(t, "created notice", hasText(createdNotice))

	// Commands racing the crash must not let the replacement's created notice
	// jump ahead of the closed notice.
	require.True(t, s.ExecuteCommand("exit 0"))
	for i := 0; i < 20; i++ {
		s.ExecuteCommand("true")
	}

	rec.waitFor(t, "closed notice", hasText(closedNotice))
	require.Eventually(t, func() bool {
		return rec.count(hasText(createdNotice)) == 2
	}, 5*time.Second, 10*time.Millisecond, "no respawn observed")

	var closedAt, secondCreatedAt int
	created := 0
	for i, c := range rec.snapshot() {
		switch c.Text {
		case closedNotice:
			closedAt = i
		case createdNotice:
			created++
			if created == 2 {
				secondCreatedAt = i
			}
		}
	}
	assert.Less(t, closedAt, secondCreatedAt)
}

func TestDisposeSuppressesRespawnAndChunks(t *testing.T) {
	rec := &recorder{}
	s := NewSession(rec)

	require.NoError(t, s.Start())
	rec.waitFor(t, "created notice", hasText(createdNotice))

	s.Dispose()
	seen := len(rec.snapshot())

	assert.False(t, s.ExecuteCommand("echo nope"))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, rec.count(hasText(closedNotice)))
	assert.Equal(t, seen, len(rec.snapshot()))
}

func TestDisposeIdempotent(t *testing.T) {
	rec := &recorder{}
	s := NewSession(rec)
	require.NoError(t, s.Start())

	s.Dispose()
	s.Dispose()

	// Disposing a session that never started is also fine.
	s2 := NewSession(&recorder{})
	s2.Dispose()
	s2.Dispose()
}

func TestSpawnErrorSurfaced(t *testing.T) {
	rec := &recorder{}
	s := NewSession(rec, WithInterpreter(Interpreter{Command: "/nonexistent-interpreter"}))
	defer s.Dispose()

	err := s.Start()
	require.Error(t, err)
	assert.False(t, s.ExecuteCommand("echo hello"))
	assert.False(t, s.Live())
}

func TestStartAfterDispose(t *testing.T) {
	s := NewSession(&recorder{})
	s.Dispose()
	require.ErrorIs(t, s.Start(), ErrDisposed)
}

func TestWorkDirOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "here.txt"), []byte("x"), 0644))

	rec := &recorder{}
	s := NewSession(rec, WithWorkDir(dir))
	defer s.Dispose()

	require.True(t, s.ExecuteCommand("ls"))
	c := rec.waitFor(t, "listing output", hasText("here.txt\n"))
	assert.False(t, c.Stderr)
}

func TestDirectoryListingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0644))

	rec := &recorder{}
	s := NewSession(rec)
	defer s.Dispose()

	require.True(t, s.ExecuteCommand("ls "+dir))
	c := rec.waitFor(t, "listing output", hasText("file.txt\n"))
	assert.False(t, c.Stderr)
}
