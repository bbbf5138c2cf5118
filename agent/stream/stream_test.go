package stream

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shellbridge/shellbridge/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var log *zap.SugaredLogger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
}

func recvChunk(t *testing.T, rs *RemoteShell) (shell.Chunk, bool) {
	t.Helper()
	select {
	case c, ok := <-rs.Chunks():
		return c, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for chunk")
		return shell.Chunk{}, false
	}
}

// recvUntil reads chunks until one matches, failing the test if the stream ends first.
func recvUntil(t *testing.T, rs *RemoteShell, match func(shell.Chunk) bool) shell.Chunk {
	t.Helper()
	for {
		c, ok := recvChunk(t, rs)
		if !ok {
			t.Fatal("chunk stream ended before expected chunk arrived")
		}
		if match(c) {
			return c
		}
	}
}

func newTestShell(t *testing.T, srv *Server) *RemoteShell {
	t.Helper()
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	client := &Client{
		HTTPClient: hs.Client(),
		URL:        hs.URL,
		Logger:     log.Named("test_client"),
	}
	rs, err := client.OpenShell(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })
	return rs
}

func TestShellRoundTrip(t *testing.T) {
	rs := newTestShell(t, &Server{Log: log.Named("test_server")})

	created, ok := recvChunk(t, rs)
	require.True(t, ok)
	assert.Equal(t, ">> New Session created", created.Text)
	assert.False(t, created.Stderr)

	require.NoError(t, rs.Exec(context.Background(), "echo hi"))
	out := recvUntil(t, rs, func(c shell.Chunk) bool { return c.Text == "hi\n" })
	assert.False(t, out.Stderr)

	require.NoError(t, rs.Exec(context.Background(), "printf oops 1>&2"))
	errOut := recvUntil(t, rs, func(c shell.Chunk) bool { return c.Text == "oops" })
	assert.True(t, errOut.Stderr)
}

func TestSessionDisposedOnConnClose(t *testing.T) {
	started := make(chan *shell.Session, 1)
	ended := make(chan *shell.Session, 1)
	rs := newTestShell(t, &Server{
		Log:            log.Named("test_server"),
		OnSessionStart: func(s *shell.Session) { started <- s },
		OnSessionEnd:   func(s *shell.Session) { ended <- s },
	})

	var sess *shell.Session
	select {
	case sess = <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("session never started")
	}
	assert.True(t, sess.Live())

	require.NoError(t, rs.Close())

	select {
	case endedSess := <-ended:
		assert.Equal(t, sess.ID(), endedSess.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("session never ended after connection close")
	}
	assert.Eventually(t, func() bool { return !sess.Live() }, 5*time.Second, 10*time.Millisecond)
}

func TestSpawnFailureEndsStream(t *testing.T) {
	rs := newTestShell(t, &Server{
		Log:         log.Named("test_server"),
		Interpreter: shell.Interpreter{Command: "/nonexistent-interpreter"},
	})

	// The server cannot spawn the interpreter, so it closes the connection without ever
	// sending a chunk.
	_, ok := recvChunk(t, rs)
	assert.False(t, ok)
}
