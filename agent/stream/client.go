package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/shellbridge/shellbridge/shell"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const readLimit = 32768

// Client opens remote shell sessions against a stream.Server endpoint.
type Client struct {
	HTTPClient *http.Client
	URL        string
	Logger     *zap.SugaredLogger
}

// OpenShell dials the shell endpoint and returns the connected remote session. The server
// spawns the interpreter as part of accepting the connection, so the first chunk received
// is the session-created notice.
func (c *Client) OpenShell(ctx context.Context) (*RemoteShell, error) {
	c.Logger.Debugw("dialing WebSocket for shell", "URL", c.URL)
	wsConn, _, err := websocket.Dial(ctx, c.URL, &websocket.DialOptions{
		HTTPClient:      c.HTTPClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		c.Logger.Debugf("dial error: %s", err)
		return nil, fmt.Errorf("establishing WebSocket conn for shell: %w", err)
	}
	wsConn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(ctx)
	rs := &RemoteShell{
		log:    c.Logger.Named("remote_shell"),
		conn:   wsConn,
		ctx:    ctx,
		cancel: cancel,
		chunks: make(chan shell.Chunk, 64),
	}
	go rs.readMessages()
	return rs, nil
}

// RemoteShell is the client side of one connection-scoped interpreter session.
type RemoteShell struct {
	log    *zap.SugaredLogger
	conn   *websocket.Conn
	ctx    context.Context
	cancel func()

	chunks chan shell.Chunk

	closeConnOnce sync.Once
}

// Exec submits one command line to the remote interpreter. Output is observed asynchronously
// on Chunks. A rejected command (the server could not obtain an interpreter process) arrives
// as an error-flagged chunk.
func (rs *RemoteShell) Exec(ctx context.Context, command string) error {
	return wsjson.Write(ctx, rs.conn, shellRequestMessage{Command: command})
}

// Chunks returns the stream of output chunks. The channel is closed when the connection ends.
func (rs *RemoteShell) Chunks() <-chan shell.Chunk {
	return rs.chunks
}

// Close ends the remote session. The server disposes the interpreter on connection close.
func (rs *RemoteShell) Close() error {
	rs.close(websocket.StatusNormalClosure, "")
	rs.cancel()
	return nil
}

func (rs *RemoteShell) close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	rs.closeConnOnce.Do(func() {
		err := rs.conn.Close(code, reason)
		if err != nil {
			rs.log.Debugf("error closing conn: %s", err)
		}
	})
}

func (rs *RemoteShell) readMessages() {
	defer close(rs.chunks)
	defer rs.cancel()

	for {
		var msg shellResponseMessage
		err := wsjson.Read(rs.ctx, rs.conn, &msg)
		if websocket.CloseStatus(err) != -1 || rs.ctx.Err() != nil {
			rs.log.Debug("conn closed, wrapping up")
			return
		}
		if err != nil {
			rs.log.Debugf("message reader got error: %s", err)
			rs.close(websocket.StatusInternalError, err.Error())
			return
		}
		if msg.Rejected {
			rs.chunks <- shell.Chunk{Text: ">> command rejected: " + msg.Command, Stderr: true}
			continue
		}
		rs.chunks <- shell.Chunk{Text: msg.Output, Stderr: msg.IsError}
	}
}
