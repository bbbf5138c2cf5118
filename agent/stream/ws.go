package stream

import (
	"context"

	"github.com/shellbridge/shellbridge/shell"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsChunkSink is a shell.Sink that JSON-encodes each chunk and sends it as an outgoing
// WebSocket message. Send errors are logged and dropped: the session has no use for them,
// and a dying connection tears the whole session down anyway.
type wsChunkSink struct {
	log  *zap.SugaredLogger
	ctx  context.Context
	conn *websocket.Conn
}

func (s *wsChunkSink) Send(c shell.Chunk) {
	err := wsjson.Write(s.ctx, s.conn, shellResponseMessage{
		Output:  c.Text,
		IsError: c.Stderr,
	})
	if err != nil {
		s.log.Debugf("error forwarding chunk: %s", err)
	}
}
