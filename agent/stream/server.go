package stream

import (
	"context"
	"net/http"
	"sync"

	"github.com/shellbridge/shellbridge/shell"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Server upgrades HTTP requests to WebSocket connections and binds one interpreter session
// to each connection.
type Server struct {
	Log *zap.SugaredLogger

	// Interpreter configures the sessions this server spawns; the zero value means the
	// platform default.
	Interpreter shell.Interpreter

	// OnSessionStart and OnSessionEnd, when set, are called as connection-scoped sessions
	// come and go. The agent uses these to maintain its session registry.
	OnSessionStart func(*shell.Session)
	OnSessionEnd   func(*shell.Session)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.Log.Debugf("error accepting WebSocket conn: %s", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.Log.Debug("accepted WebSocket conn")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	runner := &shellRunner{
		log:    s.Log.Named("shell_runner"),
		srv:    s,
		conn:   wsConn,
		ctx:    ctx,
		cancel: cancel,
	}
	runner.run()
}

type shellRunner struct {
	log    *zap.SugaredLogger
	srv    *Server
	conn   *websocket.Conn
	ctx    context.Context
	cancel func()

	sess *shell.Session

	closeConnOnce sync.Once
}

func (r *shellRunner) run() {
	sink := &wsChunkSink{
		log:  r.log.Named("chunk_sink"),
		ctx:  r.ctx,
		conn: r.conn,
	}
	r.sess = shell.NewSession(sink,
		shell.WithLogger(r.log.Desugar()),
		shell.WithInterpreter(r.srv.Interpreter),
	)
	defer r.sess.Dispose()

	if err := r.sess.Start(); err != nil {
		r.log.Debugf("error starting session: %s", err)
		r.close(websocket.StatusInternalError, err.Error())
		return
	}
	r.log.Debugw("session started", "SessionID", r.sess.ID())

	if cb := r.srv.OnSessionStart; cb != nil {
		cb(r.sess)
	}
	defer func() {
		if cb := r.srv.OnSessionEnd; cb != nil {
			cb(r.sess)
		}
	}()

	r.readCommands()
}

func (r *shellRunner) close(code websocket.StatusCode, reason string) {
	r.closeConnOnce.Do(func() {
		err := r.conn.Close(code, reason)
		if err != nil {
			r.log.Debugf("error closing conn: %s", err)
		}
	})
}

func (r *shellRunner) readCommands() {
	for {
		var msg shellRequestMessage
		err := wsjson.Read(r.ctx, r.conn, &msg)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			r.log.Debug("got normal closure from client, wrapping up")
			return
		}
		if err != nil {
			r.log.Debugf("command reader got error: %s", err)
			r.close(websocket.StatusInternalError, err.Error())
			return
		}
		if msg.Command == "" {
			continue
		}
		if !r.sess.ExecuteCommand(msg.Command) {
			err := wsjson.Write(r.ctx, r.conn, shellResponseMessage{
				Rejected: true,
				Command:  msg.Command,
			})
			if err != nil {
				r.log.Debugf("error sending rejection: %s", err)
			}
		}
	}
}
