package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/shellbridge/shellbridge/agent/stream"
	"github.com/shellbridge/shellbridge/shell"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ShellAgent is an HTTP agent exposing interactive interpreter sessions to remote consumers.
// Each WebSocket connection to /shell is bound to one interpreter session for the lifetime
// of the connection.
type ShellAgent struct {
	logger *zap.SugaredLogger

	heartbeatFailureHandler func()
	heartbeatTimeout        time.Duration
	listenAddr              string
	interp                  shell.Interpreter

	httpServer  *http.Server
	shellServer *stream.Server

	closed        chan struct{}
	closeOnce     sync.Once
	heartbeatMut  sync.Mutex
	lastHeartbeat time.Time

	sessionsMut sync.Mutex
	sessions    map[string]*shell.Session
}

type Option func(a *ShellAgent)

func WithHeartbeatTimeout(d time.Duration) Option {
	return func(a *ShellAgent) {
		a.heartbeatTimeout = d
	}
}

func WithHeartbeatFailureHandler(f func()) Option {
	return func(a *ShellAgent) {
		a.heartbeatFailureHandler = f
	}
}

func WithListenAddr(s string) Option {
	return func(a *ShellAgent) {
		a.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *ShellAgent) {
		a.logger = l.Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *ShellAgent) {
		a.logger = a.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithInterpreter overrides the interpreter spawned for each session; the zero value means
// the platform default.
func WithInterpreter(i shell.Interpreter) Option {
	return func(a *ShellAgent) {
		a.interp = i
	}
}

func HeartbeatFailureShutdown() {
	fmt.Println("heartbeat failed, shutting down")
	cmd := exec.Command("shutdown", "now")
	err := cmd.Run()
	if err != nil {
		fmt.Printf("unable to shutdown host: %s", err)
	}
}

func HeartbeatFailureExit() {
	fmt.Println("heartbeat failed, exiting")
	os.Exit(1)
}

// NewShellAgent constructs a new shell agent.
func NewShellAgent(opts ...Option) (*ShellAgent, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	a := &ShellAgent{
		logger:           logger.Named("shellagent").Sugar(),
		heartbeatTimeout: 1 * time.Minute,
		listenAddr:       "0.0.0.0:8080",
		closed:           make(chan struct{}),
		sessions:         map[string]*shell.Session{},
	}
	for _, o := range opts {
		o(a)
	}
	a.shellServer = &stream.Server{
		Log:            a.logger.Named("shell_server"),
		Interpreter:    a.interp,
		OnSessionStart: a.registerSession,
		OnSessionEnd:   a.unregisterSession,
	}
	return a, nil
}

func (a *ShellAgent) registerSession(s *shell.Session) {
	a.sessionsMut.Lock()
	defer a.sessionsMut.Unlock()
	a.sessions[s.ID()] = s
}

func (a *ShellAgent) unregisterSession(s *shell.Session) {
	a.sessionsMut.Lock()
	defer a.sessionsMut.Unlock()
	delete(a.sessions, s.ID())
}

// startHeartbeatCheck starts a goroutine that checks for a heartbeat timeout and invokes the
// failure handler when a timeout occurs.
func (a *ShellAgent) startHeartbeatCheck() {
	go func() {
		a.heartbeatMut.Lock()
		a.lastHeartbeat = time.Now()
		a.heartbeatMut.Unlock()

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-a.closed:
				return
			case <-ticker.C:
			}

			a.heartbeatMut.Lock()
			lastHeartbeat := a.lastHeartbeat
			a.heartbeatMut.Unlock()

			if lastHeartbeat.Add(a.heartbeatTimeout).Before(time.Now()) {
				if a.heartbeatFailureHandler != nil {
					a.heartbeatFailureHandler()
				}
			}
		}
	}()
}

func (a *ShellAgent) runHTTPServer() error {
	listener, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	router := httprouter.New()
	router.GET("/heartbeat", a.heartbeat)
	router.GET("/shell", a.shellWS)
	router.GET("/sessions", a.listSessions)

	server := http.Server{Handler: router}
	a.httpServer = &server

	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// Run runs the shell agent and returns once the agent has stopped.
func (a *ShellAgent) Run() error {
	a.startHeartbeatCheck()
	return a.runHTTPServer()
}

func (a *ShellAgent) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.heartbeatMut.Lock()
	lastHeartbeat := a.lastHeartbeat
	a.lastHeartbeat = time.Now()
	a.heartbeatMut.Unlock()
	response := struct {
		LastHeartbeat string
	}{
		LastHeartbeat: lastHeartbeat.UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(response)
	if err != nil {
		a.logger.Debugf("error marshaling heartbeat response: %s", err)
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

func (a *ShellAgent) shellWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.shellServer.ServeHTTP(w, r)
}

// SessionInfo describes one live session, for diagnostics.
type SessionInfo struct {
	ID   string
	Live bool
}

func (a *ShellAgent) listSessions(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.sessionsMut.Lock()
	infos := make([]SessionInfo, 0, len(a.sessions))
	for id, s := range a.sessions {
		infos = append(infos, SessionInfo{ID: id, Live: s.Live()})
	}
	a.sessionsMut.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	b, err := json.Marshal(infos)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

// Stop disposes all live sessions and closes the HTTP server.
func (a *ShellAgent) Stop() error {
	a.closeOnce.Do(func() { close(a.closed) })

	a.sessionsMut.Lock()
	sessions := make([]*shell.Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.sessionsMut.Unlock()
	for _, s := range sessions {
		s.Dispose()
	}

	return a.httpServer.Close()
}
