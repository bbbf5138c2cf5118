package shell

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notices sent to the sink on session lifecycle transitions. The created notice is sent on
// every spawn, including respawns, so the remote consumer can tell the interpreter context
// was reset.
const (
	createdNotice     = ">> New Session created"
	closedNotice      = ">> Session unexpectedly closed"
	respawnFailedFmt  = ">> Session respawn failed: %s"
	commandLineEnding = "\n"
)

// ErrDisposed is returned by Start on a session that has already been disposed.
var ErrDisposed = errors.New("session disposed")

// Interpreter describes the command interpreter a Session spawns. The zero value means
// "use the platform default": cmd.exe /K on Windows, /bin/sh elsewhere, with the working
// directory set to the system root.
type Interpreter struct {
	Command string
	Args    []string
	WD      string
}

func (i Interpreter) orDefault() Interpreter {
	d := defaultInterpreter()
	if i.Command == "" {
		return d
	}
	if i.WD == "" {
		i.WD = d.WD
	}
	return i
}

// Session is a long-lived interactive interpreter session. It owns at most one live child
// process at a time, plus two background drain loops forwarding stdout and stderr to the sink.
//
// A Session must be disposed when no longer needed, otherwise the interpreter process leaks.
// All methods are safe for concurrent use.
type Session struct {
	id     string
	log    *zap.SugaredLogger
	sink   Sink
	interp Interpreter

	// mu guards the fields below. Every check-then-act on reading/proc happens under it:
	// that is what makes crash detection claim-once and keeps a respawn from racing a
	// disposal.
	mu       sync.Mutex
	reading  bool
	disposed bool
	proc     *proc

	// Per-direction drain locks. A drain loop holds its direction's lock for its whole
	// lifetime, so a respawned loop cannot interleave reads with its predecessor on the
	// same logical buffer.
	stdoutMu sync.Mutex
	stderrMu sync.Mutex

	wg sync.WaitGroup
}

// proc is one spawned interpreter instance. A respawn replaces the whole struct, which lets
// a drain loop tell whether the closure it observed belongs to the current instance.
type proc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	// drains is done when both drain loops for this instance have exited; reap waits on it
	// so cmd.Wait cannot close the pipes out from under a loop that is still reading.
	drains   sync.WaitGroup
	reapOnce sync.Once
}

// reap waits for both drain loops to finish with the instance's pipes, then releases the
// process handle. Safe to call from multiple goroutines.
func (p *proc) reap() {
	p.reapOnce.Do(func() {
		p.drains.Wait()
		_ = p.cmd.Wait()
	})
}

// Option configures a Session.
type Option func(s *Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.log = l.Named("session").Sugar()
	}
}

func WithInterpreter(i Interpreter) Option {
	return func(s *Session) {
		s.interp = i.orDefault()
	}
}

// WithWorkDir overrides the interpreter's working directory without changing which
// interpreter is spawned.
func WithWorkDir(wd string) Option {
	return func(s *Session) {
		s.interp.WD = wd
	}
}

func WithSessionID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// NewSession constructs a session that forwards interpreter output to the given sink.
// The interpreter is not spawned until Start or the first ExecuteCommand.
func NewSession(sink Sink, opts ...Option) *Session {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	s := &Session{
		id:     uuid.NewString(),
		log:    logger.Named("session").Sugar(),
		sink:   sink,
		interp: defaultInterpreter(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("SessionID", s.id)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Live reports whether the session currently holds a live interpreter process.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// Start spawns a fresh interpreter process and starts the drain loops. It is a no-op if a
// live process already exists. The spawn error is returned, not retried: the caller decides
// whether to call Start again.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Session) startLocked() error {
	if s.disposed {
		return ErrDisposed
	}
	if s.proc != nil {
		return nil
	}

	cmd := exec.Command(s.interp.Command, s.interp.Args...)
	cmd.Dir = s.interp.WD
	hideWindow(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("opening stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning interpreter %q: %w", s.interp.Command, err)
	}
	s.log.Debugw("interpreter spawned", "Command", s.interp.Command, "PID", cmd.Process.Pid)

	p := &proc{cmd: cmd, stdin: stdin}
	s.proc = p
	s.reading = true

	p.drains.Add(2)
	s.wg.Add(2)
	go s.drain(p, stdout, false)
	go s.drain(p, stderr, true)

	s.sink.Send(Chunk{Text: createdNotice})
	return nil
}

// ExecuteCommand submits one command line to the interpreter. If no live process exists the
// session starts one first. It returns false, not an error, when no process could be
// obtained or the command could not be written; interpreter output is observed
// asynchronously through the sink.
func (s *Session) ExecuteCommand(text string) bool {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return false
	}
	if s.proc == nil {
		if err := s.startLocked(); err != nil {
			s.mu.Unlock()
			s.log.Errorf("starting interpreter for command: %s", err)
			return false
		}
	}
	p := s.proc
	s.mu.Unlock()

	if _, err := io.WriteString(p.stdin, text+commandLineEnding); err != nil {
		s.log.Debugf("writing command to interpreter: %s", err)
		return false
	}
	return true
}

// Dispose deliberately tears the session down: it flips the reading flag first, so a drain
// loop observing the subsequent stream closure treats it as a shutdown rather than a crash,
// then best-effort kills the interpreter and waits for the drain loops to exit. Dispose is
// idempotent and callable from any state; kill failures are swallowed.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.reading = false
	p := s.proc
	s.proc = nil
	s.mu.Unlock()

	if p != nil {
		if err := p.cmd.Process.Kill(); err != nil {
			s.log.Debugf("killing interpreter: %s", err)
		}
		if err := p.stdin.Close(); err != nil {
			s.log.Debugf("closing interpreter stdin: %s", err)
		}
	}

	s.wg.Wait()
	if p != nil {
		p.reap()
	}
	s.log.Debug("session disposed")
}

// send forwards a chunk to the sink unless the session has been disposed.
func (s *Session) send(c Chunk) {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return
	}
	s.sink.Send(c)
}
