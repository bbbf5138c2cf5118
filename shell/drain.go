package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"go.uber.org/zap"
)

// drain continuously reads one stream of the given interpreter instance, forwarding buffered
// output to the sink. It reads byte-by-byte: the outer read blocks until data arrives, and
// the accumulated buffer is flushed as one chunk both when a newline is appended and when no
// further bytes are immediately buffered. Partial lines (prompts, unterminated writes) are
// therefore delivered promptly instead of waiting for a terminator.
//
// On end-of-data the remaining partial buffer is flushed, then the closure is classified:
// deliberate shutdowns exit silently, anything else takes the notify-and-respawn path.
func (s *Session) drain(p *proc, r io.Reader, isErr bool) {
	defer s.wg.Done()
	defer p.drains.Done()

	name, lock := "stdout_drain", &s.stdoutMu
	if isErr {
		name, lock = "stderr_drain", &s.stderrMu
	}
	log := s.log.Named(name)

	// Held for the loop's whole lifetime: a respawned loop for the same direction cannot
	// start reading until its predecessor has fully exited.
	lock.Lock()
	defer lock.Unlock()

	br := bufio.NewReader(r)
	var buf []byte
	flush := func() {
		if len(buf) == 0 {
			return
		}
		s.send(Chunk{Text: string(buf), Stderr: isErr})
		buf = buf[:0]
	}

	for {
		b, err := br.ReadByte()
		if err != nil {
			flush()
			s.handleClosure(p, log, err)
			return
		}
		buf = append(buf, b)
		if b == '\n' || br.Buffered() == 0 {
			flush()
		}
	}
}

// handleClosure classifies a stream end-of-data. Both drain loops race here independently;
// the check-and-claim under the session mutex guarantees that exactly one of them notifies
// the sink and triggers the respawn.
func (s *Session) handleClosure(p *proc, log *zap.SugaredLogger, err error) {
	if !benignClosure(err) {
		// EOF and closed-pipe are the expected ways for a drain to end; anything else is
		// a genuine bug surfacing and must not be swallowed silently.
		log.Errorf("unexpected read fault: %s", err)
	}

	s.mu.Lock()
	if !s.reading || s.proc != p {
		// Deliberate disposal, or the sibling loop already claimed this closure.
		s.mu.Unlock()
		log.Debug("stream closed during teardown")
		return
	}
	// Claim the closure: nil out the handle so the sibling loop stays quiet. The
	// notice goes out before the mutex is released, so a racing ExecuteCommand
	// spawning the replacement cannot announce it first. Claiming implies the
	// session is not disposed, so the sink is still live.
	s.proc = nil
	s.sink.Send(Chunk{Text: closedNotice, Stderr: true})
	s.mu.Unlock()

	log.Infow("interpreter unexpectedly closed, respawning", "PID", p.cmd.Process.Pid)

	// Tear down the whole instance even if only one stream hit end-of-data (a
	// command like "exec 1>&-" closes stdout while the interpreter lives on).
	// Killing it unblocks the sibling drain with EOF; otherwise the old
	// interpreter would outlive the respawn with a drain wedged on a read.
	if err := p.cmd.Process.Kill(); err != nil {
		log.Debugf("killing old interpreter: %s", err)
	}
	if err := p.stdin.Close(); err != nil {
		log.Debugf("closing old interpreter stdin: %s", err)
	}
	go p.reap()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		// Disposal raced the notification; it wins.
		return
	}
	if err := s.startLocked(); err != nil {
		// No retry loop: report the failure and go processless. The next ExecuteCommand
		// attempts a fresh spawn.
		s.log.Errorf("respawning interpreter: %s", err)
		// Disposed was just checked under the held mutex, so the sink is still live.
		s.sink.Send(Chunk{Text: fmt.Sprintf(respawnFailedFmt, err), Stderr: true})
	}
}

func benignClosure(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, fs.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
