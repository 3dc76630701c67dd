package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/taskdeck/taskdeck/internal/backend"
)

const (
	// stopGrace is how long a SIGTERM gets before escalation.
	stopGrace = 5 * time.Second

	// startMaxElapsed bounds spawn retries for transient fork failures.
	startMaxElapsed = 10 * time.Second

	// scanBufferSize allows single output lines up to 16 MiB; tool
	// results can carry whole files.
	scanBufferSize = 16 * 1024 * 1024
)

// session is one live CLI process and its associated state.
type session struct {
	id     string
	taskID string
	cmd    *exec.Cmd
	cancel context.CancelFunc
	events chan backend.Event
	exited chan struct{}
	log    zerolog.Logger

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	mu      sync.Mutex
	pending map[string]string // request id -> tool name
	allowed []string
	stopped bool
	done    bool
}

// trackRequest records an in-flight control request so a later response
// can recover the tool it was about.
func (s *session) trackRequest(requestID, toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[requestID] = toolName
}

// resolveRequest removes a tracked request, returning the tool name it
// was about.
func (s *session) resolveRequest(requestID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tool, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	return tool, ok
}

// rememberAllowed records a tool the operator approved for the rest of
// the session.
func (s *session) rememberAllowed(tool string) {
	if tool == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.allowed {
		if existing == tool {
			return
		}
	}
	s.allowed = append(s.allowed, tool)
}

// spawn starts the CLI process, retrying transient failures with
// exponential backoff. The returned error is terminal.
func (s *session) spawn(ctx context.Context, binary string, args []string, dir string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = startMaxElapsed

	return backoff.Retry(func() error {
		runCtx, cancel := context.WithCancel(context.Background())

		cmd := exec.CommandContext(runCtx, binary, args...)
		cmd.Dir = dir
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			cancel()
			return backoff.Permanent(fmt.Errorf("stdin pipe: %w", err))
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			cancel()
			return backoff.Permanent(fmt.Errorf("stdout pipe: %w", err))
		}
		var stderr strings.Builder
		cmd.Stderr = &stderr

		if err := cmd.Start(); err != nil {
			cancel()
			if errors.Is(err, exec.ErrNotFound) {
				return backoff.Permanent(fmt.Errorf("start %s: %w", binary, err))
			}
			return fmt.Errorf("start %s: %w", binary, err)
		}

		s.cmd = cmd
		s.cancel = cancel
		s.stdin = stdin

		go s.readLoop(ctx, stdout, &stderr)
		return nil
	}, backoff.WithContext(policy, ctx))
}

// readLoop consumes stream-json output until the process exits or the
// caller's context is canceled, normalizing lines into events.
func (s *session) readLoop(ctx context.Context, stdout io.Reader, stderr *strings.Builder) {
	defer close(s.exited)
	defer close(s.events)
	defer s.cancel()

	go func() {
		<-ctx.Done()
		s.terminate()
	}()

	var sawTerminal bool

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)
	for scanner.Scan() {
		events, err := s.parseLine(scanner.Text())
		if err != nil {
			if !errors.Is(err, errSkipLine) {
				s.log.Warn().Err(err).Msg("unparseable output line")
			}
			continue
		}
		for _, ev := range events {
			if ev.Kind == backend.EventComplete || ev.Kind == backend.EventError {
				sawTerminal = true
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}

	err := s.cmd.Wait()
	s.mu.Lock()
	s.done = true
	stopped := s.stopped
	s.mu.Unlock()

	if sawTerminal || stopped || ctx.Err() != nil {
		return
	}

	// The process died without a result line.
	msg := "backend process exited unexpectedly"
	if err != nil {
		msg = fmt.Sprintf("backend process failed: %v", err)
	}
	if detail := strings.TrimSpace(stderr.String()); detail != "" {
		msg = msg + ": " + detail
	}
	select {
	case s.events <- backend.Event{Kind: backend.EventError, Err: msg}:
	case <-ctx.Done():
	}
}

// writeFrame sends one stream-json input line to the process.
func (s *session) writeFrame(frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode input frame: %w", err)
	}

	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()
	if s.stdin == nil {
		return errors.New("session input closed")
	}
	if _, err := s.stdin.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write input frame: %w", err)
	}
	return nil
}

// sendPrompt delivers the user prompt over stdin.
func (s *session) sendPrompt(prompt string) error {
	return s.writeFrame(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt},
			},
		},
	})
}

// terminate stops the process: SIGTERM the process group, escalate to
// SIGKILL after the grace period. Safe on a finished session.
func (s *session) terminate() {
	s.mu.Lock()
	if s.stopped || s.done {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	pid := cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	go func() {
		deadline := time.NewTimer(stopGrace)
		defer deadline.Stop()
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-deadline.C:
				_ = syscall.Kill(-pid, syscall.SIGKILL)
				return
			case <-tick.C:
				s.mu.Lock()
				done := s.done
				s.mu.Unlock()
				if done {
					return
				}
			}
		}
	}()
}
