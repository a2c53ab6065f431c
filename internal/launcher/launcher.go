package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/0xMasayoshi/sumo/internal/logctx"
)

// Process is a running daemon.
type Process struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Start spawns binPath with --port and --profile. Its stdio is discarded.
func Start(ctx context.Context, binPath string, port int, profile string) (*Process, error) {
	logger := logctx.LoggerFromContext(ctx)

	args := []string{"--port", strconv.Itoa(port), "--profile", profile}

	cmd := exec.Command(binPath, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start daemon %s: %w", binPath, err)
	}

	p := &Process{cmd: cmd, done: make(chan struct{})}

	go func() {
		err := cmd.Wait()

		p.mu.Lock()
		p.err = err
		p.mu.Unlock()

		close(p.done)
	}()

	logger.Info("daemon started", "pid", cmd.Process.Pid, "port", port, "profile", profile)

	return p, nil
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.err
}

// Stop asks the daemon to exit and kills it if it is still running after
// grace. Stopping an exited process is a no-op.
func (p *Process) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if runtime.GOOS == "windows" {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	} else if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	<-p.done

	return nil
}

// WaitReady calls probe every interval until it succeeds or ctx is done.
func WaitReady(ctx context.Context, probe func(ctx context.Context) error, interval time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error

	for attempt := 1; ; attempt++ {
		if lastErr = probe(ctx); lastErr == nil {
			logger.Debug("daemon ready", "attempts", attempt)
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon not ready: %w (last error: %v)", ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}
