package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

// request is one newline-delimited JSON message to the interpreter process.
type request struct {
	ID   int64  `json:"id"`
	Op   string `json:"op"`
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
	Expr string `json:"expr,omitempty"`
	Name string `json:"name,omitempty"`
}

type response struct {
	ID     int64  `json:"id"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Process is a Client backed by a long-lived external interpreter process
// speaking newline-delimited JSON over stdio. The process is started lazily
// on the first call and restarted on the next call after it dies.
type Process struct {
	command []string
	log     *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	nextID  int64
	pending map[int64]chan response
	closed  bool
}

// NewProcess creates a Process client for the given command line. The
// command is not started until the first request.
func NewProcess(command []string, log *slog.Logger) *Process {
	if log == nil {
		log = slog.Default()
	}
	return &Process{command: command, log: log}
}

func (p *Process) InferType(ctx context.Context, file string, line, col int, expr string) (string, error) {
	return p.roundTrip(ctx, request{Op: "infer_type", File: file, Line: line, Col: col, Expr: expr})
}

func (p *Process) LookupDocs(ctx context.Context, qualifiedName string) (string, error) {
	out, err := p.roundTrip(ctx, request{Op: "lookup_docs", Name: qualifiedName})
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", ErrNotFound
	}
	return out, nil
}

func (p *Process) roundTrip(ctx context.Context, req request) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrUnavailable
	}
	if err := p.ensureStartedLocked(); err != nil {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	p.nextID++
	req.ID = p.nextID
	ch := make(chan response, 1)
	p.pending[req.ID] = ch

	payload, err := json.Marshal(req)
	if err != nil {
		delete(p.pending, req.ID)
		p.mu.Unlock()
		return "", fmt.Errorf("%w: encode: %v", ErrUnavailable, err)
	}
	payload = append(payload, '\n')
	_, writeErr := p.stdin.Write(payload)
	p.mu.Unlock()

	if writeErr != nil {
		p.fail(writeErr)
		return "", ErrUnavailable
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return "", ErrUnavailable
		}
		if res.Error != "" {
			if res.Error == "not_found" {
				return "", ErrNotFound
			}
			return "", fmt.Errorf("%w: %s", ErrUnavailable, res.Error)
		}
		return res.Result, nil
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, req.ID)
		p.mu.Unlock()
		return "", ErrTimeout
	}
}

// ensureStartedLocked spawns the process and its reader goroutine. Caller
// holds p.mu.
func (p *Process) ensureStartedLocked() error {
	if p.cmd != nil {
		return nil
	}
	if len(p.command) == 0 {
		return fmt.Errorf("no command configured")
	}
	cmd := exec.Command(p.command[0], p.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	p.cmd = cmd
	p.stdin = stdin
	p.pending = make(map[int64]chan response)

	go p.readLoop(stdout)
	p.log.Debug("bridge process started", "command", p.command[0], "pid", cmd.Process.Pid)
	return nil
}

// readLoop dispatches responses to waiting callers until the process's
// stdout closes, then fails all pending requests.
func (p *Process) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var res response
		if err := json.Unmarshal(scanner.Bytes(), &res); err != nil {
			p.log.Debug("bridge sent malformed response", "error", err)
			continue
		}
		p.mu.Lock()
		ch, ok := p.pending[res.ID]
		delete(p.pending, res.ID)
		p.mu.Unlock()
		if ok {
			ch <- res
		}
	}
	p.fail(scanner.Err())
}

// fail tears down the process state so the next call restarts it, and wakes
// every pending caller with a closed channel.
func (p *Process) fail(cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return
	}
	if cause != nil {
		p.log.Debug("bridge process failed", "error", cause)
	} else {
		p.log.Debug("bridge process exited")
	}
	p.stdin.Close()
	proc := p.cmd
	p.cmd = nil
	p.stdin = nil
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
	go func() { _ = proc.Wait() }()
}

// Close terminates the process, if running.
func (p *Process) Close() error {
	p.mu.Lock()
	p.closed = true
	cmd := p.cmd
	p.mu.Unlock()
	if cmd != nil {
		p.fail(nil)
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	return nil
}
