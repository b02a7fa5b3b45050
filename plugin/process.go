// Package plugin implements the out-of-process module runtime: subprocess
// lifecycle, JSON-RPC 2.0 framing over newline-delimited stdio, health
// monitoring, and restart/quarantine backoff.
package plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/logging"
)

// State is a plugin process's lifecycle stage.
type State string

const (
	StateStarting     State = "starting"
	StateReady        State = "ready"
	StateBusy         State = "busy"
	StateIdle         State = "idle"
	StateShuttingDown State = "shutting_down"
	StateDead         State = "dead"
)

// Process supervises one plugin subprocess: its command, stdio framing,
// and lifecycle state.
type Process struct {
	name    string
	command string
	args    []string
	dir     string
	env     []string

	mu    sync.Mutex
	state State
	cmd   *exec.Cmd
	enc   *json.Encoder
	dec   *bufio.Scanner
	stdin interface{ Close() error }

	nextID int64

	pingFailures     int32
	consecutiveFails int

	log logging.Logger
}

// NewProcess constructs an unstarted Process. command/args launch the
// plugin binary; it is expected to speak JSON-RPC 2.0 over stdin/stdout.
func NewProcess(name, command string, args []string, log logging.Logger) *Process {
	if log == nil {
		log = logging.New("info", "text")
	}
	return &Process{name: name, command: command, args: args, state: StateStarting, log: log}
}

// NewProcessInDir is NewProcess plus a per-plugin working directory and
// extra environment variables, the isolation boundary §4.8 requires.
// manifest.Loader passes the plugin's manifest directory as dir and a nil
// env, so plugins it starts get no extra variables.
func NewProcessInDir(name, command string, args []string, dir string, env []string, log logging.Logger) *Process {
	p := NewProcess(name, command, args, log)
	p.dir = dir
	p.env = env
	return p
}

// Start launches the subprocess and performs the handshake, which must
// complete within handshakeTimeout or Start fails and the process is
// killed.
func (p *Process) Start(ctx context.Context, handshakeTimeout time.Duration) (*HandshakeResult, error) {
	p.mu.Lock()
	cmd := exec.CommandContext(ctx, p.command, p.args...)
	if p.dir != "" {
		cmd.Dir = p.dir
	}
	if len(p.env) > 0 {
		cmd.Env = append(os.Environ(), p.env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.mu.Unlock()
		return nil, errs.Wrap(errs.PluginCrashed, "failed to open plugin stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.mu.Unlock()
		return nil, errs.Wrap(errs.PluginCrashed, "failed to open plugin stdout", err)
	}
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return nil, errs.Wrap(errs.PluginCrashed, "failed to start plugin process", err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.enc = json.NewEncoder(stdin)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	p.dec = scanner
	p.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	var result HandshakeResult
	if err := p.call(hctx, "handshake", nil, &result); err != nil {
		p.kill()
		return nil, errs.Wrap(errs.PluginCrashed, fmt.Sprintf("plugin %s failed handshake", p.name), err)
	}

	p.setState(StateReady)
	return &result, nil
}

// Invoke sends an "invoke" call for the given module and params.
func (p *Process) Invoke(ctx context.Context, moduleID string, params map[string]interface{}) (json.RawMessage, error) {
	p.setState(StateBusy)
	defer p.setState(StateIdle)

	reqParams, err := json.Marshal(InvokeParams{ModuleID: moduleID, Params: params})
	if err != nil {
		return nil, errs.Wrap(errs.ValidationError, "failed to marshal invoke params", err)
	}

	var result json.RawMessage
	if err := p.call(ctx, "invoke", reqParams, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Ping checks liveness. A failed ping increments the consecutive-failure
// counter; three consecutive failures mark the process dead.
func (p *Process) Ping(ctx context.Context) error {
	var result json.RawMessage
	err := p.call(ctx, "ping", nil, &result)
	if err != nil {
		atomic.AddInt32(&p.pingFailures, 1)
		p.mu.Lock()
		p.consecutiveFails++
		dead := p.consecutiveFails >= 3
		p.mu.Unlock()
		if dead {
			p.setState(StateDead)
		}
		return err
	}
	atomic.StoreInt32(&p.pingFailures, 0)
	p.mu.Lock()
	p.consecutiveFails = 0
	p.mu.Unlock()
	return nil
}

// Shutdown requests a graceful stop, waiting up to grace before killing
// the process outright.
func (p *Process) Shutdown(ctx context.Context, grace time.Duration) error {
	p.setState(StateShuttingDown)

	done := make(chan error, 1)
	go func() {
		var result json.RawMessage
		done <- p.call(ctx, "shutdown", nil, &result)
	}()

	select {
	case <-done:
	case <-time.After(grace):
	}

	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		waitDone := make(chan struct{})
		go func() { cmd.Wait(); close(waitDone) }()
		select {
		case <-waitDone:
		case <-time.After(grace):
			p.kill()
		}
	}
	p.setState(StateDead)
	return nil
}

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Process) kill() {
	p.mu.Lock()
	cmd := p.cmd
	stdin := p.stdin
	p.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	p.setState(StateDead)
}

// call writes one JSON-RPC request and blocks for its matching response,
// honoring ctx's deadline.
func (p *Process) call(ctx context.Context, method string, params json.RawMessage, out interface{}) error {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	enc := p.enc
	scanner := p.dec
	p.mu.Unlock()

	if enc == nil || scanner == nil {
		return errs.New(errs.PluginCrashed, "plugin process not started")
	}

	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	type callResult struct {
		resp Response
		err  error
	}
	resultCh := make(chan callResult, 1)

	go func() {
		if err := enc.Encode(req); err != nil {
			resultCh <- callResult{err: errs.Wrap(errs.PluginCrashed, "failed to write request", err)}
			return
		}
		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = fmt.Errorf("plugin closed stdout")
			}
			resultCh <- callResult{err: errs.Wrap(errs.PluginCrashed, "plugin process ended unexpectedly", err)}
			return
		}
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			resultCh <- callResult{err: errs.Wrap(errs.PluginCrashed, "malformed plugin response", err)}
			return
		}
		resultCh <- callResult{resp: resp}
	}()

	select {
	case <-ctx.Done():
		return errs.Wrap(errs.Timeout, fmt.Sprintf("plugin call %q timed out", method), ctx.Err())
	case cr := <-resultCh:
		if cr.err != nil {
			return cr.err
		}
		if cr.resp.Error != nil {
			return errs.New(errs.PluginCrashed, fmt.Sprintf("plugin error %d: %s", cr.resp.Error.Code, cr.resp.Error.Message))
		}
		if out != nil && cr.resp.Result != nil {
			if err := json.Unmarshal(cr.resp.Result, out); err != nil {
				return errs.Wrap(errs.PluginCrashed, "failed to decode plugin result", err)
			}
		}
		return nil
	}
}
