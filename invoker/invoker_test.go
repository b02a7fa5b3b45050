package invoker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowengine/plugin"
	"github.com/lyzr/flowengine/registry"
	"github.com/lyzr/flowengine/types"
)

const echoPluginScript = `
import json
import sys

for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    req = json.loads(line)
    method = req.get("method")
    resp = {"jsonrpc": "2.0", "id": req["id"]}
    if method == "handshake":
        resp["result"] = {"name": "echo", "version": "1.0.0", "modules": ["test.echo"], "protocol": "1.0"}
    elif method == "invoke":
        params = req.get("params", {})
        resp["result"] = {"ok": True, "data": params.get("params", {})}
    elif method == "ping":
        resp["result"] = {"alive": True}
    elif method == "shutdown":
        resp["result"] = {}
        sys.stdout.write(json.dumps(resp) + "\n")
        sys.stdout.flush()
        sys.exit(0)
    else:
        resp["error"] = {"code": -32601, "message": "method not found"}
    sys.stdout.write(json.dumps(resp) + "\n")
    sys.stdout.flush()
`

func writeEchoPlugin(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "echo_plugin.py")
	require.NoError(t, os.WriteFile(path, []byte(echoPluginScript), 0o755))
	return path
}

type stubHandler struct {
	result types.StepResult
	err    error
	panics bool
}

func (h *stubHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	if h.panics {
		panic("boom")
	}
	return h.result, h.err
}

type stubRegistry struct {
	handlers map[string]registry.Handler
	meta     map[string]types.ModuleMetadata
}

func (r *stubRegistry) GetHandler(moduleID string) (registry.Handler, bool) {
	h, ok := r.handlers[moduleID]
	return h, ok
}

func (r *stubRegistry) Get(moduleID string) (types.ModuleMetadata, bool) {
	m, ok := r.meta[moduleID]
	return m, ok
}

type stubHandlerContext struct{}

func (stubHandlerContext) ExecutionID() string { return "exec-1" }
func (stubHandlerContext) WorkflowID() string  { return "wf-1" }

func TestDispatcher_InvokesBuiltinHandler(t *testing.T) {
	reg := &stubRegistry{handlers: map[string]registry.Handler{
		"flow.start": &stubHandler{result: types.StepResult{OK: true, Data: "started"}},
	}}
	d := New(reg, stubHandlerContext{})

	result, err := d.Invoke(context.Background(), "flow.start", nil)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "started", result.Data)
}

func TestDispatcher_UnknownBuiltinReturnsNotFound(t *testing.T) {
	reg := &stubRegistry{handlers: map[string]registry.Handler{}}
	d := New(reg, stubHandlerContext{})

	_, err := d.Invoke(context.Background(), "flow.nope", nil)
	assert.Error(t, err)
}

func TestDispatcher_BuiltinPanicBecomesInternalError(t *testing.T) {
	reg := &stubRegistry{handlers: map[string]registry.Handler{
		"flow.branch": &stubHandler{panics: true},
	}}
	d := New(reg, stubHandlerContext{})

	result, err := d.Invoke(context.Background(), "flow.branch", nil)
	assert.NoError(t, err)
	assert.False(t, result.OK)
}

func TestDispatcher_NoPluginRegisteredReturnsNotFound(t *testing.T) {
	reg := &stubRegistry{handlers: map[string]registry.Handler{}}
	d := New(reg, stubHandlerContext{})

	_, err := d.Invoke(context.Background(), "custom.http_request", nil)
	assert.Error(t, err)
}

type stubPool struct {
	proc *plugin.Process
	err  error
}

func (p *stubPool) Acquire(ctx context.Context) (*plugin.Process, error) {
	return p.proc, p.err
}

func TestDispatcher_InvokesPluginModuleAndNormalizesOKContract(t *testing.T) {
	script := writeEchoPlugin(t)
	proc := plugin.NewProcess("echo", "python3", []string{script}, nil)
	_, err := proc.Start(context.Background(), 5*time.Second)
	require.NoError(t, err)
	defer proc.Shutdown(context.Background(), time.Second)

	reg := &stubRegistry{handlers: map[string]registry.Handler{}}
	d := New(reg, stubHandlerContext{})
	d.RegisterPlugin("test.echo", "echo-pool", &stubPool{proc: proc})

	result, err := d.Invoke(context.Background(), "test.echo", map[string]interface{}{"x": float64(1)})
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestDispatcher_PluginAcquireFailureWrapsError(t *testing.T) {
	reg := &stubRegistry{handlers: map[string]registry.Handler{}}
	d := New(reg, stubHandlerContext{})
	d.RegisterPlugin("test.echo", "echo-pool", &stubPool{err: assertErr("pool exhausted")})

	_, err := d.Invoke(context.Background(), "test.echo", nil)
	assert.Error(t, err)
}

func TestNormalize_OKContractPassthrough(t *testing.T) {
	raw := json.RawMessage(`{"ok": true, "data": {"x": 1}}`)
	result := normalize(raw)
	assert.True(t, result.OK)
}

func TestNormalize_FailedContract(t *testing.T) {
	raw := json.RawMessage(`{"ok": false, "error": "bad input", "error_code": "VALIDATION_ERROR"}`)
	result := normalize(raw)
	assert.False(t, result.OK)
	assert.Equal(t, "bad input", result.Error)
}

func TestNormalize_StatusConvention(t *testing.T) {
	raw := json.RawMessage(`{"status": "completed", "body": "hi"}`)
	result := normalize(raw)
	assert.True(t, result.OK)
}

func TestNormalize_StatusFailedConvention(t *testing.T) {
	raw := json.RawMessage(`{"status": "failed", "error": "timeout"}`)
	result := normalize(raw)
	assert.False(t, result.OK)
}

func TestNormalize_ArbitraryValueWrapped(t *testing.T) {
	raw := json.RawMessage(`42`)
	result := normalize(raw)
	assert.True(t, result.OK)
	assert.EqualValues(t, 42, result.Data)
}

func TestNormalize_MalformedJSON(t *testing.T) {
	raw := json.RawMessage(`{not json`)
	result := normalize(raw)
	assert.False(t, result.OK)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
