package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/strobehq/strobe/internal/dwarf"
	"github.com/strobehq/strobe/internal/eventstore"
	"github.com/strobehq/strobe/internal/pattern"
	"github.com/strobehq/strobe/internal/session"
	"github.com/strobehq/strobe/internal/strobeerr"
	"github.com/strobehq/strobe/internal/telemetry"
	"github.com/strobehq/strobe/internal/types"
	"github.com/strobehq/strobe/internal/worker"
)

// toolContext is threaded through every tool handler: the connection
// id (for pending-pattern staging), and handles to every subsystem a
// tool might touch.
type toolContext struct {
	connID  string
	sess    *session.Manager
	store   *eventstore.Store
	dwarf   *dwarf.Cache
	workers *workerRegistry
}

// workerRegistry maps a live session id to its instrumentation worker.
type workerRegistry struct {
	mu      sync.RWMutex
	workers map[string]*worker.Worker
}

func newWorkerRegistry() *workerRegistry {
	return &workerRegistry{workers: make(map[string]*worker.Worker)}
}

func (r *workerRegistry) put(sessionID string, w *worker.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[sessionID] = w
}

func (r *workerRegistry) get(sessionID string) (*worker.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[sessionID]
	return w, ok
}

func (r *workerRegistry) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, sessionID)
}

// Dispatcher owns the mcp-go server and every tool handler's dependencies.
type Dispatcher struct {
	mcp     *server.MCPServer
	sess    *session.Manager
	store   *eventstore.Store
	dwarf   *dwarf.Cache
	workers *workerRegistry
}

// NewDispatcher builds a Dispatcher with every tool from spec §6 registered.
func NewDispatcher(sess *session.Manager, store *eventstore.Store, dwarfCache *dwarf.Cache) *Dispatcher {
	d := &Dispatcher{
		mcp:     server.NewMCPServer("strobe", "0.1.0"),
		sess:    sess,
		store:   store,
		dwarf:   dwarfCache,
		workers: newWorkerRegistry(),
	}
	d.registerTools()
	return d
}

// HandleMessage dispatches one raw JSON-RPC line for connID, returning
// the raw response bytes the caller should write back to the client
// (already newline-delimited framing is the caller's responsibility).
func (d *Dispatcher) HandleMessage(ctx context.Context, connID string, raw []byte) []byte {
	tc := toolContext{connID: connID, sess: d.sess, store: d.store, dwarf: d.dwarf, workers: d.workers}
	wrapped := context.WithValue(ctx, toolContextKey{}, tc)
	resp := d.mcp.HandleMessage(wrapped, raw)
	if resp == nil {
		return nil
	}
	b, err := marshalJSON(resp)
	if err != nil {
		return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","error":{"code":-32603,"message":%q}}`, err.Error()))
	}
	return b
}

type toolContextKey struct{}

func fromContext(ctx context.Context) toolContext {
	tc, _ := ctx.Value(toolContextKey{}).(toolContext)
	return tc
}

func (d *Dispatcher) add(name, description string, handler func(ctx context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error), opts ...mcp.ToolOption) {
	d.mcp.AddTool(newTool(name, description, opts...), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := telemetry.Tracer().Start(ctx, "rpc."+name)
		defer span.End()
		res, err := handler(ctx, fromContext(ctx), req)
		telemetry.RecordRPCRequest(ctx, name, toolErr(res, err))
		return res, err
	})
}

// toolErr reports the effective error for metrics purposes: either the
// handler's own Go error, or a non-nil sentinel when the handler
// returned a tool-level error envelope (res.IsError), since most tool
// handlers surface taxonomy errors in the result body rather than the
// Go error return.
func toolErr(res *mcp.CallToolResult, err error) error {
	if err != nil {
		return err
	}
	if res != nil && res.IsError {
		return errToolResult
	}
	return nil
}

var errToolResult = errors.New("tool returned an error result")

func (d *Dispatcher) registerTools() {
	d.add(ToolHealth, "Report daemon health.", handleHealth)
	d.add(ToolLaunch, "Launch a native binary under instrumentation.", handleLaunch)
	d.add(ToolSessionList, "List known sessions.", handleSessionList)
	d.add(ToolSessionStatus, "Report a session's status and advisory health.", handleSessionStatus)
	d.add(ToolSessionStop, "Stop a session, optionally retaining its history.", handleSessionStop)
	d.add(ToolTraceAdd, "Add trace patterns, hooking matching functions.", handleTraceAdd)
	d.add(ToolTraceRemove, "Remove trace patterns.", handleTraceRemove)
	d.add(ToolQueryEvents, "Query a session's execution timeline.", handleQueryEvents)
	d.add(ToolBreakpointSet, "Set a breakpoint or logpoint.", handleBreakpointSet)
	d.add(ToolBreakpointClear, "Clear a breakpoint.", handleBreakpointClear)
	d.add(ToolContinue, "Resume a paused thread.", handleContinue)
	d.add(ToolMemory, "Read or write global variables by name or address.", handleMemory)
	d.add(ToolTestRun, "Run a test binary under instrumentation.", handleTestRun)
}

func errResult(err error) (*mcp.CallToolResult, error) {
	code := strobeerr.CodeOf(err)
	var res *mcp.CallToolResult
	var se *strobeerr.Error
	if errors.As(err, &se) && se.CorrelationID != "" {
		res = mcp.NewToolResultText(fmt.Sprintf(`{"error":{"code":%q,"message":%q,"correlationId":%q}}`, code, err.Error(), se.CorrelationID))
	} else {
		res = mcp.NewToolResultText(fmt.Sprintf(`{"error":{"code":%q,"message":%q}}`, code, err.Error()))
	}
	res.IsError = true
	return res, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := marshalJSON(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

func handleHealth(_ context.Context, tc toolContext, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"status":    "ok",
		"sessions":  len(tc.sess.List()),
		"checkedAt": time.Now().UTC().Format(time.RFC3339),
	})
}

func handleLaunch(ctx context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	binaryPath := req.GetString("binaryPath", "")
	projectRoot := req.GetString("projectRoot", "")
	if binaryPath == "" {
		return errResult(strobeerr.New(strobeerr.ValidationError, "binaryPath is required"))
	}

	w := worker.New(nil, nil)
	pid, err := w.Spawn(ctx, binaryPath, nil)
	if err != nil {
		return errResult(err)
	}

	sess, err := tc.sess.Create(tc.connID, binaryPath, projectRoot, pid, launchNanos())
	if err != nil {
		w.Stop()
		return errResult(err)
	}
	tc.workers.put(sess.ID, w)
	return jsonResult(sess)
}

func handleSessionList(_ context.Context, tc toolContext, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(tc.sess.List())
}

func handleSessionStatus(_ context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("sessionId", "")
	sess, err := tc.sess.Get(id)
	if err != nil {
		return errResult(err)
	}
	advisory := session.AdvisoryStatus(sess, len(sess.HookedFunctions))
	return jsonResult(map[string]any{"session": sess, "advisory": advisory})
}

func handleSessionStop(_ context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("sessionId", "")
	retain := argBool(req, "retain", false)

	if w, ok := tc.workers.get(id); ok {
		w.Stop()
		tc.workers.remove(id)
	}
	if err := tc.sess.Transition(id, types.SessionStopped); err != nil {
		return errResult(err)
	}
	if retain {
		if err := tc.sess.Retain(id); err != nil {
			return errResult(err)
		}
	}
	return jsonResult(map[string]any{"sessionId": id, "stopped": true})
}

func handleTraceAdd(ctx context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("sessionId", "")
	raw := argStringSlice(req, "patterns")

	compiled, errs := pattern.CompileAll(raw, pattern.SepColon)
	if id == "" {
		tc.sess.StagePatterns(tc.connID, raw)
		return jsonResult(map[string]any{"staged": raw, "errors": patternErrStrings(errs)})
	}

	sess, err := tc.sess.Get(id)
	if err != nil {
		return errResult(err)
	}
	sess.ActivePatterns = append(sess.ActivePatterns, raw...)

	if w, ok := tc.workers.get(id); ok {
		idx, ierr := tc.dwarf.Get(sess.BinaryPath)
		if ierr != nil {
			return errResult(ierr)
		}
		matched := pattern.Resolve(compiled, idx.Functions(), sess.ProjectRoot)
		names := make([]string, len(matched))
		for i, m := range matched {
			names[i] = m.DemangledName
		}
		sess.HookedFunctions = names
		if herr := w.InstallHooks(names); herr != nil {
			return errResult(herr)
		}
		telemetry.RecordHooksInstalled(ctx, id, len(names))
	}
	return jsonResult(map[string]any{"sessionId": id, "errors": patternErrStrings(errs)})
}

func handleTraceRemove(_ context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("sessionId", "")
	remove := argStringSlice(req, "patterns")
	sess, err := tc.sess.Get(id)
	if err != nil {
		return errResult(err)
	}
	removeSet := make(map[string]bool, len(remove))
	for _, p := range remove {
		removeSet[p] = true
	}
	kept := sess.ActivePatterns[:0]
	for _, p := range sess.ActivePatterns {
		if !removeSet[p] {
			kept = append(kept, p)
		}
	}
	sess.ActivePatterns = kept
	return jsonResult(sess)
}

func handleQueryEvents(ctx context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("sessionId", "")
	filter := eventstore.QueryFilter{
		AfterID:      int64(req.GetFloat("afterId", 0)),
		FunctionName: req.GetString("functionName", ""),
		SourceFile:   req.GetString("sourceFile", ""),
		Limit:        int(req.GetFloat("limit", 0)),
	}
	events, err := tc.store.QueryEvents(ctx, id, filter)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(events)
}

func handleBreakpointSet(_ context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("sessionId", "")
	function := req.GetString("function", "")
	file := req.GetString("file", "")
	line := int(req.GetFloat("line", 0))
	if (function == "") == (file == "" || line == 0) {
		return errResult(strobeerr.New(strobeerr.ValidationError, "exactly one of function or (file,line) is required"))
	}

	sess, err := tc.sess.Get(id)
	if err != nil {
		return errResult(err)
	}
	bp := &types.Breakpoint{
		ID: fmt.Sprintf("bp-%d", len(sess.Breakpoints)+1), Function: function, File: file, Line: line,
		Condition: req.GetString("condition", ""), OneShot: argBool(req, "oneShot", false),
	}
	sess.Breakpoints[bp.ID] = bp

	if w, ok := tc.workers.get(id); ok {
		if err := w.SetBreakpoint(bp); err != nil {
			return errResult(err)
		}
	}
	return jsonResult(bp)
}

func handleBreakpointClear(_ context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("sessionId", "")
	bpID := req.GetString("breakpointId", "")
	sess, err := tc.sess.Get(id)
	if err != nil {
		return errResult(err)
	}
	delete(sess.Breakpoints, bpID)
	return jsonResult(map[string]any{"cleared": bpID})
}

func handleContinue(_ context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("sessionId", "")
	threadID := int64(req.GetFloat("threadId", 0))
	oneShot := argBool(req, "oneShot", false)

	w, ok := tc.workers.get(id)
	if !ok {
		return errResult(strobeerr.New(strobeerr.ProcessExited, "no worker for session %s", id))
	}
	if err := w.Resume(threadID, worker.Continue, oneShot); err != nil {
		return errResult(err)
	}
	return jsonResult(map[string]any{"resumed": threadID})
}

func handleMemory(_ context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("sessionId", "")
	w, ok := tc.workers.get(id)
	if !ok {
		return errResult(strobeerr.New(strobeerr.ProcessExited, "no worker for session %s", id))
	}

	targets := memoryTargets(req)
	results, err := w.ReadWriteMemory(targets)
	if err != nil {
		// Whole-request failure (e.g. no agent attached, or the agent
		// never replied): every target failed the same way.
		return errResult(err)
	}
	return jsonResult(map[string]any{"results": results})
}

func memoryTargets(req mcp.CallToolRequest) []types.MemoryTarget {
	raw, ok := argMap(req)["targets"].([]any)
	if !ok {
		return nil
	}
	out := make([]types.MemoryTarget, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t := types.MemoryTarget{}
		if v, ok := m["variable"].(string); ok {
			t.Variable = v
		}
		if v, ok := m["address"].(string); ok {
			t.Address = v
		}
		if v, ok := m["write"].(string); ok {
			t.Write = &v
		}
		out = append(out, t)
	}
	return out
}

func handleTestRun(ctx context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Running a test binary is handled exactly like launch, with no wait
	// for the process to exit; the caller observes progress the same way
	// as any other session, via query_events and session_status.
	return handleLaunch(ctx, tc, req)
}

func patternErrStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

func launchNanos() int64 { return time.Now().UnixNano() }
