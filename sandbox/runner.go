package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	relay "github.com/nevindra/relay"
)

// Runner evaluates model-written JavaScript with goja. The code sees exactly
// one name, `tools`, mirroring the tool tree; every leaf is an async
// function. There is no network, filesystem, timer, or module loading.
// Implements relay.CodeRunner.
type Runner struct {
	cfg runnerConfig
}

// compile-time check
var _ relay.CodeRunner = (*Runner)(nil)

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Runner{cfg: cfg}
}

// blockedGlobals are bound to throwing stubs so attempted escapes fail with
// a descriptive message instead of a bare ReferenceError.
var blockedGlobals = []string{
	"fetch", "XMLHttpRequest", "WebSocket",
	"process", "require", "module", "exports",
	"setTimeout", "setInterval", "setImmediate", "clearTimeout", "clearInterval",
	"queueMicrotask", "importScripts",
}

// Run evaluates code. It never fails at the Go level: panics, engine errors,
// timeouts, and unhandled exceptions all come back inside the RunResult.
func (r *Runner) Run(ctx context.Context, code string, rctx relay.RunContext) (res relay.RunResult) {
	defer func() {
		if p := recover(); p != nil {
			res.OK = false
			res.Error = fmt.Sprintf("internal runner error: %v", p)
		}
		if res.Receipts == nil {
			res.Receipts = []relay.Receipt{}
		}
	}()

	evalCtx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	vm := goja.New()
	ev := &evaluation{
		vm:   vm,
		ctx:  evalCtx,
		cfg:  r.cfg,
		rctx: rctx,
	}

	vm.Set("tools", ev.materialize(rctx.Tools))
	for _, name := range blockedGlobals {
		vm.Set(name, blockedStub(vm, name))
	}

	// Watchdog: a deadline or caller cancellation interrupts the engine.
	// Tool callbacks blocked in Go observe the same ctx and return on
	// their own.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-evalCtx.Done():
			vm.Interrupt("deadline")
		case <-finished:
		}
	}()

	// The wrapper makes await legal at the top of user code; goja drains
	// the promise job queue before RunScript returns, so a program whose
	// awaits all settle comes back with a settled promise.
	wrapped := "(async () => {\n" + code + "\n})()"
	v, err := vm.RunScript("task.js", wrapped)

	res.Receipts = ev.receipts
	if err != nil {
		res.Error = evalError(evalCtx, err)
		return res
	}

	promise, ok := v.Export().(*goja.Promise)
	if !ok {
		// Unreachable with the wrapper, but never trust an engine.
		res.OK = !ev.denied
		res.Value = r.stringify(v)
		return res
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		res.OK = !ev.denied
		res.Value = r.stringify(promise.Result())
	case goja.PromiseStateRejected:
		res.Error = exceptionText(promise.Result())
	default:
		// Every tool promise settles synchronously, so a pending state
		// means the code awaited something it constructed and never
		// resolved.
		res.Error = "evaluation did not settle: a promise was never resolved"
	}
	return res
}

// stringify renders a completion value as bounded JSON, "" for undefined.
func (r *Runner) stringify(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return ""
	}
	if goja.IsNull(v) {
		return "null"
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	s := string(data)
	if len(s) > r.cfg.maxValue {
		s = s[:r.cfg.maxValue] + "… (truncated)"
	}
	return s
}

// evalError maps an engine error onto the result error string.
func evalError(ctx context.Context, err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "timeout"
		}
		return "cancelled"
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return exceptionText(exception.Value())
	}
	return err.Error()
}

// exceptionText extracts a readable message from a thrown value.
func exceptionText(v goja.Value) string {
	if v == nil {
		return "unknown error"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return v.String()
}

// blockedStub returns a function that always throws a descriptive error.
func blockedStub(vm *goja.Runtime, name string) func(goja.FunctionCall) goja.Value {
	return func(goja.FunctionCall) goja.Value {
		panic(vm.NewTypeError("%s is not available in this sandbox; only the tools object is", name))
	}
}

// evaluation is the per-Run state shared by every tool callback. The engine
// is single-threaded, so no locking is needed around receipts.
type evaluation struct {
	vm   *goja.Runtime
	ctx  context.Context
	cfg  runnerConfig
	rctx relay.RunContext

	receipts []relay.Receipt
	denied   bool
}

// materialize builds the nested tools object. Subtrees become plain
// objects, leaves become functions returning promises.
func (ev *evaluation) materialize(t *relay.Tree) *goja.Object {
	return ev.materializeAt(t, "")
}

func (ev *evaluation) materializeAt(t *relay.Tree, prefix string) *goja.Object {
	obj := ev.vm.NewObject()
	if t == nil {
		return obj
	}
	for _, key := range t.Keys() {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		node, _ := t.Get(key)
		switch n := node.(type) {
		case *relay.Tree:
			obj.Set(key, ev.materializeAt(n, path))
		case *relay.Tool:
			obj.Set(key, ev.leaf(path, n))
		}
	}
	return obj
}

// leaf wraps one tool as a sandbox function. Each invocation follows the
// receipt protocol: allocate callId, validate, mediate approval, execute,
// record exactly one receipt.
func (ev *evaluation) leaf(path string, tool *relay.Tool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := ev.vm.NewPromise()
		result := ev.vm.ToValue(promise)

		input, inputErr := callInput(call)
		rec := relay.Receipt{
			CallID:       ev.cfg.newCallID(),
			ToolPath:     path,
			Approval:     tool.Approval,
			Decision:     relay.DecisionAuto,
			Timestamp:    ev.cfg.now(),
			InputPreview: relay.Preview(input),
		}

		fail := func(err error) goja.Value {
			rec.Status = relay.ReceiptFailed
			rec.Error = relay.FlattenError(err)
			ev.record(rec)
			reject(ev.vm.NewGoError(err))
			return result
		}

		if inputErr != nil {
			return fail(&relay.ErrValidation{ToolPath: path, Message: inputErr.Error()})
		}
		if err := tool.ValidateInput(input); err != nil {
			return fail(&relay.ErrValidation{ToolPath: path, Message: err.Error()})
		}

		if tool.Approval == relay.ApprovalRequired {
			d, err := ev.decide(path, tool, rec.CallID, input)
			if err != nil {
				return fail(fmt.Errorf("approval wait abandoned: %w", err))
			}
			rec.Decision = d
			if d == relay.DecisionDenied {
				rec.Status = relay.ReceiptDenied
				ev.denied = true
				ev.record(rec)
				// A denial is not an exception: the call quietly yields
				// undefined and the code carries on.
				resolve(goja.Undefined())
				return result
			}
		}

		out, err := tool.Run(ev.ctx, input)
		if err != nil {
			return fail(&relay.ErrToolExecution{ToolPath: path, Cause: err})
		}
		rec.Status = relay.ReceiptSucceeded
		rec.OutputPreview = relay.Preview(out)
		ev.record(rec)
		resolve(ev.vm.ToValue(out))
		return result
	}
}

// decide runs the approval rendezvous for one gated call.
func (ev *evaluation) decide(path string, tool *relay.Tool, callID string, input map[string]any) (relay.Decision, error) {
	if ev.rctx.RequestApproval == nil {
		return relay.DecisionDenied, nil
	}
	return ev.rctx.RequestApproval(ev.ctx, relay.ApprovalRequest{
		CallID:   callID,
		ToolPath: path,
		Input:    input,
		Preview:  relay.PreviewFor(path, tool, input),
	})
}

// record appends a receipt and forwards it to the observer hook.
func (ev *evaluation) record(rec relay.Receipt) {
	ev.receipts = append(ev.receipts, rec)
	if ev.rctx.OnReceipt != nil {
		ev.rctx.OnReceipt(rec)
	}
}

// callInput extracts the single object argument of a tool call.
// Omitted and undefined arguments mean an empty input.
func callInput(call goja.FunctionCall) (map[string]any, error) {
	if len(call.Arguments) == 0 {
		return map[string]any{}, nil
	}
	arg := call.Arguments[0]
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return map[string]any{}, nil
	}
	m, ok := arg.Export().(map[string]any)
	if !ok {
		return nil, errors.New("tool input must be an object")
	}
	return m, nil
}
