package observer

import (
	"context"
	"time"

	relay "github.com/nevindra/relay"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedRunner wraps a relay.CodeRunner with OTEL instrumentation: a span
// per evaluation and a counter per recorded receipt.
type ObservedRunner struct {
	inner relay.CodeRunner
	inst  *Instruments
}

// compile-time check
var _ relay.CodeRunner = (*ObservedRunner)(nil)

// WrapRunner returns an instrumented runner.
func WrapRunner(inner relay.CodeRunner, inst *Instruments) *ObservedRunner {
	return &ObservedRunner{inner: inner, inst: inst}
}

func (o *ObservedRunner) Run(ctx context.Context, code string, rctx relay.RunContext) relay.RunResult {
	ctx, span := o.inst.Tracer.Start(ctx, "sandbox.run")
	defer span.End()
	start := time.Now()

	// Count each receipt as it is recorded, then forward to the caller's
	// hook.
	callerHook := rctx.OnReceipt
	rctx.OnReceipt = func(r relay.Receipt) {
		o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
			AttrToolPath.String(r.ToolPath),
			AttrToolStatus.String(string(r.Status)),
			AttrToolDecision.String(string(r.Decision)),
		))
		span.AddEvent("tool.call", trace.WithAttributes(
			AttrToolPath.String(r.ToolPath),
			AttrToolStatus.String(string(r.Status)),
		))
		if callerHook != nil {
			callerHook(r)
		}
	}

	res := o.inner.Run(ctx, code, rctx)

	durationMs := float64(time.Since(start).Milliseconds())
	span.SetAttributes(
		AttrRunOK.Bool(res.OK),
		AttrRunReceipts.Int(len(res.Receipts)),
	)
	o.inst.CodeRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("ok", res.OK),
	))
	o.inst.RunDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.Bool("ok", res.OK),
	))
	return res
}
