package observer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nevindra/fabric"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	fabriclog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps a fabric.Tool with OTEL instrumentation.
type ObservedTool struct {
	inner fabric.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner fabric.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

func (o *ObservedTool) Definition() fabric.ToolDefinition { return o.inner.Definition() }
func (o *ObservedTool) NeedsReplay() bool                 { return o.inner.NeedsReplay() }

func (o *ObservedTool) Call(ctx context.Context, sb fabric.Sandbox, args json.RawMessage) (fabric.ToolResult, error) {
	name := o.inner.Definition().Name
	ctx, span := o.inst.Tracer.Start(ctx, "tool.call", trace.WithAttributes(
		AttrToolName.String(name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Call(ctx, sb, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if result.IsError {
		status = "tool_error"
	}
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(result.Content)),
	)

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(name),
	))

	var rec fabriclog.Record
	rec.SetSeverity(fabriclog.SeverityInfo)
	rec.SetBody(fabriclog.StringValue("tool executed"))
	rec.AddAttributes(
		fabriclog.String("tool.name", name),
		fabriclog.String("tool.status", status),
		fabriclog.Int("tool.result_length", len(result.Content)),
		fabriclog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

var _ fabric.Tool = (*ObservedTool)(nil)
