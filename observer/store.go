package observer

import (
	"context"
	"time"

	"github.com/nevindra/fabric"

	"go.opentelemetry.io/otel/codes"
	fabriclog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedStore wraps a fabric.EventStore to emit OTEL lifecycle spans,
// metrics, and logs for every push, load, and subscription — the event log
// is the one thing every worker and handler in the system goes through, so
// instrumenting it here gives visibility into the whole system without
// wrapping every aggregate individually.
type ObservedStore struct {
	inner fabric.EventStore
	inst  *Instruments
}

// WrapStore returns an instrumented EventStore.
func WrapStore(inner fabric.EventStore, inst *Instruments) *ObservedStore {
	return &ObservedStore{inner: inner, inst: inst}
}

func (o *ObservedStore) PushEvent(ctx context.Context, streamID, aggregateID string, event fabric.Event, meta fabric.Metadata) (fabric.Envelope, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "event.push", trace.WithAttributes(
		AttrStreamID.String(streamID),
		AttrAggregateID.String(aggregateID),
		AttrEventType.String(event.EventType()),
	))
	defer span.End()
	start := time.Now()

	env, err := o.inner.PushEvent(ctx, streamID, aggregateID, event, meta)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		if _, dup := err.(*fabric.DuplicateError); dup {
			status = "duplicate"
		} else {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		span.SetAttributes(AttrSequence.Int64(env.Sequence))
	}

	o.inst.EventsPushed.Add(ctx, 1, metric.WithAttributes(
		AttrAggregateType.String(fabric.AggregateTypeOf(event)),
		AttrEventType.String(event.EventType()),
	))
	o.inst.EventPushDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrEventType.String(event.EventType()),
	))

	var rec fabriclog.Record
	rec.SetSeverity(fabriclog.SeverityInfo)
	rec.SetBody(fabriclog.StringValue("event pushed"))
	rec.AddAttributes(
		fabriclog.String("event.stream_id", streamID),
		fabriclog.String("event.aggregate_id", aggregateID),
		fabriclog.String("event.type", event.EventType()),
		fabriclog.Int64("event.sequence", env.Sequence),
		fabriclog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)

	return env, err
}

func (o *ObservedStore) LoadEvents(ctx context.Context, query fabric.Query) ([]fabric.Envelope, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "event.load", trace.WithAttributes(
		AttrStreamID.String(query.StreamID),
		AttrAggregateID.String(query.AggregateID),
	))
	defer span.End()

	envs, err := o.inner.LoadEvents(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return envs, err
}

// Subscribe wraps the inner subscription's delivery channel, counting
// Lagged deliveries as they pass through — the sole signal exposed for
// "the consumer is falling behind" since the poll interval itself is an
// implementation detail callers must not depend on.
func (o *ObservedStore) Subscribe(ctx context.Context, query fabric.Query) (*fabric.Subscription, error) {
	sub, err := o.inner.Subscribe(ctx, query)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	out := make(chan fabric.Delivery, cap(sub.Deliveries()))

	go func() {
		defer close(out)
		for {
			select {
			case <-sctx.Done():
				sub.Close()
				return
			case d, ok := <-sub.Deliveries():
				if !ok {
					return
				}
				if _, lagged := d.Err.(*fabric.LaggedError); lagged {
					o.inst.SubscriptionLagged.Add(ctx, 1, metric.WithAttributes(
						AttrStreamID.String(query.StreamID),
					))
				}
				select {
				case out <- d:
				case <-sctx.Done():
					sub.Close()
					return
				}
			}
		}
	}()

	return fabric.NewSubscription(out, cancel), nil
}

var _ fabric.EventStore = (*ObservedStore)(nil)
