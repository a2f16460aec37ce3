package metrics

import (
	"context"

	coremetrics "github.com/kilianp07/crimecast/core/metrics"
	"github.com/kilianp07/crimecast/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and forwards pipeline
// events to the sink recorders it implements. It stops when the context is
// canceled. The returned channel is closed once the collector has exited.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				drain(sub, sink)
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				record(sink, ev)
			}
		}
	}()
	return done
}

// drain records events still buffered when the context ends.
func drain(sub <-chan eventbus.Event, sink coremetrics.MetricsSink) {
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			record(sink, ev)
		default:
			return
		}
	}
}

func record(sink coremetrics.MetricsSink, ev any) {
	switch e := ev.(type) {
	case coremetrics.EpochEvent:
		_ = sink.RecordEpoch(e)
	case coremetrics.EvaluationEvent:
		if r, ok := sink.(coremetrics.EvaluationRecorder); ok {
			_ = r.RecordEvaluation(e)
		}
	case coremetrics.IngestEvent:
		if r, ok := sink.(coremetrics.IngestRecorder); ok {
			_ = r.RecordIngest(e)
		}
	case coremetrics.ForecastEvent:
		if r, ok := sink.(coremetrics.ForecastRecorder); ok {
			_ = r.RecordForecast(e)
		}
	}
}
