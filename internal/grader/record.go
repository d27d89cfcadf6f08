package grader

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/totali/internal/dictation"
	"github.com/loqalabs/totali/internal/eventstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/totali/internal/grader"

type instruments struct {
	tracer            trace.Tracer
	pointsAccepted    metric.Int64Counter
	phrasesRejected   metric.Int64Counter
	totalsAnnounced   metric.Int64Counter
	recognitionErrors metric.Int64Counter
}

func newInstruments(logger *slog.Logger) instruments {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Warn("failed to create counter", slog.String("name", name), slogError(err))
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	return instruments{
		tracer:            otel.Tracer(instrumentationName),
		pointsAccepted:    counter("totali.points.accepted", "Points added to a copy"),
		phrasesRejected:   counter("totali.phrases.rejected", "Dictated phrases that did not parse as a number"),
		totalsAnnounced:   counter("totali.totals.announced", "Totals spoken after a finalize command"),
		recognitionErrors: counter("totali.recognition.errors", "Errors reported by speech recognition"),
	}
}

func metricAttrs(attrs ...attribute.KeyValue) metric.AddOption {
	return metric.WithAttributes(attrs...)
}

// record appends what an event did to the audit timeline and the counters.
func (s *Service) record(ctx context.Context, out dictation.Outcome) {
	if out.Ignored {
		return
	}
	for _, v := range out.Accepted {
		s.appendEvent(ctx, eventstore.TypePointAccepted, map[string]float64{"value": v})
	}
	for _, phrase := range out.Rejected {
		s.appendEvent(ctx, eventstore.TypePhraseRejected, map[string]string{"phrase": phrase})
	}
	if n := len(out.Accepted); n > 0 {
		s.inst.pointsAccepted.Add(ctx, int64(n))
	}
	if n := len(out.Rejected); n > 0 {
		s.inst.phrasesRejected.Add(ctx, int64(n))
	}

	if out.Command == dictation.CommandFinalize {
		if out.Result != nil {
			s.appendEvent(ctx, eventstore.TypeTotalAnnounced, out.Result)
			s.inst.totalsAnnounced.Add(ctx, 1)
			s.logger.Info("total announced", slog.String("session_id", s.sessionID), slog.String("announcement", out.Announcement))
		} else {
			s.appendEvent(ctx, eventstore.TypeNoPoints, nil)
		}
	}
	if out.From == dictation.StateListening && out.To == dictation.StateFinalized {
		s.appendEvent(ctx, eventstore.TypeFinalized, map[string]any{
			"command": out.Command.String(),
			"total":   s.session.Total(),
		})
	}
}

func (s *Service) appendEvent(ctx context.Context, typ string, payload any) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			s.logger.Warn("failed to encode event", slog.String("type", typ), slogError(err))
			return
		}
	}
	evt := eventstore.Event{SessionID: s.sessionID, TraceID: s.traceID, Type: typ, Payload: data}
	if err := s.rec.AppendEvent(ctx, evt); err != nil {
		s.logger.Warn("failed to record event", slog.String("type", typ), slogError(err))
	}
}
