// Package ingest implements the validate -> dedup -> append -> count
// pipeline producers hit on every request (C4), plus the pre-compiled
// schema validator (C8) that guards it.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"eventpipe/internal/core/domain/event"
	appErrors "eventpipe/pkg/errors"
	"eventpipe/pkg/validator"
)

// Outcome tags the result of a single-event ingest call.
type Outcome int

const (
	Accepted Outcome = iota
	DuplicateOutcome
	Rejected
)

// Result is the outcome of Ingest.
type Result struct {
	Outcome Outcome
	EventID string
	Reason  string
}

// BatchResult is the outcome of IngestBatch.
type BatchResult struct {
	AcceptedIDs    []string
	DuplicateCount int
	Rejected       []RejectedEvent
}

// RejectedEvent names one event of a batch that did not make it onto the stream.
type RejectedEvent struct {
	EventID string
	Reason  string
}

// Service is the C4 ingestion service: Validate -> Dedup -> Append -> counters.
type Service struct {
	dedup   event.DedupIndex
	stream  event.Stream
	metrics event.Metrics
	group   string
	logger  *logrus.Logger
}

func NewService(dedup event.DedupIndex, stream event.Stream, metrics event.Metrics, consumerGroup string, logger *logrus.Logger) *Service {
	return &Service{dedup: dedup, stream: stream, metrics: metrics, group: consumerGroup, logger: logger}
}

// Ingest validates, dedup-claims, and appends a single event to the stream.
func (s *Service) Ingest(ctx context.Context, raw json.RawMessage, sourceUserID string) (Result, error) {
	var re rawEvent
	if err := json.Unmarshal(raw, &re); err != nil {
		return Result{Outcome: Rejected, Reason: "malformed JSON body"}, nil
	}

	ts, priority, verr := validate(re)
	if verr != nil {
		return Result{Outcome: Rejected, Reason: verr.Message}, nil
	}

	eventID := re.EventID
	if eventID == "" {
		eventID = event.NewEventID()
	}

	claim, err := s.dedup.TryClaim(ctx, eventID)
	if err != nil {
		s.metrics.IncIngested(0, 0)
		return Result{}, appErrors.NewIngestionError("dedup backend unreachable", err)
	}
	if claim == event.Duplicate {
		s.metrics.IncIngested(0, 1)
		return Result{Outcome: DuplicateOutcome, EventID: eventID}, nil
	}

	e := event.Event{
		EventID:      eventID,
		UserID:       re.UserID,
		SessionID:    re.SessionID,
		EventType:    re.EventType,
		Timestamp:    ts,
		Priority:     priority,
		Metadata:     re.Metadata,
		Payload:      re.Payload,
		IngestedAt:   time.Now().UTC(),
		SourceUserID: sourceUserID,
	}

	fields, err := serializeEvent(e)
	if err != nil {
		_ = s.dedup.Clear(ctx, eventID)
		return Result{}, appErrors.NewIngestionError("failed to serialize event", err)
	}

	if err := s.stream.EnsureGroup(ctx, s.group); err != nil {
		_ = s.dedup.Clear(ctx, eventID)
		return Result{}, appErrors.NewIngestionError("stream backend unreachable", err)
	}

	if _, err := s.stream.Append(ctx, fields); err != nil {
		// Roll back the claim so a client retry is not permanently dropped.
		_ = s.dedup.Clear(ctx, eventID)
		s.logger.WithError(err).WithField("event_id", eventID).Error("append failed, dedup claim rolled back")
		return Result{}, appErrors.NewIngestionError("failed to append event to stream", err)
	}

	s.metrics.IncIngested(1, 0)
	return Result{Outcome: Accepted, EventID: eventID}, nil
}

// IngestBatch validates every event, batch-claims the survivors, and
// pipelines their appends. Un-appended claimed events are reported as
// rejected rather than credited as accepted.
func (s *Service) IngestBatch(ctx context.Context, rawEvents []json.RawMessage, sourceUserID string) (BatchResult, error) {
	shape := validator.New()
	shape.Required("events", rawEvents).Max("events", len(rawEvents), event.MaxBatchSize,
		fmt.Sprintf("batch exceeds max size of %d", event.MaxBatchSize))
	if shape.HasErrors() {
		return BatchResult{}, appErrors.NewValidationError(shape.Errors().Error(), "events")
	}

	type parsed struct {
		id  string
		e   event.Event
		raw rawEvent
	}

	var (
		candidates []parsed
		rejected   []RejectedEvent
	)

	for _, rm := range rawEvents {
		var re rawEvent
		if err := json.Unmarshal(rm, &re); err != nil {
			rejected = append(rejected, RejectedEvent{Reason: "malformed JSON body"})
			continue
		}

		ts, priority, verr := validate(re)
		if verr != nil {
			rejected = append(rejected, RejectedEvent{EventID: re.EventID, Reason: verr.Message})
			continue
		}

		id := re.EventID
		if id == "" {
			id = event.NewEventID()
		}

		candidates = append(candidates, parsed{
			id: id,
			e: event.Event{
				EventID:      id,
				UserID:       re.UserID,
				SessionID:    re.SessionID,
				EventType:    re.EventType,
				Timestamp:    ts,
				Priority:     priority,
				Metadata:     re.Metadata,
				Payload:      re.Payload,
				IngestedAt:   time.Now().UTC(),
				SourceUserID: sourceUserID,
			},
			raw: re,
		})
	}

	if len(candidates) == 0 {
		return BatchResult{Rejected: rejected}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}

	newIDs, duplicateCount, err := s.dedup.BatchTryClaim(ctx, ids)
	if err != nil {
		return BatchResult{}, appErrors.NewIngestionError("dedup backend unreachable", err)
	}

	if err := s.stream.EnsureGroup(ctx, s.group); err != nil {
		for id := range newIDs {
			_ = s.dedup.Clear(ctx, id)
		}
		return BatchResult{}, appErrors.NewIngestionError("stream backend unreachable", err)
	}

	var accepted []string
	for _, c := range candidates {
		if _, ok := newIDs[c.id]; !ok {
			continue
		}

		fields, err := serializeEvent(c.e)
		if err != nil {
			_ = s.dedup.Clear(ctx, c.id)
			rejected = append(rejected, RejectedEvent{EventID: c.id, Reason: "serialization failed"})
			continue
		}

		if _, err := s.stream.Append(ctx, fields); err != nil {
			_ = s.dedup.Clear(ctx, c.id)
			s.logger.WithError(err).WithField("event_id", c.id).Warn("batch append failed, treating as rejected")
			rejected = append(rejected, RejectedEvent{EventID: c.id, Reason: "append failed"})
			continue
		}

		accepted = append(accepted, c.id)
	}

	s.metrics.IncIngested(len(accepted), duplicateCount)

	return BatchResult{
		AcceptedIDs:    accepted,
		DuplicateCount: duplicateCount,
		Rejected:       rejected,
	}, nil
}

func serializeEvent(e event.Event) (map[string]string, error) {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"event_id":       e.EventID,
		"user_id":        e.UserID,
		"session_id":     e.SessionID,
		"event_type":     e.EventType,
		"timestamp":      e.Timestamp.Format(time.RFC3339),
		"priority":       fmt.Sprintf("%d", e.Priority),
		"metadata":       string(metadata),
		"payload":        string(payload),
		"ingested_at":    e.IngestedAt.Format(time.RFC3339),
		"source_user_id": e.SourceUserID,
	}, nil
}
