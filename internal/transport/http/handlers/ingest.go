package handlers

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"eventpipe/internal/core/domain/event"
	"eventpipe/internal/core/services/ingest"
	"eventpipe/internal/transport/http/middleware"
	appErrors "eventpipe/pkg/errors"
	"eventpipe/pkg/response"
)

// IngestHandler exposes the event-ingest HTTP surface: single-event and
// batch submission, plus a snapshot of the rolling ingest rate.
type IngestHandler struct {
	service *ingest.Service
	metrics event.Metrics
	logger  *logrus.Logger
}

func NewIngestHandler(service *ingest.Service, metrics event.Metrics, logger *logrus.Logger) *IngestHandler {
	return &IngestHandler{service: service, metrics: metrics, logger: logger}
}

// CreateEvent handles POST /v1/events.
func (h *IngestHandler) CreateEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.NewBadRequestError("failed to read request body", err.Error()))
		return
	}

	sourceUserID := middleware.GetSourceUserID(c)

	result, ingestErr := h.service.Ingest(c.Request.Context(), body, sourceUserID)
	if ingestErr != nil {
		response.Error(c, ingestErr)
		return
	}

	switch result.Outcome {
	case ingest.Accepted:
		response.Accepted(c, eventAcceptanceData{EventID: result.EventID, Accepted: true, Duplicate: false})
	case ingest.DuplicateOutcome:
		response.Success(c, eventAcceptanceData{EventID: result.EventID, Accepted: false, Duplicate: true})
	default:
		response.Error(c, appErrors.NewValidationError(result.Reason, ""))
	}
}

// eventAcceptanceData is the `data` payload for a single-event ingest response.
type eventAcceptanceData struct {
	EventID   string `json:"event_id"`
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
}

// CreateEventBatch handles POST /v1/events/batch.
func (h *IngestHandler) CreateEventBatch(c *gin.Context) {
	var raw struct {
		Events []json.RawMessage `json:"events" binding:"required"`
	}
	if err := c.ShouldBindJSON(&raw); err != nil {
		response.Error(c, appErrors.NewValidationError("request body must contain an \"events\" array", err.Error()))
		return
	}

	sourceUserID := middleware.GetSourceUserID(c)

	result, err := h.service.IngestBatch(c.Request.Context(), raw.Events, sourceUserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, batchIngestData{
		Accepted:   len(result.AcceptedIDs),
		Duplicates: result.DuplicateCount,
		Total:      len(raw.Events),
		EventIDs:   result.AcceptedIDs,
		Rejected:   result.Rejected,
	})
}

// batchIngestData is the `data` payload for a batch ingest response.
type batchIngestData struct {
	Accepted   int                    `json:"accepted"`
	Duplicates int                    `json:"duplicates"`
	Total      int                    `json:"total"`
	EventIDs   []string               `json:"event_ids"`
	Rejected   []ingest.RejectedEvent `json:"rejected,omitempty"`
}

// Stats handles GET /v1/events/stats.
func (h *IngestHandler) Stats(c *gin.Context) {
	ingestedTotal, duplicatesTotal, processedTotal, failedTotal, dlqTotal := h.metrics.Totals()

	response.Success(c, statsData{
		IngestionRate:   h.metrics.RateIngest(),
		TotalIngested:   ingestedTotal,
		DuplicatesTotal: duplicatesTotal,
		ProcessedTotal:  processedTotal,
		FailedTotal:     failedTotal,
		DLQTotal:        dlqTotal,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	})
}

// statsData is the `data` payload for GET /v1/events/stats. ingestion_rate,
// total_ingested, and timestamp are the required fields; the rest are
// additional diagnostics.
type statsData struct {
	IngestionRate   float64 `json:"ingestion_rate"`
	TotalIngested   int64   `json:"total_ingested"`
	DuplicatesTotal int64   `json:"duplicates_total"`
	ProcessedTotal  int64   `json:"processed_total"`
	FailedTotal     int64   `json:"failed_total"`
	DLQTotal        int64   `json:"dead_lettered_total"`
	Timestamp       string  `json:"timestamp"`
}
