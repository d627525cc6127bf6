// Package handlers implements the ingest service's HTTP surface.
package handlers

// Handlers bundles every route group's handler for injection into the server.
type Handlers struct {
	Ingest  *IngestHandler
	Health  *HealthHandler
	Metrics *MetricsHandler
}

func New(ingest *IngestHandler, health *HealthHandler, metrics *MetricsHandler) *Handlers {
	return &Handlers{Ingest: ingest, Health: health, Metrics: metrics}
}
