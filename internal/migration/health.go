package migration

// HealthCheck reports migration status as a map suitable for embedding in
// the /healthz response.
func (m *Manager) HealthCheck() map[string]interface{} {
	status := m.GetStatus()
	return map[string]interface{}{
		"current_version": status.CurrentVersion,
		"dirty":           status.IsDirty,
		"state":           status.State,
		"error":           status.Error,
	}
}

// AutoMigrate runs Up() if auto-migration is enabled; callers gate this on
// server.auto_migrate rather than always running it so that production
// deployments can apply migrations out-of-band.
func (m *Manager) AutoMigrate() error {
	return m.Up()
}
