package workflow

import "rvcworker/internal/history"

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Current   *Activity
	LastJob   *Outcome
	LastError string
	Processed int
	Failed    int
}

// Status returns the latest workflow information.
func (m *Manager) Status() StatusSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := StatusSummary{Processed: m.processed, Failed: m.failed}
	if m.current != nil {
		copy := *m.current
		summary.Current = &copy
	}
	if m.last != nil {
		copy := *m.last
		summary.LastJob = &copy
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	return summary
}

func (m *Manager) setActivity(activity *Activity) {
	m.mu.Lock()
	m.current = activity
	m.mu.Unlock()
}

func (m *Manager) setActivityStage(stage string) {
	m.mu.Lock()
	if m.current != nil {
		m.current.Stage = stage
	}
	m.mu.Unlock()
}

func (m *Manager) recordOutcome(outcome Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.last = &outcome
	m.processed++
	if outcome.Err != nil {
		m.lastErr = outcome.Err
	}
	if outcome.Status == history.StatusFailed {
		m.failed++
	}
}
