// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"log/slog"
	"sync"
)

// DatasetScoreDriftMonitor watches a task's average score across a
// rolling window of recently-scored submissions and flags when it has
// moved too far from the score recorded against a baseline dataset. A
// rejudge onto a new dataset that shifts the average sharply usually
// means the new testcases or checker disagree with the old ones.
type DatasetScoreDriftMonitor struct {
	baselineScores map[string]float64
	recentScores   map[string][]float64
	windowSize     int
	driftThreshold float64
	mu             sync.RWMutex
	taskID         string
	datasetID      string
}

// NewDatasetScoreDriftMonitor creates a new drift monitor for one task/dataset pair.
func NewDatasetScoreDriftMonitor(taskID, datasetID string, windowSize int, driftThreshold float64) *DatasetScoreDriftMonitor {
	return &DatasetScoreDriftMonitor{
		baselineScores: make(map[string]float64),
		recentScores:   make(map[string][]float64),
		windowSize:     windowSize,
		driftThreshold: driftThreshold,
		taskID:         taskID,
		datasetID:      datasetID,
	}
}

// UpdateBaseline sets the baseline average score for a dataset (usually
// recorded right after that dataset was promoted active and fully judged).
func (m *DatasetScoreDriftMonitor) UpdateBaseline(datasetID string, avgScore float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.baselineScores[datasetID] = avgScore
	slog.Info("updated dataset score baseline",
		slog.String("task_id", m.taskID),
		slog.String("dataset_id", datasetID),
		slog.Float64("avg_score", avgScore))
}

// RecordScore adds a freshly-scored submission's score to the rolling
// window and checks for drift against the baseline dataset.
func (m *DatasetScoreDriftMonitor) RecordScore(datasetID string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recentScores[datasetID] == nil {
		m.recentScores[datasetID] = make([]float64, 0, m.windowSize)
	}

	m.recentScores[datasetID] = append(m.recentScores[datasetID], score)
	if len(m.recentScores[datasetID]) > m.windowSize {
		m.recentScores[datasetID] = m.recentScores[datasetID][1:]
	}

	if len(m.recentScores[datasetID]) >= m.windowSize {
		drift := m.calculateDrift(datasetID)
		if drift > m.driftThreshold {
			slog.Warn("dataset score drift detected",
				slog.String("task_id", m.taskID),
				slog.String("dataset_id", datasetID),
				slog.Float64("drift", drift),
				slog.Float64("threshold", m.driftThreshold))
		}
		RecordDatasetScoreDrift(m.taskID, datasetID, drift)
	}
}

// calculateDrift returns the absolute difference between datasetID's
// recent average score and its recorded baseline.
func (m *DatasetScoreDriftMonitor) calculateDrift(datasetID string) float64 {
	baseline, exists := m.baselineScores[datasetID]
	if !exists {
		return 0.0
	}

	recent := m.recentScores[datasetID]
	if len(recent) == 0 {
		return 0.0
	}

	var avgRecent float64
	for _, score := range recent {
		avgRecent += score
	}
	avgRecent /= float64(len(recent))

	drift := avgRecent - baseline
	if drift < 0 {
		drift = -drift
	}
	return drift
}

// GetDrift returns the current drift for a dataset.
func (m *DatasetScoreDriftMonitor) GetDrift(datasetID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.calculateDrift(datasetID)
}

// GetBaseline returns the baseline average score for a dataset.
func (m *DatasetScoreDriftMonitor) GetBaseline(datasetID string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	score, exists := m.baselineScores[datasetID]
	return score, exists
}

// GetRecentScores returns the rolling window for a dataset.
func (m *DatasetScoreDriftMonitor) GetRecentScores(datasetID string) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scores := make([]float64, len(m.recentScores[datasetID]))
	copy(scores, m.recentScores[datasetID])
	return scores
}

// Reset clears all baselines and recent-score windows.
func (m *DatasetScoreDriftMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.baselineScores = make(map[string]float64)
	m.recentScores = make(map[string][]float64)
}

// DatasetScoreDriftManager owns one DatasetScoreDriftMonitor per task.
type DatasetScoreDriftManager struct {
	monitors map[string]*DatasetScoreDriftMonitor
	mu       sync.RWMutex
}

// NewDatasetScoreDriftManager creates an empty manager.
func NewDatasetScoreDriftManager() *DatasetScoreDriftManager {
	return &DatasetScoreDriftManager{
		monitors: make(map[string]*DatasetScoreDriftMonitor),
	}
}

// GetOrCreateMonitor returns taskID's monitor, creating it on first use.
func (m *DatasetScoreDriftManager) GetOrCreateMonitor(taskID string, windowSize int, driftThreshold float64) *DatasetScoreDriftMonitor {
	m.mu.Lock()
	defer m.mu.Unlock()

	if monitor, exists := m.monitors[taskID]; exists {
		return monitor
	}

	monitor := NewDatasetScoreDriftMonitor(taskID, "", windowSize, driftThreshold)
	m.monitors[taskID] = monitor
	return monitor
}

// GetMonitor returns taskID's monitor, if it has been created.
func (m *DatasetScoreDriftManager) GetMonitor(taskID string) (*DatasetScoreDriftMonitor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	monitor, exists := m.monitors[taskID]
	return monitor, exists
}

// GetAllMonitors returns every task's monitor.
func (m *DatasetScoreDriftManager) GetAllMonitors() map[string]*DatasetScoreDriftMonitor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*DatasetScoreDriftMonitor, len(m.monitors))
	for k, v := range m.monitors {
		result[k] = v
	}
	return result
}

// ResetAllMonitors resets every task's monitor.
func (m *DatasetScoreDriftManager) ResetAllMonitors() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, monitor := range m.monitors {
		monitor.Reset()
	}
}

var globalDriftManager = NewDatasetScoreDriftManager()

// GetDatasetScoreDriftMonitor gets or creates taskID's drift monitor,
// with a default 10-sample window and 0.15 (fraction of max_score)
// drift threshold.
func GetDatasetScoreDriftMonitor(taskID string) *DatasetScoreDriftMonitor {
	return globalDriftManager.GetOrCreateMonitor(taskID, 10, 0.15)
}

// RecordTaskScoreForDrift records a newly-scored submission's score
// fraction under a task/dataset pair for rolling drift detection.
func RecordTaskScoreForDrift(taskID, datasetID string, scoreFraction float64) {
	monitor := GetDatasetScoreDriftMonitor(taskID)
	monitor.RecordScore(datasetID, scoreFraction)
}

// UpdateTaskBaselineScore records datasetID as taskID's baseline after a
// full rejudge.
func UpdateTaskBaselineScore(taskID, datasetID string, avgScoreFraction float64) {
	monitor := GetDatasetScoreDriftMonitor(taskID)
	monitor.UpdateBaseline(datasetID, avgScoreFraction)
}

// GetTaskScoreDrift returns taskID's current drift against datasetID.
func GetTaskScoreDrift(taskID, datasetID string) float64 {
	monitor, exists := globalDriftManager.GetMonitor(taskID)
	if !exists {
		return 0.0
	}
	return monitor.GetDrift(datasetID)
}

// ResetAllTaskScoreDriftMonitors clears every task's drift monitor state.
func ResetAllTaskScoreDriftMonitors() {
	globalDriftManager.ResetAllMonitors()
}
