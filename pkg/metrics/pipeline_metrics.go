package metrics

import (
	"sort"
	"sync"
	"time"
)

// PipelineMetrics tracks per-stage timing and outcome counters for the
// ingestion pipeline.
type PipelineMetrics struct {
	mu            sync.RWMutex
	stageTimes    map[string][]time.Duration
	stageSuccess  map[string]int64
	stageErrors   map[string]int64
	totalUploads  int64
	totalFailures int64
	lastUpdated   time.Time
}

// NewPipelineMetrics creates a new metrics collector.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		stageTimes:   make(map[string][]time.Duration),
		stageSuccess: make(map[string]int64),
		stageErrors:  make(map[string]int64),
		lastUpdated:  time.Now(),
	}
}

// RecordStage records the duration and outcome of one pipeline stage.
func (pm *PipelineMetrics) RecordStage(stage string, duration time.Duration, success bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stageTimes[stage] = append(pm.stageTimes[stage], duration)
	// Keep only the last 100 measurements per stage.
	if len(pm.stageTimes[stage]) > 100 {
		pm.stageTimes[stage] = pm.stageTimes[stage][1:]
	}

	if success {
		pm.stageSuccess[stage]++
	} else {
		pm.stageErrors[stage]++
	}
	pm.lastUpdated = time.Now()
}

// RecordUpload records the outcome of one complete upload.
func (pm *PipelineMetrics) RecordUpload(success bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.totalUploads++
	if !success {
		pm.totalFailures++
	}
	pm.lastUpdated = time.Now()
}

// StageStats contains statistics for one pipeline stage.
type StageStats struct {
	Stage        string        `json:"stage"`
	SuccessCount int64         `json:"success_count"`
	ErrorCount   int64         `json:"error_count"`
	AverageTime  time.Duration `json:"average_time"`
	MaxTime      time.Duration `json:"max_time"`
	P95Time      time.Duration `json:"p95_time"`
}

// OverallStats contains pipeline-wide statistics.
type OverallStats struct {
	TotalUploads  int64                 `json:"total_uploads"`
	TotalFailures int64                 `json:"total_failures"`
	SuccessRate   float64               `json:"success_rate"`
	Stages        map[string]StageStats `json:"stages"`
	LastUpdated   time.Time             `json:"last_updated"`
}

// Snapshot returns current pipeline statistics.
func (pm *PipelineMetrics) Snapshot() OverallStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stages := make(map[string]StageStats, len(pm.stageTimes))
	for stage := range pm.stageTimes {
		stages[stage] = pm.stageStatsLocked(stage)
	}

	successRate := 0.0
	if pm.totalUploads > 0 {
		successRate = float64(pm.totalUploads-pm.totalFailures) / float64(pm.totalUploads) * 100.0
	}

	return OverallStats{
		TotalUploads:  pm.totalUploads,
		TotalFailures: pm.totalFailures,
		SuccessRate:   successRate,
		Stages:        stages,
		LastUpdated:   pm.lastUpdated,
	}
}

func (pm *PipelineMetrics) stageStatsLocked(stage string) StageStats {
	times := pm.stageTimes[stage]
	stats := StageStats{
		Stage:        stage,
		SuccessCount: pm.stageSuccess[stage],
		ErrorCount:   pm.stageErrors[stage],
	}
	if len(times) == 0 {
		return stats
	}

	sorted := make([]time.Duration, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, t := range sorted {
		total += t
	}
	stats.AverageTime = total / time.Duration(len(sorted))
	stats.MaxTime = sorted[len(sorted)-1]

	index := int(float64(len(sorted)-1) * 0.95)
	stats.P95Time = sorted[index]
	return stats
}

// Reset clears all metrics.
func (pm *PipelineMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stageTimes = make(map[string][]time.Duration)
	pm.stageSuccess = make(map[string]int64)
	pm.stageErrors = make(map[string]int64)
	pm.totalUploads = 0
	pm.totalFailures = 0
	pm.lastUpdated = time.Now()
}
