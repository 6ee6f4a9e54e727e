package graph

import (
	"math"
	"time"
)

// HealthBreakdown shows the sub-scores of the health formula
type HealthBreakdown struct {
	Connectivity float64 `json:"connectivity"`
	Filing       float64 `json:"filing"`
	Review       float64 `json:"review"`
	Fragility    float64 `json:"fragility"`
}

// AnalysisReport is the full analysis result
type AnalysisReport struct {
	HealthScore     float64          `json:"health_score"`
	HealthBreakdown HealthBreakdown  `json:"health_breakdown"`
	Topology        *TopologyReport  `json:"topology"`
	Backlog         *BacklogReport   `json:"backlog"`
	Fragility       *FragilityReport `json:"fragility"`
}

// AnalyzerConfig holds analysis parameters
type AnalyzerConfig struct {
	HubThreshold int
	TopN         int
	StaleDays    int64
	Now          time.Time
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		HubThreshold: 10,
		TopN:         50,
		StaleDays:    14,
	}
}

// Analyze runs all analyses and computes a composite health score
func Analyze(snap *Snapshot, config *AnalyzerConfig) *AnalysisReport {
	now := config.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	topology := ComputeTopology(snap, config.HubThreshold, config.TopN)
	backlog := ComputeBacklog(snap, config.StaleDays, now)
	fragility := ComputeFragility(snap)

	total := float64(topology.TotalNodes)
	var b HealthBreakdown
	if total > 0 {
		b.Connectivity = clamp(1.0-math.Min(float64(topology.OrphanCount)/total, 0.2)*5.0, 0, 1)
		b.Filing = clamp(1.0-math.Min(float64(topology.UnfiledCount)/total, 0.25)*4.0, 0, 1)
		b.Review = clamp(1.0-math.Min(float64(backlog.StaleReviewCount)/total, 0.1)*10.0, 0, 1)
		b.Fragility = clamp(1.0-math.Min(float64(fragility.CutCount)/total, 0.05)*20.0, 0, 1)
	}

	return &AnalysisReport{
		HealthScore:     0.30*b.Connectivity + 0.25*b.Filing + 0.25*b.Review + 0.20*b.Fragility,
		HealthBreakdown: b,
		Topology:        topology,
		Backlog:         backlog,
		Fragility:       fragility,
	}
}

func clamp(val, min, max float64) float64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
