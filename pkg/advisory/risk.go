package advisory

import (
	"fmt"
	"strings"
)

// RiskThresholds set where the composite score flips the two governance
// flags. Zero values fall back to the defaults.
type RiskThresholds struct {
	ApprovalAt float64 // approval_required at or above this score
	CriticalAt float64 // business_critical at or above this score
}

const (
	defaultApprovalAt = 6.0
	defaultCriticalAt = 8.0
)

func (t RiskThresholds) withDefaults() RiskThresholds {
	if t.ApprovalAt <= 0 {
		t.ApprovalAt = defaultApprovalAt
	}
	if t.CriticalAt <= 0 {
		t.CriticalAt = defaultCriticalAt
	}
	return t
}

// RiskInput is the blast surface of one model.
type RiskInput struct {
	Model                 string   `json:"model" validate:"required,max=512"`
	DownstreamDepth       int      `json:"downstream_depth" validate:"min=0"`
	DashboardDependencies int      `json:"dashboard_dependencies" validate:"min=0"`
	HistoricalFailureRate float64  `json:"historical_failure_rate" validate:"min=0,max=1"`
	Tags                  []string `json:"tags,omitempty" validate:"max=64,dive,max=128"`
}

// RiskScore is the composite risk of changing one model.
type RiskScore struct {
	Model            string   `json:"model"`
	Score            float64  `json:"score"`
	ApprovalRequired bool     `json:"approval_required"`
	BusinessCritical bool     `json:"business_critical"`
	Factors          []string `json:"factors,omitempty"`
}

// Component caps. Depth dominates because a deep subtree multiplies the
// cost of a bad change; the caps sum to exactly 10 so the clamp only
// matters for out-of-range inputs.
const (
	riskDepthCap      = 3.0
	riskDepthPerLevel = 0.75
	riskSLABonus      = 2.0
	riskDashboardCap  = 2.0
	riskPerDashboard  = 0.5
	riskFailureCap    = 2.0
	riskCriticalBonus = 1.0
)

// ScoreRisk computes the composite 0 to 10 risk for one model. Pure: the
// same input always yields the same score.
func ScoreRisk(in RiskInput, t RiskThresholds) RiskScore {
	t = t.withDefaults()
	out := RiskScore{Model: in.Model}

	if in.DownstreamDepth > 0 {
		c := capAt(riskDepthPerLevel*float64(in.DownstreamDepth), riskDepthCap)
		out.Score += c
		out.Factors = append(out.Factors, fmt.Sprintf("downstream depth %d", in.DownstreamDepth))
	}
	if hasTag(in.Tags, "sla") {
		out.Score += riskSLABonus
		out.Factors = append(out.Factors, "sla tagged")
	}
	if in.DashboardDependencies > 0 {
		c := capAt(riskPerDashboard*float64(in.DashboardDependencies), riskDashboardCap)
		out.Score += c
		out.Factors = append(out.Factors, fmt.Sprintf("%d dashboard dependencies", in.DashboardDependencies))
	}
	if in.HistoricalFailureRate > 0 {
		c := capAt(riskFailureCap*in.HistoricalFailureRate, riskFailureCap)
		out.Score += c
		out.Factors = append(out.Factors, fmt.Sprintf("failure rate %.2f", in.HistoricalFailureRate))
	}
	if hasTag(in.Tags, "critical") || hasTag(in.Tags, "business_critical") {
		out.Score += riskCriticalBonus
		out.Factors = append(out.Factors, "critical tagged")
	}

	out.Score = clamp(out.Score, 0, 10)
	out.ApprovalRequired = out.Score >= t.ApprovalAt
	out.BusinessCritical = out.Score >= t.CriticalAt
	return out
}

// hasTag matches a tag exactly or as a "name:qualifier" prefix, so both
// "sla" and "sla:gold" count.
func hasTag(tags []string, name string) bool {
	for _, tag := range tags {
		folded := strings.ToLower(strings.TrimSpace(tag))
		if folded == name || strings.HasPrefix(folded, name+":") {
			return true
		}
	}
	return false
}

func capAt(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
