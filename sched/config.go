// Package sched reorders route candidates by expected cost and quality, and
// keeps append-only per-call telemetry with rolling per-model summaries.
package sched

// QualityTarget selects the cost/quality weighting.
type QualityTarget string

const (
	QualityEconomy  QualityTarget = "economy"
	QualityBalanced QualityTarget = "balanced"
	QualityHigh     QualityTarget = "high"
)

// Config is the persisted scheduler configuration.
type Config struct {
	Enabled       bool          `json:"enabled"`
	QualityTarget QualityTarget `json:"qualityTarget"`
	// MaxUSDPerTask bounds candidate ordering (not eligibility); nil = no budget.
	MaxUSDPerTask *float64 `json:"maxUsdPerTask,omitempty"`
}

// Default returns the enabled, balanced-target configuration.
func Default() Config {
	return Config{Enabled: true, QualityTarget: QualityBalanced}
}

// Normalize rewrites cfg into canonical form. Idempotent: unknown targets
// collapse to balanced and non-positive or NaN budgets are cleared.
func Normalize(cfg Config) Config {
	switch cfg.QualityTarget {
	case QualityEconomy, QualityBalanced, QualityHigh:
	default:
		cfg.QualityTarget = QualityBalanced
	}
	if cfg.MaxUSDPerTask != nil {
		v := *cfg.MaxUSDPerTask
		if !(v > 0) { // catches NaN, zero, and negatives
			cfg.MaxUSDPerTask = nil
		}
	}
	return cfg
}

// weights returns (costWeight, qualityWeight) for the target.
func (t QualityTarget) weights() (float64, float64) {
	switch t {
	case QualityEconomy:
		return 0.72, 0.28
	case QualityHigh:
		return 0.25, 0.75
	default:
		return 0.5, 0.5
	}
}
