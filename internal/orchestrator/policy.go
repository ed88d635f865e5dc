package orchestrator

import (
	"math"
	"time"

	"github.com/hpungsan/capture/internal/config"
)

// Policy holds the retry and scheduling knobs for the orchestrator.
type Policy struct {
	// MaxAttempts is the total number of export attempts, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// StuckThreshold is how long a capture may sit in exporting before
	// recovery requeues it.
	StuckThreshold time.Duration
	PollInterval   time.Duration

	// AttemptTimeout bounds the dedup check and vault write of one attempt.
	// Zero means no timeout.
	AttemptTimeout time.Duration
}

// PolicyFromConfig converts loaded configuration into a Policy.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxAttempts:    cfg.MaxRetryAttempts,
		BaseDelay:      cfg.BackoffBaseDelay(),
		Multiplier:     cfg.BackoffMultiplier,
		MaxDelay:       cfg.BackoffMaxDelay(),
		StuckThreshold: cfg.StuckExportThreshold(),
		PollInterval:   cfg.PollInterval(),
		AttemptTimeout: cfg.AttemptTimeout(),
	}
}

func (p Policy) withDefaults() Policy {
	d := PolicyFromConfig(config.DefaultConfig())
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.StuckThreshold <= 0 {
		p.StuckThreshold = d.StuckThreshold
	}
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based):
// BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}
