package router

import (
	"time"

	"github.com/vitalconnect/resilor/internal/models"
)

// Tier is one (score threshold, HTTP timeout) rung a strategy attempts
// live HTTP delivery at, checked high-to-low. BALANCED is the only
// strategy with two rungs; the rest have exactly one.
type Tier struct {
	Threshold float64
	Timeout   time.Duration
}

// Strategy selects HTTP thresholds, escalation delay, and the priority
// classes eligible for immediate or deferred SMS fallback. A Strategy is
// a plain value, never a package-level singleton.
type Strategy interface {
	Name() string
	Tiers() []Tier
	EscalationDelay() time.Duration
	// ImmediateSMSPriorities lists priorities that send SMS synchronously
	// when score == 0 (the item is still enqueued first for durability).
	ImmediateSMSPriorities() []models.Priority
	// EscalationPriorities lists priorities that get a queued entry plus
	// an armed escalation timer when no HTTP tier is attempted.
	EscalationPriorities() []models.Priority
	// EscalateOnFailure reports whether a failed live HTTP attempt also
	// arms an escalation timer for the eligible priorities, rather than
	// leaving the item to the periodic drain alone.
	EscalateOnFailure() bool
}

type staticStrategy struct {
	name              string
	tiers             []Tier
	escalationDelay   time.Duration
	immediate         []models.Priority
	escalation        []models.Priority
	escalateOnFailure bool
}

func (s staticStrategy) Name() string                              { return s.name }
func (s staticStrategy) Tiers() []Tier                             { return s.tiers }
func (s staticStrategy) EscalationDelay() time.Duration            { return s.escalationDelay }
func (s staticStrategy) ImmediateSMSPriorities() []models.Priority { return s.immediate }
func (s staticStrategy) EscalationPriorities() []models.Priority   { return s.escalation }
func (s staticStrategy) EscalateOnFailure() bool                   { return s.escalateOnFailure }

// Aggressive attempts HTTP whenever score > 0.3 with a fixed 10s timeout;
// on failure, HIGH/CRITICAL SMS-eligible requests get a 1-minute
// escalation, everything else is plainly enqueued.
func Aggressive() Strategy {
	return staticStrategy{
		name:              "AGGRESSIVE",
		tiers:             []Tier{{Threshold: 0.3, Timeout: 10 * time.Second}},
		escalationDelay:   time.Minute,
		escalation:        []models.Priority{models.PriorityHigh, models.PriorityCritical},
		escalateOnFailure: true,
	}
}

// Balanced is the default strategy: a 30s attempt above 0.7, a short 5s
// attempt between 0.3 and 0.7, immediate SMS for CRITICAL at score == 0,
// and a 5-minute escalation for HIGH (and for CRITICAL when the score is
// above 0 but not above 0.3, where the immediate branch does not apply).
func Balanced() Strategy {
	return staticStrategy{
		name: "BALANCED",
		tiers: []Tier{
			{Threshold: 0.7, Timeout: 30 * time.Second},
			{Threshold: 0.3, Timeout: 5 * time.Second},
		},
		escalationDelay: 5 * time.Minute,
		immediate:       []models.Priority{models.PriorityCritical},
		escalation:      []models.Priority{models.PriorityHigh, models.PriorityCritical},
	}
}

// Conservative only attempts HTTP above 0.5, with a 15-minute escalation
// reserved for CRITICAL SMS-eligible requests.
func Conservative() Strategy {
	return staticStrategy{
		name:            "CONSERVATIVE",
		tiers:           []Tier{{Threshold: 0.5, Timeout: 30 * time.Second}},
		escalationDelay: 15 * time.Minute,
		escalation:      []models.Priority{models.PriorityCritical},
	}
}

// CustomConfig is the caller-supplied shape of a CUSTOM strategy.
type CustomConfig struct {
	Tiers                  []Tier
	EscalationDelay        time.Duration
	ImmediateSMSPriorities []models.Priority
	EscalationPriorities   []models.Priority
	EscalateOnFailure      bool
}

// Custom builds a user-defined strategy from cfg.
func Custom(cfg CustomConfig) Strategy {
	return staticStrategy{
		name:              "CUSTOM",
		tiers:             cfg.Tiers,
		escalationDelay:   cfg.EscalationDelay,
		immediate:         cfg.ImmediateSMSPriorities,
		escalation:        cfg.EscalationPriorities,
		escalateOnFailure: cfg.EscalateOnFailure,
	}
}

func containsPriority(list []models.Priority, p models.Priority) bool {
	for _, item := range list {
		if item == p {
			return true
		}
	}
	return false
}
