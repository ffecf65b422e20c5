package billing

import (
	"math"
	"time"
)

// DefaultGracePeriodDays is how long a subscription keeps its status after the first failed payment.
const DefaultGracePeriodDays = 7

// GracePeriod decides when repeated payment failures escalate.
type GracePeriod struct {
	Days int
}

// GraceDecision is the outcome for one failure event.
type GraceDecision struct {
	ElapsedDays float64
	DaysLeft    int
	Escalate    bool
}

// Evaluate compares the time since the first failure against the grace period. Elapsed days up to
// and including the period are still in grace; anything beyond escalates.
func (g GracePeriod) Evaluate(firstFailure, now time.Time) GraceDecision {
	elapsed := now.Sub(firstFailure).Hours() / 24
	if elapsed < 0 {
		elapsed = 0
	}
	d := GraceDecision{
		ElapsedDays: elapsed,
		Escalate:    elapsed > float64(g.Days),
	}
	if !d.Escalate {
		d.DaysLeft = int(math.Ceil(float64(g.Days) - elapsed))
	}
	return d
}
