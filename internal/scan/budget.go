package scan

import "time"

// BudgetOptions are the configured durations a session budget is derived
// from. Zero values fall back to the defaults below.
type BudgetOptions struct {
	FirstResult       time.Duration // partial result must be visible by now
	HardCap           time.Duration // absolute ceiling for the whole session
	PrimaryAttempt    time.Duration // budget for the primary recognition attempt
	FallbackAllowance time.Duration // extra budget granted to the fallback attempt
	PerSegment        time.Duration // ceiling for a single segment call
}

const (
	defaultFirstResult       = 60 * time.Second
	defaultHardCap           = 180 * time.Second
	defaultPrimaryAttempt    = 240 * time.Second
	defaultFallbackAllowance = 60 * time.Second
	defaultPerSegment        = 75 * time.Second
)

// Budget is the hierarchy of wall-clock deadlines for one scan session,
// computed once at session start. Invariant: PerSegment ≤ PrimaryAttempt ≤
// OverallAttempt ≤ HardCap; the constructor clamps inputs so it always holds.
type Budget struct {
	Start          time.Time
	FirstResult    time.Time
	PrimaryAttempt time.Time
	OverallAttempt time.Time
	HardCap        time.Time
	PerSegment     time.Duration
}

// NewBudget derives a Budget from the options against the given start time.
// Callers capture time.Now() once and compare all later readings against
// this budget only.
func NewBudget(start time.Time, opt BudgetOptions) Budget {
	if opt.FirstResult <= 0 {
		opt.FirstResult = defaultFirstResult
	}
	if opt.HardCap <= 0 {
		opt.HardCap = defaultHardCap
	}
	if opt.PrimaryAttempt <= 0 {
		opt.PrimaryAttempt = defaultPrimaryAttempt
	}
	if opt.FallbackAllowance < 0 {
		opt.FallbackAllowance = defaultFallbackAllowance
	}
	if opt.PerSegment <= 0 {
		opt.PerSegment = defaultPerSegment
	}
	if opt.HardCap < time.Second {
		opt.HardCap = time.Second
	}
	if opt.FirstResult < time.Second {
		opt.FirstResult = time.Second
	}

	hardCap := start.Add(opt.HardCap)
	primary := start.Add(opt.PrimaryAttempt)
	if primary.After(hardCap) {
		primary = hardCap
	}
	overall := primary.Add(opt.FallbackAllowance)
	if overall.After(hardCap) {
		overall = hardCap
	}
	perSegment := opt.PerSegment
	if max := primary.Sub(start); perSegment > max {
		perSegment = max
	}

	return Budget{
		Start:          start,
		FirstResult:    start.Add(opt.FirstResult),
		PrimaryAttempt: primary,
		OverallAttempt: overall,
		HardCap:        hardCap,
		PerSegment:     perSegment,
	}
}

// HardCapExpired reports whether no further upstream work may be attempted.
func (b Budget) HardCapExpired(now time.Time) bool {
	return !now.Before(b.HardCap)
}

// FirstResultExpired reports whether the first-result deadline has passed.
func (b Budget) FirstResultExpired(now time.Time) bool {
	return !now.Before(b.FirstResult)
}

// RemainingHard returns the time left before the hard cap, never negative.
func (b Budget) RemainingHard(now time.Time) time.Duration {
	if d := b.HardCap.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Elapsed returns the wall-clock time spent since session start.
func (b Budget) Elapsed(now time.Time) time.Duration {
	if d := now.Sub(b.Start); d > 0 {
		return d
	}
	return 0
}

// earliest returns the earliest of the given deadlines, ignoring zero values.
func earliest(deadlines ...time.Time) time.Time {
	var min time.Time
	for _, d := range deadlines {
		if d.IsZero() {
			continue
		}
		if min.IsZero() || d.Before(min) {
			min = d
		}
	}
	return min
}
