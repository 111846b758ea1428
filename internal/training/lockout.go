package training

import "time"

// LockoutPolicy bounds failed attempts inside a sliding window.
type LockoutPolicy struct {
	MaxAttempts int
	Window      time.Duration
}

// Enabled reports whether the policy can lock at all.
func (p LockoutPolicy) Enabled() bool {
	return p.MaxAttempts > 0 && p.Window > 0
}

// LockoutStatus is the result of evaluating the policy at one instant.
type LockoutStatus struct {
	Locked   bool `json:"locked"`
	Failures int  `json:"failures"`
}

// EvaluateLockout applies the policy to attempt history at the given
// instant. Only attempts inside [now-window, now] count. Any pass inside
// the window clears the lockout immediately and zeroes the failure count;
// otherwise the pair is locked once in-window failures reach MaxAttempts.
func EvaluateLockout(p LockoutPolicy, attempts []*Attempt, now time.Time) LockoutStatus {
	if !p.Enabled() {
		return LockoutStatus{}
	}
	cutoff := now.Add(-p.Window)

	failures := 0
	for _, at := range attempts {
		if at.AttemptedAt.Before(cutoff) || at.AttemptedAt.After(now) {
			continue
		}
		if at.Passed {
			return LockoutStatus{}
		}
		failures++
	}
	return LockoutStatus{Locked: failures >= p.MaxAttempts, Failures: failures}
}
