package training

import "time"

// Status is the derived recertification snapshot for a (module, staff) pair.
type Status struct {
	State         State      `json:"state"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastScore     *int       `json:"last_score,omitempty"`
	LastPassedAt  *time.Time `json:"last_passed_at,omitempty"`
	DueAt         *time.Time `json:"due_at,omitempty"`
}

// Derive computes the recertification state from attempt history.
//
// No attempts ever means NotStarted. Otherwise the due date is the most
// recent passing attempt plus the recertification period: if such a pass
// exists and today has not moved past the due date the pair is Passed,
// carrying the pass date forward as the certificate date. Everything else
// is Due, including a pass whose period has since elapsed, regardless of
// whether any newer attempt exists.
func Derive(recertDays int, attempts []*Attempt, today time.Time) Status {
	if len(attempts) == 0 {
		return Status{State: StateNotStarted}
	}

	var last, lastPass *Attempt
	for _, at := range attempts {
		if newer(at, last) {
			last = at
		}
		if at.Passed && newer(at, lastPass) {
			lastPass = at
		}
	}

	st := Status{
		State:         StateDue,
		LastAttemptAt: timePtr(last.AttemptedAt),
		LastScore:     intPtr(last.Score),
	}
	if lastPass == nil {
		return st
	}

	due := lastPass.AttemptedAt.Add(time.Duration(recertDays) * 24 * time.Hour)
	st.DueAt = timePtr(due)
	st.LastPassedAt = timePtr(lastPass.AttemptedAt)
	if !today.After(due) {
		st.State = StatePassed
	}
	return st
}

func newer(a, b *Attempt) bool {
	if b == nil {
		return true
	}
	if a.AttemptedAt.Equal(b.AttemptedAt) {
		return a.Seq > b.Seq
	}
	return a.AttemptedAt.After(b.AttemptedAt)
}

func timePtr(t time.Time) *time.Time { return &t }
func intPtr(i int) *int              { return &i }
