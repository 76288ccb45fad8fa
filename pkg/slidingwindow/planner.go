package slidingwindow

import "time"

// Action is the planner's decision for a single window.
type Action int

const (
	// ActionSubmit submits a window that was never completed.
	ActionSubmit Action = iota
	// ActionSkip skips a completed window that is older than the refresh boundary.
	ActionSkip
	// ActionResubmit refetches a completed window that is still inside the lookback period.
	ActionResubmit
)

func (a Action) String() string {
	switch a {
	case ActionSubmit:
		return "submit"
	case ActionSkip:
		return "skip"
	case ActionResubmit:
		return "resubmit"
	default:
		return "unknown"
	}
}

// Decision pairs a window with what the planner decided to do with it.
type Decision struct {
	Action Action
	Window Window
	// Job is set for submit and resubmit decisions.
	Job *JobSpec
}

// Plan walks every window from next to r.End and decides whether to submit,
// skip or resubmit it. Resubmitted windows are removed from the completed set
// of s before their job is planned.
func Plan(s *State, next time.Time, r Range, params Params) []Decision {
	g := s.Granularity()
	var out []Decision
	for d := range Windows(next, r.End, g) {
		w := NewWindow(d, g)
		action := ActionSubmit
		if s.IsCompleted(d) {
			if d.Before(r.Refresh) {
				out = append(out, Decision{Action: ActionSkip, Window: w})
				continue
			}
			s.Unmark(d)
			action = ActionResubmit
		}
		out = append(out, Decision{
			Action: action,
			Window: w,
			Job:    &JobSpec{Window: w, Params: params},
		})
	}
	return out
}

// JobSpecs returns the jobs of the submit and resubmit decisions, in order.
func JobSpecs(decisions []Decision) []JobSpec {
	specs := make([]JobSpec, 0, len(decisions))
	for _, d := range decisions {
		if d.Job != nil {
			specs = append(specs, *d.Job)
		}
	}
	return specs
}
