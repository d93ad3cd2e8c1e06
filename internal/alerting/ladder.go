package alerting

// Ladder is the ordered list of responsible roles.
type Ladder struct {
	Roles     []string
	Threshold int
}

// NewLadder returns a Ladder. A threshold below 1 uses DefaultAttemptThreshold.
func NewLadder(roles []string, threshold int) Ladder {
	if threshold < 1 {
		threshold = DefaultAttemptThreshold
	}
	return Ladder{Roles: roles, Threshold: threshold}
}

// Clamp limits index to the ladder. An empty ladder always yields 0.
func (l Ladder) Clamp(index int) int {
	if len(l.Roles) == 0 {
		return 0
	}
	return max(0, min(index, len(l.Roles)-1))
}

// Role returns the role at the clamped index, or "" for an empty ladder.
func (l Ladder) Role(index int) string {
	if len(l.Roles) == 0 {
		return ""
	}
	return l.Roles[l.Clamp(index)]
}

// Step is the result of one Advance.
type Step struct {
	RoleIndex    int
	AttemptCount int
	// Notify is true when the threshold was reached and a role exists to
	// receive the notification.
	Notify bool
}

// Advance counts one more violation at roleIndex. Reaching the threshold
// moves to the next role, clamped to the last one, and resets the count.
func (l Ladder) Advance(roleIndex, attempts int) Step {
	attempts++
	if attempts < l.Threshold {
		return Step{RoleIndex: l.Clamp(roleIndex), AttemptCount: attempts}
	}
	return Step{
		RoleIndex:    l.Clamp(roleIndex + 1),
		AttemptCount: 0,
		Notify:       len(l.Roles) > 0,
	}
}
