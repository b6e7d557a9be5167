package events

import "time"

const TopicProjectStateChanged = "project.state_changed"

// ProjectStateChanged is published after an admin status or approval change
// and its cascading refunds have finished.
type ProjectStateChanged struct {
	ProjectID        string    `json:"project_id"`
	ActorID          string    `json:"actor_id"`
	Approval         string    `json:"approval"`
	Status           string    `json:"status"`
	Blocked          bool      `json:"blocked"`
	RefundsProcessed int       `json:"refunds_processed"`
	RefundsFailed    int       `json:"refunds_failed"`
	OccurredAt       time.Time `json:"occurred_at"`
}
