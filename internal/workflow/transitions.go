package workflow

import (
	"errors"
	"fmt"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid project state transition")
	ErrInvalidState      = errors.New("invalid project state")
)

// Approval: AWAITING_APPROVAL -> {APPROVED, REJECTED}, APPROVED -> REJECTED.
// REJECTED is terminal. Re-applying the current value is always allowed.
func checkApproval(from, to models.ApprovalStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: approval %q", ErrInvalidState, to)
	}
	if from == to {
		return nil
	}
	switch from {
	case models.ApprovalAwaiting:
		return nil
	case models.ApprovalApproved:
		if to == models.ApprovalRejected {
			return nil
		}
	}
	return fmt.Errorf("%w: approval %s -> %s", ErrInvalidTransition, from, to)
}

// Status: ONGOING -> {SUCCESS, FAILED}. Both outcomes are terminal.
func checkStatus(from, to models.ProjectStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidState, to)
	}
	if from == to || from == models.StatusOngoing {
		return nil
	}
	return fmt.Errorf("%w: status %s -> %s", ErrInvalidTransition, from, to)
}

// closesProject reports whether the state stops further contributions.
func closesProject(p models.Project) bool {
	return p.Approval == models.ApprovalRejected || p.Status != models.StatusOngoing
}

// triggersCascade reports whether applying u must refund every active
// funding record of the project.
func triggersCascade(u Update) bool {
	return (u.Approval != nil && *u.Approval == models.ApprovalRejected) ||
		(u.Status != nil && *u.Status == models.StatusFailed)
}
