// Package lifecycle encodes the target batch state machine.
package lifecycle

import (
	"fmt"

	"salestarget/backend/internal/domain"
)

type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionReopen  Action = "reopen"
)

type rule struct {
	from []domain.BatchStatus
	to   domain.BatchStatus
}

var rules = map[Action]rule{
	ActionSubmit:  {from: []domain.BatchStatus{domain.BatchDraft, domain.BatchRejected}, to: domain.BatchSubmitted},
	ActionApprove: {from: []domain.BatchStatus{domain.BatchSubmitted}, to: domain.BatchApproved},
	ActionReject:  {from: []domain.BatchStatus{domain.BatchSubmitted}, to: domain.BatchRejected},
	ActionReopen:  {from: []domain.BatchStatus{domain.BatchRejected}, to: domain.BatchDraft},
}

// Next returns the status an action leads to from the given status.
func Next(from domain.BatchStatus, action Action) (domain.BatchStatus, error) {
	r, ok := rules[action]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", domain.ErrInvalidTransition, action)
	}
	for _, allowed := range r.from {
		if allowed == from {
			return r.to, nil
		}
	}
	return "", fmt.Errorf("%w: cannot %s a %s batch", domain.ErrInvalidTransition, action, from)
}

// Sources lists the statuses an action may start from.
func Sources(action Action) []domain.BatchStatus {
	return append([]domain.BatchStatus(nil), rules[action].from...)
}

// CanDecide reports whether an actor may approve or reject a batch owned by
// owner. Approvers sit above field level, never decide their own batch and
// are either an RSM or in the owner's manager chain.
func CanDecide(actor domain.Actor, owner string, ownerChain []domain.User) bool {
	if actor.UserID == "" || actor.UserID == owner {
		return false
	}
	if actor.Role.Rank() <= domain.RoleSalesRep.Rank() {
		return false
	}
	if actor.Role == domain.RoleRSM {
		return true
	}
	for _, manager := range ownerChain {
		if manager.ID == actor.UserID {
			return true
		}
	}
	return false
}
