package lifecycle

import (
	"errors"
	"testing"

	"salestarget/backend/internal/domain"
)

func TestNext(t *testing.T) {
	cases := []struct {
		from   domain.BatchStatus
		action Action
		want   domain.BatchStatus
		ok     bool
	}{
		{domain.BatchDraft, ActionSubmit, domain.BatchSubmitted, true},
		{domain.BatchRejected, ActionSubmit, domain.BatchSubmitted, true},
		{domain.BatchSubmitted, ActionApprove, domain.BatchApproved, true},
		{domain.BatchSubmitted, ActionReject, domain.BatchRejected, true},
		{domain.BatchRejected, ActionReopen, domain.BatchDraft, true},
		{domain.BatchSubmitted, ActionSubmit, "", false},
		{domain.BatchDraft, ActionApprove, "", false},
		{domain.BatchApproved, ActionReject, "", false},
		{domain.BatchApproved, ActionReopen, "", false},
		{domain.BatchDraft, Action("archive"), "", false},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.action)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("%s from %s: expected %s, got %s (%v)", tc.action, tc.from, tc.want, got, err)
			}
			continue
		}
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("%s from %s: expected invalid transition, got %v", tc.action, tc.from, err)
		}
	}
}

func TestCanDecide(t *testing.T) {
	chain := []domain.User{{ID: "tde", Role: domain.RoleTDE}, {ID: "tdm", Role: domain.RoleTDM}}

	if !CanDecide(domain.Actor{UserID: "tdm", Role: domain.RoleTDM}, "rep", chain) {
		t.Fatalf("manager in chain must be allowed")
	}
	if !CanDecide(domain.Actor{UserID: "rsm-other", Role: domain.RoleRSM}, "rep", chain) {
		t.Fatalf("RSM must be allowed")
	}
	if CanDecide(domain.Actor{UserID: "tdm-other", Role: domain.RoleTDM}, "rep", chain) {
		t.Fatalf("manager outside chain must be refused")
	}
	if CanDecide(domain.Actor{UserID: "rep", Role: domain.RoleRSM}, "rep", chain) {
		t.Fatalf("owner must not decide their own batch")
	}
	if CanDecide(domain.Actor{UserID: "peer", Role: domain.RoleSalesRep}, "rep", []domain.User{{ID: "peer"}}) {
		t.Fatalf("sales reps never decide")
	}
}
