package clientsync

import (
	"context"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
)

// ApprovalChecker decides whether an otherwise-matching update may be
// offered to clients. Authorization policy for approvals is explicitly out
// of scope for this relay (it is an input, not something the relay
// computes); callers inject whatever policy source they have. Candidates an
// ApprovalChecker rejects are still reported through the audit side-channel
// (spec §4.5: "non-approved candidates ... reported via a side-channel for
// auditing but not offered").
type ApprovalChecker interface {
	IsApproved(ctx context.Context, id identity.PackageIdentity) (bool, error)
}

// AllowAll approves every candidate. It is the default ApprovalChecker when
// a deployment has no external approval source configured.
type AllowAll struct{}

// IsApproved always returns true.
func (AllowAll) IsApproved(context.Context, identity.PackageIdentity) (bool, error) {
	return true, nil
}
