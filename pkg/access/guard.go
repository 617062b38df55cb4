package access

import (
	"github.com/tannerhall/worldvault/pkg/objects"
)

type ErrForbidden struct {
}

func (e *ErrForbidden) Error() string {
	return "forbidden"
}

func IsForbidden(err error) bool {
	_, ok := err.(*ErrForbidden)
	return ok
}

// Check validates that callerID may access an object under policy. For
// owner-gated classes the caller must be the recorded owner; an object
// that was never saved has no owner yet, so it is open to the caller that
// will become the owner on its first accepted save. Owners are fixed once
// set and never reassigned here. Open-access classes always pass.
//
// Check is a pure function over its inputs and is safe to invoke
// repeatedly; state may be nil for objects without a stored row.
func Check(policy objects.Policy, state *objects.State, callerID string) error {
	if policy != objects.PolicyOwnerVersioned {
		return nil
	}
	if state == nil || state.OwnerID == "" {
		return nil
	}
	if state.OwnerID != callerID {
		return &ErrForbidden{}
	}
	return nil
}
