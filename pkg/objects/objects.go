package objects

import (
	"fmt"
	"strings"
	"time"
)

// Policy is the concurrency-control strategy bound to an object class.
// It is fixed at registration time and never inferred per request.
type Policy int

const (
	// PolicyLeaseGated objects allow any reader but require the writer to
	// hold the object's lease (e.g. crafting forges).
	PolicyLeaseGated Policy = iota
	// PolicyOwnerVersioned objects are accessible only to their owner and
	// use version-checked writes (e.g. storage chests).
	PolicyOwnerVersioned
	// PolicyVersionedOnly objects are open to everyone and use
	// version-checked writes (e.g. terrain chunks).
	PolicyVersionedOnly
)

func (p Policy) String() string {
	switch p {
	case PolicyLeaseGated:
		return "lease-gated"
	case PolicyOwnerVersioned:
		return "owner-versioned"
	case PolicyVersionedOnly:
		return "versioned-only"
	default:
		return "unknown"
	}
}

// Key identifies a shared object within a world.
type Key struct {
	WorldID  string
	ObjectID string
}

func (k Key) String() string {
	return k.WorldID + "/" + k.ObjectID
}

// Class returns the object class encoded in the object ID, the prefix
// before the first ':' (e.g. "chest:42" -> "chest").
func (k Key) Class() string {
	if i := strings.Index(k.ObjectID, ":"); i > 0 {
		return k.ObjectID[:i]
	}
	return k.ObjectID
}

// Lease is a time-bound exclusive claim on an object, identified by an
// opaque token that the holder must present to renew or release it.
type Lease struct {
	Key       Key
	HolderID  string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the lease is no longer active as of now.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// State is the stored state of a shared object. Payload is an opaque
// blob; schema validation is the object-class owner's concern.
type State struct {
	Key       Key
	OwnerID   string
	Payload   []byte
	Version   uint64
	UpdatedAt time.Time
}

type ErrUnknownClass struct {
	Class string
}

func (e *ErrUnknownClass) Error() string {
	return fmt.Sprintf("unknown object class: %s", e.Class)
}

func IsUnknownClass(err error) bool {
	_, ok := err.(*ErrUnknownClass)
	return ok
}

// Registry binds object classes to concurrency policies. Classes are
// registered once at startup; Register is not safe for concurrent use.
type Registry struct {
	policies map[string]Policy
}

func NewRegistry() *Registry {
	return &Registry{
		policies: make(map[string]Policy),
	}
}

// Register binds class to policy. A class can be registered exactly once.
func (r *Registry) Register(class string, policy Policy) error {
	if class == "" {
		return fmt.Errorf("class must not be empty")
	}
	if existing, ok := r.policies[class]; ok {
		return fmt.Errorf("class %s already registered with policy %s", class, existing)
	}
	r.policies[class] = policy
	return nil
}

// Lookup resolves the policy for class.
func (r *Registry) Lookup(class string) (Policy, error) {
	policy, ok := r.policies[class]
	if !ok {
		return 0, &ErrUnknownClass{Class: class}
	}
	return policy, nil
}
