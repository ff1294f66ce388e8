// Package identity implements the package identity model shared by every
// update variant: a 128-bit GUID plus a monotonically increasing revision,
// with a total order and a stable content-addressable store key.
package identity

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// PackageIdentity is a 128-bit GUID plus a 32-bit revision. Two identities
// are equal iff both parts match.
type PackageIdentity struct {
	ID       uuid.UUID
	Revision uint32
}

// New builds a PackageIdentity from a GUID and revision.
func New(id uuid.UUID, revision uint32) PackageIdentity {
	return PackageIdentity{ID: id, Revision: revision}
}

// Parse parses a GUID string and revision into a PackageIdentity.
func Parse(guid string, revision uint32) (PackageIdentity, error) {
	id, err := uuid.Parse(guid)
	if err != nil {
		return PackageIdentity{}, fmt.Errorf("parse package identity: %w", err)
	}
	return PackageIdentity{ID: id, Revision: revision}, nil
}

// Equal reports whether two identities have the same GUID and revision.
func (p PackageIdentity) Equal(other PackageIdentity) bool {
	return p.ID == other.ID && p.Revision == other.Revision
}

// Compare implements a total order: lexicographic on (high64, low64, revision).
// Returns -1, 0, or 1.
func (p PackageIdentity) Compare(other PackageIdentity) int {
	a, b := p.ID, other.ID
	for i := 0; i < 16; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case p.Revision < other.Revision:
		return -1
	case p.Revision > other.Revision:
		return 1
	default:
		return 0
	}
}

// Hash produces a stable, process-restart-independent 96-bit-class mix of
// the identity. Unlike the legacy GetHashCode (which ORs the revision into
// the GUID's hash, producing frequent collisions), callers must not rely on
// hash equality implying identity equality — only Equal does that.
func (p PackageIdentity) Hash() uint64 {
	var h uint64 = 14695981039346656037 // FNV-1a offset basis
	const prime = 1099511628211
	for _, b := range p.ID {
		h ^= uint64(b)
		h *= prime
	}
	rev := p.Revision
	for i := 0; i < 4; i++ {
		h ^= uint64(byte(rev >> (8 * i)))
		h *= prime
	}
	return h
}

// String renders "guid.rev".
func (p PackageIdentity) String() string {
	return fmt.Sprintf("%s.%d", p.ID.String(), p.Revision)
}

// OpenID returns the stable opaque store key for this identity within a
// partition: SHA-512 of "<partition>-<id>-<rev>", hex-encoded.
func (p PackageIdentity) OpenID(partition string) string {
	sum := sha512.Sum512([]byte(fmt.Sprintf("%s-%s-%d", partition, p.ID.String(), p.Revision)))
	return hex.EncodeToString(sum[:])
}
