// Package store defines the metadata store contract (C3): put/get package
// XML, the derived indices rebuilt over stored payloads, and delta anchors.
// Concrete backends (sqlite, postgres) and the optional Redis anchor cache
// live in sibling packages; see New in factory.go for dual-profile selection.
package store

import (
	"context"
	"errors"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
)

// ErrNotFound is returned when a lookup finds no matching record.
var ErrNotFound = errors.New("store: not found")

// AnchorFilter names the filter an anchor was issued for: the categories
// call takes no filter hash, the updates call keys by a filter's hash.
type AnchorFilter struct {
	Kind string // "categories" | "updates"
	Hash string // empty for "categories"
}

// Record is one stored package: its parsed update plus the raw XML bytes it
// was decoded from (kept so re-fragmentation never needs a re-fetch).
type Record struct {
	Update *identity.Update
	RawXML []byte
}

// MetadataStore is the single shared resource the sync engine writes to and
// every query/driver-match/client-sync/export path reads from. Implementations
// must honor the readers-writer discipline of spec §5: a read spanning a
// whole client-sync request must never observe a partial ingest.
type MetadataStore interface {
	// Put stores one record. Put is idempotent: re-storing the same
	// (id, revision) overwrites in place (invariant 1).
	Put(ctx context.Context, rec Record) error

	// PutBatch stores many records as a single logical write, so a
	// concurrent reader sees either all of them or none (invariant 4/5's
	// "either the new anchor + all new payloads or neither").
	PutBatch(ctx context.Context, recs []Record) error

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id identity.PackageIdentity) (Record, error)

	// Exists reports whether (id, revision) is already stored, used by the
	// sync engine to skip refetching known revisions.
	Exists(ctx context.Context, id identity.PackageIdentity) (bool, error)

	// ExistingRevisions reports, for each candidate, whether it is already
	// stored — a bulk form of Exists used by the fetch loop's skip-filter.
	ExistingRevisions(ctx context.Context, candidates []identity.PackageIdentity) (map[identity.PackageIdentity]bool, error)

	// All returns every stored identity. Used to rebuild derived indices (invariant 4: rebuild must be
	// idempotent).
	All(ctx context.Context) ([]identity.PackageIdentity, error)

	// GetAnchor returns the last committed anchor for filter, or ("", false)
	// if none has been recorded yet.
	GetAnchor(ctx context.Context, filter AnchorFilter) (string, bool, error)

	// CommitAnchor persists a new anchor for filter. Anchors are append-only
	// (invariant 5): callers must only call this after every batch in the
	// sync invocation has been durably written.
	CommitAnchor(ctx context.Context, filter AnchorFilter, anchor string) error

	// Truncate deletes every stored record and anchor. Indices regenerate
	// on next use (lifecycle: "deletion is by store truncation").
	Truncate(ctx context.Context) error

	// Health reports whether the backing store is reachable.
	Health(ctx context.Context) error

	// Close releases backing resources. Idempotent.
	Close() error
}

// IndexReader exposes the derived indices spec §3 describes: categories,
// supersedence, bundling, prerequisites, files, and driver metadata. It is
// a separate interface from MetadataStore because not every caller needs
// every index; query/prereq/drivermatch/clientsync each depend only on the
// methods they use.
type IndexReader interface {
	// MembersOfCategory returns every update whose Properties declared the
	// given product or classification category id.
	MembersOfCategory(ctx context.Context, categoryID identity.PackageIdentity) ([]identity.PackageIdentity, error)

	// SupersededByUpdate returns the updates that supersedingID declares it
	// supersedes (the entries of its SupersededBy list, stored under its id).
	SupersededByUpdate(ctx context.Context, supersedingID identity.PackageIdentity) ([]identity.PackageIdentity, error)

	// BundleMembers returns the updates bundled inside bundleID.
	BundleMembers(ctx context.Context, bundleID identity.PackageIdentity) ([]identity.PackageIdentity, error)

	// PrerequisitesOf returns the raw prerequisite rows stored for id:
	// each row names one target identity, its relationship kind, and
	// whether that target is itself a category.
	PrerequisitesOf(ctx context.Context, id identity.PackageIdentity) ([]PrerequisiteRow, error)

	// DependentsOf returns the updates that name target as a prerequisite,
	// the inverse of PrerequisitesOf — used to build the graph's
	// root/non-leaf partition without a full table scan per node.
	DependentsOf(ctx context.Context, target identity.PackageIdentity) ([]identity.PackageIdentity, error)

	// FilesOf returns the stored files (with digests) for id.
	FilesOf(ctx context.Context, id identity.PackageIdentity) ([]identity.File, error)

	// ByKBArticle returns every update carrying the given KB article id.
	ByKBArticle(ctx context.Context, kbArticleID string) ([]identity.PackageIdentity, error)

	// DriversByHardwareID returns the driver metadata rows whose
	// HardwareID or CompatibleID matches hwID, paired with the owning
	// update's identity.
	DriversByHardwareID(ctx context.Context, hwID string) ([]DriverRow, error)
}

// PrerequisiteRow is one stored prerequisite edge.
type PrerequisiteRow struct {
	Kind       identity.PrerequisiteKind
	Target     identity.PackageIdentity
	IsCategory bool
}

// DriverRow pairs a stored driver metadata record with the update that
// carries it.
type DriverRow struct {
	Update identity.PackageIdentity
	Driver identity.DriverMetadata
}

// RWLocker models the reader/writer discipline of spec §5: the client-sync
// server takes a read lock spanning the whole request; ingestion/reindex
// takes a write lock. Backends that are already single-writer (e.g. a
// transactional SQL store) may implement it with no-ops; in-process callers
// needing the discipline explicitly can hold an RWLocker instead of relying
// on backend transactions alone.
type RWLocker interface {
	RLock()
	RUnlock()
	Lock()
	Unlock()
}
