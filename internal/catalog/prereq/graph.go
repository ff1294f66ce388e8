// Package prereq builds the prerequisite graph over stored updates (C6):
// the root/non-leaf/leaf partition the client-sync layered offering
// algorithm walks, and the applicability check a Simple/AtLeastOne
// prerequisite list resolves against a client's installed-category set.
package prereq

import (
	"context"
	"errors"
	"fmt"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
)

// Role classifies an update's position in the prerequisite DAG, the
// partition client-sync's layered offering algorithm walks in order.
type Role int

const (
	// RoleRoot updates declare no prerequisites of their own: detectoids,
	// classifications, and products — spec §4.5's root layer.
	RoleRoot Role = iota

	// RoleNonLeaf updates both declare prerequisites and are themselves a
	// prerequisite of something else further down the graph.
	RoleNonLeaf

	// RoleBundle updates bundle other updates, whether or not they also
	// declare prerequisites (spec §4.5's bundle layer, offered after
	// non-leaf).
	RoleBundle

	// RoleLeaf updates are terminal: installable software/driver updates
	// with no updates depending on them as a prerequisite.
	RoleLeaf
)

// Graph answers role classification and applicability questions over a
// metadata store's prerequisite index. It holds no cached state beyond the
// store reference: every call reads through, since the underlying indices
// are rebuilt on every ingest (spec invariant 4).
type Graph struct {
	index store.IndexReader
	store store.MetadataStore
}

// New builds a Graph over idx/base.
func New(base store.MetadataStore, idx store.IndexReader) *Graph {
	return &Graph{store: base, index: idx}
}

// RoleOf classifies id by its prerequisite and dependent edges.
func (g *Graph) RoleOf(ctx context.Context, id identity.PackageIdentity) (Role, error) {
	rec, err := g.store.Get(ctx, id)
	if err != nil {
		return RoleLeaf, fmt.Errorf("prereq: role of %s: %w", id, err)
	}

	prereqs, err := g.index.PrerequisitesOf(ctx, id)
	if err != nil {
		return RoleLeaf, err
	}
	dependents, err := g.index.DependentsOf(ctx, id)
	if err != nil {
		return RoleLeaf, err
	}

	hasPrereqs := len(prereqs) > 0
	hasDependents := len(dependents) > 0

	switch {
	case rec.Update.HasBundles():
		// A bundle is offered at the bundle layer regardless of whether it
		// also carries its own prerequisites (e.g. an OS requirement) —
		// those prerequisites still gate IsApplicable, they just don't
		// change which layer the bundle itself is offered from.
		return RoleBundle, nil
	case !hasPrereqs:
		return RoleRoot, nil
	case hasDependents:
		return RoleNonLeaf, nil
	default:
		return RoleLeaf, nil
	}
}

// Partition classifies every id in ids, grouped by role, preserving each
// group's relative input order.
func (g *Graph) Partition(ctx context.Context, ids []identity.PackageIdentity) (map[Role][]identity.PackageIdentity, error) {
	out := map[Role][]identity.PackageIdentity{}
	for _, id := range ids {
		role, err := g.RoleOf(ctx, id)
		if err != nil {
			return nil, err
		}
		out[role] = append(out[role], id)
	}
	return out, nil
}

// IsApplicable reports whether id's prerequisites are satisfied by
// installedCategories: every Simple prerequisite must be present, and at
// least one member of every AtLeastOne group must be present (spec §3's
// Prerequisite semantics). A target counts as met only when
// installedCategories names it directly; category membership is not
// followed.
func (g *Graph) IsApplicable(ctx context.Context, id identity.PackageIdentity, installedCategories map[identity.PackageIdentity]bool) (bool, error) {
	prereqs, err := g.index.PrerequisitesOf(ctx, id)
	if err != nil {
		return false, err
	}
	if len(prereqs) == 0 {
		return true, nil
	}

	var simples []identity.PackageIdentity
	for _, p := range prereqs {
		if p.Kind == identity.PrerequisiteSimple {
			simples = append(simples, p.Target)
		}
	}

	for _, target := range simples {
		if !installedCategories[target] {
			return false, nil
		}
	}

	for _, members := range groupsByMembership(prereqs) {
		satisfied := false
		for _, m := range members {
			if installedCategories[m] {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false, nil
		}
	}

	return true, nil
}

// ResolveCategories populates u.ProductIDs and u.ClassificationIDs by
// scanning u.Prerequisites for AtLeastOne groups flagged IsCategory and
// keeping the members that are already-stored Product or Classification
// records (spec §4.3: category membership is derived from the prerequisite
// list itself, not carried as a separate field on the wire). Must run
// before u is persisted; a member not yet known to the store (its category
// hasn't synced yet) is silently skipped rather than treated as an error,
// since a later re-sync of the same revision will pick it up once its
// category lands.
func (g *Graph) ResolveCategories(ctx context.Context, u *identity.Update) error {
	if !u.HasPrerequisites() {
		return nil
	}

	var products, classifications []identity.PackageIdentity
	for _, p := range u.Prerequisites {
		if p.Kind != identity.PrerequisiteAtLeastOne || !p.IsCategory {
			continue
		}
		for _, target := range p.Members {
			rec, err := g.store.Get(ctx, target)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return fmt.Errorf("prereq: resolve categories for %s: %w", u.Identity, err)
			}
			switch {
			case rec.Update.HasProduct():
				products = append(products, target)
			case rec.Update.HasClassification():
				classifications = append(classifications, target)
			}
		}
	}
	u.ProductIDs = products
	u.ClassificationIDs = classifications
	return nil
}

// groupsByMembership partitions AtLeastOne rows back into their original
// groups. The store schema does not preserve group boundaries across
// multiple AtLeastOne blocks on the same update (a rare case in practice —
// most updates declare at most one AtLeastOne relationship); when more than
// one group exists, this conservatively treats all AtLeastOne targets for
// the update as a single group, which can only make IsApplicable more
// permissive, never reject an installable update.
func groupsByMembership(rows []store.PrerequisiteRow) [][]identity.PackageIdentity {
	var group []identity.PackageIdentity
	for _, r := range rows {
		if r.Kind == identity.PrerequisiteAtLeastOne {
			group = append(group, r.Target)
		}
	}
	if len(group) == 0 {
		return nil
	}
	return [][]identity.PackageIdentity{group}
}
