// Package query implements filtered lookups over the metadata store (C5):
// product/classification/title/KB filters, and bundle closure expansion.
// Filter has no identity or hardware-ID field, so neither can be filtered
// on here. It reads through store.IndexReader rather than holding any state
// of its own.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
)

// Filter narrows a catalog scan. Zero-value fields are unconstrained; an
// empty Filter matches everything the store has.
type Filter struct {
	ProductIDs        []identity.PackageIdentity
	ClassificationIDs []identity.PackageIdentity
	TitleContains     string
	KBArticleID       string
	IncludeCategories bool // when false, category-only updates are excluded
}

// Hash returns a stable string key identifying this filter's shape, used as
// the delta-anchor cache key (spec §4.3's "anchors are keyed by filter").
func (f Filter) Hash() string {
	var b strings.Builder
	for _, p := range sortedStrings(identitiesToStrings(f.ProductIDs)) {
		fmt.Fprintf(&b, "p:%s;", p)
	}
	for _, c := range sortedStrings(identitiesToStrings(f.ClassificationIDs)) {
		fmt.Fprintf(&b, "c:%s;", c)
	}
	if f.TitleContains != "" {
		fmt.Fprintf(&b, "t:%s;", f.TitleContains)
	}
	if f.KBArticleID != "" {
		fmt.Fprintf(&b, "kb:%s;", f.KBArticleID)
	}
	if f.IncludeCategories {
		b.WriteString("ic:1;")
	}
	return b.String()
}

func identitiesToStrings(ids []identity.PackageIdentity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func sortedStrings(ss []string) []string {
	out := append([]string(nil), ss...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Service runs filtered queries against a store.
type Service struct {
	store store.MetadataStore
	index store.IndexReader
}

// New builds a Service. idx is typically the same concrete value as base
// (store.MetadataStore implementations also satisfy store.IndexReader);
// they're accepted separately so a test double can supply a narrower
// IndexReader without implementing the full MetadataStore contract.
func New(base store.MetadataStore, idx store.IndexReader) *Service {
	return &Service{store: base, index: idx}
}

// Match returns every stored update satisfying filter.
func (s *Service) Match(ctx context.Context, filter Filter) ([]identity.PackageIdentity, error) {
	candidates, err := s.candidateSet(ctx, filter)
	if err != nil {
		return nil, err
	}

	var out []identity.PackageIdentity
	for _, id := range candidates {
		rec, err := s.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if !matchesTitle(rec.Update, filter) || !matchesKB(rec.Update, filter) {
			continue
		}
		if !filter.IncludeCategories && rec.Update.IsCategory() {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// candidateSet narrows by the index-backed predicates (product/classification/
// KB) before the more expensive per-record field checks run. A filter
// naming both ProductIDs and ClassificationIDs matches their intersection:
// an update in any named product AND any named classification.
func (s *Service) candidateSet(ctx context.Context, filter Filter) ([]identity.PackageIdentity, error) {
	switch {
	case filter.KBArticleID != "":
		return s.index.ByKBArticle(ctx, filter.KBArticleID)

	case len(filter.ProductIDs) > 0 && len(filter.ClassificationIDs) > 0:
		products, err := s.unionByCategory(ctx, filter.ProductIDs)
		if err != nil {
			return nil, err
		}
		classifications, err := s.unionByCategory(ctx, filter.ClassificationIDs)
		if err != nil {
			return nil, err
		}
		return intersect(products, classifications), nil

	case len(filter.ProductIDs) > 0:
		return s.unionByCategory(ctx, filter.ProductIDs)

	case len(filter.ClassificationIDs) > 0:
		return s.unionByCategory(ctx, filter.ClassificationIDs)

	default:
		return s.store.All(ctx)
	}
}

func intersect(a, b []identity.PackageIdentity) []identity.PackageIdentity {
	inB := make(map[identity.PackageIdentity]bool, len(b))
	for _, id := range b {
		inB[id] = true
	}
	var out []identity.PackageIdentity
	for _, id := range a {
		if inB[id] {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) unionByCategory(ctx context.Context, categories []identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	seen := map[identity.PackageIdentity]bool{}
	var out []identity.PackageIdentity
	for _, cat := range categories {
		members, err := s.index.MembersOfCategory(ctx, cat)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func matchesTitle(u *identity.Update, filter Filter) bool {
	if filter.TitleContains == "" {
		return true
	}
	return strings.Contains(strings.ToLower(u.Title), strings.ToLower(filter.TitleContains))
}

func matchesKB(u *identity.Update, filter Filter) bool {
	if filter.KBArticleID == "" {
		return true
	}
	return u.KBArticleID == filter.KBArticleID
}

// ExpandBundleClosure returns root plus every update transitively reachable
// through BundledUpdates, breadth-first with root first (spec §4.5/§4.7:
// "closure expansion for bundles").
func (s *Service) ExpandBundleClosure(ctx context.Context, root identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	seen := map[identity.PackageIdentity]bool{root: true}
	out := []identity.PackageIdentity{root}
	queue := []identity.PackageIdentity{root}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		members, err := s.index.BundleMembers(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
			queue = append(queue, m)
		}
	}
	return out, nil
}
