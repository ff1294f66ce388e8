// Package export implements offline catalog export (C10): given a filter,
// compute the bundle closure over the matching software updates, then emit
// metadata.txt and package.xml (spec §4.6) packed into a single compressed
// archive a disconnected downstream server can import.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/query"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
)

// Filter narrows an export to a product/classification scope and caps the
// number of top-level software updates selected before bundle closure
// expansion (spec §4.6's "firstX").
type Filter struct {
	ProductIDs        []identity.PackageIdentity
	ClassificationIDs []identity.PackageIdentity
	FirstX            int      // 0 means unlimited
	Languages         []string // locales listed in package.xml; defaults to ["en"]
}

// Service runs catalog exports against a metadata store.
type Service struct {
	store  store.MetadataStore
	index  store.IndexReader
	query  *query.Service
	logger *slog.Logger
}

// New builds a Service.
func New(base store.MetadataStore, idx store.IndexReader, q *query.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: base, index: idx, query: q, logger: logger.With("component", "export")}
}

// Export computes filter's closure and returns a zip archive containing
// exactly metadata.txt and package.xml.
func (s *Service) Export(ctx context.Context, filter Filter) ([]byte, error) {
	categories, err := s.categoryIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: list categories: %w", err)
	}

	selected, err := s.query.Match(ctx, query.Filter{
		ProductIDs:        filter.ProductIDs,
		ClassificationIDs: filter.ClassificationIDs,
		IncludeCategories: false,
	})
	if err != nil {
		return nil, fmt.Errorf("export: match filter: %w", err)
	}
	if filter.FirstX > 0 && len(selected) > filter.FirstX {
		s.logger.Info("export: capping selection to firstX", "matched", len(selected), "first_x", filter.FirstX)
		selected = selected[:filter.FirstX]
	}

	closure, err := s.bundleClosure(ctx, selected)
	if err != nil {
		return nil, fmt.Errorf("export: bundle closure: %w", err)
	}

	records, err := s.loadAll(ctx, append(append([]identity.PackageIdentity{}, categories...), closure...))
	if err != nil {
		return nil, fmt.Errorf("export: load records: %w", err)
	}

	var metadataBuf bytes.Buffer
	if err := writeMetadata(&metadataBuf, categories, closure, records); err != nil {
		return nil, fmt.Errorf("export: write metadata.txt: %w", err)
	}

	languages := filter.Languages
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	packageXML, err := buildPackageXML(categories, closure, records, languages)
	if err != nil {
		return nil, fmt.Errorf("export: build package.xml: %w", err)
	}

	return packArchive(metadataBuf.Bytes(), packageXML)
}

// categoryIdentities returns every stored detectoid/classification/product,
// regardless of filter — spec §4.6: "All detectoids, classifications,
// products ... appear".
func (s *Service) categoryIdentities(ctx context.Context) ([]identity.PackageIdentity, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}
	var cats []identity.PackageIdentity
	for _, id := range all {
		rec, err := s.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if rec.Update.IsCategory() {
			cats = append(cats, id)
		}
	}
	return cats, nil
}

// bundleClosure expands roots to include every bundled member transitively,
// ordered members-before-parents (spec §4.6's fixed-point requirement) via
// a post-order walk that also deduplicates members shared by multiple
// roots.
func (s *Service) bundleClosure(ctx context.Context, roots []identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	visited := map[identity.PackageIdentity]bool{}
	var out []identity.PackageIdentity

	var visit func(id identity.PackageIdentity) error
	visit = func(id identity.PackageIdentity) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		members, err := s.index.BundleMembers(ctx, id)
		if err != nil {
			return err
		}
		for _, m := range members {
			if err := visit(m); err != nil {
				return err
			}
		}
		out = append(out, id)
		return nil
	}

	for _, root := range roots {
		if err := visit(root); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Service) loadAll(ctx context.Context, ids []identity.PackageIdentity) (map[identity.PackageIdentity]store.Record, error) {
	out := make(map[identity.PackageIdentity]store.Record, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		rec, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		out[id] = rec
	}
	return out, nil
}

func packArchive(metadataTxt, packageXML []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	mw, err := zw.Create("metadata.txt")
	if err != nil {
		return nil, err
	}
	if _, err := mw.Write(metadataTxt); err != nil {
		return nil, err
	}

	pw, err := zw.Create("package.xml")
	if err != nil {
		return nil, err
	}
	if _, err := pw.Write(packageXML); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
