package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
)

type fakeStore struct {
	store.MetadataStore
	records  map[identity.PackageIdentity]store.Record
	allIDs   []identity.PackageIdentity
	category map[identity.PackageIdentity][]identity.PackageIdentity
	bundles  map[identity.PackageIdentity][]identity.PackageIdentity
	byKB     map[string][]identity.PackageIdentity
}

func (f *fakeStore) Get(ctx context.Context, id identity.PackageIdentity) (store.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) All(ctx context.Context) ([]identity.PackageIdentity, error) {
	return f.allIDs, nil
}

func (f *fakeStore) MembersOfCategory(ctx context.Context, categoryID identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	return f.category[categoryID], nil
}

func (f *fakeStore) BundleMembers(ctx context.Context, bundleID identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	return f.bundles[bundleID], nil
}

func (f *fakeStore) ByKBArticle(ctx context.Context, kb string) ([]identity.PackageIdentity, error) {
	return f.byKB[kb], nil
}

func (f *fakeStore) SupersededByUpdate(ctx context.Context, id identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	return nil, nil
}
func (f *fakeStore) PrerequisitesOf(ctx context.Context, id identity.PackageIdentity) ([]store.PrerequisiteRow, error) {
	return nil, nil
}
func (f *fakeStore) DependentsOf(ctx context.Context, id identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	return nil, nil
}
func (f *fakeStore) FilesOf(ctx context.Context, id identity.PackageIdentity) ([]identity.File, error) {
	return nil, nil
}
func (f *fakeStore) DriversByHardwareID(ctx context.Context, hwID string) ([]store.DriverRow, error) {
	return nil, nil
}

func mustID(t *testing.T, guid string, rev uint32) identity.PackageIdentity {
	t.Helper()
	id, err := identity.Parse(guid, rev)
	require.NoError(t, err)
	return id
}

func TestService_Match_ByProduct(t *testing.T) {
	root := mustID(t, "11111111-1111-1111-1111-111111111111", 1)
	product := mustID(t, "22222222-2222-2222-2222-222222222222", 1)
	other := mustID(t, "33333333-3333-3333-3333-333333333333", 1)

	fs := &fakeStore{
		records: map[identity.PackageIdentity]store.Record{
			root:  {Update: &identity.Update{Identity: root, Title: "Sample Update"}},
			other: {Update: &identity.Update{Identity: other, Title: "Unrelated"}},
		},
		category: map[identity.PackageIdentity][]identity.PackageIdentity{
			product: {root},
		},
	}

	svc := New(fs, fs)
	got, err := svc.Match(context.Background(), Filter{ProductIDs: []identity.PackageIdentity{product}})
	require.NoError(t, err)
	require.Equal(t, []identity.PackageIdentity{root}, got)
}

func TestService_ExpandBundleClosure(t *testing.T) {
	root := mustID(t, "11111111-1111-1111-1111-111111111111", 1)
	child := mustID(t, "22222222-2222-2222-2222-222222222222", 1)
	grandchild := mustID(t, "33333333-3333-3333-3333-333333333333", 1)

	fs := &fakeStore{
		bundles: map[identity.PackageIdentity][]identity.PackageIdentity{
			root:  {child},
			child: {grandchild},
		},
	}

	svc := New(fs, fs)
	closure, err := svc.ExpandBundleClosure(context.Background(), root)
	require.NoError(t, err)
	require.ElementsMatch(t, []identity.PackageIdentity{root, child, grandchild}, closure)
}

func TestFilter_Hash_Stable(t *testing.T) {
	a := mustID(t, "11111111-1111-1111-1111-111111111111", 1)
	b := mustID(t, "22222222-2222-2222-2222-222222222222", 1)

	f1 := Filter{ProductIDs: []identity.PackageIdentity{a, b}}
	f2 := Filter{ProductIDs: []identity.PackageIdentity{b, a}}
	require.Equal(t, f1.Hash(), f2.Hash(), "hash must not depend on input order")
}
