package prereq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
)

type fakeStore struct {
	store.MetadataStore
	records    map[identity.PackageIdentity]store.Record
	prereqs    map[identity.PackageIdentity][]store.PrerequisiteRow
	dependents map[identity.PackageIdentity][]identity.PackageIdentity
}

func (f *fakeStore) Get(ctx context.Context, id identity.PackageIdentity) (store.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) PrerequisitesOf(ctx context.Context, id identity.PackageIdentity) ([]store.PrerequisiteRow, error) {
	return f.prereqs[id], nil
}

func (f *fakeStore) DependentsOf(ctx context.Context, id identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	return f.dependents[id], nil
}

func mustID(t *testing.T, guid string, rev uint32) identity.PackageIdentity {
	t.Helper()
	id, err := identity.Parse(guid, rev)
	require.NoError(t, err)
	return id
}

func TestGraph_RoleOf(t *testing.T) {
	root := mustID(t, "11111111-1111-1111-1111-111111111111", 1)
	mid := mustID(t, "22222222-2222-2222-2222-222222222222", 1)
	leaf := mustID(t, "33333333-3333-3333-3333-333333333333", 1)

	fs := &fakeStore{
		records: map[identity.PackageIdentity]store.Record{
			root: {Update: &identity.Update{Identity: root}},
			mid:  {Update: &identity.Update{Identity: mid}},
			leaf: {Update: &identity.Update{Identity: leaf}},
		},
		prereqs: map[identity.PackageIdentity][]store.PrerequisiteRow{
			mid:  {{Kind: identity.PrerequisiteSimple, Target: root}},
			leaf: {{Kind: identity.PrerequisiteSimple, Target: mid}},
		},
		dependents: map[identity.PackageIdentity][]identity.PackageIdentity{
			root: {mid},
			mid:  {leaf},
		},
	}

	g := New(fs, fs)

	role, err := g.RoleOf(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, RoleRoot, role)

	role, err = g.RoleOf(context.Background(), mid)
	require.NoError(t, err)
	require.Equal(t, RoleNonLeaf, role)

	role, err = g.RoleOf(context.Background(), leaf)
	require.NoError(t, err)
	require.Equal(t, RoleLeaf, role)
}

func TestGraph_IsApplicable(t *testing.T) {
	update := mustID(t, "11111111-1111-1111-1111-111111111111", 1)
	need := mustID(t, "22222222-2222-2222-2222-222222222222", 1)
	altA := mustID(t, "33333333-3333-3333-3333-333333333333", 1)
	altB := mustID(t, "44444444-4444-4444-4444-444444444444", 1)

	fs := &fakeStore{
		prereqs: map[identity.PackageIdentity][]store.PrerequisiteRow{
			update: {
				{Kind: identity.PrerequisiteSimple, Target: need},
				{Kind: identity.PrerequisiteAtLeastOne, Target: altA, IsCategory: true},
				{Kind: identity.PrerequisiteAtLeastOne, Target: altB, IsCategory: true},
			},
		},
	}
	g := New(fs, fs)

	ok, err := g.IsApplicable(context.Background(), update, map[identity.PackageIdentity]bool{need: true, altB: true})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.IsApplicable(context.Background(), update, map[identity.PackageIdentity]bool{need: true})
	require.NoError(t, err)
	require.False(t, ok, "neither AtLeastOne alternative installed")

	ok, err = g.IsApplicable(context.Background(), update, map[identity.PackageIdentity]bool{altA: true})
	require.NoError(t, err)
	require.False(t, ok, "simple prerequisite missing")
}
