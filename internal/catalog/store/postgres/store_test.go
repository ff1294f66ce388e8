package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
)

func init() {
	SetDecoder(func(raw []byte, id identity.PackageIdentity) (*identity.Update, error) {
		return &identity.Update{Identity: id, Type: identity.UpdateTypeSoftware, Title: string(raw)}, nil
	})
}

func setupTestStore(t *testing.T) *Store {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("catalogrelay_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, Config{URL: connStr}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testIdentity() identity.PackageIdentity {
	return identity.New(uuid.New(), 1)
}

func TestStore_PutGetExists(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id := testIdentity()
	rec := store.Record{
		Update: &identity.Update{Identity: id, Type: identity.UpdateTypeSoftware, Title: "Test Update", KBArticleID: "KB1234"},
		RawXML: []byte("Test Update"),
	}

	exists, err := s.Exists(ctx, id)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, s.Put(ctx, rec))

	exists, err = s.Exists(ctx, id)
	require.NoError(t, err)
	require.True(t, exists)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, got.Update.Identity)
	require.Equal(t, []byte("Test Update"), got.RawXML)

	_, err = s.Get(ctx, testIdentity())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_PutIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id := testIdentity()
	rec := store.Record{
		Update: &identity.Update{Identity: id, Type: identity.UpdateTypeSoftware, Title: "v1"},
		RawXML: []byte("v1"),
	}
	require.NoError(t, s.Put(ctx, rec))
	require.NoError(t, s.Put(ctx, rec))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestStore_CategoryIndexAndBundleMembers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	product := testIdentity()
	member := testIdentity()
	bundle := testIdentity()

	require.NoError(t, s.Put(ctx, store.Record{
		Update: &identity.Update{Identity: member, Type: identity.UpdateTypeSoftware, Title: "member", ProductIDs: []identity.PackageIdentity{product}},
		RawXML: []byte("member"),
	}))
	require.NoError(t, s.Put(ctx, store.Record{
		Update: &identity.Update{Identity: bundle, Type: identity.UpdateTypeSoftware, Title: "bundle", BundledUpdates: []identity.PackageIdentity{member}},
		RawXML: []byte("bundle"),
	}))

	members, err := s.MembersOfCategory(ctx, product)
	require.NoError(t, err)
	require.ElementsMatch(t, []identity.PackageIdentity{member}, members)

	bundled, err := s.BundleMembers(ctx, bundle)
	require.NoError(t, err)
	require.ElementsMatch(t, []identity.PackageIdentity{member}, bundled)
}

func TestStore_AnchorRoundtrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	filter := store.AnchorFilter{Kind: "categories"}

	_, ok, err := s.GetAnchor(ctx, filter)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.CommitAnchor(ctx, filter, "anchor-1"))

	anchor, ok, err := s.GetAnchor(ctx, filter)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "anchor-1", anchor)
}

func TestStore_TruncateAndHealth(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Health(ctx))

	id := testIdentity()
	require.NoError(t, s.Put(ctx, store.Record{
		Update: &identity.Update{Identity: id, Type: identity.UpdateTypeSoftware, Title: "x"},
		RawXML: []byte("x"),
	}))

	require.NoError(t, s.Truncate(ctx))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}
