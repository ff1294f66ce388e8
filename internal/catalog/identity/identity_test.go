package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_ParseStringRoundTrip(t *testing.T) {
	id := uuid.New()
	original := New(id, 7)

	parsed, err := Parse(original.ID.String(), original.Revision)
	require.NoError(t, err)

	assert.True(t, original.Equal(parsed))
	assert.Equal(t, 0, original.Compare(parsed))
}

func TestIdentity_CompareTotalOrder(t *testing.T) {
	low := New(uuid.MustParse("00000000-0000-0000-0000-000000000001"), 1)
	high := New(uuid.MustParse("00000000-0000-0000-0000-000000000002"), 1)

	assert.Equal(t, -1, low.Compare(high))
	assert.Equal(t, 1, high.Compare(low))
	assert.Equal(t, 0, low.Compare(low))

	sameID := New(low.ID, 2)
	assert.Equal(t, -1, low.Compare(sameID))
	assert.Equal(t, 1, sameID.Compare(low))
}

func TestIdentity_HashStable(t *testing.T) {
	id := New(uuid.MustParse("11111111-1111-1111-1111-111111111111"), 42)

	h1 := id.Hash()
	h2 := id.Hash()
	assert.Equal(t, h1, h2, "hash must be stable across calls")

	other := New(id.ID, id.Revision+1)
	assert.NotEqual(t, h1, other.Hash(), "revision must affect the hash")
}

func TestIdentity_OpenIDStable(t *testing.T) {
	id := New(uuid.MustParse("22222222-2222-2222-2222-222222222222"), 3)

	a := id.OpenID("updates")
	b := id.OpenID("updates")
	assert.Equal(t, a, b)

	c := id.OpenID("categories")
	assert.NotEqual(t, a, c, "different partitions must yield different keys")
}

func TestStrongestDigest(t *testing.T) {
	digests := []Digest{
		{Algorithm: DigestSHA1, Value: "abc"},
		{Algorithm: DigestSHA256, Value: "def"},
	}

	best, ok := Strongest(digests)
	require.True(t, ok)
	assert.Equal(t, DigestSHA256, best.Algorithm)

	_, ok = Strongest(nil)
	assert.False(t, ok)
}

func TestUpdate_CapabilityPredicates(t *testing.T) {
	sw := &Update{Type: UpdateTypeSoftware, BundledUpdates: []PackageIdentity{New(uuid.New(), 1)}}
	assert.True(t, sw.HasFiles())
	assert.True(t, sw.HasPrerequisites())
	assert.True(t, sw.HasBundles())
	assert.True(t, sw.HasSupersedence())
	assert.False(t, sw.HasDrivers())

	drv := &Update{Type: UpdateTypeDriver}
	assert.True(t, drv.HasDrivers())
	assert.False(t, drv.HasBundles())

	det := &Update{Type: UpdateTypeDetectoid}
	assert.True(t, det.IsCategory())
	assert.False(t, det.HasFiles())
}
