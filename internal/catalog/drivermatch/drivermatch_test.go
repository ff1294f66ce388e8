package drivermatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/prereq"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
	"github.com/mscatalog/catalogrelay/pkg/metrics"
)

type fakeIndex struct {
	store.IndexReader
	rows map[string][]store.DriverRow
}

func (f *fakeIndex) DriversByHardwareID(ctx context.Context, hwID string) ([]store.DriverRow, error) {
	return f.rows[hwID], nil
}

func mustID(t *testing.T, guid string, rev uint32) identity.PackageIdentity {
	t.Helper()
	id, err := identity.Parse(guid, rev)
	require.NoError(t, err)
	return id
}

func TestMatcher_Rank_PrefersSpecificAndNewer(t *testing.T) {
	specific := mustID(t, "11111111-1111-1111-1111-111111111111", 1)
	generic := mustID(t, "22222222-2222-2222-2222-222222222222", 1)
	older := mustID(t, "33333333-3333-3333-3333-333333333333", 1)

	idx := &fakeIndex{rows: map[string][]store.DriverRow{
		"PCI\\VEN_1234&DEV_5678&REV_01": {
			{Update: specific, Driver: identity.DriverMetadata{FeatureScore: 200, Date: 200}},
			{Update: older, Driver: identity.DriverMetadata{FeatureScore: 200, Date: 100}},
		},
		"PCI\\VEN_1234&DEV_5678": {
			{Update: generic, Driver: identity.DriverMetadata{FeatureScore: 255, Date: 300}},
		},
	}}

	m, err := New(idx, nil, 16, metrics.NewClientSyncMetrics("test_drivermatch"))
	require.NoError(t, err)

	ranked, err := m.Rank(context.Background(), []string{
		"PCI\\VEN_1234&DEV_5678&REV_01",
		"PCI\\VEN_1234&DEV_5678",
	}, "", nil)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	require.Equal(t, specific, ranked[0].Update, "more specific hardware ID match wins first")
	require.Equal(t, older, ranked[1].Update, "second candidate under the same specific ID")
	require.Equal(t, generic, ranked[2].Update, "less specific hardware ID match ranks last")
}

func TestMatcher_SuppressInstalled(t *testing.T) {
	a := mustID(t, "11111111-1111-1111-1111-111111111111", 1)
	b := mustID(t, "22222222-2222-2222-2222-222222222222", 1)

	m, err := New(&fakeIndex{}, nil, 16, metrics.NewClientSyncMetrics("test_drivermatch_suppress"))
	require.NoError(t, err)

	candidates := []Candidate{{Update: a}, {Update: b}}
	out := m.SuppressInstalled(candidates, map[identity.PackageIdentity]bool{a: true})
	require.Len(t, out, 1)
	require.Equal(t, b, out[0].Update)
}

func TestMatcher_Rank_RejectsComputerHardwareIDMismatch(t *testing.T) {
	constrained := mustID(t, "44444444-4444-4444-4444-444444444444", 1)
	unconstrained := mustID(t, "55555555-5555-5555-5555-555555555555", 1)

	idx := &fakeIndex{rows: map[string][]store.DriverRow{
		"PCI\\VEN_AAAA&DEV_BBBB": {
			{Update: constrained, Driver: identity.DriverMetadata{ComputerHardwareID: "ACPI\\OTHERVEN"}},
			{Update: unconstrained, Driver: identity.DriverMetadata{}},
		},
	}}

	m, err := New(idx, nil, 16, metrics.NewClientSyncMetrics("test_drivermatch_chid"))
	require.NoError(t, err)

	ranked, err := m.Rank(context.Background(), []string{"PCI\\VEN_AAAA&DEV_BBBB"}, "ACPI\\MYVEN", nil)
	require.NoError(t, err)
	require.Len(t, ranked, 1, "a candidate constrained to a different computer hardware ID is rejected outright")
	require.Equal(t, unconstrained, ranked[0].Update)
}

func TestMatcher_Rank_RejectsInapplicablePrerequisites(t *testing.T) {
	applicable := mustID(t, "66666666-6666-6666-6666-666666666666", 1)
	inapplicable := mustID(t, "77777777-7777-7777-7777-777777777777", 1)

	idx := &fakeIndex{rows: map[string][]store.DriverRow{
		"PCI\\VEN_CCCC&DEV_DDDD": {
			{Update: applicable, Driver: identity.DriverMetadata{}},
			{Update: inapplicable, Driver: identity.DriverMetadata{}},
		},
	}}

	graph := prereq.New(nil, &fakeApplicabilityStore{inapplicable: inapplicable})

	m, err := New(idx, graph, 16, metrics.NewClientSyncMetrics("test_drivermatch_applicable"))
	require.NoError(t, err)

	ranked, err := m.Rank(context.Background(), []string{"PCI\\VEN_CCCC&DEV_DDDD"}, "", nil)
	require.NoError(t, err)
	require.Len(t, ranked, 1, "a candidate not applicable under installed prerequisites is rejected")
	require.Equal(t, applicable, ranked[0].Update)
}

// fakeApplicabilityStore makes every identity's PrerequisitesOf empty except
// inapplicable's, which carries one unmet Simple prerequisite.
type fakeApplicabilityStore struct {
	store.IndexReader
	inapplicable identity.PackageIdentity
}

func (f *fakeApplicabilityStore) PrerequisitesOf(ctx context.Context, id identity.PackageIdentity) ([]store.PrerequisiteRow, error) {
	if id == f.inapplicable {
		return []store.PrerequisiteRow{{Kind: identity.PrerequisiteSimple, Target: mustParse("99999999-9999-9999-9999-999999999999")}}, nil
	}
	return nil, nil
}

func mustParse(guid string) identity.PackageIdentity {
	id, err := identity.Parse(guid, 1)
	if err != nil {
		panic(err)
	}
	return id
}
