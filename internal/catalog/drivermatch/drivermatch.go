// Package drivermatch ranks driver candidates for a device against a
// client's reported hardware IDs (C7): spec §4.6's ranking tuple of
// device-hardware-ID specificity, computer-hardware-ID specificity, the
// feature score byte packed into DriverRank, install date, and driver
// version, most-preferred first.
package drivermatch

import (
	"context"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/prereq"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
	"github.com/mscatalog/catalogrelay/pkg/metrics"
)

// Candidate is one ranked driver offering.
type Candidate struct {
	Update identity.PackageIdentity
	Driver identity.DriverMetadata
	rank   rankTuple
}

// rankTuple orders candidates best-first: lower deviceHWIDIndex and
// computerHWIDIndex are more specific matches; ties then break on the lower
// FeatureScore (255 = none ranks last), the newer Date, and the higher
// VersionHigh/Low.
type rankTuple struct {
	deviceHWIDIndex   int
	computerHWIDIndex int
	featureScore      byte
	date              int64
	versionHigh       uint64
	versionLow        uint64
}

// less reports whether a ranks strictly better than b.
func (a rankTuple) less(b rankTuple) bool {
	if a.deviceHWIDIndex != b.deviceHWIDIndex {
		return a.deviceHWIDIndex < b.deviceHWIDIndex
	}
	if a.computerHWIDIndex != b.computerHWIDIndex {
		return a.computerHWIDIndex < b.computerHWIDIndex
	}
	if a.featureScore != b.featureScore {
		return a.featureScore < b.featureScore
	}
	if a.date != b.date {
		return a.date > b.date
	}
	if a.versionHigh != b.versionHigh {
		return a.versionHigh > b.versionHigh
	}
	return a.versionLow > b.versionLow
}

// Matcher ranks driver candidates against an index reader, caching recent
// hardware-ID lookups in an LRU (spec §4.6: device hardware IDs repeat
// heavily across devices of the same model within one client-sync burst).
type Matcher struct {
	index   store.IndexReader
	graph   *prereq.Graph
	cache   *lru.Cache[string, []store.DriverRow]
	metrics *metrics.ClientSyncMetrics
}

// New builds a Matcher. cacheSize bounds the number of distinct hardware IDs
// kept warm (internal/config.ClientSyncConfig.SessionCacheSize feeds this).
// graph gates candidates on prerequisite applicability (spec §4.4 step 1).
func New(idx store.IndexReader, graph *prereq.Graph, cacheSize int, m *metrics.ClientSyncMetrics) (*Matcher, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, []store.DriverRow](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Matcher{index: idx, graph: graph, cache: cache, metrics: m}, nil
}

// Rank returns every driver matching any of deviceHWIDs, most-preferred
// first. deviceHWIDs must be ordered most-specific first (the client's own
// HardwareID list ordering, per spec §4.6); the match's position in that
// list becomes its deviceHWIDIndex. installedCategories is the client's
// installed-category set, used to reject candidates not applicable under
// their own prerequisites (spec §4.4 step 1). A candidate constrained to a
// computer-hardware-ID the client didn't report is rejected outright (step
// 3), not merely demoted; an unconstrained candidate ranks behind one that
// matches the client's reported id but is still offered.
func (m *Matcher) Rank(ctx context.Context, deviceHWIDs []string, computerHWID string, installedCategories map[identity.PackageIdentity]bool) ([]Candidate, error) {
	start := time.Now()
	defer func() {
		if m.metrics != nil {
			m.metrics.DriverMatchDurationSeconds.Observe(time.Since(start).Seconds())
		}
	}()

	var candidates []Candidate
	rejected := 0
	for devIdx, hwID := range deviceHWIDs {
		rows, err := m.lookup(ctx, hwID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.Driver.ComputerHardwareID != "" && row.Driver.ComputerHardwareID != computerHWID {
				rejected++
				continue
			}
			if m.graph != nil {
				ok, err := m.graph.IsApplicable(ctx, row.Update, installedCategories)
				if err != nil {
					return nil, err
				}
				if !ok {
					rejected++
					continue
				}
			}

			computerIdx := 1
			if row.Driver.ComputerHardwareID == computerHWID {
				computerIdx = 0
			}
			candidates = append(candidates, Candidate{
				Update: row.Update,
				Driver: row.Driver,
				rank: rankTuple{
					deviceHWIDIndex:   devIdx,
					computerHWIDIndex: computerIdx,
					featureScore:      row.Driver.FeatureScore,
					date:              row.Driver.Date,
					versionHigh:       row.Driver.VersionHigh,
					versionLow:        row.Driver.VersionLow,
				},
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].rank.less(candidates[j].rank)
	})

	if m.metrics != nil {
		m.metrics.DriverMatchesTotal.WithLabelValues("matched").Add(float64(len(candidates)))
		if rejected > 0 {
			m.metrics.DriverMatchesTotal.WithLabelValues("rejected").Add(float64(rejected))
		}
	}
	return candidates, nil
}

func (m *Matcher) lookup(ctx context.Context, hwID string) ([]store.DriverRow, error) {
	if rows, ok := m.cache.Get(hwID); ok {
		return rows, nil
	}
	rows, err := m.index.DriversByHardwareID(ctx, hwID)
	if err != nil {
		return nil, err
	}
	m.cache.Add(hwID, rows)
	return rows, nil
}

// SuppressInstalled filters out candidates whose identity is already
// present in installed (spec §4.6: a client never needs to be re-offered a
// driver it already has installed, even at a lower rank than a newer one).
func (m *Matcher) SuppressInstalled(candidates []Candidate, installed map[identity.PackageIdentity]bool) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	suppressed := 0
	for _, c := range candidates {
		if installed[c.Update] {
			suppressed++
			continue
		}
		out = append(out, c)
	}
	if m.metrics != nil && suppressed > 0 {
		m.metrics.DriverMatchesTotal.WithLabelValues("suppressed_installed").Add(float64(suppressed))
	}
	return out
}
