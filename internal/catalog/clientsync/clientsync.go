// Package clientsync implements the downstream client-sync state machine
// (C9): the layered update-offering algorithm client computers poll against,
// the driver-match path, and the extended/localized info lookup a client
// uses to resolve the small integer revision indexes SyncUpdates hands back
// into installable update bodies.
package clientsync

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mscatalog/catalogrelay/internal/catalog/drivermatch"
	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/prereq"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
	"github.com/mscatalog/catalogrelay/internal/catalog/xmlcodec"
	"github.com/mscatalog/catalogrelay/internal/realtime"
	"github.com/mscatalog/catalogrelay/pkg/metrics"
)

// DeploymentAction is the action a client should take on an offered update
// (spec §4.5).
type DeploymentAction string

const (
	ActionInstall  DeploymentAction = "Install"
	ActionBundle   DeploymentAction = "Bundle"
	ActionEvaluate DeploymentAction = "Evaluate"
)

// Layer names which of the four layers (or the driver path) produced a
// response, for metrics and test assertions.
type Layer string

const (
	LayerRoot    Layer = "root"
	LayerNonLeaf Layer = "non_leaf"
	LayerBundle  Layer = "bundle"
	LayerLeaf    Layer = "leaf"
	LayerDriver  Layer = "driver"
	LayerEmpty   Layer = "empty"
)

// DeviceSpec is one device a client reports in a driver-sync request: its
// hardware IDs ordered most-specific first (compatible IDs appended after),
// per spec §4.4.
type DeviceSpec struct {
	HardwareIDs []string
}

// Request is one SyncUpdates call.
type Request struct {
	// Cookie is the opaque session cookie from a prior response; empty
	// starts a new session.
	Cookie string

	// Installed is the set of installed non-leaf GUIDs (I).
	Installed map[identity.PackageIdentity]bool

	// Cached is the set of other cached GUIDs the client already knows
	// about (C).
	Cached map[identity.PackageIdentity]bool

	SkipSoftwareSync bool
	SkipDriverSync   bool

	// ComputerHardwareIDs and Devices drive the driver path.
	ComputerHardwareIDs []string
	Devices             []DeviceSpec
	InstalledDrivers    map[identity.PackageIdentity]bool
}

// OfferedUpdate is one update record in a SyncUpdates response.
type OfferedUpdate struct {
	Identity      identity.PackageIdentity
	RevisionIndex int
	Action        DeploymentAction
	CoreXML       []byte
}

// Response is the result of a SyncUpdates call.
type Response struct {
	Cookie    string
	Updates   []OfferedUpdate
	Truncated bool
	Layer     Layer
}

// FileLocation maps one file's strongest digest to the URL a client should
// fetch it from.
type FileLocation struct {
	Digest string // hex
	URL    string
}

// ExtendedInfo is one revision's extended-info lookup result.
type ExtendedInfo struct {
	Identity     identity.PackageIdentity
	ExtendedXML  []byte
	LocalizedXML []byte
	Files        []FileLocation
}

// ExtendedInfoResponse is the result of a GetExtendedUpdateInfo call.
type ExtendedInfoResponse struct {
	Infos []ExtendedInfo
}

// Config configures a Service.
type Config struct {
	Store            store.MetadataStore
	Index            store.IndexReader
	Graph            *prereq.Graph
	Matcher          *drivermatch.Matcher
	Approval         ApprovalChecker
	MaxPerResponse   int // N, spec §4.5
	SessionCacheSize int
	ContentRootURL   string // empty: file locations fall back to SourceURL

	Publisher *realtime.EventPublisher
	Metrics   *metrics.ClientSyncMetrics
	Logger    *slog.Logger
}

// Service runs the client-sync state machine against a metadata store.
type Service struct {
	store    store.MetadataStore
	index    store.IndexReader
	graph    *prereq.Graph
	matcher  *drivermatch.Matcher
	approval ApprovalChecker
	sessions *sessionStore

	maxPerResponse int
	contentRootURL string

	publisher *realtime.EventPublisher
	metrics   *metrics.ClientSyncMetrics
	logger    *slog.Logger
}

// New builds a Service from cfg.
func New(cfg Config) (*Service, error) {
	sessions, err := newSessionStore(cfg.SessionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("clientsync: session cache: %w", err)
	}
	approval := cfg.Approval
	if approval == nil {
		approval = AllowAll{}
	}
	n := cfg.MaxPerResponse
	if n <= 0 {
		n = 50
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:          cfg.Store,
		index:          cfg.Index,
		graph:          cfg.Graph,
		matcher:        cfg.Matcher,
		approval:       approval,
		sessions:       sessions,
		maxPerResponse: n,
		contentRootURL: cfg.ContentRootURL,
		publisher:      cfg.Publisher,
		metrics:        cfg.Metrics,
		logger:         logger.With("component", "clientsync"),
	}, nil
}

func newCookie() string {
	return uuid.NewString()
}

// NewSession mints a fresh opaque session cookie without running a sync
// (the downstream GetCookie RPC, spec §6).
func (s *Service) NewSession() string {
	_, cookie := s.sessions.forCookie("")
	return cookie
}

// SyncUpdates runs one layered-offering or driver-path request (spec §4.5).
func (s *Service) SyncUpdates(ctx context.Context, req Request) (*Response, error) {
	session, cookie := s.sessions.forCookie(req.Cookie)

	if req.SkipSoftwareSync {
		return s.syncDrivers(ctx, session, cookie, req)
	}
	return s.syncSoftware(ctx, session, cookie, req)
}

func (s *Service) excluded(req Request) map[identity.PackageIdentity]bool {
	excluded := make(map[identity.PackageIdentity]bool, len(req.Installed)+len(req.Cached))
	for id := range req.Installed {
		excluded[id] = true
	}
	for id := range req.Cached {
		excluded[id] = true
	}
	return excluded
}

// syncSoftware walks the root -> non-leaf -> bundle -> leaf layers in order
// and stops at the first that yields at least one record.
func (s *Service) syncSoftware(ctx context.Context, session *sessionCache, cookie string, req Request) (*Response, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("clientsync: list candidates: %w", err)
	}

	partition, err := s.graph.Partition(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("clientsync: partition: %w", err)
	}

	bundleMembers, err := s.bundleMembership(ctx, partition[prereq.RoleBundle])
	if err != nil {
		return nil, fmt.Errorf("clientsync: bundle membership: %w", err)
	}

	excluded := s.excluded(req)

	layers := []struct {
		role   prereq.Role
		layer  Layer
		action func(id identity.PackageIdentity) DeploymentAction
	}{
		{prereq.RoleRoot, LayerRoot, func(identity.PackageIdentity) DeploymentAction { return ActionEvaluate }},
		{prereq.RoleNonLeaf, LayerNonLeaf, func(identity.PackageIdentity) DeploymentAction { return ActionEvaluate }},
		{prereq.RoleBundle, LayerBundle, func(identity.PackageIdentity) DeploymentAction { return ActionInstall }},
		{prereq.RoleLeaf, LayerLeaf, func(id identity.PackageIdentity) DeploymentAction {
			if bundleMembers[id] {
				return ActionBundle
			}
			return ActionInstall
		}},
	}

	for _, l := range layers {
		candidates := partition[l.role]
		if len(candidates) == 0 {
			continue
		}

		applicableCheck := l.role != prereq.RoleRoot
		matched, truncated, err := s.filterLayer(ctx, candidates, excluded, req.Installed, applicableCheck)
		if err != nil {
			return nil, err
		}
		if len(matched) == 0 {
			continue
		}

		updates := s.buildOffers(session, matched, l.action)
		s.recordLayerHit(l.layer, truncated)
		return &Response{Cookie: cookie, Updates: updates, Truncated: truncated, Layer: l.layer}, nil
	}

	s.recordLayerHit(LayerEmpty, false)
	return &Response{Cookie: cookie, Layer: LayerEmpty}, nil
}

// filterLayer narrows candidates to those not excluded, applicable (when
// required), and approved, taking up to N+1 so the caller can detect
// truncation, then capping to N. Non-approved matches are reported through
// the audit side-channel and never offered.
func (s *Service) filterLayer(ctx context.Context, candidates []identity.PackageIdentity, excluded, installed map[identity.PackageIdentity]bool, checkApplicable bool) ([]identity.PackageIdentity, bool, error) {
	var matched []identity.PackageIdentity

	for _, id := range candidates {
		if excluded[id] {
			continue
		}
		if checkApplicable {
			ok, err := s.graph.IsApplicable(ctx, id, installed)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				continue
			}
		}

		approved, err := s.approval.IsApproved(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if !approved {
			s.auditNotApproved(id)
			continue
		}

		matched = append(matched, id)
		if len(matched) > s.maxPerResponse {
			break
		}
	}

	truncated := len(matched) > s.maxPerResponse
	if truncated {
		matched = matched[:s.maxPerResponse]
	}
	return matched, truncated, nil
}

// buildOffers fetches each matched identity's core fragment and assigns it a
// session-scoped revision index.
func (s *Service) buildOffers(session *sessionCache, ids []identity.PackageIdentity, action func(identity.PackageIdentity) DeploymentAction) []OfferedUpdate {
	offers := make([]OfferedUpdate, 0, len(ids))
	for _, id := range ids {
		rec, err := s.store.Get(context.Background(), id)
		if err != nil {
			s.logger.Warn("clientsync: could not load matched update, skipping", "identity", id.String(), "error", err)
			continue
		}
		core, err := xmlcodec.Core(rec.RawXML)
		if err != nil {
			s.logger.Warn("clientsync: core fragment failed, skipping", "identity", id.String(), "error", err)
			continue
		}
		offers = append(offers, OfferedUpdate{
			Identity:      id,
			RevisionIndex: session.assign(id),
			Action:        action(id),
			CoreXML:       core,
		})
	}
	return offers
}

// bundleMembership scans bundleIDs' BundledUpdates to determine which leaf
// identities are themselves a member of some bundle (spec §4.5's "bundled
// members -> Bundle" action). The underlying store has no reverse
// bundle-membership index, so this reads the bundle-layer candidates
// directly rather than scanning the whole catalog.
func (s *Service) bundleMembership(ctx context.Context, bundleIDs []identity.PackageIdentity) (map[identity.PackageIdentity]bool, error) {
	members := make(map[identity.PackageIdentity]bool)
	for _, bundleID := range bundleIDs {
		ms, err := s.index.BundleMembers(ctx, bundleID)
		if err != nil {
			return nil, err
		}
		for _, m := range ms {
			members[m] = true
		}
	}
	return members, nil
}

func (s *Service) auditNotApproved(id identity.PackageIdentity) {
	s.logger.Debug("clientsync: candidate rejected by approval policy", "identity", id.String())
	if s.publisher != nil {
		_ = s.publisher.PublishSystemNotification("audit", "not approved: "+id.String())
	}
}

func (s *Service) recordLayerHit(layer Layer, truncated bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.LayerHitsTotal.WithLabelValues(string(layer)).Inc()
	if truncated {
		s.metrics.TruncatedResponsesTotal.Inc()
	}
}

// syncDrivers runs the driver path (spec §4.4/§4.5): for every device in the
// request, rank candidates, suppress ones the client already has, drop
// non-approved matches, and cap to N.
func (s *Service) syncDrivers(ctx context.Context, session *sessionCache, cookie string, req Request) (*Response, error) {
	computerHWID := ""
	if len(req.ComputerHardwareIDs) > 0 {
		computerHWID = req.ComputerHardwareIDs[0]
	}

	var all []drivermatch.Candidate
	for _, dev := range req.Devices {
		ranked, err := s.matcher.Rank(ctx, dev.HardwareIDs, computerHWID, req.Installed)
		if err != nil {
			return nil, fmt.Errorf("clientsync: rank drivers: %w", err)
		}
		all = append(all, ranked...)
	}

	all = s.matcher.SuppressInstalled(all, req.InstalledDrivers)

	var matched []identity.PackageIdentity
	seen := map[identity.PackageIdentity]bool{}
	for _, c := range all {
		if seen[c.Update] {
			continue
		}
		approved, err := s.approval.IsApproved(ctx, c.Update)
		if err != nil {
			return nil, err
		}
		if !approved {
			s.auditNotApproved(c.Update)
			continue
		}
		seen[c.Update] = true
		matched = append(matched, c.Update)
		if len(matched) > s.maxPerResponse {
			break
		}
	}

	truncated := len(matched) > s.maxPerResponse
	if truncated {
		matched = matched[:s.maxPerResponse]
	}

	updates := s.buildOffers(session, matched, func(identity.PackageIdentity) DeploymentAction { return ActionInstall })
	s.recordLayerHit(LayerDriver, truncated)
	return &Response{Cookie: cookie, Updates: updates, Truncated: truncated, Layer: LayerDriver}, nil
}

// GetExtendedUpdateInfo resolves revisionIndexes (issued to this cookie's
// session by a prior SyncUpdates call) back into extended/localized
// fragments and file-location lists (spec §4.5).
func (s *Service) GetExtendedUpdateInfo(ctx context.Context, cookie string, revisionIndexes []int, locales []string) (*ExtendedInfoResponse, error) {
	session, ok := s.sessions.sessions.Get(cookie)
	if !ok {
		return nil, fmt.Errorf("clientsync: unknown session cookie")
	}

	languages := make(map[string]bool, len(locales))
	for _, l := range locales {
		languages[l] = true
	}

	resp := &ExtendedInfoResponse{}
	for _, idx := range revisionIndexes {
		id, ok := session.resolve(idx)
		if !ok {
			s.logger.Warn("clientsync: unresolvable revision index", "revision_index", idx)
			continue
		}

		rec, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("clientsync: load revision %d: %w", idx, err)
		}

		extended, err := xmlcodec.Extended(rec.RawXML)
		if err != nil {
			return nil, fmt.Errorf("clientsync: extended fragment for %s: %w", id, err)
		}
		localized, err := xmlcodec.Localized(rec.RawXML, languages)
		if err != nil {
			return nil, fmt.Errorf("clientsync: localized fragment for %s: %w", id, err)
		}

		resp.Infos = append(resp.Infos, ExtendedInfo{
			Identity:     id,
			ExtendedXML:  extended,
			LocalizedXML: localized,
			Files:        s.fileLocations(rec.Update.Files),
		})
	}
	return resp, nil
}

// fileLocations maps each file's strongest digest to a URL: the original
// SourceURL if no content root is configured, else
// "<ContentRoot>/<hex-digest>" (spec §4.5).
func (s *Service) fileLocations(files []identity.File) []FileLocation {
	out := make([]FileLocation, 0, len(files))
	for _, f := range files {
		digest, ok := identity.Strongest(f.Digests)
		hex := ""
		if ok {
			hex = digestHex(digest)
		}

		url := f.SourceURL
		if s.contentRootURL != "" && hex != "" {
			url = s.contentRootURL + "/" + hex
		}
		out = append(out, FileLocation{Digest: hex, URL: url})
	}
	return out
}

func digestHex(d identity.Digest) string {
	raw, err := base64.StdEncoding.DecodeString(d.Value)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(raw)
}
