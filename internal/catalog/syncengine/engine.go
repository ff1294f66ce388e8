// Package syncengine implements the upstream sync engine (C4): the
// authenticated, anchored, batched fetch loop that pulls update metadata
// from an upstream catalog server and lands it in the metadata store.
//
// A sync invocation authenticates (see auth.go), pages through revision IDs
// for a filter via GetRevisionIdList, fetches each page's update bodies via
// GetUpdateData with bounded parallelism, decodes and stores them, and only
// commits the new delta anchor once every batch in the page has been
// durably written (spec §4.3's commit-anchor-last invariant).
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/prereq"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
	"github.com/mscatalog/catalogrelay/internal/catalog/syncengine/soapclient"
	"github.com/mscatalog/catalogrelay/internal/catalog/xmlcodec"
	"github.com/mscatalog/catalogrelay/internal/realtime"
	"github.com/mscatalog/catalogrelay/internal/resilience"
	"github.com/mscatalog/catalogrelay/pkg/metrics"
)

// faultRetryLimit bounds retries of a retryable error (spec §A): a Timeout
// SOAP fault, or a transport error httpFallback classifies as retryable.
// Both share this one budget.
const faultRetryLimit = 3

// faultErrorChecker classifies SOAP faults for the retry policy: only a
// Timeout fault is transient enough to retry. Every other fault code
// (InvalidParameters, IncompatibleProtocolVersion, InternalServerError, ...)
// is terminal and must surface immediately rather than burn through retries.
// A non-fault error (a transport failure, a decode error) falls back to
// httpFallback so network blips still retry as before.
type faultErrorChecker struct {
	httpFallback resilience.RetryableErrorChecker
}

func (c *faultErrorChecker) IsRetryable(err error) bool {
	var fault *soapclient.Fault
	if errors.As(err, &fault) {
		return fault.Code() == soapclient.FaultCodeTimeout
	}
	if c.httpFallback != nil {
		return c.httpFallback.IsRetryable(err)
	}
	return true
}

// Filter names the upstream-side scope a sync invocation fetches against:
// a set of category GUIDs (empty means the server's full top-level
// category set) plus the anchor kind used to key the delta anchor.
type Filter struct {
	Categories []string
	AnchorKind string // "categories" | "updates", see store.AnchorFilter
	FilterHash string // store.AnchorFilter.Hash; empty for AnchorKind "categories"
}

// Result summarizes one completed sync invocation.
type Result struct {
	RunID       string
	Fetched     int
	SkippedSeen int
	NewAnchor   string
}

// Engine drives sync invocations against one upstream server.
type Engine struct {
	soap    *soapclient.Client
	auth    *Authenticator
	store   store.MetadataStore
	graph   *prereq.Graph
	limiter *rate.Limiter

	publisher *realtime.EventPublisher
	metrics   *metrics.SyncMetrics
	logger    *slog.Logger
	retry     *resilience.RetryPolicy
}

// Config configures an Engine.
type Config struct {
	Soap             *soapclient.Client
	Auth             *Authenticator
	Store            store.MetadataStore
	Index            store.IndexReader
	BatchParallelism int
	Publisher        *realtime.EventPublisher
	Metrics          *metrics.SyncMetrics
	Logger           *slog.Logger
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	parallelism := cfg.BatchParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var graph *prereq.Graph
	if cfg.Index != nil {
		graph = prereq.New(cfg.Store, cfg.Index)
	}
	return &Engine{
		soap:      cfg.Soap,
		auth:      cfg.Auth,
		store:     cfg.Store,
		graph:     graph,
		limiter:   rate.NewLimiter(rate.Limit(parallelism), parallelism),
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "syncengine"),
		retry: &resilience.RetryPolicy{
			MaxRetries:   faultRetryLimit,
			BaseDelay:    500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
			ErrorChecker: &faultErrorChecker{httpFallback: resilience.NewHTTPErrorChecker()},
			Logger:       logger,
		},
	}
}

// Run executes one full sync invocation: authenticate, page through
// revision IDs from the last committed anchor, fetch and store every new or
// changed update, and commit the new anchor once every page has landed.
func (e *Engine) Run(ctx context.Context, runID string, filter Filter) (*Result, error) {
	e.publishStarted(runID, filter.FilterHash)

	anchorFilter := store.AnchorFilter{Kind: filter.AnchorKind, Hash: filter.FilterHash}
	lastAnchor, _, err := e.store.GetAnchor(ctx, anchorFilter)
	if err != nil {
		e.publishCompleted(runID, 0, err)
		return nil, fmt.Errorf("syncengine: read anchor: %w", err)
	}

	result := &Result{RunID: runID}
	anchor := lastAnchor
	batchSize := 50

	for {
		var page *soapclient.RevisionIDList
		err := e.callWithAuth(ctx, runID, func(accessCookie string) error {
			if cfgData, cfgErr := e.soap.GetConfigData(ctx, accessCookie); cfgErr == nil && cfgData.MaxNumberOfUpdatesPerRequest > 0 {
				batchSize = cfgData.MaxNumberOfUpdatesPerRequest
			} else if cfgErr != nil {
				e.logger.Warn("syncengine: GetConfigData failed, keeping previous batch size", "run_id", runID, "error", cfgErr)
			}

			return resilience.WithRetry(ctx, e.retry, func() error {
				var callErr error
				page, callErr = e.soap.GetRevisionIdList(ctx, accessCookie, soapclient.FilterRequest{
					Categories: filter.Categories,
					Anchor:     anchor,
				})
				return callErr
			})
		})
		if err != nil {
			e.publishCompleted(runID, result.Fetched, err)
			return nil, fmt.Errorf("syncengine: GetRevisionIdList: %w", err)
		}

		if len(page.RevisionIDs) == 0 {
			break
		}

		fetched, skipped, err := e.fetchAndStorePage(ctx, runID, page.RevisionIDs, batchSize)
		if err != nil {
			e.publishCompleted(runID, result.Fetched, err)
			return nil, fmt.Errorf("syncengine: fetch page: %w", err)
		}
		result.Fetched += fetched
		result.SkippedSeen += skipped
		anchor = page.NewAnchor

		if anchor == lastAnchor || anchor == "" {
			break
		}
	}

	if anchor != "" && anchor != lastAnchor {
		if err := e.store.CommitAnchor(ctx, anchorFilter, anchor); err != nil {
			e.publishCompleted(runID, result.Fetched, err)
			return nil, fmt.Errorf("syncengine: commit anchor: %w", err)
		}
		result.NewAnchor = anchor
		e.publishAnchorCommitted(runID, filter.FilterHash, anchor)
		if e.metrics != nil {
			e.metrics.AnchorCommitsTotal.WithLabelValues(filter.AnchorKind).Inc()
		}
	}

	e.publishCompleted(runID, result.Fetched, nil)
	return result, nil
}

// fetchAndStorePage resolves revisionIDs to identities, skips the ones
// already stored, fetches and decodes the rest in batches, and writes them as
// one PutBatch per batch. At most BatchParallelism batches are in flight at
// once, and the engine's rate limiter paces their starts.
func (e *Engine) fetchAndStorePage(ctx context.Context, runID string, revisionIDs []uint32, batchSize int) (fetched, skipped int, err error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	sem := make(chan struct{}, e.limiter.Burst())

	for start := 0; start < len(revisionIDs); start += batchSize {
		end := start + batchSize
		if end > len(revisionIDs) {
			end = len(revisionIDs)
		}
		batch := revisionIDs[start:end]

		if err := e.limiter.Wait(ctx); err != nil {
			return fetched, skipped, err
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return fetched, skipped, ctx.Err()
		}

		wg.Add(1)
		go func(batch []uint32) {
			defer wg.Done()
			defer func() { <-sem }()

			n, skippedInBatch, err := e.fetchBatch(ctx, runID, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				if e.metrics != nil {
					e.metrics.BatchesFetchedTotal.WithLabelValues("failure").Inc()
				}
				return
			}
			fetched += n
			skipped += skippedInBatch
			if e.metrics != nil {
				e.metrics.BatchesFetchedTotal.WithLabelValues("success").Inc()
			}
			e.publishBatchFetched(runID, n, fetched)
		}(batch)
	}

	wg.Wait()
	return fetched, skipped, firstErr
}

// fetchBatch fetches, decodes, and stores one batch of revision IDs,
// retrying the upstream RPC on transient failure. Revisions already present
// in the store (spec §4.3's "skip refetching known revisions") are counted
// as skipped rather than re-decoded and re-stored.
func (e *Engine) fetchBatch(ctx context.Context, runID string, revisionIDs []uint32) (fetched, skipped int, err error) {
	var updates []soapclient.UpdateXML
	err = e.callWithAuth(ctx, runID, func(accessCookie string) error {
		return resilience.WithRetry(ctx, e.retry, func() error {
			var callErr error
			updates, callErr = e.soap.GetUpdateData(ctx, accessCookie, revisionIDs)
			if callErr != nil && e.metrics != nil {
				e.metrics.RetriesTotal.WithLabelValues("get_update_data").Inc()
			}
			return callErr
		})
	})
	if err != nil {
		return 0, 0, err
	}

	recs := make([]store.Record, 0, len(updates))
	for _, u := range updates {
		id, ok := identityFromRawXML(u.XML)
		if !ok {
			e.logger.Warn("syncengine: could not resolve identity from fetched update, skipping",
				"run_id", runID, "revision_id", u.RevisionID)
			continue
		}

		exists, err := e.store.Exists(ctx, id)
		if err != nil {
			return 0, 0, fmt.Errorf("check existing revision: %w", err)
		}
		if exists {
			skipped++
			continue
		}

		parsed, err := xmlcodec.Decode(u.XML, id)
		if err != nil {
			e.logger.Warn("syncengine: decode failed, skipping update",
				"run_id", runID, "revision_id", u.RevisionID, "error", err)
			continue
		}
		if e.graph != nil {
			if err := e.graph.ResolveCategories(ctx, parsed); err != nil {
				e.logger.Warn("syncengine: category resolution failed, skipping update",
					"run_id", runID, "revision_id", u.RevisionID, "error", err)
				continue
			}
		}
		recs = append(recs, store.Record{Update: parsed, RawXML: u.XML})
	}

	if len(recs) == 0 {
		return 0, skipped, nil
	}

	if err := e.store.PutBatch(ctx, recs); err != nil {
		return 0, skipped, fmt.Errorf("store batch: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RevisionsInsertedTotal.Add(float64(len(recs)))
	}
	return len(recs), skipped, nil
}

// callWithAuth fetches an access cookie and invokes fn with it. If fn fails
// with an InvalidAuthorizationCookie fault, the cached cookie is invalidated
// and fn is retried exactly once against a freshly exchanged cookie (spec
// §A); any other failure, including a second InvalidAuthorizationCookie,
// surfaces immediately.
func (e *Engine) callWithAuth(ctx context.Context, runID string, fn func(accessCookie string) error) error {
	cookie, err := e.auth.AccessCookie(ctx, func(state AuthState) {
		e.recordAuthTransition(runID, state)
	})
	if err != nil {
		return fmt.Errorf("syncengine: authenticate: %w", err)
	}

	err = fn(cookie)
	if err == nil {
		return nil
	}

	var fault *soapclient.Fault
	if !errors.As(err, &fault) || fault.Code() != soapclient.FaultCodeInvalidAuthorizationCookie {
		return err
	}

	e.auth.Invalidate()
	cookie, authErr := e.auth.AccessCookie(ctx, func(state AuthState) {
		e.recordAuthTransition(runID, state)
	})
	if authErr != nil {
		return fmt.Errorf("syncengine: re-authenticate: %w", authErr)
	}
	return fn(cookie)
}

func (e *Engine) recordAuthTransition(runID string, state AuthState) {
	e.logger.Debug("syncengine: auth transition", "run_id", runID, "state", state.String())
	if e.publisher != nil {
		_ = e.publisher.PublishAuthExchanged(runID, state.String())
	}
	if e.metrics != nil && state == StateHaveAccessCookie {
		e.metrics.AuthExchangesTotal.WithLabelValues("full").Inc()
	}
}

func (e *Engine) publishStarted(runID, filterHash string) {
	e.logger.Info("syncengine: sync started", "run_id", runID, "filter_hash", filterHash)
	if e.publisher != nil {
		_ = e.publisher.PublishSyncStarted(runID, filterHash)
	}
}

func (e *Engine) publishBatchFetched(runID string, batchSize, totalFetched int) {
	if e.publisher != nil {
		_ = e.publisher.PublishBatchFetched(runID, batchSize, totalFetched)
	}
}

func (e *Engine) publishAnchorCommitted(runID, filterHash, anchor string) {
	if e.publisher != nil {
		_ = e.publisher.PublishAnchorCommitted(runID, filterHash, anchor)
	}
}

func (e *Engine) publishCompleted(runID string, fetched int, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		e.logger.Error("syncengine: sync failed", "run_id", runID, "fetched", fetched, "error", err)
	} else {
		e.logger.Info("syncengine: sync completed", "run_id", runID, "fetched", fetched)
	}
	if e.publisher != nil {
		_ = e.publisher.PublishSyncCompleted(runID, fetched, errMsg)
	}
}

// identityFromRawXML extracts the UpdateIdentity (GUID + revision) embedded
// in a fetched update's own XML; fetchBatch then checks, decodes and stores
// the update under that identity.
func identityFromRawXML(raw []byte) (identity.PackageIdentity, bool) {
	return xmlcodec.PeekIdentity(raw)
}
