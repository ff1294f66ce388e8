// Package postgres adapts the standard-profile store onto PostgreSQL via
// jackc/pgx/v5's pgxpool, following the pooling conventions of
// internal/database/postgres (ParseConfig + pool-level timeouts) while
// trading the teacher's generic DatabaseConnection wrapper for the
// catalog-specific store.MetadataStore contract that callers actually need.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
)

// Config carries the connection and pool-sizing parameters the standard
// profile feeds in from internal/config.PostgresConfig.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// Store is a PostgreSQL-backed store.MetadataStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to Postgres and ensures the schema exists.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	connectCtx := ctx
	var cancel context.CancelFunc
	if cfg.ConnectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to postgres catalog store", "max_conns", poolCfg.MaxConns)
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS packages (
	id TEXT PRIMARY KEY,
	guid TEXT NOT NULL,
	revision INTEGER NOT NULL,
	type TEXT NOT NULL,
	title TEXT,
	kb_article_id TEXT,
	is_category BOOLEAN NOT NULL DEFAULT FALSE,
	raw_xml BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_packages_guid ON packages(guid);
CREATE INDEX IF NOT EXISTS idx_packages_type ON packages(type);
CREATE INDEX IF NOT EXISTS idx_packages_kb ON packages(kb_article_id);

CREATE TABLE IF NOT EXISTS category_index (
	update_id TEXT NOT NULL,
	category_kind TEXT NOT NULL,
	category_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_category_update ON category_index(update_id);
CREATE INDEX IF NOT EXISTS idx_category_cat ON category_index(category_id);

CREATE TABLE IF NOT EXISTS supersedence (
	superseding_id TEXT NOT NULL,
	superseded_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_supersedence_old ON supersedence(superseded_id);

CREATE TABLE IF NOT EXISTS bundles (
	bundle_id TEXT NOT NULL,
	member_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bundles_bundle ON bundles(bundle_id);
CREATE INDEX IF NOT EXISTS idx_bundles_member ON bundles(member_id);

CREATE TABLE IF NOT EXISTS prerequisites (
	update_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	is_category BOOLEAN NOT NULL DEFAULT FALSE,
	prereq_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prereq_update ON prerequisites(update_id);
CREATE INDEX IF NOT EXISTS idx_prereq_target ON prerequisites(prereq_id);

CREATE TABLE IF NOT EXISTS files (
	update_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	size BIGINT NOT NULL,
	source_url TEXT NOT NULL,
	digest_algo TEXT NOT NULL,
	digest_value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_update ON files(update_id);
CREATE INDEX IF NOT EXISTS idx_files_digest ON files(digest_value);

CREATE TABLE IF NOT EXISTS driver_metadata (
	update_id TEXT NOT NULL,
	hardware_id TEXT NOT NULL,
	compatible_id TEXT NOT NULL DEFAULT '',
	computer_hardware_id TEXT NOT NULL,
	feature_score INTEGER NOT NULL,
	drv_date BIGINT NOT NULL,
	version_high BIGINT NOT NULL,
	version_low BIGINT NOT NULL,
	class TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_driver_hwid ON driver_metadata(hardware_id);
CREATE INDEX IF NOT EXISTS idx_driver_compatid ON driver_metadata(compatible_id);
CREATE INDEX IF NOT EXISTS idx_driver_chid ON driver_metadata(computer_hardware_id);

CREATE TABLE IF NOT EXISTS anchors (
	kind TEXT NOT NULL,
	hash TEXT NOT NULL,
	anchor TEXT NOT NULL,
	PRIMARY KEY (kind, hash)
);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres store: init schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, rec store.Record) error {
	return s.PutBatch(ctx, []store.Record{rec})
}

func (s *Store) PutBatch(ctx context.Context, recs []store.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range recs {
		if err := putOne(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

func putOne(ctx context.Context, tx pgx.Tx, rec store.Record) error {
	u := rec.Update
	id := u.Identity.String()

	if _, err := tx.Exec(ctx, `DELETE FROM packages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete stale package: %w", err)
	}
	deletes := []struct{ table, col string }{
		{"category_index", "update_id"},
		{"supersedence", "superseding_id"},
		{"bundles", "bundle_id"},
		{"prerequisites", "update_id"},
		{"files", "update_id"},
		{"driver_metadata", "update_id"},
	}
	for _, d := range deletes {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, d.table, d.col), id); err != nil {
			return fmt.Errorf("postgres store: clear %s: %w", d.table, err)
		}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO packages (id, guid, revision, type, title, kb_article_id, is_category, raw_xml)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, u.Identity.ID.String(), u.Identity.Revision, string(u.Type), u.Title, u.KBArticleID, u.IsCategory(), rec.RawXML)
	if err != nil {
		return fmt.Errorf("postgres store: insert package: %w", err)
	}

	for _, pid := range u.ProductIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO category_index (update_id, category_kind, category_id) VALUES ($1, 'product', $2)`, id, pid.String()); err != nil {
			return err
		}
	}
	for _, cid := range u.ClassificationIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO category_index (update_id, category_kind, category_id) VALUES ($1, 'classification', $2)`, id, cid.String()); err != nil {
			return err
		}
	}
	for _, sup := range u.SupersededBy {
		if _, err := tx.Exec(ctx, `INSERT INTO supersedence (superseding_id, superseded_id) VALUES ($1, $2)`, id, sup.String()); err != nil {
			return err
		}
	}
	for _, member := range u.BundledUpdates {
		if _, err := tx.Exec(ctx, `INSERT INTO bundles (bundle_id, member_id) VALUES ($1, $2)`, id, member.String()); err != nil {
			return err
		}
	}
	for _, p := range u.Prerequisites {
		targets := p.Members
		if p.Kind == identity.PrerequisiteSimple {
			targets = []identity.PackageIdentity{p.Simple}
		}
		for _, t := range targets {
			if _, err := tx.Exec(ctx, `INSERT INTO prerequisites (update_id, kind, is_category, prereq_id) VALUES ($1, $2, $3, $4)`,
				id, string(p.Kind), p.IsCategory, t.String()); err != nil {
				return err
			}
		}
	}
	for _, f := range u.Files {
		if len(f.Digests) == 0 {
			if _, err := tx.Exec(ctx, `INSERT INTO files (update_id, file_name, size, source_url, digest_algo, digest_value) VALUES ($1, $2, $3, $4, '', '')`,
				id, f.Name, f.Size, f.SourceURL); err != nil {
				return err
			}
			continue
		}
		for _, d := range f.Digests {
			if _, err := tx.Exec(ctx, `INSERT INTO files (update_id, file_name, size, source_url, digest_algo, digest_value) VALUES ($1, $2, $3, $4, $5, $6)`,
				id, f.Name, f.Size, f.SourceURL, string(d.Algorithm), d.Value); err != nil {
				return err
			}
		}
	}
	for _, d := range u.Drivers {
		if _, err := tx.Exec(ctx, `INSERT INTO driver_metadata (update_id, hardware_id, compatible_id, computer_hardware_id, feature_score, drv_date, version_high, version_low, class, provider) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, d.HardwareID, d.CompatibleID, d.ComputerHardwareID, d.FeatureScore, d.Date, d.VersionHigh, d.VersionLow, d.Class, d.Provider); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) Get(ctx context.Context, id identity.PackageIdentity) (store.Record, error) {
	var rawXML []byte
	err := s.pool.QueryRow(ctx, `SELECT raw_xml FROM packages WHERE id = $1`, id.String()).Scan(&rawXML)
	if err != nil {
		if err == pgx.ErrNoRows {
			return store.Record{}, store.ErrNotFound
		}
		return store.Record{}, fmt.Errorf("postgres store: get: %w", err)
	}

	u, err := decodeFn(rawXML, id)
	if err != nil {
		return store.Record{}, err
	}
	return store.Record{Update: u, RawXML: rawXML}, nil
}

// decodeFn mirrors the sqlite adapter's lazy-wiring approach: the postgres
// package stays a leaf in the dependency graph and leaves XML decoding to
// whatever wires it up at startup.
var decodeFn = func(rawXML []byte, id identity.PackageIdentity) (*identity.Update, error) {
	return nil, fmt.Errorf("postgres store: no XML decoder wired (call SetDecoder)")
}

// SetDecoder wires the XML decoder used to rehydrate stored payloads, e.g.
// postgres.SetDecoder(xmlcodec.Decode).
func SetDecoder(fn func([]byte, identity.PackageIdentity) (*identity.Update, error)) {
	decodeFn = fn
}

func (s *Store) Exists(ctx context.Context, id identity.PackageIdentity) (bool, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(1) FROM packages WHERE id = $1`, id.String()).Scan(&n); err != nil {
		return false, fmt.Errorf("postgres store: exists: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ExistingRevisions(ctx context.Context, candidates []identity.PackageIdentity) (map[identity.PackageIdentity]bool, error) {
	if len(candidates) == 0 {
		return map[identity.PackageIdentity]bool{}, nil
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.String()
	}
	rows, err := s.pool.Query(ctx, `SELECT id FROM packages WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres store: existing revisions: %w", err)
	}
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		found[idStr] = true
	}

	out := make(map[identity.PackageIdentity]bool, len(candidates))
	for _, c := range candidates {
		out[c] = found[c.String()]
	}
	return out, rows.Err()
}

func (s *Store) All(ctx context.Context) ([]identity.PackageIdentity, error) {
	rows, err := s.pool.Query(ctx, `SELECT guid, revision FROM packages`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: all: %w", err)
	}
	defer rows.Close()

	var out []identity.PackageIdentity
	for rows.Next() {
		var guid string
		var rev uint32
		if err := rows.Scan(&guid, &rev); err != nil {
			return nil, err
		}
		id, err := identity.Parse(guid, rev)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) GetAnchor(ctx context.Context, filter store.AnchorFilter) (string, bool, error) {
	var anchor string
	err := s.pool.QueryRow(ctx, `SELECT anchor FROM anchors WHERE kind = $1 AND hash = $2`, filter.Kind, filter.Hash).Scan(&anchor)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres store: get anchor: %w", err)
	}
	return anchor, true, nil
}

func (s *Store) CommitAnchor(ctx context.Context, filter store.AnchorFilter, anchor string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO anchors (kind, hash, anchor) VALUES ($1, $2, $3)
		ON CONFLICT (kind, hash) DO UPDATE SET anchor = excluded.anchor`,
		filter.Kind, filter.Hash, anchor)
	if err != nil {
		return fmt.Errorf("postgres store: commit anchor: %w", err)
	}
	return nil
}

func (s *Store) Truncate(ctx context.Context) error {
	tables := []string{"packages", "category_index", "supersedence", "bundles", "prerequisites", "files", "driver_metadata", "anchors"}
	for _, t := range tables {
		if _, err := s.pool.Exec(ctx, `TRUNCATE `+t); err != nil {
			return fmt.Errorf("postgres store: truncate %s: %w", t, err)
		}
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) MembersOfCategory(ctx context.Context, categoryID identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	rows, err := s.pool.Query(ctx, `SELECT update_id FROM category_index WHERE category_id = $1`, categoryID.String())
	if err != nil {
		return nil, fmt.Errorf("postgres store: members of category: %w", err)
	}
	return scanIdentities(rows)
}

func (s *Store) SupersededByUpdate(ctx context.Context, supersedingID identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	rows, err := s.pool.Query(ctx, `SELECT superseded_id FROM supersedence WHERE superseding_id = $1`, supersedingID.String())
	if err != nil {
		return nil, fmt.Errorf("postgres store: supersedes: %w", err)
	}
	return scanIdentities(rows)
}

func (s *Store) BundleMembers(ctx context.Context, bundleID identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	rows, err := s.pool.Query(ctx, `SELECT member_id FROM bundles WHERE bundle_id = $1`, bundleID.String())
	if err != nil {
		return nil, fmt.Errorf("postgres store: bundle members: %w", err)
	}
	return scanIdentities(rows)
}

func (s *Store) PrerequisitesOf(ctx context.Context, id identity.PackageIdentity) ([]store.PrerequisiteRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT kind, is_category, prereq_id FROM prerequisites WHERE update_id = $1`, id.String())
	if err != nil {
		return nil, fmt.Errorf("postgres store: prerequisites of: %w", err)
	}
	defer rows.Close()

	var out []store.PrerequisiteRow
	for rows.Next() {
		var kind string
		var isCat bool
		var targetStr string
		if err := rows.Scan(&kind, &isCat, &targetStr); err != nil {
			return nil, err
		}
		target, err := parseID(targetStr)
		if err != nil {
			continue
		}
		out = append(out, store.PrerequisiteRow{Kind: identity.PrerequisiteKind(kind), Target: target, IsCategory: isCat})
	}
	return out, rows.Err()
}

func (s *Store) DependentsOf(ctx context.Context, target identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT update_id FROM prerequisites WHERE prereq_id = $1`, target.String())
	if err != nil {
		return nil, fmt.Errorf("postgres store: dependents of: %w", err)
	}
	return scanIdentities(rows)
}

func (s *Store) FilesOf(ctx context.Context, id identity.PackageIdentity) ([]identity.File, error) {
	rows, err := s.pool.Query(ctx, `SELECT file_name, size, source_url, digest_algo, digest_value FROM files WHERE update_id = $1`, id.String())
	if err != nil {
		return nil, fmt.Errorf("postgres store: files of: %w", err)
	}
	defer rows.Close()

	byName := map[string]*identity.File{}
	var order []string
	for rows.Next() {
		var name, sourceURL, algo, digestValue string
		var size int64
		if err := rows.Scan(&name, &size, &sourceURL, &algo, &digestValue); err != nil {
			return nil, err
		}
		f, ok := byName[name]
		if !ok {
			f = &identity.File{Name: name, Size: size, SourceURL: sourceURL}
			byName[name] = f
			order = append(order, name)
		}
		if algo != "" {
			f.Digests = append(f.Digests, identity.Digest{Algorithm: identity.DigestAlgorithm(algo), Value: digestValue})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]identity.File, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

func (s *Store) ByKBArticle(ctx context.Context, kbArticleID string) ([]identity.PackageIdentity, error) {
	rows, err := s.pool.Query(ctx, `SELECT guid, revision FROM packages WHERE kb_article_id = $1`, kbArticleID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: by kb article: %w", err)
	}
	defer rows.Close()
	var out []identity.PackageIdentity
	for rows.Next() {
		var guid string
		var rev uint32
		if err := rows.Scan(&guid, &rev); err != nil {
			return nil, err
		}
		id, err := identity.Parse(guid, rev)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) DriversByHardwareID(ctx context.Context, hwID string) ([]store.DriverRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT update_id, hardware_id, compatible_id, computer_hardware_id, feature_score, drv_date, version_high, version_low, class, provider
		FROM driver_metadata WHERE hardware_id = $1 OR compatible_id = $1`, hwID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: drivers by hardware id: %w", err)
	}
	defer rows.Close()

	var out []store.DriverRow
	for rows.Next() {
		var updateIDStr, hardwareID, compatibleID, computerHWID, class, provider string
		var featureScore int
		var date, versionHigh, versionLow int64
		if err := rows.Scan(&updateIDStr, &hardwareID, &compatibleID, &computerHWID, &featureScore, &date, &versionHigh, &versionLow, &class, &provider); err != nil {
			return nil, err
		}
		id, err := parseID(updateIDStr)
		if err != nil {
			continue
		}
		out = append(out, store.DriverRow{
			Update: id,
			Driver: identity.DriverMetadata{
				HardwareID:         hardwareID,
				CompatibleID:       compatibleID,
				ComputerHardwareID: computerHWID,
				FeatureScore:       byte(featureScore),
				Date:               date,
				VersionHigh:        uint64(versionHigh),
				VersionLow:         uint64(versionLow),
				Class:              class,
				Provider:           provider,
			},
		})
	}
	return out, rows.Err()
}

func scanIdentities(rows pgx.Rows) ([]identity.PackageIdentity, error) {
	defer rows.Close()
	var out []identity.PackageIdentity
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		id, err := parseID(idStr)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func parseID(s string) (identity.PackageIdentity, error) {
	guid, rev, ok := strings.Cut(s, ".")
	if !ok {
		return identity.PackageIdentity{}, fmt.Errorf("postgres store: malformed identity %q", s)
	}
	var revNum uint32
	if _, err := fmt.Sscanf(rev, "%d", &revNum); err != nil {
		return identity.PackageIdentity{}, err
	}
	return identity.Parse(guid, revNum)
}
