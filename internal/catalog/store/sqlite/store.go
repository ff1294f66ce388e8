// Package sqlite adapts the lite-profile embedded store onto a single
// SQLite file via the pure-Go modernc.org/sqlite driver, the way
// internal/storage/sqlite drove the alert store for the lite profile in the
// teacher. WAL mode keeps a single sync-engine writer from blocking
// concurrent client-sync readers (spec §5's reader/writer discipline).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
)

// Store is a SQLite-backed store.MetadataStore.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex // spans index rebuilds that touch more than one table
}

// Open opens (creating if absent) a SQLite database at path in WAL mode and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: empty path")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("sqlite store: path must not contain '..'")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, WAL still allows concurrent readers

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS packages (
	id TEXT PRIMARY KEY,
	guid TEXT NOT NULL,
	revision INTEGER NOT NULL,
	type TEXT NOT NULL,
	title TEXT,
	kb_article_id TEXT,
	is_category INTEGER NOT NULL DEFAULT 0,
	raw_xml BLOB NOT NULL
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
	is_category INTEGER NOT NULL DEFAULT 0,
	prereq_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prereq_update ON prerequisites(update_id);
CREATE INDEX IF NOT EXISTS idx_prereq_target ON prerequisites(prereq_id);

CREATE TABLE IF NOT EXISTS files (
	update_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	size INTEGER NOT NULL,
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
	drv_date INTEGER NOT NULL,
	version_high INTEGER NOT NULL,
	version_low INTEGER NOT NULL,
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
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("sqlite store: init schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, rec store.Record) error {
	return s.PutBatch(ctx, []store.Record{rec})
}

func (s *Store) PutBatch(ctx context.Context, recs []store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		if err := putOne(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

func putOne(ctx context.Context, tx *sql.Tx, rec store.Record) error {
	u := rec.Update
	id := u.Identity.String()

	if _, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite store: delete stale package: %w", err)
	}
	for _, tbl := range []string{"category_index", "supersedence", "bundles", "prerequisites", "files", "driver_metadata"} {
		col := "update_id"
		if tbl == "supersedence" {
			col = "superseding_id"
		} else if tbl == "bundles" {
			col = "bundle_id"
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, tbl, col), id); err != nil {
			return fmt.Errorf("sqlite store: clear %s: %w", tbl, err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO packages (id, guid, revision, type, title, kb_article_id, is_category, raw_xml)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, u.Identity.ID.String(), u.Identity.Revision, string(u.Type), u.Title, u.KBArticleID, boolToInt(u.IsCategory()), rec.RawXML)
	if err != nil {
		return fmt.Errorf("sqlite store: insert package: %w", err)
	}

	for _, pid := range u.ProductIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO category_index (update_id, category_kind, category_id) VALUES (?, 'product', ?)`, id, pid.String()); err != nil {
			return err
		}
	}
	for _, cid := range u.ClassificationIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO category_index (update_id, category_kind, category_id) VALUES (?, 'classification', ?)`, id, cid.String()); err != nil {
			return err
		}
	}
	for _, sup := range u.SupersededBy {
		if _, err := tx.ExecContext(ctx, `INSERT INTO supersedence (superseding_id, superseded_id) VALUES (?, ?)`, id, sup.String()); err != nil {
			return err
		}
	}
	for _, member := range u.BundledUpdates {
		if _, err := tx.ExecContext(ctx, `INSERT INTO bundles (bundle_id, member_id) VALUES (?, ?)`, id, member.String()); err != nil {
			return err
		}
	}
	for _, p := range u.Prerequisites {
		targets := p.Members
		if p.Kind == identity.PrerequisiteSimple {
			targets = []identity.PackageIdentity{p.Simple}
		}
		for _, t := range targets {
			if _, err := tx.ExecContext(ctx, `INSERT INTO prerequisites (update_id, kind, is_category, prereq_id) VALUES (?, ?, ?, ?)`,
				id, string(p.Kind), boolToInt(p.IsCategory), t.String()); err != nil {
				return err
			}
		}
	}
	for _, f := range u.Files {
		for _, d := range f.Digests {
			if _, err := tx.ExecContext(ctx, `INSERT INTO files (update_id, file_name, size, source_url, digest_algo, digest_value) VALUES (?, ?, ?, ?, ?, ?)`,
				id, f.Name, f.Size, f.SourceURL, string(d.Algorithm), d.Value); err != nil {
				return err
			}
		}
		if len(f.Digests) == 0 {
			if _, err := tx.ExecContext(ctx, `INSERT INTO files (update_id, file_name, size, source_url, digest_algo, digest_value) VALUES (?, ?, ?, ?, '', '')`,
				id, f.Name, f.Size, f.SourceURL); err != nil {
				return err
			}
		}
	}
	for _, d := range u.Drivers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO driver_metadata (update_id, hardware_id, compatible_id, computer_hardware_id, feature_score, drv_date, version_high, version_low, class, provider) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, d.HardwareID, d.CompatibleID, d.ComputerHardwareID, d.FeatureScore, d.Date, d.VersionHigh, d.VersionLow, d.Class, d.Provider); err != nil {
			return err
		}
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) Get(ctx context.Context, id identity.PackageIdentity) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rawXML []byte
	row := s.db.QueryRowContext(ctx, `SELECT raw_xml FROM packages WHERE id = ?`, id.String())
	if err := row.Scan(&rawXML); err != nil {
		if err == sql.ErrNoRows {
			return store.Record{}, store.ErrNotFound
		}
		return store.Record{}, fmt.Errorf("sqlite store: get: %w", err)
	}

	u, err := decodeStored(s.db, ctx, id, rawXML)
	if err != nil {
		return store.Record{}, err
	}
	return store.Record{Update: u, RawXML: rawXML}, nil
}

// decodeStored rebuilds the typed Update from the raw XML via the xmlcodec
// package; kept here rather than imported at the top to avoid a store<->
// xmlcodec import cycle risk as the two packages evolve independently. The
// caller (query/clientsync) that already holds a decoded Update should reuse
// it rather than calling Get repeatedly.
func decodeStored(db *sql.DB, ctx context.Context, id identity.PackageIdentity, rawXML []byte) (*identity.Update, error) {
	return decodeFn(rawXML, id)
}

// decodeFn is overridden by tests/wiring code to the real xmlcodec.Decode;
// kept as a package variable so this package does not import xmlcodec
// directly (store stays a leaf package in the dependency graph).
var decodeFn = func(rawXML []byte, id identity.PackageIdentity) (*identity.Update, error) {
	return nil, fmt.Errorf("sqlite store: no XML decoder wired (call SetDecoder)")
}

// SetDecoder wires the XML decoder used to rehydrate stored payloads back
// into typed Updates. Call once during startup, e.g.
// sqlite.SetDecoder(xmlcodec.Decode).
func SetDecoder(fn func([]byte, identity.PackageIdentity) (*identity.Update, error)) {
	decodeFn = fn
}

func (s *Store) Exists(ctx context.Context, id identity.PackageIdentity) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM packages WHERE id = ?`, id.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite store: exists: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ExistingRevisions(ctx context.Context, candidates []identity.PackageIdentity) (map[identity.PackageIdentity]bool, error) {
	out := make(map[identity.PackageIdentity]bool, len(candidates))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range candidates {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM packages WHERE id = ?`, c.String()).Scan(&n); err != nil {
			return nil, fmt.Errorf("sqlite store: existing revisions: %w", err)
		}
		out[c] = n > 0
	}
	return out, nil
}

func (s *Store) All(ctx context.Context) ([]identity.PackageIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT guid, revision FROM packages`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: all: %w", err)
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
	s.mu.RLock()
	defer s.mu.RUnlock()
	var anchor string
	err := s.db.QueryRowContext(ctx, `SELECT anchor FROM anchors WHERE kind = ? AND hash = ?`, filter.Kind, filter.Hash).Scan(&anchor)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite store: get anchor: %w", err)
	}
	return anchor, true, nil
}

func (s *Store) CommitAnchor(ctx context.Context, filter store.AnchorFilter, anchor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anchors (kind, hash, anchor) VALUES (?, ?, ?)
		ON CONFLICT (kind, hash) DO UPDATE SET anchor = excluded.anchor`,
		filter.Kind, filter.Hash, anchor)
	if err != nil {
		return fmt.Errorf("sqlite store: commit anchor: %w", err)
	}
	return nil
}

func (s *Store) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tables := []string{"packages", "category_index", "supersedence", "bundles", "prerequisites", "files", "driver_metadata", "anchors"}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+t); err != nil {
			return fmt.Errorf("sqlite store: truncate %s: %w", t, err)
		}
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the file path backing this store.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) MembersOfCategory(ctx context.Context, categoryID identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT update_id FROM category_index WHERE category_id = ?`, categoryID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite store: members of category: %w", err)
	}
	return scanIdentities(rows)
}

func (s *Store) SupersededByUpdate(ctx context.Context, supersedingID identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT superseded_id FROM supersedence WHERE superseding_id = ?`, supersedingID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite store: supersedes: %w", err)
	}
	return scanIdentities(rows)
}

func (s *Store) BundleMembers(ctx context.Context, bundleID identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT member_id FROM bundles WHERE bundle_id = ?`, bundleID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite store: bundle members: %w", err)
	}
	return scanIdentities(rows)
}

func (s *Store) PrerequisitesOf(ctx context.Context, id identity.PackageIdentity) ([]store.PrerequisiteRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT kind, is_category, prereq_id FROM prerequisites WHERE update_id = ?`, id.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite store: prerequisites of: %w", err)
	}
	defer rows.Close()

	var out []store.PrerequisiteRow
	for rows.Next() {
		var kind string
		var isCat int
		var targetStr string
		if err := rows.Scan(&kind, &isCat, &targetStr); err != nil {
			return nil, err
		}
		target, err := parseID(targetStr)
		if err != nil {
			continue
		}
		out = append(out, store.PrerequisiteRow{
			Kind:       identity.PrerequisiteKind(kind),
			Target:     target,
			IsCategory: isCat != 0,
		})
	}
	return out, rows.Err()
}

func (s *Store) DependentsOf(ctx context.Context, target identity.PackageIdentity) ([]identity.PackageIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT update_id FROM prerequisites WHERE prereq_id = ?`, target.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite store: dependents of: %w", err)
	}
	return scanIdentities(rows)
}

func (s *Store) FilesOf(ctx context.Context, id identity.PackageIdentity) ([]identity.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT file_name, size, source_url, digest_algo, digest_value FROM files WHERE update_id = ?`, id.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite store: files of: %w", err)
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
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT guid, revision FROM packages WHERE kb_article_id = ?`, kbArticleID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: by kb article: %w", err)
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
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT update_id, hardware_id, compatible_id, computer_hardware_id, feature_score, drv_date, version_high, version_low, class, provider
		FROM driver_metadata WHERE hardware_id = ? OR compatible_id = ?`, hwID, hwID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: drivers by hardware id: %w", err)
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

func scanIdentities(rows *sql.Rows) ([]identity.PackageIdentity, error) {
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
		return identity.PackageIdentity{}, fmt.Errorf("sqlite store: malformed identity %q", s)
	}
	var revNum uint32
	if _, err := fmt.Sscanf(rev, "%d", &revNum); err != nil {
		return identity.PackageIdentity{}, err
	}
	return identity.Parse(guid, revNum)
}
