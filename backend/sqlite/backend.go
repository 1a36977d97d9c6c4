// Package sqlite provides a single-file database backend. Items live in one
// table; renames are a transactional key update, which makes the staging
// rename of a transactional copy genuinely atomic.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mwantia/afs"
	"github.com/mwantia/afs/data"
	"github.com/mwantia/afs/log"
	"github.com/tidwall/btree"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteBackend keeps the item table in SQLite and mirrors the key set in an
// in-memory B-tree for fast existence checks and ordered listings. The cache
// assumes this instance is the only writer to the database file.
type SQLiteBackend struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
	logger *log.Logger

	keys *btree.Map[string, data.ItemType]
}

type Option func(*SQLiteBackend)

func WithLogger(logger *log.Logger) Option {
	return func(sb *SQLiteBackend) {
		sb.logger = logger
	}
}

// NewSQLiteBackend opens or creates the database at dbPath.
// ":memory:" yields a throwaway in-memory tree.
func NewSQLiteBackend(dbPath string, opts ...Option) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// One connection: SQLite serializes writers anyway, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	sb := &SQLiteBackend{
		db:     db,
		dbPath: dbPath,
		logger: log.Discard(),
		keys:   btree.NewMap[string, data.ItemType](0),
	}
	for _, opt := range opts {
		opt(sb)
	}

	if err := sb.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := sb.loadKeys(); err != nil {
		db.Close()
		return nil, err
	}

	sb.logger.Debug("sqlite backend ready at %s", dbPath)
	return sb, nil
}

func (sb *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS afs_items (
		rel TEXT PRIMARY KEY,
		item_type INTEGER NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		mod_time INTEGER NOT NULL,
		file_id TEXT,
		link_target TEXT,
		content BLOB
	);`
	if _, err := sb.db.Exec(schema); err != nil {
		return err
	}

	// Device root exists from the start.
	_, err := sb.db.Exec(
		`INSERT OR IGNORE INTO afs_items (rel, item_type, mod_time) VALUES ('', ?, ?)`,
		data.ItemTypeFolder, time.Now().UnixNano())
	return err
}

func (sb *SQLiteBackend) loadKeys() error {
	rows, err := sb.db.Query(`SELECT rel, item_type FROM afs_items`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rel string
		var itemType data.ItemType
		if err := rows.Scan(&rel, &itemType); err != nil {
			return err
		}
		sb.keys.Set(rel, itemType)
	}

	return rows.Err()
}

// Close releases the database handle.
func (sb *SQLiteBackend) Close() error {
	return sb.db.Close()
}

// Kind returns the backend-kind tag used for cross-backend path ordering.
func (*SQLiteBackend) Kind() string {
	return "sqlite"
}

func (sb *SQLiteBackend) CompareSameKind(other afs.Filesystem) int {
	if o, ok := other.(*SQLiteBackend); ok {
		return strings.Compare(sb.dbPath, o.dbPath)
	}

	return 0
}

func (sb *SQLiteBackend) DisplayPath(rel string) string {
	if rel == "" {
		return fmt.Sprintf("sqlite://%s", sb.dbPath)
	}

	return fmt.Sprintf("sqlite://%s/%s", sb.dbPath, rel)
}

func (*SQLiteBackend) EqualItemName(a, b string) bool {
	return a == b
}

func (sb *SQLiteBackend) GetItemType(ctx context.Context, rel string) (data.ItemType, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	itemType, ok := sb.keys.Get(rel)
	if !ok {
		return 0, fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrNotExist)
	}

	return itemType, nil
}

func (sb *SQLiteBackend) CreateFolderPlain(ctx context.Context, rel string) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, exists := sb.keys.Get(rel); exists {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrExist)
	}
	if err := sb.requireParentFolder(rel); err != nil {
		return err
	}

	_, err := sb.db.ExecContext(ctx,
		`INSERT INTO afs_items (rel, item_type, mod_time) VALUES (?, ?, ?)`,
		rel, data.ItemTypeFolder, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}

	sb.keys.Set(rel, data.ItemTypeFolder)
	return nil
}

// CreateSymlinkPlain plants a symlink entry; the database only records the
// target, it never resolves it.
func (sb *SQLiteBackend) CreateSymlinkPlain(ctx context.Context, rel, target string) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, exists := sb.keys.Get(rel); exists {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrExist)
	}
	if err := sb.requireParentFolder(rel); err != nil {
		return err
	}

	_, err := sb.db.ExecContext(ctx,
		`INSERT INTO afs_items (rel, item_type, mod_time, link_target) VALUES (?, ?, ?, ?)`,
		rel, data.ItemTypeSymlink, time.Now().UnixNano(), target)
	if err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}

	sb.keys.Set(rel, data.ItemTypeSymlink)
	return nil
}

func (sb *SQLiteBackend) RemoveFilePlain(ctx context.Context, rel string) error {
	return sb.removeTyped(ctx, rel, data.ItemTypeFile)
}

func (sb *SQLiteBackend) RemoveSymlinkPlain(ctx context.Context, rel string) error {
	return sb.removeTyped(ctx, rel, data.ItemTypeSymlink)
}

func (sb *SQLiteBackend) RemoveFolderPlain(ctx context.Context, rel string) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	itemType, ok := sb.keys.Get(rel)
	if !ok {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrNotExist)
	}
	if itemType != data.ItemTypeFolder {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrNotFolder)
	}
	if sb.hasChildren(rel) {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrFolderNotEmpty)
	}

	if _, err := sb.db.ExecContext(ctx, `DELETE FROM afs_items WHERE rel = ?`, rel); err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}

	sb.keys.Delete(rel)
	return nil
}

func (sb *SQLiteBackend) removeTyped(ctx context.Context, rel string, want data.ItemType) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	itemType, ok := sb.keys.Get(rel)
	if !ok {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrNotExist)
	}
	if itemType != want {
		return fmt.Errorf("%s: expected %s, found %s: %w",
			sb.DisplayPath(rel), want, itemType, data.ErrNotSupported)
	}

	if _, err := sb.db.ExecContext(ctx, `DELETE FROM afs_items WHERE rel = ?`, rel); err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}

	sb.keys.Delete(rel)
	return nil
}

func (sb *SQLiteBackend) SetModTime(ctx context.Context, rel string, modTime time.Time) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	res, err := sb.db.ExecContext(ctx,
		`UPDATE afs_items SET mod_time = ? WHERE rel = ?`, modTime.UnixNano(), rel)
	if err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrNotExist)
	}

	return nil
}

func (sb *SQLiteBackend) MoveAndRenameItem(ctx context.Context, relSource, relTarget string) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, ok := sb.keys.Get(relSource); !ok {
		return fmt.Errorf("%s: %w", sb.DisplayPath(relSource), data.ErrNotExist)
	}
	if err := sb.requireParentFolder(relTarget); err != nil {
		return err
	}

	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(relSource), err)
	}
	defer tx.Rollback()

	prefix := relSource + string(data.Separator)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM afs_items WHERE rel = ? OR rel LIKE ? ESCAPE '\'`,
		relTarget, escapeLike(relTarget)+`/%`); err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(relTarget), err)
	}

	// substr counts characters, not bytes.
	if _, err := tx.ExecContext(ctx,
		`UPDATE afs_items SET rel = ? || substr(rel, ?) WHERE rel = ? OR rel LIKE ? ESCAPE '\'`,
		relTarget, utf8.RuneCountInString(relSource)+1, relSource, escapeLike(prefix)+`%`); err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(relSource), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", sb.DisplayPath(relSource), err)
	}

	sb.rekeyCache(relSource, relTarget)
	return nil
}

func (sb *SQLiteBackend) TraverseFolderRecursive(ctx context.Context, workload []afs.TraversalTask, parallelOps int) error {
	return afs.TraverseWithLister(ctx, workload, parallelOps, sb.listFolder)
}

func (sb *SQLiteBackend) listFolder(ctx context.Context, rel string) (*afs.FolderEntries, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	itemType, ok := sb.keys.Get(rel)
	if !ok {
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrNotExist)
	}
	if itemType != data.ItemTypeFolder {
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrNotFolder)
	}

	prefix := ""
	if rel != "" {
		prefix = rel + string(data.Separator)
	}

	rows, err := sb.db.QueryContext(ctx,
		`SELECT rel, item_type, size, mod_time, file_id FROM afs_items
		 WHERE rel LIKE ? ESCAPE '\' AND rel != '' ORDER BY rel`,
		escapeLike(prefix)+`%`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sb.DisplayPath(rel), err)
	}
	defer rows.Close()

	entries := &afs.FolderEntries{}
	for rows.Next() {
		var key string
		var childType data.ItemType
		var size, modTimeNanos int64
		var fileID sql.NullString
		if err := rows.Scan(&key, &childType, &size, &modTimeNanos, &fileID); err != nil {
			return nil, err
		}

		rest := key[len(prefix):]
		if rest == "" || strings.ContainsRune(rest, data.Separator) {
			continue
		}

		modTime := time.Unix(0, modTimeNanos)
		switch childType {
		case data.ItemTypeFile:
			entries.Files = append(entries.Files, data.FileInfo{
				ItemName: rest,
				Size:     size,
				ModTime:  modTime,
				FileID:   data.FileID(fileID.String),
			})
		case data.ItemTypeFolder:
			entries.Folders = append(entries.Folders, data.FolderInfo{ItemName: rest})
		case data.ItemTypeSymlink:
			entries.Symlinks = append(entries.Symlinks, data.SymlinkInfo{ItemName: rest, ModTime: modTime})
		}
	}

	return entries, rows.Err()
}

func (sb *SQLiteBackend) requireParentFolder(rel string) error {
	parentRel, ok := data.ParentRelPath(rel)
	if !ok {
		return fmt.Errorf("%s: %w", sb.DisplayPath(rel), data.ErrExist)
	}

	itemType, exists := sb.keys.Get(parentRel)
	if !exists {
		return fmt.Errorf("%s: %w", sb.DisplayPath(parentRel), data.ErrNotExist)
	}
	if itemType != data.ItemTypeFolder {
		return fmt.Errorf("%s: %w", sb.DisplayPath(parentRel), data.ErrNotFolder)
	}

	return nil
}

func (sb *SQLiteBackend) hasChildren(rel string) bool {
	prefix := rel + string(data.Separator)

	found := false
	sb.keys.Ascend(prefix, func(key string, _ data.ItemType) bool {
		if strings.HasPrefix(key, prefix) {
			found = true
		}
		return false
	})

	return found
}

func (sb *SQLiteBackend) rekeyCache(relSource, relTarget string) {
	prefix := relSource + string(data.Separator)

	type moved struct {
		key      string
		itemType data.ItemType
	}
	var batch []moved

	if itemType, ok := sb.keys.Get(relSource); ok {
		batch = append(batch, moved{relTarget, itemType})
	}
	sb.keys.Ascend(prefix, func(key string, itemType data.ItemType) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		batch = append(batch, moved{data.JoinRelPath(relTarget, key[len(prefix):]), itemType})
		return true
	})

	sb.deleteCacheSubtree(relSource)
	sb.deleteCacheSubtree(relTarget)
	for _, m := range batch {
		sb.keys.Set(m.key, m.itemType)
	}
}

func (sb *SQLiteBackend) deleteCacheSubtree(rel string) {
	var keys []string
	if _, ok := sb.keys.Get(rel); ok {
		keys = append(keys, rel)
	}

	prefix := rel + string(data.Separator)
	sb.keys.Ascend(prefix, func(key string, _ data.ItemType) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		keys = append(keys, key)
		return true
	})

	for _, key := range keys {
		sb.keys.Delete(key)
	}
}

// escapeLike escapes the LIKE wildcards in a literal path prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

func newFileID() data.FileID {
	return data.FileID(uuid.Must(uuid.NewV7()).String())
}
