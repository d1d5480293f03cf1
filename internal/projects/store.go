package projects

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"slate/internal/config"
	"slate/internal/services"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Store manages production library persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the library database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "library.db"))
}

// OpenPath opens a library store at an explicit database path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy retries op with capped exponential backoff while SQLite reports
// the database as locked. Parallel stage workers write shots concurrently, so
// short busy windows are expected.
func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// CreateProject inserts a new draft project and returns it.
func (s *Store) CreateProject(ctx context.Context, title, synopsis, style string) (*Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, services.Wrap(services.ErrValidation, "projects", "create", "title required", nil)
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO projects (id, title, synopsis, style, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, title, nullable(synopsis), nullable(style), ProjectStatusDraft, timestamp, timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return s.GetProject(ctx, id)
}

// GetProject fetches a project by identifier. Returns nil when absent.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// UpdateProject persists changes to a project. Writes are refused with
// services.ErrLocked while a different task holds the advisory lock.
func (s *Store) UpdateProject(ctx context.Context, project *Project) error {
	if project == nil {
		return errors.New("project is nil")
	}
	current, err := s.GetProject(ctx, project.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return services.Wrap(services.ErrNotFound, "projects", "update", project.ID, nil)
	}
	if current.Locked() && current.LockedByTask != project.LockedByTask {
		return lockConflict(current)
	}

	project.UpdatedAt = time.Now().UTC()
	_, err = s.execWithRetry(
		ctx,
		`UPDATE projects
         SET title = ?, synopsis = ?, style = ?, status = ?, cover_image = ?,
             video_path = ?, shot_count = ?, locked_by_task = ?, updated_at = ?
         WHERE id = ?`,
		project.Title,
		nullable(project.Synopsis),
		nullable(project.Style),
		project.Status,
		nullable(project.CoverImage),
		nullable(project.VideoPath),
		project.ShotCount,
		project.LockedByTask,
		project.UpdatedAt.Format(time.RFC3339Nano),
		project.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// DeleteProject removes a project and its dependents. Locked projects are
// refused.
func (s *Store) DeleteProject(ctx context.Context, id string) (bool, error) {
	current, err := s.GetProject(ctx, id)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, nil
	}
	if current.Locked() {
		return false, lockConflict(current)
	}
	res, err := s.execWithRetry(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Lock acquires the advisory lock for a task. Acquisition is atomic; only a
// project that is unlocked (or already held by the same task) succeeds.
func (s *Store) Lock(ctx context.Context, projectID string, taskID int64) error {
	if taskID == 0 {
		return errors.New("task id required")
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE projects SET locked_by_task = ?, updated_at = ?
         WHERE id = ? AND locked_by_task IN (0, ?)`,
		taskID,
		time.Now().UTC().Format(time.RFC3339Nano),
		projectID,
		taskID,
	)
	if err != nil {
		return fmt.Errorf("lock project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		current, err := s.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if current == nil {
			return services.Wrap(services.ErrNotFound, "projects", "lock", projectID, nil)
		}
		return lockConflict(current)
	}
	return nil
}

// Unlock releases the advisory lock if the given task holds it.
func (s *Store) Unlock(ctx context.Context, projectID string, taskID int64) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE projects SET locked_by_task = 0, updated_at = ?
         WHERE id = ? AND locked_by_task = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		projectID,
		taskID,
	)
	if err != nil {
		return fmt.Errorf("unlock project: %w", err)
	}
	return nil
}

func lockConflict(project *Project) error {
	return services.Wrap(
		services.ErrLocked, "projects", "write",
		fmt.Sprintf("project %s is locked by task %d", project.ID, project.LockedByTask), nil)
}

const projectColumns = "id, title, synopsis, style, status, cover_image, video_path, shot_count, locked_by_task, created_at, updated_at"

func scanProject(scanner interface{ Scan(dest ...any) error }) (*Project, error) {
	var (
		id         string
		title      string
		synopsis   sql.NullString
		style      sql.NullString
		status     string
		coverImage sql.NullString
		videoPath  sql.NullString
		shotCount  int
		lockedBy   int64
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&id, &title, &synopsis, &style, &status, &coverImage, &videoPath, &shotCount, &lockedBy, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	project := &Project{
		ID:           id,
		Title:        title,
		Synopsis:     synopsis.String,
		Style:        style.String,
		Status:       status,
		CoverImage:   coverImage.String,
		VideoPath:    videoPath.String,
		ShotCount:    shotCount,
		LockedByTask: lockedBy,
	}
	if created, err := parseTime(createdRaw); err == nil {
		project.CreatedAt = created
	}
	if updated, err := parseTime(updatedRaw); err == nil {
		project.UpdatedAt = updated
	}
	return project, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
