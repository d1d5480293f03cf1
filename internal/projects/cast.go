package projects

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UpsertCharacter inserts a character or refreshes its description when the
// name already exists for the project.
func (s *Store) UpsertCharacter(ctx context.Context, projectID, name, description string) (*Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("character name required")
	}
	id := uuid.NewString()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO characters (id, project_id, name, description, created_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(project_id, name) DO UPDATE SET description = excluded.description`,
		id, projectID, name, nullable(description), timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert character: %w", err)
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, project_id, name, description, image_path, created_at
         FROM characters WHERE project_id = ? AND name = ?`,
		projectID, name,
	)
	return scanCharacter(row)
}

// ListCharacters returns a project's characters ordered by name.
func (s *Store) ListCharacters(ctx context.Context, projectID string) ([]*Character, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, project_id, name, description, image_path, created_at
         FROM characters WHERE project_id = ? ORDER BY name`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var characters []*Character
	for rows.Next() {
		character, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		characters = append(characters, character)
	}
	return characters, rows.Err()
}

// UpsertLocation inserts a location keyed by name within the project.
func (s *Store) UpsertLocation(ctx context.Context, projectID, name string, interior bool) (*Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("location name required")
	}
	id := uuid.NewString()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	interiorVal := 0
	if interior {
		interiorVal = 1
	}
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO locations (id, project_id, name, interior, created_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(project_id, name) DO UPDATE SET interior = excluded.interior`,
		id, projectID, name, interiorVal, timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert location: %w", err)
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, project_id, name, interior, created_at FROM locations
         WHERE project_id = ? AND name = ?`,
		projectID, name,
	)
	return scanLocation(row)
}

// ListLocations returns a project's locations ordered by name.
func (s *Store) ListLocations(ctx context.Context, projectID string) ([]*Location, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, project_id, name, interior, created_at FROM locations
         WHERE project_id = ? ORDER BY name`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var locations []*Location
	for rows.Next() {
		location, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	return locations, rows.Err()
}

// SetContinuityLock stores (or replaces) the locked attributes for a subject.
func (s *Store) SetContinuityLock(ctx context.Context, lock *ContinuityLock) error {
	if lock == nil {
		return fmt.Errorf("lock is nil")
	}
	if lock.ID == "" {
		lock.ID = uuid.NewString()
	}
	attrs, err := json.Marshal(lock.Attributes)
	if err != nil {
		return fmt.Errorf("marshal lock attributes: %w", err)
	}
	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO continuity_locks (id, project_id, subject_type, subject_id, attributes_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(project_id, subject_type, subject_id)
         DO UPDATE SET attributes_json = excluded.attributes_json`,
		lock.ID, lock.ProjectID, lock.SubjectType, lock.SubjectID,
		string(attrs), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set continuity lock: %w", err)
	}
	return nil
}

// ListContinuityLocks returns all continuity locks for a project.
func (s *Store) ListContinuityLocks(ctx context.Context, projectID string) ([]*ContinuityLock, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, project_id, subject_type, subject_id, attributes_json, created_at
         FROM continuity_locks WHERE project_id = ? ORDER BY subject_type, subject_id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list continuity locks: %w", err)
	}
	defer rows.Close()

	var locks []*ContinuityLock
	for rows.Next() {
		var (
			lock       ContinuityLock
			attrsJSON  string
			createdRaw string
		)
		if err := rows.Scan(&lock.ID, &lock.ProjectID, &lock.SubjectType, &lock.SubjectID, &attrsJSON, &createdRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrsJSON), &lock.Attributes); err != nil {
			return nil, fmt.Errorf("decode lock attributes: %w", err)
		}
		if created, err := parseTime(createdRaw); err == nil {
			lock.CreatedAt = created
		}
		locks = append(locks, &lock)
	}
	return locks, rows.Err()
}

func scanCharacter(scanner interface{ Scan(dest ...any) error }) (*Character, error) {
	var (
		character   Character
		description sql.NullString
		imagePath   sql.NullString
		createdRaw  string
	)
	if err := scanner.Scan(&character.ID, &character.ProjectID, &character.Name, &description, &imagePath, &createdRaw); err != nil {
		return nil, err
	}
	character.Description = description.String
	character.ImagePath = imagePath.String
	if created, err := parseTime(createdRaw); err == nil {
		character.CreatedAt = created
	}
	return &character, nil
}

func scanLocation(scanner interface{ Scan(dest ...any) error }) (*Location, error) {
	var (
		location   Location
		interior   int
		createdRaw string
	)
	if err := scanner.Scan(&location.ID, &location.ProjectID, &location.Name, &interior, &createdRaw); err != nil {
		return nil, err
	}
	location.Interior = interior != 0
	if created, err := parseTime(createdRaw); err == nil {
		location.CreatedAt = created
	}
	return &location, nil
}
