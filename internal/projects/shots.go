package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReplaceShots deletes a project's existing shots and inserts the supplied
// set in order. Used by the storyboard stage, which regenerates the full
// breakdown in one pass.
func (s *Store) ReplaceShots(ctx context.Context, projectID string, shots []*Shot) error {
	return retryOnBusy(ctx, func() error {
		return s.replaceShots(ctx, projectID, shots)
	})
}

func (s *Store) replaceShots(ctx context.Context, projectID string, shots []*Shot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin shots tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM shots WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("clear shots: %w", err)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	for i, shot := range shots {
		if shot.ID == "" {
			shot.ID = uuid.NewString()
		}
		shot.ProjectID = projectID
		shot.Idx = i + 1
		if shot.Status == "" {
			shot.Status = ShotStatusPlanned
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO shots (id, project_id, idx, title, description, prompt, status,
                image_path, video_path, transition, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			shot.ID, projectID, shot.Idx,
			nullable(shot.Title), nullable(shot.Description), nullable(shot.Prompt),
			shot.Status, nullable(shot.ImagePath), nullable(shot.VideoPath),
			nullable(shot.Transition), timestamp, timestamp,
		); err != nil {
			return fmt.Errorf("insert shot %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

// ListShots returns a project's shots in storyboard order.
func (s *Store) ListShots(ctx context.Context, projectID string) ([]*Shot, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+shotColumns+` FROM shots WHERE project_id = ? ORDER BY idx`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list shots: %w", err)
	}
	defer rows.Close()

	var shots []*Shot
	for rows.Next() {
		shot, err := scanShot(rows)
		if err != nil {
			return nil, err
		}
		shots = append(shots, shot)
	}
	return shots, rows.Err()
}

// GetShot fetches a shot by identifier. Returns nil when absent.
func (s *Store) GetShot(ctx context.Context, id string) (*Shot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shotColumns+` FROM shots WHERE id = ?`, id)
	shot, err := scanShot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get shot: %w", err)
	}
	return shot, nil
}

// UpdateShot persists changes to a shot.
func (s *Store) UpdateShot(ctx context.Context, shot *Shot) error {
	if shot == nil {
		return errors.New("shot is nil")
	}
	shot.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE shots
         SET idx = ?, title = ?, description = ?, prompt = ?, status = ?,
             image_path = ?, video_path = ?, transition = ?, updated_at = ?
         WHERE id = ?`,
		shot.Idx,
		nullable(shot.Title),
		nullable(shot.Description),
		nullable(shot.Prompt),
		shot.Status,
		nullable(shot.ImagePath),
		nullable(shot.VideoPath),
		nullable(shot.Transition),
		shot.UpdatedAt.Format(time.RFC3339Nano),
		shot.ID,
	)
	if err != nil {
		return fmt.Errorf("update shot: %w", err)
	}
	return nil
}

// DeleteShot removes a shot by identifier.
func (s *Store) DeleteShot(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM shots WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete shot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ReplaceMicroShots swaps a shot's micro-shots for the supplied set.
func (s *Store) ReplaceMicroShots(ctx context.Context, shotID string, micros []*MicroShot) error {
	return retryOnBusy(ctx, func() error {
		return s.replaceMicroShots(ctx, shotID, micros)
	})
}

func (s *Store) replaceMicroShots(ctx context.Context, shotID string, micros []*MicroShot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin micro shots tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM micro_shots WHERE shot_id = ?`, shotID); err != nil {
		return fmt.Errorf("clear micro shots: %w", err)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	for i, micro := range micros {
		if micro.ID == "" {
			micro.ID = uuid.NewString()
		}
		micro.ShotID = shotID
		micro.Idx = i + 1
		if micro.Status == "" {
			micro.Status = ShotStatusPlanned
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO micro_shots (id, shot_id, idx, prompt, status, video_path, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			micro.ID, shotID, micro.Idx,
			nullable(micro.Prompt), micro.Status, nullable(micro.VideoPath),
			timestamp, timestamp,
		); err != nil {
			return fmt.Errorf("insert micro shot %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

// ListMicroShots returns a shot's micro-shots in order.
func (s *Store) ListMicroShots(ctx context.Context, shotID string) ([]*MicroShot, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, shot_id, idx, prompt, status, video_path, created_at, updated_at
         FROM micro_shots WHERE shot_id = ? ORDER BY idx`,
		shotID,
	)
	if err != nil {
		return nil, fmt.Errorf("list micro shots: %w", err)
	}
	defer rows.Close()

	var micros []*MicroShot
	for rows.Next() {
		var (
			micro      MicroShot
			prompt     sql.NullString
			videoPath  sql.NullString
			createdRaw string
			updatedRaw string
		)
		if err := rows.Scan(&micro.ID, &micro.ShotID, &micro.Idx, &prompt, &micro.Status, &videoPath, &createdRaw, &updatedRaw); err != nil {
			return nil, err
		}
		micro.Prompt = prompt.String
		micro.VideoPath = videoPath.String
		if created, err := parseTime(createdRaw); err == nil {
			micro.CreatedAt = created
		}
		if updated, err := parseTime(updatedRaw); err == nil {
			micro.UpdatedAt = updated
		}
		micros = append(micros, &micro)
	}
	return micros, rows.Err()
}

// UpdateMicroShot persists status and video path changes for a micro-shot.
func (s *Store) UpdateMicroShot(ctx context.Context, micro *MicroShot) error {
	if micro == nil {
		return errors.New("micro shot is nil")
	}
	micro.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE micro_shots SET prompt = ?, status = ?, video_path = ?, updated_at = ? WHERE id = ?`,
		nullable(micro.Prompt),
		micro.Status,
		nullable(micro.VideoPath),
		micro.UpdatedAt.Format(time.RFC3339Nano),
		micro.ID,
	)
	if err != nil {
		return fmt.Errorf("update micro shot: %w", err)
	}
	return nil
}

const shotColumns = "id, project_id, idx, title, description, prompt, status, image_path, video_path, transition, created_at, updated_at"

func scanShot(scanner interface{ Scan(dest ...any) error }) (*Shot, error) {
	var (
		shot        Shot
		title       sql.NullString
		description sql.NullString
		prompt      sql.NullString
		imagePath   sql.NullString
		videoPath   sql.NullString
		transition  sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&shot.ID, &shot.ProjectID, &shot.Idx, &title, &description, &prompt,
		&shot.Status, &imagePath, &videoPath, &transition, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	shot.Title = title.String
	shot.Description = description.String
	shot.Prompt = prompt.String
	shot.ImagePath = imagePath.String
	shot.VideoPath = videoPath.String
	shot.Transition = transition.String
	if created, err := parseTime(createdRaw); err == nil {
		shot.CreatedAt = created
	}
	if updated, err := parseTime(updatedRaw); err == nil {
		shot.UpdatedAt = updated
	}
	return &shot, nil
}
