package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/agazso/runtracker/internal/db"
	"github.com/agazso/runtracker/internal/tracking"

	"github.com/jackc/pgx/v5"
)

const defaultListLimit = 50

// Store keeps sealed paths in the sealed_paths table. It is an export of the
// tracker history, never read back into a tracker.
type Store struct {
	db db.Querier
}

func NewStore(db db.Querier) *Store {
	return &Store{db: db}
}

func (s *Store) Save(ctx context.Context, path tracking.SealedPath) error {
	fixes, err := json.Marshal(path.Fixes)
	if err != nil {
		return fmt.Errorf("marshal fixes: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sealed_paths (id, device_id, distance_km, fix_count, fixes, sealed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING
	`, path.ID, path.DeviceID, path.DistanceKm, len(path.Fixes), fixes, path.SealedAt)
	return err
}

// PathSealed implements tracking.SealSink.
func (s *Store) PathSealed(ctx context.Context, path tracking.SealedPath) {
	if err := s.Save(ctx, path); err != nil {
		log.Printf("[ERROR] archive path %s: %v", path.ID, err)
	}
}

// List returns the newest paths first. An empty deviceID matches every device.
func (s *Store) List(ctx context.Context, deviceID string, limit int) ([]tracking.SealedPath, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, device_id, distance_km, fixes, sealed_at
		FROM sealed_paths
		WHERE ($1 = '' OR device_id = $1)
		ORDER BY sealed_at DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := []tracking.SealedPath{}
	for rows.Next() {
		p, err := scanPath(rows)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (tracking.SealedPath, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, device_id, distance_km, fixes, sealed_at
		FROM sealed_paths WHERE id=$1
	`, id)
	p, err := scanPath(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracking.SealedPath{}, tracking.ErrPathNotFound
	}
	return p, err
}

func scanPath(row pgx.Row) (tracking.SealedPath, error) {
	var (
		p     tracking.SealedPath
		fixes []byte
	)
	if err := row.Scan(&p.ID, &p.DeviceID, &p.DistanceKm, &fixes, &p.SealedAt); err != nil {
		return tracking.SealedPath{}, err
	}
	if err := json.Unmarshal(fixes, &p.Fixes); err != nil {
		return tracking.SealedPath{}, fmt.Errorf("decode fixes of %s: %w", p.ID, err)
	}
	return p, nil
}
