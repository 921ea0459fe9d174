package inventory

import (
	"context"
	"database/sql"

	"github.com/LdDl/brick-tracker/tracker"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteService keeps instances in a SQLite table
type SQLiteService struct {
	db *sql.DB
}

// NewSQLiteService opens (or creates) the database at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteService(path string) (*SQLiteService, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open inventory database %s", path)
	}
	// One connection keeps ":memory:" databases shared between calls
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS lego_instances (
			handle            TEXT PRIMARY KEY,
			type_id           INTEGER NOT NULL,
			centroid_x        DOUBLE,
			centroid_y        DOUBLE,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create lego_instances table")
	}
	return &SQLiteService{db: db}, nil
}

func (s *SQLiteService) CreateInstance(ctx context.Context, typeID tracker.LegoTypeID, centroid tracker.Point) (tracker.InstanceHandle, error) {
	handle := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lego_instances (handle, type_id, centroid_x, centroid_y) VALUES (?, ?, ?, ?)`,
		handle, int(typeID), centroid.X, centroid.Y,
	)
	if err != nil {
		return "", errors.Wrap(err, "insert lego instance")
	}
	return tracker.InstanceHandle(handle), nil
}

func (s *SQLiteService) RemoveInstance(ctx context.Context, handle tracker.InstanceHandle) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM lego_instances WHERE handle = ?`, string(handle))
	if err != nil {
		return errors.Wrapf(err, "delete lego instance %s", handle)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "get affected rows")
	}
	if affected == 0 {
		return errors.Wrapf(ErrUnknownInstance, "handle %s", handle)
	}
	return nil
}

// Instances returns live instances ordered by creation
func (s *SQLiteService) Instances(ctx context.Context) ([]Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT handle, type_id, centroid_x, centroid_y FROM lego_instances ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query lego instances")
	}
	defer rows.Close()

	instances := make([]Instance, 0)
	for rows.Next() {
		var (
			handle string
			typeID int
			x, y   float64
		)
		if err := rows.Scan(&handle, &typeID, &x, &y); err != nil {
			return nil, errors.Wrap(err, "scan lego instance")
		}
		instances = append(instances, Instance{
			Handle:   tracker.InstanceHandle(handle),
			TypeID:   tracker.LegoTypeID(typeID),
			Centroid: tracker.NewPoint(x, y),
		})
	}
	return instances, rows.Err()
}

// Close closes the database
func (s *SQLiteService) Close() error {
	return s.db.Close()
}
