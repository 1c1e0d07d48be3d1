package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrNotReady = errors.New("mirror database not initialised")
	ErrNotFound = errors.New("requirement not found")
	ErrQuery    = errors.New("mirror query failed")
)

// Row is the summary projection of a requirement held in the mirror. The
// table carries further columns written by the ingestion job; they are not
// read here.
type Row struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	Description string `json:"description_md,omitempty"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotReady
	}
	return s.db.PingContext(ctx)
}

// List returns the summary rows for every requirement, ordered by id.
func (s *Store) List(ctx context.Context) ([]Row, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotReady
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type, priority, status FROM requirements ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list requirements: %v", ErrQuery, err)
	}
	defer rows.Close()

	items := make([]Row, 0)
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ID, &row.Name, &row.Type, &row.Priority, &row.Status); err != nil {
			return nil, fmt.Errorf("%w: scan requirement: %v", ErrQuery, err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate requirements: %v", ErrQuery, err)
	}
	return items, nil
}

// Get returns the full mirror row for one requirement.
func (s *Store) Get(ctx context.Context, id string) (Row, error) {
	if s == nil || s.db == nil {
		return Row{}, ErrNotReady
	}
	var row Row
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, priority, status, COALESCE(description_md, '')
		FROM requirements WHERE id = ?
	`, id).Scan(&row.ID, &row.Name, &row.Type, &row.Priority, &row.Status, &row.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Row{}, fmt.Errorf("%w: get requirement %s: %v", ErrQuery, id, err)
	}
	return row, nil
}
