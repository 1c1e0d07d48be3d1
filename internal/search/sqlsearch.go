package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLSearch is the fallback Searcher over the read mirror. LIKE matching is
// cruder than Meilisearch but always available while the mirror is.
type SQLSearch struct {
	db *sql.DB
}

func NewSQLSearch(db *sql.DB) *SQLSearch {
	return &SQLSearch{db: db}
}

// Healthy reports whether the mirror database answers.
func (s *SQLSearch) Healthy() bool {
	return s.db != nil && s.db.Ping() == nil
}

// Search matches the query text against id, name and description.
func (s *SQLSearch) Search(q Query) ([]Result, int, error) {
	if s.db == nil {
		return nil, 0, fmt.Errorf("search mirror not ready")
	}

	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(q.Text) + "%"

	where := []string{`(id LIKE ? ESCAPE '\' OR name LIKE ? ESCAPE '\' OR COALESCE(description_md, '') LIKE ? ESCAPE '\')`}
	args := []any{pattern, pattern, pattern}
	if q.FilterType != "" {
		where = append(where, "type = ?")
		args = append(args, q.FilterType)
	}
	if q.FilterStatus != "" {
		where = append(where, "status = ?")
		args = append(args, q.FilterStatus)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM requirements WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT id, name, type, priority, status FROM requirements WHERE "+clause+" ORDER BY id ASC LIMIT ? OFFSET ?",
		append(args, limit, q.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("search requirements: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Type, &r.Priority, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every requirement from the mirror for bulk indexing.
func (s *SQLSearch) LoadAllRecords(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, type, priority, status, COALESCE(description_md, '') FROM requirements ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("load requirements: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Name, &r.Type, &r.Priority, &r.Status, &r.Description); err != nil {
			return nil, fmt.Errorf("scan requirement: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
