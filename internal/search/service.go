package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to the
// mirror's LIKE search.
type Service struct {
	meili    *Meili
	fallback *SQLSearch
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, fallback *SQLSearch) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise falls back to the mirror.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to mirror: %v", err)
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: mirror fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRequirement pushes one record to Meilisearch (fire-and-forget).
func (s *Service) IndexRequirement(record Record) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRequirements([]Record{record}); err != nil {
			log.Printf("search: index requirement %s: %v", record.ID, err)
		}
	}()
}

// ReindexAllFromMirror reads every requirement from the mirror and pushes the
// lot to Meilisearch. Called during startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromMirror(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.meili.IndexRequirements(records); err != nil {
		log.Printf("search: reindex requirements: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
