package search

import (
	"context"
	"log"

	"formvault/api/internal/forms"
)

// Service is the facade that tries Meilisearch first and falls back to PG
// FTS. It implements both the admin Searcher and the write-path Indexer.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// SearchForms tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) SearchForms(ctx context.Context, text string, dbcs []string, states []forms.State, limit, offset int) ([]forms.SearchHit, int, error) {
	if s.meili != nil && s.meili.Healthy() {
		hits, total, err := s.meili.Search(text, dbcs, stateStrings(states), limit, offset)
		if err == nil {
			return hits, total, nil
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}
	return s.pgfts.Search(ctx, text, dbcs, stateStrings(states), limit, offset)
}

// IndexForm indexes a form (fire-and-forget to Meilisearch).
func (s *Service) IndexForm(form forms.Form) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := recordFromForm(form)
	go func() {
		if err := s.meili.IndexForm(record); err != nil {
			log.Printf("search: index form %s: %v", record.ID, err)
		}
	}()
}

// RemoveForm removes a form from the search index (fire-and-forget).
func (s *Service) RemoveForm(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.RemoveForm(id); err != nil {
			log.Printf("search: remove form %s: %v", id, err)
		}
	}()
}
