package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"formvault/api/internal/forms"
)

const idxForms = "formvault_forms"

// Meili indexes and searches forms via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the forms index.
// An unreachable server is tolerated; the health loop reconfigures on
// recovery and the caller falls back to PG FTS meanwhile.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxForms,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxForms, err)
	}

	index := m.client.Index(idxForms)
	filterable := []interface{}{"state", "dbc", "formType"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxForms, err)
	}
	searchable := []string{"text", "ownerId"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxForms, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the forms index scoped to the given DBCs and states.
func (m *Meili) Search(text string, dbcs []string, states []string, limit, offset int) ([]forms.SearchHit, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 20
	}

	resp, err := m.client.Index(idxForms).Search(text, &meili.SearchRequest{
		Limit:  int64(limit),
		Offset: int64(offset),
		Filter: []string{
			inFilter("dbc", dbcs),
			inFilter("state", states),
		},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	hits := make([]forms.SearchHit, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		hits = append(hits, forms.SearchHit{
			FormID:  decodeString(hit, "id"),
			Type:    forms.Type(decodeString(hit, "formType")),
			Snippet: decodeString(hit, "text"),
		})
	}
	return hits, int(resp.EstimatedTotalHits), nil
}

func inFilter(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return fmt.Sprintf("%s IN [%s]", field, strings.Join(quoted, ","))
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexForm adds or updates a form in the search index.
func (m *Meili) IndexForm(record FormRecord) error {
	_, err := m.client.Index(idxForms).AddDocuments([]FormRecord{record}, nil)
	return err
}

// IndexForms bulk-indexes form records.
func (m *Meili) IndexForms(records []FormRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxForms).AddDocuments(records, nil)
	return err
}

// RemoveForm deletes a form from the search index.
func (m *Meili) RemoveForm(id string) error {
	_, err := m.client.Index(idxForms).DeleteDocument(id, nil)
	return err
}
