// Package search provides admin free-text search over admin-visible forms:
// Meilisearch when configured and healthy, PostgreSQL FTS as the fallback.
package search

import (
	"formvault/api/internal/forms"
)

// FormRecord is the indexed projection of a form.
type FormRecord struct {
	ID       string `json:"id"`
	FormType string `json:"formType"`
	OwnerID  string `json:"ownerId"`
	State    string `json:"state"`
	DBC      string `json:"dbc"`
	Text     string `json:"text"`
}

func recordFromForm(form forms.Form) FormRecord {
	return FormRecord{
		ID:       form.ID,
		FormType: string(form.Type),
		OwnerID:  form.OwnerID,
		State:    string(form.State),
		DBC:      form.DesignatedBodyCode(),
		Text:     form.SearchText(),
	}
}

func stateStrings(states []forms.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
