package forms

import (
	"context"
)

const adminPageSize = 20

// SearchHit is one admin free-text match.
type SearchHit struct {
	FormID  string
	Type    Type
	Snippet string
}

// Searcher answers admin free-text queries over admin-visible forms.
type Searcher interface {
	SearchForms(ctx context.Context, text string, dbcs []string, states []State, limit, offset int) ([]SearchHit, int, error)
}

// AdminService scopes and filters admin queries by designated-body-code
// membership and lifecycle state. Drafts are never admin-visible.
type AdminService struct {
	docs     DocumentStore
	searcher Searcher
}

func NewAdminService(docs DocumentStore, searcher Searcher) *AdminService {
	return &AdminService{docs: docs, searcher: searcher}
}

// adminStates is every lifecycle state an administrator may see.
var adminStates = []State{StateSubmitted, StateUnsubmitted, StateWithdrawn, StateApproved, StateRejected, StateDeleted}

// effectiveStates intersects the requested filter with the admin-visible
// set. DRAFT is excluded even when explicitly requested; an empty filter
// means every state except DRAFT.
func effectiveStates(requested []State) []State {
	if len(requested) == 0 {
		return adminStates
	}
	allowed := make(map[State]bool, len(adminStates))
	for _, s := range adminStates {
		allowed[s] = true
	}
	out := make([]State, 0, len(requested))
	seen := make(map[State]bool, len(requested))
	for _, s := range requested {
		if allowed[s] && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// visible is the single predicate behind count, list, and detail.
func visible(form Form, groups map[string]bool, states []State) bool {
	if form.State == StateDraft {
		return false
	}
	if !groups[form.DesignatedBodyCode()] {
		return false
	}
	for _, s := range states {
		if form.State == s {
			return true
		}
	}
	return false
}

func groupSet(groups []string) map[string]bool {
	set := make(map[string]bool, len(groups))
	for _, g := range groups {
		if g != "" {
			set[g] = true
		}
	}
	return set
}

func (a *AdminService) Count(ctx context.Context, groups []string, requested []State) (int, error) {
	dbcs := groupKeys(groupSet(groups))
	states := effectiveStates(requested)
	if len(dbcs) == 0 || len(states) == 0 {
		return 0, nil
	}
	count, err := a.docs.CountByDBC(ctx, dbcs, states)
	if err != nil {
		return 0, fatalError("admin count failed", err)
	}
	return count, nil
}

// List returns one page of admin-visible forms. A non-empty query routes
// through the search index; hits are re-checked against the visibility
// predicate before being returned.
func (a *AdminService) List(ctx context.Context, groups []string, requested []State, query string, page int) ([]Form, error) {
	set := groupSet(groups)
	dbcs := groupKeys(set)
	states := effectiveStates(requested)
	if len(dbcs) == 0 || len(states) == 0 {
		return []Form{}, nil
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * adminPageSize

	if query != "" && a.searcher != nil {
		hits, _, err := a.searcher.SearchForms(ctx, query, dbcs, states, adminPageSize, offset)
		if err != nil {
			return nil, fatalError("admin search failed", err)
		}
		out := make([]Form, 0, len(hits))
		for _, hit := range hits {
			form, found, err := a.docs.GetFormAnyOwner(ctx, hit.Type, hit.FormID)
			if err != nil {
				return nil, fatalError("admin search hydration failed", err)
			}
			if found && visible(form, set, states) {
				out = append(out, form)
			}
		}
		return out, nil
	}

	forms, err := a.docs.ListByDBC(ctx, dbcs, states, adminPageSize, offset)
	if err != nil {
		return nil, fatalError("admin list failed", err)
	}
	return forms, nil
}

// Detail resolves one form by id across the typed registry. A DBC or state
// mismatch yields the same not-found as a truly absent id.
func (a *AdminService) Detail(ctx context.Context, id string, groups []string) (Form, error) {
	set := groupSet(groups)
	states := effectiveStates(nil)
	for _, spec := range Registry() {
		form, found, err := a.docs.GetFormAnyOwner(ctx, spec.Name, id)
		if err != nil {
			return Form{}, fatalError("admin detail lookup failed", err)
		}
		if !found {
			continue
		}
		if !visible(form, set, states) {
			return Form{}, notFoundError()
		}
		return form, nil
	}
	return Form{}, notFoundError()
}

func groupKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	return out
}
