package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"formvault/api/internal/forms"
)

// PostgresStore is the document store (live copy of every form) and the
// append-only snapshot history store.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const formColumns = `id, form_type, owner_id, lifecycle_state, revision, designated_body_code, programme_name, status, fields, submitted_at, updated_at`

// SaveForm persists the form as given. The revision predicate makes stale
// writes visible as forms.ErrRevisionConflict instead of silent overwrites.
func (s *PostgresStore) SaveForm(ctx context.Context, form forms.Form, expectedRevision int64) error {
	statusJSON, fieldsJSON, err := encodeForm(form)
	if err != nil {
		return err
	}
	programmeName := ""
	if form.Programme != nil {
		programmeName = form.Programme.ProgrammeName
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE forms
		SET owner_id=$1, lifecycle_state=$2, revision=$3, designated_body_code=$4,
			programme_name=$5, status=$6, fields=$7, search_text=$8, submitted_at=$9, updated_at=$10
		WHERE id=$11 AND form_type=$12 AND revision=$13
	`, form.OwnerID, string(form.State), form.Revision, form.DesignatedBodyCode(),
		programmeName, statusJSON, fieldsJSON, form.SearchText(), form.SubmittedAt, form.UpdatedAt,
		form.ID, string(form.Type), expectedRevision)
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update form rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM forms WHERE id=$1 AND form_type=$2)`, form.ID, string(form.Type)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check form existence: %w", err)
	}
	if exists || expectedRevision != 0 {
		return forms.ErrRevisionConflict
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO forms (id, form_type, owner_id, lifecycle_state, revision, designated_body_code,
			programme_name, status, fields, search_text, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, form.ID, string(form.Type), form.OwnerID, string(form.State), form.Revision, form.DesignatedBodyCode(),
		programmeName, statusJSON, fieldsJSON, form.SearchText(), form.SubmittedAt, form.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert form: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetForm(ctx context.Context, t forms.Type, id, ownerID string) (forms.Form, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+formColumns+` FROM forms WHERE form_type=$1 AND id=$2 AND owner_id=$3
	`, string(t), id, ownerID)
	return scanForm(row)
}

func (s *PostgresStore) GetFormAnyOwner(ctx context.Context, t forms.Type, id string) (forms.Form, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+formColumns+` FROM forms WHERE form_type=$1 AND id=$2
	`, string(t), id)
	return scanForm(row)
}

func (s *PostgresStore) ListForms(ctx context.Context, t forms.Type, ownerID string, states []forms.State) ([]forms.Form, error) {
	query := `SELECT ` + formColumns + ` FROM forms WHERE form_type=$1 AND owner_id=$2`
	args := []any{string(t), ownerID}
	if len(states) > 0 {
		query += ` AND lifecycle_state IN (` + placeholders(len(args)+1, len(states)) + `)`
		for _, state := range states {
			args = append(args, string(state))
		}
	}
	query += ` ORDER BY updated_at DESC`
	return s.queryForms(ctx, query, args...)
}

func (s *PostgresStore) DeleteForm(ctx context.Context, t forms.Type, id, ownerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM forms WHERE form_type=$1 AND id=$2 AND owner_id=$3
	`, string(t), id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete form: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete form rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CountByDBC(ctx context.Context, dbcs []string, states []forms.State) (int, error) {
	query, args := dbcFilter(`SELECT COUNT(*) FROM forms WHERE `, dbcs, states)
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count forms by dbc: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListByDBC(ctx context.Context, dbcs []string, states []forms.State, limit, offset int) ([]forms.Form, error) {
	query, args := dbcFilter(`SELECT `+formColumns+` FROM forms WHERE `, dbcs, states)
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	return s.queryForms(ctx, query, args...)
}

// AppendSnapshot inserts into the append-only history collection. Updates
// and deletes are blocked at the database by trigger.
func (s *PostgresStore) AppendSnapshot(ctx context.Context, snapshot forms.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO form_snapshots (id, form_id, form_type, owner_id, lifecycle_state, content, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, snapshot.ID, snapshot.FormID, string(snapshot.Type), snapshot.OwnerID, string(snapshot.State),
		[]byte(snapshot.Content), snapshot.TakenAt)
	if err != nil {
		return fmt.Errorf("append form snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryForms(ctx context.Context, query string, args ...any) ([]forms.Form, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	items := make([]forms.Form, 0)
	for rows.Next() {
		form, _, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, form)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forms: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanForm(row rowScanner) (forms.Form, bool, error) {
	var (
		form          forms.Form
		formType      string
		state         string
		dbc           string
		programmeName string
		statusJSON    []byte
		fieldsJSON    []byte
		submittedAt   sql.NullTime
	)
	err := row.Scan(&form.ID, &formType, &form.OwnerID, &state, &form.Revision,
		&dbc, &programmeName, &statusJSON, &fieldsJSON, &submittedAt, &form.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return forms.Form{}, false, nil
	}
	if err != nil {
		return forms.Form{}, false, fmt.Errorf("scan form: %w", err)
	}

	form.Type = forms.Type(formType)
	form.State = forms.State(state)
	if submittedAt.Valid {
		at := submittedAt.Time
		form.SubmittedAt = &at
	}
	if dbc != "" || programmeName != "" {
		form.Programme = &forms.ProgrammeMembership{ProgrammeName: programmeName, DesignatedBodyCode: dbc}
	}
	if len(statusJSON) > 0 {
		var status forms.Status
		if err := json.Unmarshal(statusJSON, &status); err != nil {
			return forms.Form{}, false, fmt.Errorf("decode form status: %w", err)
		}
		form.Status = &status
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &form.Fields); err != nil {
			return forms.Form{}, false, fmt.Errorf("decode form fields: %w", err)
		}
	}
	return form, true, nil
}

func encodeForm(form forms.Form) (statusJSON, fieldsJSON []byte, err error) {
	if form.Status != nil {
		statusJSON, err = json.Marshal(form.Status)
		if err != nil {
			return nil, nil, fmt.Errorf("encode form status: %w", err)
		}
	}
	fields := form.Fields
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	fieldsJSON, err = json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("encode form fields: %w", err)
	}
	return statusJSON, fieldsJSON, nil
}

func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

func dbcFilter(prefix string, dbcs []string, states []forms.State) (string, []any) {
	args := make([]any, 0, len(dbcs)+len(states))
	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString(`designated_body_code IN (` + placeholders(1, len(dbcs)) + `)`)
	for _, dbc := range dbcs {
		args = append(args, dbc)
	}
	sb.WriteString(` AND lifecycle_state IN (` + placeholders(len(args)+1, len(states)) + `)`)
	for _, state := range states {
		args = append(args, string(state))
	}
	return sb.String(), args
}
