package store

import (
	"strings"
	"testing"

	"formvault/api/internal/forms"
)

func TestPlaceholders(t *testing.T) {
	if got := placeholders(1, 3); got != "$1,$2,$3" {
		t.Fatalf("placeholders(1, 3) = %q", got)
	}
	if got := placeholders(4, 2); got != "$4,$5" {
		t.Fatalf("placeholders(4, 2) = %q", got)
	}
}

func TestDBCFilterNumbersArgsSequentially(t *testing.T) {
	query, args := dbcFilter(`SELECT COUNT(*) FROM forms WHERE `,
		[]string{"1-DBC-A", "1-DBC-B"},
		[]forms.State{forms.StateSubmitted, forms.StateWithdrawn, forms.StateDeleted})

	if !strings.Contains(query, `designated_body_code IN ($1,$2)`) {
		t.Fatalf("unexpected dbc clause: %s", query)
	}
	if !strings.Contains(query, `lifecycle_state IN ($3,$4,$5)`) {
		t.Fatalf("unexpected state clause: %s", query)
	}
	if len(args) != 5 || args[0] != "1-DBC-A" || args[4] != string(forms.StateDeleted) {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestEncodeFormDefaultsEmptyFields(t *testing.T) {
	statusJSON, fieldsJSON, err := encodeForm(forms.Form{ID: "partb_1", Type: forms.TypePartB})
	if err != nil {
		t.Fatalf("encodeForm() error = %v", err)
	}
	if statusJSON != nil {
		t.Fatalf("expected nil status JSON, got %s", statusJSON)
	}
	if string(fieldsJSON) != "{}" {
		t.Fatalf("expected empty fields object, got %s", fieldsJSON)
	}
}
