package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const repoDoc = "../../api/openapi.yaml"

func TestRunAcceptsRepositoryDocument(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{repoDoc}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "passed") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunRejectsDrift(t *testing.T) {
	raw, err := os.ReadFile(repoDoc)
	if err != nil {
		t.Fatalf("read doc: %v", err)
	}
	base := string(raw)

	cases := []struct {
		name    string
		old     string
		new     string
		wantErr string
	}{
		{
			name:    "book id type",
			old:     "    Book:\n      type: object\n      required: [id, title, author]\n      properties:\n        id:\n          type: integer",
			new:     "    Book:\n      type: object\n      required: [id, title, author]\n      properties:\n        id:\n          type: string",
			wantErr: "Book.id must be integer",
		},
		{
			name:    "book extra property",
			old:     "      required: [id, title, author]\n      properties:\n",
			new:     "      required: [id, title, author]\n      properties:\n        isbn:\n          type: string\n",
			wantErr: "unexpected properties [isbn]",
		},
		{
			name:    "detail field not required",
			old:     "      required: [field, reason]",
			new:     "      required: [reason]",
			wantErr: `ErrorDetail.required must include "field"`,
		},
		{
			name:    "user exposes password",
			old:     "        createdAt:\n          type: string\n          format: date-time\n",
			new:     "        password:\n          type: string\n        createdAt:\n          type: string\n          format: date-time\n",
			wantErr: "must not expose password",
		},
		{
			name:    "missing delete",
			old:     "    delete:\n      summary: Delete a book (admin)",
			new:     "    x-delete:\n      summary: Delete a book (admin)",
			wantErr: "DELETE /books/{id} missing",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !strings.Contains(base, tc.old) {
				t.Fatalf("fixture text not found in document")
			}
			path := filepath.Join(t.TempDir(), "openapi.yaml")
			doc := strings.Replace(base, tc.old, tc.new, 1)
			if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
				t.Fatalf("write doc: %v", err)
			}
			err := run([]string{path}, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRunUsage(t *testing.T) {
	if err := run([]string{"a", "b"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected usage error")
	}
	if err := run([]string{filepath.Join(t.TempDir(), "missing.yaml")}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected read error")
	}
}
