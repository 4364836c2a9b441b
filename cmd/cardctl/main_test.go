package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/octobees/cardscan/api/internal/codec"
	"github.com/octobees/cardscan/api/internal/entity"
	"github.com/octobees/cardscan/api/internal/service"
	"github.com/octobees/cardscan/api/internal/table"
)

type fakeStore struct {
	cards   []entity.Card
	created map[string]any
	updates map[string]map[string]any
	failOn  map[string]error
}

func (f *fakeStore) ListAll(ctx context.Context) ([]entity.Card, error) { return f.cards, nil }

func (f *fakeStore) Create(ctx context.Context, fields map[string]any) (*entity.Card, error) {
	f.created = fields
	return &entity.Card{ID: "new"}, nil
}

func (f *fakeStore) Upload(ctx context.Context, filename string, r io.Reader) (*entity.Card, error) {
	return nil, nil
}

func (f *fakeStore) Update(ctx context.Context, id any, changes map[string]any) error {
	key := codec.IDString(id)
	if f.updates == nil {
		f.updates = map[string]map[string]any{}
	}
	f.updates[key] = changes
	return f.failOn[key]
}

func (f *fakeStore) Delete(ctx context.Context, id any) error { return nil }

func run(t *testing.T, store *fakeStore, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{out: &out, service: service.NewCardsService(store)}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func cards() []entity.Card {
	return []entity.Card{
		{ID: "a1", Name: "Ada", Company: "Engines"},
		{ID: "b2", Name: "Grace", PhoneNumbers: []string{"1", "2"}},
	}
}

func writeGrid(t *testing.T, dir, name string, snap table.Snapshot) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	defer f.Close()
	if err := table.WriteCSV(f, snap, true); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestListCommand(t *testing.T) {
	out, err := run(t, &fakeStore{cards: cards()}, "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "a1") || !strings.Contains(out, "1, 2") {
		t.Fatalf("unexpected list output:\n%s", out)
	}

	out, err = run(t, &fakeStore{}, "list")
	if err != nil || !strings.Contains(out, "No cards found.") {
		t.Fatalf("expected empty message, got %q %v", out, err)
	}
}

func TestExportThenApply(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{cards: cards()}

	originalPath := filepath.Join(dir, "cards.csv")
	if _, err := run(t, store, "export", "-o", originalPath); err != nil {
		t.Fatalf("export: %v", err)
	}

	edited := table.FromCards(cards())
	edited.Rows[1][codec.FieldPhoneNumbers] = "1, 2, 3"
	editedPath := writeGrid(t, dir, "edited.csv", edited)

	out, err := run(t, store, "apply", "--original", originalPath, "--edited", editedPath, "--dry-run")
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if len(store.updates) != 0 {
		t.Fatalf("dry run must not write, got %v", store.updates)
	}
	var preview []map[string]any
	if err := json.Unmarshal([]byte(out), &preview); err != nil || len(preview) != 1 {
		t.Fatalf("unexpected preview %q: %v", out, err)
	}

	out, err = run(t, store, "apply", "--original", originalPath, "--edited", editedPath)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	got := store.updates["b2"][codec.FieldPhoneNumbers]
	if list, ok := got.([]string); !ok || len(list) != 3 {
		t.Fatalf("unexpected update: %#v", store.updates)
	}
	if !strings.Contains(out, `"updated": 1`) {
		t.Fatalf("expected summary output, got %s", out)
	}
}

func TestApplyReportsFailures(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{cards: cards(), failOn: map[string]error{"a1": errors.New("update card failed (500): boom")}}

	original := table.FromCards(cards())
	edited := table.FromCards(cards())
	edited.Rows[0][codec.FieldName] = "Ada L."
	originalPath := writeGrid(t, dir, "a.csv", original)
	editedPath := writeGrid(t, dir, "b.csv", edited)

	if _, err := run(t, store, "apply", "--original", originalPath, "--edited", editedPath, "--by-id"); err == nil {
		t.Fatalf("expected error when rows fail")
	}
}

func TestCreateCommand(t *testing.T) {
	store := &fakeStore{}
	out, err := run(t, store, "create", "--name", "Ada", "--phone_numbers", "98765 43210, 12")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.created[codec.FieldName] != "Ada" || store.created[codec.FieldPhoneNumbers] != "98765 43210, 12" {
		t.Fatalf("unexpected create payload: %v", store.created)
	}
	if !strings.Contains(out, `"warnings"`) {
		t.Fatalf("expected warnings in output: %s", out)
	}

	if _, err := run(t, store, "create"); err == nil {
		t.Fatalf("expected error without fields")
	}
}

func TestRunsCommandWithoutAudit(t *testing.T) {
	if _, err := run(t, &fakeStore{}, "runs"); !errors.Is(err, service.ErrAuditDisabled) {
		t.Fatalf("expected ErrAuditDisabled, got %v", err)
	}
}

func TestExportToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cards.csv")
	if _, err := run(t, &fakeStore{cards: cards()}, "export", "-o", path); err != nil {
		t.Fatalf("export: %v", err)
	}
	snap, err := readGrid(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if snap.Len() != 2 || snap.IDs[1] != "b2" {
		t.Fatalf("unexpected export: %+v", snap)
	}

	if _, err := run(t, &fakeStore{}, "export", "-o", filepath.Join(dir, "missing", "cards.csv")); err == nil {
		t.Fatalf("expected error for unwritable path")
	}
}

func TestApplySkipsBlankOnlyRows(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{cards: cards()}

	edited := table.FromCards(cards())
	edited.Rows[0][codec.FieldCompany] = ""
	originalPath := writeGrid(t, dir, "a.csv", table.FromCards(cards()))
	editedPath := writeGrid(t, dir, "b.csv", edited)

	out, err := run(t, store, "apply", "--original", originalPath, "--edited", editedPath)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(store.updates) != 0 {
		t.Fatalf("blank-only row must not be sent, got %v", store.updates)
	}
	if !strings.Contains(out, `"skipped": 1`) {
		t.Fatalf("expected skipped count in output, got %s", out)
	}
}
