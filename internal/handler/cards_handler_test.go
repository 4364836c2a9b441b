package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/octobees/cardscan/api/internal/backend"
	"github.com/octobees/cardscan/api/internal/codec"
	"github.com/octobees/cardscan/api/internal/entity"
	"github.com/octobees/cardscan/api/internal/service"
	"github.com/octobees/cardscan/api/internal/table"
)

type stubCardStore struct {
	cards     []entity.Card
	listErr   error
	createErr error
	updateErr map[string]error
	uploaded  string
	updates   map[string]map[string]any
	deleted   []string
}

func (s *stubCardStore) ListAll(ctx context.Context) ([]entity.Card, error) {
	if s.listErr != nil {
		return []entity.Card{}, s.listErr
	}
	return s.cards, nil
}

func (s *stubCardStore) Create(ctx context.Context, fields map[string]any) (*entity.Card, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &entity.Card{ID: "new", Name: codec.Stringify(fields[codec.FieldName])}, nil
}

func (s *stubCardStore) Upload(ctx context.Context, filename string, r io.Reader) (*entity.Card, error) {
	s.uploaded = filename
	return &entity.Card{ID: "up", Name: "Scanned"}, nil
}

func (s *stubCardStore) Update(ctx context.Context, id any, changes map[string]any) error {
	key := codec.IDString(id)
	if s.updates == nil {
		s.updates = map[string]map[string]any{}
	}
	s.updates[key] = changes
	if err, ok := s.updateErr[key]; ok {
		return err
	}
	return nil
}

func (s *stubCardStore) Delete(ctx context.Context, id any) error {
	s.deleted = append(s.deleted, codec.IDString(id))
	return nil
}

func newCardsHandler(store backend.Store) *CardsHandler {
	return NewCardsHandler(service.NewCardsService(store))
}

func twoCards() []entity.Card {
	return []entity.Card{
		{ID: "a1", Name: "Ada", PhoneNumbers: []string{"1", "2"}},
		{ID: "b2", Name: "Grace"},
	}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (APIResponse, map[string]any) {
	t.Helper()
	var payload APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	data, _ := payload.Data.(map[string]any)
	return payload, data
}

func jsonRequest(method, target, body string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req, httptest.NewRecorder()
}

func TestCardsHandler_List(t *testing.T) {
	handler := newCardsHandler(&stubCardStore{cards: twoCards()})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/cards", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := handler.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	_, data := decodeEnvelope(t, rec)
	ids, _ := data["ids"].([]any)
	rows, _ := data["rows"].([]any)
	if len(ids) != 2 || len(rows) != 2 {
		t.Fatalf("unexpected snapshot: %v", data)
	}
	if first := rows[0].(map[string]any); first[codec.FieldPhoneNumbers] != "1, 2" {
		t.Fatalf("expected display form, got %v", first)
	}
	if _, leaked := rows[0].(map[string]any)[codec.FieldID]; leaked {
		t.Fatalf("identifier must not be part of a row")
	}
}

func TestCardsHandler_ListBackendFailure(t *testing.T) {
	handler := newCardsHandler(&stubCardStore{listErr: &backend.StatusError{Op: "list cards", StatusCode: 500, Message: "db offline"}})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/cards", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = handler.List(c)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	payload, _ := decodeEnvelope(t, rec)
	if payload.Message != "failed to fetch cards: db offline" {
		t.Fatalf("unexpected message: %q", payload.Message)
	}
}

func TestCardsHandler_Export(t *testing.T) {
	handler := newCardsHandler(&stubCardStore{cards: twoCards()})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/cards/export.csv", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := handler.Export(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), exportFilename) {
		t.Fatalf("expected attachment filename")
	}
	header := strings.SplitN(rec.Body.String(), "\n", 2)[0]
	if !strings.HasPrefix(header, codec.FieldName+",") {
		t.Fatalf("expected grid header without id, got %q", header)
	}
}

func TestCardsHandler_Create(t *testing.T) {
	handler := newCardsHandler(&stubCardStore{})

	e := echo.New()
	req, rec := jsonRequest(http.MethodPost, "/cards", `{"name":"Ada","phone_numbers":"98765 43210, 12","email":"ada@example.com"}`)
	c := e.NewContext(req, rec)

	if err := handler.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	_, data := decodeEnvelope(t, rec)
	warnings, _ := data["warnings"].([]any)
	if len(warnings) != 1 {
		t.Fatalf("expected one phone warning, got %v", data["warnings"])
	}
}

func TestCardsHandler_CreateBackendError(t *testing.T) {
	handler := newCardsHandler(&stubCardStore{createErr: &backend.TransportError{Op: "create card", Err: context.DeadlineExceeded}})

	e := echo.New()
	req, rec := jsonRequest(http.MethodPost, "/cards", `{"name":"Ada"}`)
	c := e.NewContext(req, rec)

	_ = handler.Create(c)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestCardsHandler_Upload(t *testing.T) {
	store := &stubCardStore{}
	handler := newCardsHandler(store)

	e := echo.New()
	req, rec := multipartRequest(t, "file", "card.jpg", "binary")
	c := e.NewContext(req, rec)

	if err := handler.Upload(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if store.uploaded != "card.jpg" {
		t.Fatalf("expected image forwarded, got %q", store.uploaded)
	}
}

func TestCardsHandler_UploadRejects(t *testing.T) {
	handler := newCardsHandler(&stubCardStore{})
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/cards/upload", nil)
	rec := httptest.NewRecorder()
	_ = handler.Upload(e.NewContext(req, rec))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing file, got %d", rec.Code)
	}

	req, rec = multipartRequest(t, "file", "card.gif", "binary")
	_ = handler.Upload(e.NewContext(req, rec))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported type, got %d", rec.Code)
	}
}

func TestCardsHandler_Validate(t *testing.T) {
	handler := newCardsHandler(&stubCardStore{})
	e := echo.New()
	req, rec := jsonRequest(http.MethodPost, "/cards/validate", `{"email":"nope","website":"example.com"}`)

	if err := handler.Validate(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, data := decodeEnvelope(t, rec)
	warnings, _ := data["warnings"].([]any)
	if len(warnings) != 1 || warnings[0].(map[string]any)["field"] != codec.FieldEmail {
		t.Fatalf("unexpected warnings: %v", data)
	}
}

func TestCardsHandler_UpdateAndDelete(t *testing.T) {
	store := &stubCardStore{}
	handler := newCardsHandler(store)
	e := echo.New()

	req, rec := jsonRequest(http.MethodPatch, "/cards/a1", `{"_id":"a1","name":"Ada L.","created_at":"x"}`)
	c := e.NewContext(req, rec)
	c.SetPath("/cards/:id")
	c.SetParamNames("id")
	c.SetParamValues("a1")
	if err := handler.Update(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := store.updates["a1"]; len(got) != 1 || got[codec.FieldName] != "Ada L." {
		t.Fatalf("unexpected update payload: %v", got)
	}

	req = httptest.NewRequest(http.MethodDelete, "/cards/a1", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetPath("/cards/:id")
	c.SetParamNames("id")
	c.SetParamValues("a1")
	if err := handler.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "a1" {
		t.Fatalf("unexpected deletes: %v", store.deleted)
	}
}

func TestCardsHandler_UpdateBackendRejects(t *testing.T) {
	store := &stubCardStore{updateErr: map[string]error{"a1": &backend.StatusError{Op: "update card", StatusCode: 422, Message: "name too long"}}}
	handler := newCardsHandler(store)
	e := echo.New()

	req, rec := jsonRequest(http.MethodPatch, "/cards/a1", `{"name":"x"}`)
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("a1")
	_ = handler.Update(c)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	payload, _ := decodeEnvelope(t, rec)
	if payload.Message != "failed to update: name too long" {
		t.Fatalf("unexpected message: %q", payload.Message)
	}
}

func saveBody(t *testing.T, original, edited table.Snapshot, match string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"original": original, "edited": edited, "match": match})
	if err != nil {
		t.Fatalf("marshal save body: %v", err)
	}
	return string(raw)
}

func TestCardsHandler_Save(t *testing.T) {
	store := &stubCardStore{updateErr: map[string]error{"b2": errors.New("update card failed (500): boom")}}
	handler := newCardsHandler(store)

	original := table.FromCards(twoCards())
	edited := table.FromCards(twoCards())
	edited.Rows[0][codec.FieldCompany] = "Analytical Engines"
	edited.Rows[1][codec.FieldCompany] = "Navy"

	e := echo.New()
	req, rec := jsonRequest(http.MethodPost, "/cards/save", saveBody(t, original, edited, ""))
	if err := handler.Save(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 even with row failures, got %d", rec.Code)
	}
	payload, data := decodeEnvelope(t, rec)
	if data["updated"] != float64(1) || data["failed"] != float64(1) || data["refresh_required"] != true {
		t.Fatalf("unexpected summary: %v", data)
	}
	if !strings.Contains(payload.Message, "1 failures") {
		t.Fatalf("unexpected message: %q", payload.Message)
	}
}

func TestCardsHandler_SaveNoChanges(t *testing.T) {
	handler := newCardsHandler(&stubCardStore{})
	snap := table.FromCards(twoCards())

	e := echo.New()
	req, rec := jsonRequest(http.MethodPost, "/cards/save", saveBody(t, snap, snap, "id"))
	_ = handler.Save(e.NewContext(req, rec))
	payload, _ := decodeEnvelope(t, rec)
	if payload.Message != "no changes detected" {
		t.Fatalf("unexpected message: %q", payload.Message)
	}
}

func TestCardsHandler_SaveRejectsBadInput(t *testing.T) {
	handler := newCardsHandler(&stubCardStore{})
	snap := table.FromCards(twoCards())
	short := table.FromCards(twoCards()[:1])
	e := echo.New()

	cases := map[string]string{
		"bad match":      saveBody(t, snap, snap, "fuzzy"),
		"shape mismatch": saveBody(t, snap, short, "position"),
		"not json":       "{",
	}
	for name, body := range cases {
		req, rec := jsonRequest(http.MethodPost, "/cards/save", body)
		_ = handler.Save(e.NewContext(req, rec))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestCardsHandler_SaveRunsDisabled(t *testing.T) {
	handler := newCardsHandler(&stubCardStore{})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/saves", nil)
	rec := httptest.NewRecorder()
	_ = handler.SaveRuns(e.NewContext(req, rec))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when audit disabled, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/saves/bad", nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	_ = handler.SaveRun(c)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", rec.Code)
	}
}

func TestParseIntDefault(t *testing.T) {
	if val := parseIntDefault("", 5); val != 5 {
		t.Fatalf("expected fallback when empty")
	}
	if val := parseIntDefault("10", 5); val != 10 {
		t.Fatalf("expected parsed value, got %d", val)
	}
	if val := parseIntDefault("bad", 5); val != 5 {
		t.Fatalf("expected fallback on parse error")
	}
}

func multipartRequest(t *testing.T, field, filename, content string) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/cards/upload", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	return req, rec
}

func TestCardsHandler_SaveReportsBlankOnlyRows(t *testing.T) {
	store := &stubCardStore{}
	handler := newCardsHandler(store)

	original := table.FromCards(twoCards())
	edited := table.FromCards(twoCards())
	edited.Rows[0][codec.FieldName] = ""

	e := echo.New()
	req, rec := jsonRequest(http.MethodPost, "/cards/save", saveBody(t, original, edited, ""))
	if err := handler.Save(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload, data := decodeEnvelope(t, rec)
	if data["updated"] != float64(0) || data["skipped"] != float64(1) {
		t.Fatalf("unexpected summary: %v", data)
	}
	if payload.Message != "updated 0 card(s), skipped 1 card(s) with only blank values" {
		t.Fatalf("unexpected message: %q", payload.Message)
	}
	if len(store.updates) != 0 {
		t.Fatalf("blank-only row must not be sent, got %v", store.updates)
	}
}

func TestCardsHandler_UpdateBlankFieldsIsBadRequest(t *testing.T) {
	store := &stubCardStore{updateErr: map[string]error{"a1": fmt.Errorf("update card a1: %w", backend.ErrEmptyUpdate)}}
	handler := newCardsHandler(store)
	e := echo.New()

	req, rec := jsonRequest(http.MethodPatch, "/cards/a1", `{"name":""}`)
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("a1")
	_ = handler.Update(c)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
