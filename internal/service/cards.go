package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/octobees/cardscan/api/internal/backend"
	"github.com/octobees/cardscan/api/internal/codec"
	"github.com/octobees/cardscan/api/internal/diff"
	"github.com/octobees/cardscan/api/internal/entity"
	"github.com/octobees/cardscan/api/internal/reconcile"
	"github.com/octobees/cardscan/api/internal/repository"
	"github.com/octobees/cardscan/api/internal/table"
)

var (
	// ErrInvalidSnapshot wraps every problem with caller supplied grids.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrAuditDisabled is returned by the save-run queries when no audit storage is configured.
	ErrAuditDisabled = errors.New("save audit is not configured")
	// ErrUnsupportedImage rejects uploads that are not jpg, jpeg or png.
	ErrUnsupportedImage = errors.New("only jpg, jpeg and png images are supported")
	// ErrMissingID is returned when a single-card operation has no identifier.
	ErrMissingID = errors.New("card id is required")
)

// MatchMode selects how edited rows are paired with fetched rows.
type MatchMode string

const (
	MatchPosition MatchMode = "position"
	MatchID       MatchMode = "id"
)

// ParseMatchMode accepts "", "position" and "id".
func ParseMatchMode(raw string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MatchPosition:
		return MatchPosition, nil
	case MatchID:
		return MatchID, nil
	default:
		return "", fmt.Errorf("%w: unknown match mode %q", ErrInvalidSnapshot, raw)
	}
}

// SaveResult reports a grid save.
type SaveResult struct {
	reconcile.Summary
	RunID     string   `json:"run_id,omitempty"`
	Changed   int      `json:"changed"`
	Unmatched []string `json:"unmatched,omitempty"`
}

// CardsService orchestrates the card store for the HTTP API and the CLI. It
// keeps no session state; callers hold their own snapshot between fetch and
// save.
type CardsService struct {
	store       backend.Store
	runs        repository.SaveRunsRepository
	validator   *FieldValidator
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
}

// CardsOption configures a CardsService.
type CardsOption func(*CardsService)

// WithSaveRuns enables the audit trail of grid saves.
func WithSaveRuns(repo repository.SaveRunsRepository) CardsOption {
	return func(s *CardsService) {
		s.runs = repo
	}
}

// WithValidator replaces the default field validator.
func WithValidator(v *FieldValidator) CardsOption {
	return func(s *CardsService) {
		if v != nil {
			s.validator = v
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) CardsOption {
	return func(s *CardsService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSaveConcurrency bounds the number of updates in flight during a save.
func WithSaveConcurrency(n int) CardsOption {
	return func(s *CardsService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewCardsService creates a service backed by the card store.
func NewCardsService(store backend.Store, opts ...CardsOption) *CardsService {
	s := &CardsService{
		store:       store,
		validator:   NewFieldValidator(defaultPhoneRegion),
		logger:      zap.NewNop(),
		concurrency: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot fetches every card and renders the display grid. On failure the
// returned snapshot is empty.
func (s *CardsService) Snapshot(ctx context.Context) (table.Snapshot, error) {
	cards, err := s.store.ListAll(ctx)
	if err != nil {
		return table.FromCards(nil), err
	}
	return table.FromCards(cards), nil
}

// Save diffs edited against original and writes every changed row back.
// Backend failures are reported per row in the result, never as an error; an
// error means the grids themselves could not be compared.
func (s *CardsService) Save(ctx context.Context, original, edited table.Snapshot, mode MatchMode) (SaveResult, error) {
	started := s.now()

	var (
		changes   []diff.RowChange
		unmatched []string
	)
	switch mode {
	case MatchID:
		result, err := diff.DiffByID(original, edited)
		if err != nil {
			return SaveResult{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		changes, unmatched = result.Changes, result.Unmatched
	default:
		mode = MatchPosition
		if err := original.Validate(); err != nil {
			return SaveResult{}, fmt.Errorf("%w: original: %v", ErrInvalidSnapshot, err)
		}
		var err error
		changes, err = diff.Diff(original, edited)
		if err != nil {
			return SaveResult{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
	}

	driver := reconcile.NewDriver(s.store, reconcile.WithConcurrency(s.concurrency), reconcile.WithLogger(s.logger))
	summary := driver.Apply(ctx, original.IDs, changes)
	result := SaveResult{Summary: summary, Changed: len(changes), Unmatched: unmatched}

	s.logger.Info("grid saved",
		zap.String("match", string(mode)),
		zap.Int("changed", len(changes)),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("unmatched", len(unmatched)),
	)

	if s.runs != nil && summary.Attempted {
		run := &entity.SaveRun{
			ID:         uuid.New(),
			RequestID:  backend.RequestIDFromContext(ctx),
			MatchMode:  string(mode),
			Changed:    len(changes),
			Updated:    summary.Updated,
			Failed:     summary.Failed,
			Failures:   failureMap(summary.Failures),
			StartedAt:  started,
			FinishedAt: s.now(),
		}
		if err := s.runs.Insert(ctx, run); err != nil {
			s.logger.Warn("failed to record save run", zap.Error(err))
		} else {
			result.RunID = run.ID.String()
		}
	}

	return result, nil
}

// UpdateCard saves every field of one card, as edited in a detail view.
func (s *CardsService) UpdateCard(ctx context.Context, id string, fields map[string]any) ([]FieldWarning, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}
	warnings := s.validator.Validate(fields)
	if err := s.store.Update(ctx, id, editableOnly(fields)); err != nil {
		return warnings, err
	}
	return warnings, nil
}

// CreateCard stores a manually entered card. The returned card is nil when the
// backend accepted the write without echoing it.
func (s *CardsService) CreateCard(ctx context.Context, fields map[string]any) (*entity.Card, []FieldWarning, error) {
	warnings := s.validator.Validate(fields)
	card, err := s.store.Create(ctx, editableOnly(fields))
	if err != nil {
		return nil, warnings, err
	}
	return card, warnings, nil
}

// UploadCard forwards a card image for extraction.
func (s *CardsService) UploadCard(ctx context.Context, filename string, image io.Reader) (*entity.Card, []FieldWarning, error) {
	if !AllowedImage(filename) {
		return nil, nil, ErrUnsupportedImage
	}
	card, err := s.store.Upload(ctx, filepath.Base(filename), image)
	if err != nil {
		return nil, nil, err
	}
	if card == nil {
		return nil, []FieldWarning{}, nil
	}
	return card, s.validator.Validate(card.Fields()), nil
}

// DeleteCard removes one card.
func (s *CardsService) DeleteCard(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	return s.store.Delete(ctx, id)
}

// ExportCSV writes the current grid as CSV. The identifier column is included
// only when withID is set, which is what an edit round trip needs.
func (s *CardsService) ExportCSV(ctx context.Context, w io.Writer, withID bool) error {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	return table.WriteCSV(w, snap, withID)
}

// ValidateFields reports advisory warnings for a set of card fields.
func (s *CardsService) ValidateFields(fields map[string]any) []FieldWarning {
	return s.validator.Validate(fields)
}

// RecentSaves lists the latest recorded grid saves.
func (s *CardsService) RecentSaves(ctx context.Context, limit int) ([]entity.SaveRun, error) {
	if s.runs == nil {
		return nil, ErrAuditDisabled
	}
	return s.runs.Recent(ctx, limit)
}

// FindSave fetches one recorded grid save.
func (s *CardsService) FindSave(ctx context.Context, id uuid.UUID) (*entity.SaveRun, error) {
	if s.runs == nil {
		return nil, ErrAuditDisabled
	}
	return s.runs.FindByID(ctx, id)
}

// AuditEnabled reports whether save runs are recorded.
func (s *CardsService) AuditEnabled() bool {
	return s.runs != nil
}

// AllowedImage reports whether the file name carries a supported image extension.
func AllowedImage(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png":
		return true
	default:
		return false
	}
}

func editableOnly(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for _, key := range codec.EditableFields {
		if value, ok := fields[key]; ok {
			out[key] = value
		}
	}
	return out
}

func failureMap(failures []reconcile.Failure) map[string]string {
	if len(failures) == 0 {
		return nil
	}
	out := make(map[string]string, len(failures))
	for _, f := range failures {
		key := f.ID
		if key == "" {
			key = fmt.Sprintf("row-%d", f.Row)
		}
		out[key] = f.Message
	}
	return out
}
