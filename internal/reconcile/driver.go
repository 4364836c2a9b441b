// Package reconcile writes a grid diff back to the card store, one update per
// changed row, and reports what happened.
package reconcile

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/octobees/cardscan/api/internal/codec"
	"github.com/octobees/cardscan/api/internal/diff"
)

// Updater is the single backend operation the driver needs.
type Updater interface {
	Update(ctx context.Context, id any, changes map[string]any) error
}

// Failure describes one row that could not be written.
type Failure struct {
	Row     int    `json:"row"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Skip describes a changed row that was not sent because every changed value
// was blank, and blank values are never written to the backend.
type Skip struct {
	Row    int      `json:"row"`
	ID     string   `json:"id"`
	Fields []string `json:"fields"`
}

// Summary is the aggregate outcome of Apply. Attempted is false only when the
// diff was empty and nothing was sent.
type Summary struct {
	Attempted       bool      `json:"attempted"`
	Updated         int       `json:"updated"`
	Failed          int       `json:"failed"`
	Skipped         int       `json:"skipped"`
	Failures        []Failure `json:"failures"`
	Skips           []Skip    `json:"skips"`
	RefreshRequired bool      `json:"refresh_required"`
}

// Driver applies diffs. It keeps no state between calls.
type Driver struct {
	updater     Updater
	logger      *zap.Logger
	concurrency int
}

// Option configures a Driver.
type Option func(*Driver)

// WithConcurrency allows up to n updates in flight. The default of 1 issues
// updates strictly in row order.
func WithConcurrency(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithLogger sets the logger for per-row outcomes.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDriver wires a driver around the backend updater.
func NewDriver(updater Updater, opts ...Option) *Driver {
	d := &Driver{updater: updater, logger: zap.NewNop(), concurrency: 1}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type outcome struct {
	id      string
	err     error
	skipped bool
}

// Apply sends one update per change, addressed by ids[change.Row]. Failures
// are collected and never stop the remaining rows; nothing is retried or
// rolled back. Rows whose changes are all blank are skipped without a call
// and reported in Skips. After any attempted write the caller should re-fetch its
// snapshot, which RefreshRequired signals.
func (d *Driver) Apply(ctx context.Context, ids []string, changes []diff.RowChange) Summary {
	summary := Summary{Failures: []Failure{}, Skips: []Skip{}}
	if len(changes) == 0 {
		return summary
	}
	summary.Attempted = true

	ordered := make([]diff.RowChange, len(changes))
	copy(ordered, changes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Row < ordered[j].Row })

	outcomes := make([]outcome, len(ordered))
	run := func(i int) {
		change := ordered[i]
		if change.Row < 0 || change.Row >= len(ids) {
			outcomes[i] = outcome{id: change.ID, err: fmt.Errorf("row %d has no identifier", change.Row)}
			return
		}
		id := ids[change.Row]
		if len(codec.SanitizePayload(change.Changes)) == 0 {
			outcomes[i] = outcome{id: id, skipped: true}
			return
		}
		outcomes[i] = outcome{id: id, err: d.updater.Update(ctx, id, change.Changes)}
	}

	if d.concurrency <= 1 {
		for i := range ordered {
			run(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.concurrency)
		for i := range ordered {
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, out := range outcomes {
		row := ordered[i].Row
		if out.skipped {
			summary.Skipped++
			summary.Skips = append(summary.Skips, Skip{Row: row, ID: out.id, Fields: changedFields(ordered[i].Changes)})
			d.logger.Info("card update skipped, only blank values", zap.Int("row", row), zap.String("id", out.id))
			continue
		}
		if out.err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{Row: row, ID: out.id, Message: out.err.Error()})
			d.logger.Warn("card update failed", zap.Int("row", row), zap.String("id", out.id), zap.Error(out.err))
			continue
		}
		summary.Updated++
		d.logger.Debug("card updated", zap.Int("row", row), zap.String("id", out.id), zap.Int("fields", len(ordered[i].Changes)))
	}

	summary.RefreshRequired = summary.Updated > 0 || summary.Failed > 0 || summary.Skipped > 0
	return summary
}

func changedFields(changes diff.ChangeSet) []string {
	fields := make([]string, 0, len(changes))
	for field := range changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
