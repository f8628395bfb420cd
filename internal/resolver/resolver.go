// Package resolver drives the label pipeline: normalize the OCR text, pull a
// candidate name and address out of it, and reconcile them against the
// known recipients.
package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/labelmatch/internal/extract"
	"github.com/sells-group/labelmatch/internal/match"
	"github.com/sells-group/labelmatch/internal/recipient"
	"github.com/sells-group/labelmatch/internal/store"
	"github.com/sells-group/labelmatch/internal/textnorm"
)

// Identity is the best guess extracted from one label. Either field may be
// empty when no candidate was found.
type Identity struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
}

// Outcome is the result of resolving one label.
type Outcome struct {
	ID         string        `json:"id" yaml:"id"`
	Raw        string        `json:"raw" yaml:"raw"`
	Normalized string        `json:"normalized" yaml:"normalized"`
	Identity   Identity      `json:"identity" yaml:"identity"`
	Match      match.Result  `json:"match" yaml:"match"`
	Errors     []string      `json:"errors,omitempty" yaml:"errors,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns" yaml:"elapsed_ns"`
}

// Batch is the result of resolving a sequence of labels.
type Batch struct {
	RunID    string        `json:"run_id" yaml:"run_id"`
	Outcomes []Outcome     `json:"outcomes" yaml:"outcomes"`
	Matched  int           `json:"matched" yaml:"matched"`
	Elapsed  time.Duration `json:"elapsed_ns" yaml:"elapsed_ns"`
}

// Recorder persists runs and outcomes. store.Store satisfies it.
type Recorder interface {
	CreateRun(ctx context.Context, run store.Run) error
	SaveOutcome(ctx context.Context, o store.Outcome) error
	FinishRun(ctx context.Context, runID string, status store.RunStatus, labels, matched int) error
}

// Resolver runs the pipeline over a fixed, read-only recipient list.
type Resolver struct {
	records   []recipient.Record
	names     extract.NameExtractor
	addresses extract.AddressExtractor
	matcher   *match.Matcher
	recorder  Recorder
	source    string
	now       func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithNames sets the name extractor. The default is the sliding-window
// heuristic.
func WithNames(e extract.NameExtractor) Option {
	return func(r *Resolver) { r.names = e }
}

// WithAddresses sets the address extractor. The default is the street
// pattern.
func WithAddresses(e extract.AddressExtractor) Option {
	return func(r *Resolver) { r.addresses = e }
}

// WithMatcher sets the reconciler.
func WithMatcher(m *match.Matcher) Option {
	return func(r *Resolver) { r.matcher = m }
}

// WithStore persists every batch and its outcomes.
func WithStore(rec Recorder) Option {
	return func(r *Resolver) { r.recorder = rec }
}

// WithSource labels persisted runs with where the labels came from.
func WithSource(source string) Option {
	return func(r *Resolver) { r.source = source }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver over records. The slice is not copied and must not
// be modified afterwards.
func New(records []recipient.Record, opts ...Option) *Resolver {
	r := &Resolver{
		records:   records,
		names:     extract.NewWindowNames(),
		addresses: extract.NewPatternAddresses(),
		matcher:   match.NewMatcher(match.DefaultPolicy()),
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Records returns the recipient list.
func (r *Resolver) Records() []recipient.Record {
	return r.records
}

// Matcher returns the reconciler.
func (r *Resolver) Matcher() *match.Matcher {
	return r.matcher
}

// Resolve runs one label through the pipeline. The name is taken from the
// raw text and the address from the normalized text. Extractor failures are
// recorded in Outcome.Errors and never abort the label.
func (r *Resolver) Resolve(ctx context.Context, raw string) Outcome {
	start := r.now()
	out := Outcome{
		ID:         uuid.NewString(),
		Raw:        raw,
		Normalized: textnorm.Normalize(raw),
	}

	name, err := r.names.ExtractName(ctx, raw)
	if err != nil {
		out.Errors = append(out.Errors, err.Error())
	}
	address, err := r.addresses.ExtractAddress(ctx, out.Normalized)
	if err != nil {
		out.Errors = append(out.Errors, err.Error())
	}
	out.Identity = Identity{Name: name, Address: address}

	out.Match = r.matcher.Match(name, address, r.records)
	out.Elapsed = r.now().Sub(start)

	zap.L().Debug("resolver: label resolved",
		zap.String("outcome_id", out.ID),
		zap.String("name", name),
		zap.Bool("has_address", address != ""),
		zap.String("method", out.Match.Method),
		zap.Float64("score", out.Match.Score),
		zap.Int("errors", len(out.Errors)),
	)
	return out
}

// ResolveAll resolves raws one at a time, in order. It stops early only
// when ctx is cancelled, returning the outcomes produced so far.
func (r *Resolver) ResolveAll(ctx context.Context, raws []string) Batch {
	start := r.now()
	b := Batch{RunID: uuid.NewString(), Outcomes: make([]Outcome, 0, len(raws))}
	log := zap.L().With(zap.String("run_id", b.RunID))

	if r.recorder != nil {
		if err := r.recorder.CreateRun(ctx, store.Run{ID: b.RunID, Source: r.source}); err != nil {
			log.Warn("resolver: persist run failed, continuing without store", zap.Error(err))
			r = r.withoutRecorder()
		}
	}

	status := store.RunStatusComplete
	for i, raw := range raws {
		if ctx.Err() != nil {
			log.Info("resolver: batch cancelled",
				zap.Int("done", i),
				zap.Int("total", len(raws)),
			)
			status = store.RunStatusCancelled
			break
		}

		o := r.Resolve(ctx, raw)
		if o.Match.Matched() {
			b.Matched++
		}
		b.Outcomes = append(b.Outcomes, o)
		r.persist(ctx, b.RunID, o)
	}
	b.Elapsed = r.now().Sub(start)

	if r.recorder != nil {
		// The run may have been cancelled; record its final state regardless.
		if err := r.recorder.FinishRun(context.WithoutCancel(ctx), b.RunID, status, len(b.Outcomes), b.Matched); err != nil {
			log.Warn("resolver: finish run failed", zap.Error(err))
		}
	}

	log.Info("resolver: batch complete",
		zap.Int("labels", len(b.Outcomes)),
		zap.Int("matched", b.Matched),
		zap.Duration("elapsed", b.Elapsed),
	)
	return b
}

func (r *Resolver) withoutRecorder() *Resolver {
	cp := *r
	cp.recorder = nil
	return &cp
}

func (r *Resolver) persist(ctx context.Context, runID string, o Outcome) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.SaveOutcome(ctx, ToStored(runID, o)); err != nil {
		zap.L().Warn("resolver: persist outcome failed",
			zap.String("run_id", runID),
			zap.String("outcome_id", o.ID),
			zap.Error(err),
		)
	}
}

// ToStored converts an Outcome to its persisted form.
func ToStored(runID string, o Outcome) store.Outcome {
	s := store.Outcome{
		ID:           o.ID,
		RunID:        runID,
		Raw:          o.Raw,
		Normalized:   o.Normalized,
		Name:         o.Identity.Name,
		Address:      o.Identity.Address,
		Score:        o.Match.Score,
		NameScore:    o.Match.NameScore,
		AddressScore: o.Match.AddressScore,
		Method:       o.Match.Method,
		Errors:       o.Errors,
		ElapsedMS:    o.Elapsed.Milliseconds(),
	}
	if o.Match.Record != nil {
		s.RecipientID = o.Match.Record.RecipientID
	}
	return s
}
