package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"reorder-api/pkg/logging"
	"reorder-api/pkg/models"
)

// Predictor defaults
const (
	DefaultLookupConcurrency = 5
	DefaultLookupTimeout     = 5 * time.Second
)

// ErrPatternNotFound is returned when an item has no detectable purchase pattern.
var ErrPatternNotFound = errors.New("no purchase pattern for item")

// AvailabilityLookup answers whether an item can currently be ordered and at what price.
type AvailabilityLookup interface {
	LookupAvailability(ctx context.Context, itemID string) (models.Availability, error)
}

// PredictorOptions tunes the availability fan-out.
type PredictorOptions struct {
	LookupConcurrency int
	LookupTimeout     time.Duration
}

// DefaultPredictorOptions returns 5 concurrent lookups with a 5s timeout each.
func DefaultPredictorOptions() PredictorOptions {
	return PredictorOptions{
		LookupConcurrency: DefaultLookupConcurrency,
		LookupTimeout:     DefaultLookupTimeout,
	}
}

// ItemPredictor 再注文推薦エンジン
//
// Detects patterns, scores them, filters by threshold, ranks, truncates and
// annotates the survivors with live availability.
type ItemPredictor struct {
	detector *PatternDetector
	lookup   AvailabilityLookup
	opts     PredictorOptions
}

// NewItemPredictor creates a predictor. lookup may be nil, in which case every
// recommendation is reported unavailable.
func NewItemPredictor(lookup AvailabilityLookup, opts PredictorOptions) *ItemPredictor {
	if opts.LookupConcurrency <= 0 {
		opts.LookupConcurrency = DefaultLookupConcurrency
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	return &ItemPredictor{
		detector: NewPatternDetector(),
		lookup:   lookup,
		opts:     opts,
	}
}

// GenerateRecommendations returns ranked reorder recommendations for the given history.
//
// The result holds at most cfg.MaxItems entries, each scoring at least cfg.MinScore,
// sorted by score descending with ties broken by item id. Availability failures
// degrade only the affected entry.
func (p *ItemPredictor) GenerateRecommendations(ctx context.Context, history []models.Order, now time.Time, cfg models.AnalysisConfig) ([]models.Recommendation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scorer := NewItemScorer(cfg.Weights)
	patterns := SortedPatterns(p.detector.DetectPatterns(history))

	recs := make([]models.Recommendation, 0, len(patterns))
	for _, pattern := range patterns {
		rec := scorer.ScoreItem(pattern, now)
		if rec.Score < cfg.MinScore {
			continue
		}
		recs = append(recs, rec)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Score > recs[j].Score
	})

	if len(recs) > cfg.MaxItems {
		recs = recs[:cfg.MaxItems]
	}

	p.annotateAvailability(ctx, recs)

	logging.Info().
		Int("orders", len(history)).
		Int("patterns", len(patterns)).
		Int("recommendations", len(recs)).
		Float64("min_score", cfg.MinScore).
		Msg("generated recommendations")

	return recs, nil
}

// RecommendationForItem scores a single item without applying the threshold.
func (p *ItemPredictor) RecommendationForItem(ctx context.Context, history []models.Order, now time.Time, weights models.Weights, itemID string) (models.Recommendation, error) {
	if err := weights.Validate(); err != nil {
		return models.Recommendation{}, err
	}

	pattern, ok := p.detector.DetectPatterns(history)[itemID]
	if !ok {
		return models.Recommendation{}, fmt.Errorf("%w: %s", ErrPatternNotFound, itemID)
	}

	recs := []models.Recommendation{NewItemScorer(weights).ScoreItem(pattern, now)}
	p.annotateAvailability(ctx, recs)
	return recs[0], nil
}

// annotateAvailability fills Available and CurrentPrice in place. Each worker
// writes only its own index.
func (p *ItemPredictor) annotateAvailability(ctx context.Context, recs []models.Recommendation) {
	if len(recs) == 0 {
		return
	}
	if p.lookup == nil {
		for i := range recs {
			recs[i].Available = false
			recs[i].CurrentPrice = nil
		}
		return
	}

	sem := make(chan struct{}, p.opts.LookupConcurrency)
	var wg sync.WaitGroup

	for i := range recs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				recs[i].Available = false
				recs[i].CurrentPrice = nil
				return
			}
			defer func() { <-sem }()

			recs[i].Available, recs[i].CurrentPrice = p.lookupOne(ctx, recs[i].ItemID)
		}(i)
	}

	wg.Wait()
}

func (p *ItemPredictor) lookupOne(ctx context.Context, itemID string) (bool, *decimal.Decimal) {
	lookupCtx, cancel := context.WithTimeout(ctx, p.opts.LookupTimeout)
	defer cancel()

	type result struct {
		availability models.Availability
		err          error
	}
	done := make(chan result, 1)
	go func() {
		a, err := p.lookup.LookupAvailability(lookupCtx, itemID)
		done <- result{a, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			logging.Warn().Err(r.err).Str("item_id", itemID).Msg("availability lookup failed")
			return false, nil
		}
		return r.availability.Available, r.availability.Price
	case <-lookupCtx.Done():
		logging.Warn().Err(lookupCtx.Err()).Str("item_id", itemID).Msg("availability lookup timed out")
		return false, nil
	}
}
