// Package model provides the unsupervised transaction outlier detector.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/shrike/internal/domain"
)

var (
	// ErrModelNotTrained is returned by Score before a successful Train.
	ErrModelNotTrained = errors.New("outlier model not trained")

	// ErrInsufficientTrainingData is returned when the training corpus is
	// below the minimum size; the previous fit, if any, is kept.
	ErrInsufficientTrainingData = errors.New("insufficient training data")
)

// randomSeed fixes the forest construction so identical training data
// yields identical scores across runs.
const randomSeed = 42

// Result is one scored transaction.
type Result struct {
	// Score is the anomaly score in (0,1); higher is more anomalous.
	Score float64

	// Outlier is true when the score exceeds the fitted threshold.
	Outlier bool

	// RiskScore maps the anomaly score onto the 0-100 risk scale.
	RiskScore float64

	// Confidence is the fixed model confidence.
	Confidence float64
}

// Detector is an isolation-forest outlier detector over transaction
// features (amount magnitude, foreign indicator, hour of day). Training
// replaces the frozen forest atomically; scoring reads it without locks
// beyond a pointer fetch.
type Detector struct {
	cfg    domain.EngineConfig
	logger *slog.Logger
	group  singleflight.Group

	// fitted state, swapped wholesale on successful training
	state atomic.Pointer[fitted]
}

type fitted struct {
	forest    *forest
	scaler    *scaler
	threshold float64
	trainedAt time.Time
	corpus    int
}

// NewDetector creates an untrained detector.
func NewDetector(cfg domain.EngineConfig, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:    cfg,
		logger: logger,
	}
}

// Trained reports whether a fit is available.
func (d *Detector) Trained() bool {
	return d.state.Load() != nil
}

// TrainedAt returns the time of the last successful fit.
func (d *Detector) TrainedAt() (time.Time, bool) {
	s := d.state.Load()
	if s == nil {
		return time.Time{}, false
	}
	return s.trainedAt, true
}

// Train fits the forest on the given transactions. Requires at least the
// configured minimum; only the most recent maximum is used. Concurrent
// calls share one fit through singleflight.
func (d *Detector) Train(ctx context.Context, transactions []*domain.Transaction) error {
	_, err, _ := d.group.Do("train", func() (any, error) {
		return nil, d.train(ctx, transactions)
	})
	return err
}

func (d *Detector) train(ctx context.Context, transactions []*domain.Transaction) error {
	minSize := d.cfg.MinTrainingSize
	if minSize <= 0 {
		minSize = 100
	}
	if len(transactions) < minSize {
		return fmt.Errorf("%w: have %d transactions, need %d",
			ErrInsufficientTrainingData, len(transactions), minSize)
	}

	maxSize := d.cfg.MaxTrainingSize
	if maxSize <= 0 {
		maxSize = 10000
	}
	if len(transactions) > maxSize {
		transactions = transactions[:maxSize]
	}

	start := time.Now()

	rows := make([][]float64, len(transactions))
	for i, tx := range transactions {
		rows[i] = d.features(tx)
	}

	sc := fitScaler(rows)
	scaled := sc.transformAll(rows)

	rng := rand.New(rand.NewSource(randomSeed))
	f := buildForest(scaled, rng)

	if err := ctx.Err(); err != nil {
		return err
	}

	// Threshold at the (1 - contamination) quantile of training scores:
	// the top contamination share of the corpus is treated as outliers.
	scores := make([]float64, len(scaled))
	for i, row := range scaled {
		scores[i] = f.score(row)
	}
	sort.Float64s(scores)

	contamination := d.cfg.Contamination
	if contamination <= 0 || contamination >= 1 {
		contamination = 0.01
	}
	idx := int(math.Ceil(float64(len(scores))*(1-contamination))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	threshold := scores[idx]

	d.state.Store(&fitted{
		forest:    f,
		scaler:    sc,
		threshold: threshold,
		trainedAt: time.Now().UTC(),
		corpus:    len(transactions),
	})

	d.logger.Info("outlier model trained",
		"corpus_size", len(transactions),
		"threshold", threshold,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Score evaluates one transaction against the fitted forest.
func (d *Detector) Score(tx *domain.Transaction) (*Result, error) {
	s := d.state.Load()
	if s == nil {
		return nil, ErrModelNotTrained
	}

	row := s.scaler.transform(d.features(tx))
	score := s.forest.score(row)

	return &Result{
		Score:      score,
		Outlier:    score > s.threshold,
		RiskScore:  domain.ClampScore(score * 100),
		Confidence: d.cfg.ModelConfidence,
	}, nil
}

// features extracts the model's feature vector: amount magnitude, a
// foreign-country indicator, and hour of day.
func (d *Detector) features(tx *domain.Transaction) []float64 {
	foreign := 0.0
	if tx.Country(d.cfg.HomeCountry) != d.cfg.HomeCountry {
		foreign = 1.0
	}
	return []float64{
		math.Abs(tx.Amount),
		foreign,
		float64(tx.Timestamp.UTC().Hour()),
	}
}
