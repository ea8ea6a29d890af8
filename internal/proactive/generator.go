package proactive

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SignalKind names a candidate signal family.
type SignalKind string

const (
	SignalCostPattern SignalKind = "cost_pattern"
	SignalRiskSignal  SignalKind = "risk_signal"
	SignalVolumeTrend SignalKind = "volume_trend"
)

// Signal is a candidate insight produced by a signal source.
type Signal struct {
	Kind       SignalKind
	SubjectID  string
	Title      string
	DataPoints map[string]float64
	Actions    []SuggestedAction
}

// SignalSource produces candidate signals for one scan.
type SignalSource interface {
	Signals(ctx context.Context) ([]Signal, error)
}

// Score is a scorer's verdict on a signal.
type Score struct {
	Confidence int // 0-100
	Impact     Impact
}

// Scorer assigns confidence and impact to a signal. The scoring model is
// external and pluggable.
type Scorer interface {
	Score(ctx context.Context, s Signal) (Score, error)
}

// StaticScorer returns a fixed score for every signal. Calibration and
// test use only.
type StaticScorer struct {
	Confidence int
	ImpactVal  Impact
}

// Score returns the fixed score.
func (s *StaticScorer) Score(ctx context.Context, _ Signal) (Score, error) {
	return Score{Confidence: s.Confidence, Impact: s.ImpactVal}, nil
}

// Generator periodically evaluates signal sources through the scorer and
// writes scored alerts to the feed.
type Generator struct {
	sources       []SignalSource
	scorer        Scorer
	feed          *Feed
	minConfidence int
	ttl           time.Duration
	clock         func() time.Time
}

// NewGenerator creates a generator. Alerts below minConfidence are dropped;
// ttl bounds each alert's lifetime (zero means no expiry).
func NewGenerator(sources []SignalSource, scorer Scorer, feed *Feed, minConfidence int, ttl time.Duration) *Generator {
	return &Generator{
		sources:       sources,
		scorer:        scorer,
		feed:          feed,
		minConfidence: minConfidence,
		ttl:           ttl,
		clock:         time.Now,
	}
}

// SetClock overrides the generator clock. Test use only.
func (g *Generator) SetClock(clock func() time.Time) {
	g.clock = clock
}

// Run generates on a fixed cadence until the context is cancelled. Expiry
// sweeps ride the same tick.
func (g *Generator) Run(ctx context.Context, interval time.Duration) {
	slog.Info("Starting proactive alert generator", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Proactive alert generator stopped")
			return
		case <-ticker.C:
			now := g.clock().UTC()
			g.feed.ExpireDue(ctx, now)
			if err := g.GenerateOnce(ctx, now); err != nil {
				slog.Error("Alert generation pass failed", "error", err)
			}
		}
	}
}

// GenerateOnce runs one generation pass. Source and scorer failures skip
// the affected signals and never abort the pass.
func (g *Generator) GenerateOnce(ctx context.Context, now time.Time) error {
	var failures int
	for _, source := range g.sources {
		signals, err := source.Signals(ctx)
		if err != nil {
			slog.Warn("Signal source failed, skipping", "error", err)
			failures++
			continue
		}
		for _, sig := range signals {
			if err := g.generate(ctx, sig, now); err != nil {
				slog.Warn("Failed to generate alert",
					"kind", sig.Kind,
					"subject_id", sig.SubjectID,
					"error", err,
				)
			}
		}
	}
	if failures > 0 && failures == len(g.sources) {
		return fmt.Errorf("all %d signal sources failed", failures)
	}
	return nil
}

func (g *Generator) generate(ctx context.Context, sig Signal, now time.Time) error {
	score, err := g.scorer.Score(ctx, sig)
	if err != nil {
		return fmt.Errorf("failed to score signal: %w", err)
	}
	if score.Confidence < g.minConfidence {
		slog.Debug("Signal below confidence floor, dropped",
			"kind", sig.Kind,
			"confidence", score.Confidence,
			"min_confidence", g.minConfidence,
		)
		return nil
	}

	a := NewAlert(alertTypeFor(sig.Kind), sig.Title, score.Confidence, score.Impact, now)
	a.DataPoints = sig.DataPoints
	a.SuggestedActions = sig.Actions
	if g.ttl > 0 {
		expires := now.Add(g.ttl)
		a.ExpiresAt = &expires
	}
	return g.feed.Add(ctx, a)
}

// alertTypeFor maps a signal family onto the alert taxonomy.
func alertTypeFor(kind SignalKind) AlertType {
	switch kind {
	case SignalCostPattern:
		return TypeRecommendation
	case SignalRiskSignal:
		return TypeWarning
	case SignalVolumeTrend:
		return TypePrediction
	default:
		return TypeOpportunity
	}
}
