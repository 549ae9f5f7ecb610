// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

// Package dedupe decides whether an incoming event is the same real-world
// event as one already in the catalog.
//
// Matching is two-staged. A cheap shortlist keeps catalog events whose start
// lies inside the time window and whose Key is compatible with the
// candidate's. Each shortlisted event is then scored:
//
//	score = (wT*title + wD*time + wL*location) / (sum of applicable weights)
//
// where every term lies in [0,1]. Only scores at or above the threshold are
// reported, best first. All functions here are pure and safe for concurrent use.
package dedupe

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/eventfold/internal/models"
)

// Weights are the relative importance of each similarity component.
type Weights struct {
	Title    float64
	Time     float64
	Location float64
}

// Config holds the similarity model parameters.
type Config struct {
	Weights         Weights
	Threshold       float64
	Window          time.Duration
	DistanceDecayKm float64
}

// DefaultConfig returns the standard model: weights 0.4/0.3/0.3,
// threshold 0.82, ±24h window, 5 km distance decay.
func DefaultConfig() Config {
	return Config{
		Weights:         Weights{Title: 0.4, Time: 0.3, Location: 0.3},
		Threshold:       0.82,
		Window:          24 * time.Hour,
		DistanceDecayKm: 5,
	}
}

// Breakdown exposes the individual component scores of a comparison.
type Breakdown struct {
	Title              float64 `json:"title"`
	Time               float64 `json:"time"`
	Location           float64 `json:"location"`
	TimeApplicable     bool    `json:"time_applicable"`
	LocationApplicable bool    `json:"location_applicable"`
}

// Match is one catalog event that scored at or above the threshold.
type Match struct {
	Event     models.CatalogEvent
	Score     float64
	Breakdown Breakdown
}

// Engine scores candidate events against catalog events.
type Engine struct {
	cfg Config
}

// New creates an Engine. Zero-valued fields of cfg fall back to DefaultConfig.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.DistanceDecayKm <= 0 {
		cfg.DistanceDecayKm = def.DistanceDecayKm
	}
	return &Engine{cfg: cfg}
}

// Threshold returns the configured default threshold.
func (e *Engine) Threshold() float64 {
	return e.cfg.Threshold
}

// Window returns the candidate window half-width.
func (e *Engine) Window() time.Duration {
	return e.cfg.Window
}

// FindMatches returns the pool events matching candidate with a score of at
// least threshold, highest score first. Ties are ordered by catalog id so
// the result is deterministic.
func (e *Engine) FindMatches(candidate *models.NormalizedEvent, pool []models.CatalogEvent, threshold float64) []Match {
	if len(pool) == 0 {
		return nil
	}

	candKey := KeyFor(candidate)
	candTitle := NormalizeText(candidate.Title)

	var matches []Match
	for i := range pool {
		existing := &pool[i]
		if !e.inWindow(candidate.StartTime, existing.StartTime) {
			continue
		}
		if !candKey.compatible(KeyFor(&existing.NormalizedEvent), e.cfg.DistanceDecayKm) {
			continue
		}

		score, breakdown := e.score(candidate, candTitle, &existing.NormalizedEvent)
		if score < threshold {
			continue
		}
		matches = append(matches, Match{Event: *existing, Score: score, Breakdown: breakdown})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Event.ID < matches[j].Event.ID
	})
	return matches
}

// BestMatch returns the highest scoring match at the configured threshold.
func (e *Engine) BestMatch(candidate *models.NormalizedEvent, pool []models.CatalogEvent) (Match, bool) {
	matches := e.FindMatches(candidate, pool, e.cfg.Threshold)
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[0], true
}

// Score compares two events without shortlisting.
func (e *Engine) Score(a, b *models.NormalizedEvent) (float64, Breakdown) {
	return e.score(a, NormalizeText(a.Title), b)
}

func (e *Engine) inWindow(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		// Without a start time there is no window to enforce; the
		// temporal component handles the disagreement.
		return true
	}
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= e.cfg.Window
}

func (e *Engine) score(a *models.NormalizedEvent, aTitle string, b *models.NormalizedEvent) (float64, Breakdown) {
	w := e.cfg.Weights
	var bd Breakdown

	bd.Title = normalizedSimilarity(aTitle, NormalizeText(b.Title))
	sum := w.Title * bd.Title
	applicable := w.Title

	bd.Time, bd.TimeApplicable = e.timeSimilarity(a.StartTime, b.StartTime)
	if bd.TimeApplicable {
		sum += w.Time * bd.Time
		applicable += w.Time
	}

	bd.Location, bd.LocationApplicable = e.locationSimilarity(a.Venue, b.Venue)
	if bd.LocationApplicable {
		sum += w.Location * bd.Location
		applicable += w.Location
	}

	if applicable == 0 {
		return 0, bd
	}
	return clamp01(sum / applicable), bd
}

// timeSimilarity is 1 - hours/windowHours, floored at 0. It is not
// applicable when neither side has a start time.
func (e *Engine) timeSimilarity(a, b time.Time) (float64, bool) {
	switch {
	case a.IsZero() && b.IsZero():
		return 0, false
	case a.IsZero() || b.IsZero():
		return 0, true
	}
	hours := math.Abs(a.Sub(b).Hours())
	return math.Max(0, 1-hours/e.cfg.Window.Hours()), true
}

// locationSimilarity compares venues:
//   - neither side has a venue: full agreement (1.0)
//   - exactly one side has a venue: 0, so location never creates a match alone
//   - both have coordinates: the better of distance decay and venue-name similarity
//   - otherwise: venue-name similarity (0 when either side is unnamed)
func (e *Engine) locationSimilarity(a, b *models.Venue) (float64, bool) {
	aEmpty, bEmpty := a.IsEmpty(), b.IsEmpty()
	switch {
	case aEmpty && bEmpty:
		return 1.0, true
	case aEmpty || bEmpty:
		return 0, true
	}

	// Unnamed venues carry no name evidence; two blanks must not count as agreement here.
	var nameSim float64
	if la, lb := NormalizeText(venueLabel(a)), NormalizeText(venueLabel(b)); la != "" && lb != "" {
		nameSim = normalizedSimilarity(la, lb)
	}
	if a.HasCoordinates() && b.HasCoordinates() {
		km := HaversineKm(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
		distSim := math.Max(0, 1-km/e.cfg.DistanceDecayKm)
		return math.Max(distSim, nameSim), true
	}
	return nameSim, true
}

// venueLabel is the venue name, or its address and city when unnamed.
func venueLabel(v *models.Venue) string {
	if strings.TrimSpace(v.Name) != "" {
		return v.Name
	}
	return strings.TrimSpace(v.Address + " " + v.City)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
