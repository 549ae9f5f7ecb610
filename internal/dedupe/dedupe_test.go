// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package dedupe

import (
	"math"
	"testing"
	"time"

	"github.com/tomtom215/eventfold/internal/models"
)

var jazzStart = time.Date(2025, 7, 1, 20, 0, 0, 0, time.UTC)

func clubX() *models.Venue {
	return &models.Venue{
		Name:      "Club X",
		Latitude:  models.Float64Ptr(45.5088),
		Longitude: models.Float64Ptr(-73.5673),
	}
}

func catalogEvent(id, source, title string, start time.Time, venue *models.Venue) models.CatalogEvent {
	return models.CatalogEvent{
		ID: id,
		NormalizedEvent: models.NormalizedEvent{
			Source:    source,
			Title:     title,
			StartTime: start,
			Venue:     venue,
		},
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Jazz Night at Club X", "jazz night at club x"},
		{"Jazz Night / Club X!", "jazz night club x"},
		{"  Café   Crème  ", "cafe creme"},
		{"Björk: Live @ L'Olympia", "bjork live l olympia"},
		{"", ""},
		{"!!!", ""},
		{"ÉTÉ 2025", "ete 2025"},
	}
	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeTextIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"Jazz Night / Club X!",
		"Ñandú Fest · Año Nuevo",
		"İstanbul Müzik Haftası",
		"ǅemal's Ǆ-Party",
		"Straße der Lieder",
		"東京 ジャズ フェスティバル",
		"á̂b",
		"  tabs\tand\nnewlines  ",
	}
	for _, in := range inputs {
		once := NormalizeText(in)
		if twice := NormalizeText(once); twice != once {
			t.Errorf("NormalizeText not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestStringSimilarity(t *testing.T) {
	t.Parallel()

	if got := StringSimilarity("", ""); got != 1.0 {
		t.Errorf("two empty strings: got %v, want 1.0", got)
	}
	if got := StringSimilarity("abc", ""); got != 0 {
		t.Errorf("one empty string: got %v, want 0", got)
	}
	if got := StringSimilarity("Club X", "club x!"); got != 1.0 {
		t.Errorf("normalized equal strings: got %v, want 1.0", got)
	}
	// kitten -> sitting has edit distance 3 over 7 runes
	if got := StringSimilarity("kitten", "sitting"); math.Abs(got-(1-3.0/7.0)) > 1e-9 {
		t.Errorf("kitten/sitting: got %v", got)
	}
}

func TestLevenshtein(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"flaw", "lawn", 2},
		{"café", "cafe", 1},
	}
	for _, tt := range tests {
		if got := levenshtein([]rune(tt.a), []rune(tt.b)); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestGeoBucketStable(t *testing.T) {
	t.Parallel()

	a := GeoBucket(45.5088, -73.5673)
	if b := GeoBucket(45.5088, -73.5673); a != b {
		t.Fatalf("same coordinate produced %q and %q", a, b)
	}
	if a != "45509:-73567" {
		t.Errorf("GeoBucket = %q, want 45509:-73567", a)
	}

	// About 30 m north-east, inside the same cell.
	if near := GeoBucket(45.5090, -73.5670); near != a {
		t.Errorf("nearby coordinate bucket %q, want %q", near, a)
	}
	if far := GeoBucket(45.5200, -73.5673); far == a {
		t.Error("coordinate 1.2 km away should be in a different bucket")
	}
	if zero := GeoBucket(-0.0001, 0.0001); zero != "0:0" {
		t.Errorf("near-zero bucket = %q, want 0:0", zero)
	}
}

func TestHaversineKm(t *testing.T) {
	t.Parallel()

	// Montreal to Toronto is about 504 km.
	d := HaversineKm(45.5017, -73.5673, 43.6532, -79.3832)
	if d < 495 || d > 515 {
		t.Errorf("Montreal-Toronto = %.1f km, want ~504", d)
	}
	if d := HaversineKm(1, 1, 1, 1); d != 0 {
		t.Errorf("same point distance = %v", d)
	}
}

func TestKeyFor(t *testing.T) {
	t.Parallel()

	ev := models.NormalizedEvent{Title: "Jazz Night at Club X", StartTime: jazzStart, Venue: clubX()}
	k := KeyFor(&ev)
	if k.TitlePrefix != "jazz night a" {
		t.Errorf("TitlePrefix = %q", k.TitlePrefix)
	}
	if got := k.String(); got != "jazz night a|2025-07-01|45509:-73567" {
		t.Errorf("String() = %q", got)
	}

	noGeo := models.NormalizedEvent{Title: "x", StartTime: jazzStart}
	if KeyFor(&noGeo).GeoBucket != UnknownGeoBucket {
		t.Error("expected unknown bucket without coordinates")
	}
}

func TestKeyCompatible(t *testing.T) {
	t.Parallel()

	day := func(d int) time.Time { return time.Date(2025, 7, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		a, b Key
		want bool
	}{
		{"same day same bucket", Key{Date: day(1), GeoBucket: "1:1"}, Key{Date: day(1), GeoBucket: "1:1"}, true},
		{"adjacent day", Key{Date: day(1), GeoBucket: "1:1"}, Key{Date: day(2), GeoBucket: "1:1"}, true},
		{"two days apart", Key{Date: day(1), GeoBucket: "1:1"}, Key{Date: day(3), GeoBucket: "1:1"}, false},
		{"unknown bucket matches", Key{Date: day(1), GeoBucket: UnknownGeoBucket}, Key{Date: day(1), GeoBucket: "45509:-73567"}, true},
		{"neighbouring buckets", Key{Date: day(1), GeoBucket: "45509:-73567"}, Key{Date: day(1), GeoBucket: "45510:-73566"}, true},
		{"distant buckets", Key{Date: day(1), GeoBucket: "45509:-73567"}, Key{Date: day(1), GeoBucket: "43653:-79383"}, false},
	}
	for _, tt := range tests {
		if got := tt.a.compatible(tt.b, 5); got != tt.want {
			t.Errorf("%s: compatible = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFindMatchesCrossSourceDuplicate(t *testing.T) {
	t.Parallel()

	engine := New(DefaultConfig())
	existing := catalogEvent("a", "s1", "Jazz Night at Club X", jazzStart, clubX())
	candidate := models.NormalizedEvent{Source: "s2", Title: "Jazz Night / Club X!", StartTime: jazzStart, Venue: clubX()}

	matches := engine.FindMatches(&candidate, []models.CatalogEvent{existing}, engine.Threshold())
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Score < 0.9 {
		t.Errorf("score = %.3f, want >= 0.9 (breakdown %+v)", matches[0].Score, matches[0].Breakdown)
	}
}

func TestFindMatchesOrderingAndThreshold(t *testing.T) {
	t.Parallel()

	engine := New(DefaultConfig())
	candidate := models.NormalizedEvent{Title: "Jazz Night at Club X", StartTime: jazzStart, Venue: clubX()}
	pool := []models.CatalogEvent{
		catalogEvent("later", "s1", "Jazz Night at Club X", jazzStart.Add(6*time.Hour), clubX()),
		catalogEvent("exact", "s1", "Jazz Night at Club X", jazzStart, clubX()),
		catalogEvent("other", "s1", "Symphony No. 9", jazzStart, clubX()),
		catalogEvent("outside", "s1", "Jazz Night at Club X", jazzStart.Add(30*time.Hour), clubX()),
	}

	matches := engine.FindMatches(&candidate, pool, 0.82)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(matches), matches)
	}
	if matches[0].Event.ID != "exact" || matches[1].Event.ID != "later" {
		t.Errorf("unexpected order: %s, %s", matches[0].Event.ID, matches[1].Event.ID)
	}
	if matches[0].Score != 1.0 {
		t.Errorf("exact duplicate score = %v, want 1.0", matches[0].Score)
	}
	for _, m := range matches {
		if m.Score < 0.82 {
			t.Errorf("match %s below threshold: %v", m.Event.ID, m.Score)
		}
	}
}

func TestFindMatchesThresholdMonotonic(t *testing.T) {
	t.Parallel()

	engine := New(DefaultConfig())
	candidate := models.NormalizedEvent{Title: "Jazz Night at Club X", StartTime: jazzStart, Venue: clubX()}
	pool := []models.CatalogEvent{
		catalogEvent("1", "s", "Jazz Night at Club X", jazzStart, clubX()),
		catalogEvent("2", "s", "Jazz Nite Club X", jazzStart.Add(2*time.Hour), clubX()),
		catalogEvent("3", "s", "Jazz at Club X", jazzStart.Add(10*time.Hour), nil),
		catalogEvent("4", "s", "Rock Night", jazzStart.Add(time.Hour), &models.Venue{Name: "Arena"}),
		catalogEvent("5", "s", "", jazzStart, nil),
	}

	prev := map[string]bool{}
	for i := 0; i <= 20; i++ {
		threshold := float64(i) / 20
		current := map[string]bool{}
		for _, m := range engine.FindMatches(&candidate, pool, threshold) {
			current[m.Event.ID] = true
		}
		if i > 0 {
			for id := range current {
				if !prev[id] {
					t.Fatalf("raising threshold to %.2f added match %s", threshold, id)
				}
			}
		}
		prev = current
	}
}

func TestLocationSimilarityRules(t *testing.T) {
	t.Parallel()

	engine := New(DefaultConfig())

	tests := []struct {
		name string
		a, b *models.Venue
		want float64
	}{
		{"neither side has a venue", nil, nil, 1.0},
		{"only one side has a venue", clubX(), nil, 0},
		{"same coordinates", clubX(), clubX(), 1.0},
		{"names only", &models.Venue{Name: "Club X"}, &models.Venue{Name: "club x"}, 1.0},
		{"10 km apart, different names", &models.Venue{
			Name: "Hall A", Latitude: models.Float64Ptr(45.5), Longitude: models.Float64Ptr(-73.5),
		}, &models.Venue{
			Name: "Zzzz", Latitude: models.Float64Ptr(45.59), Longitude: models.Float64Ptr(-73.5),
		}, 0},
		{"unnamed coordinates far apart", &models.Venue{
			Latitude: models.Float64Ptr(45.5), Longitude: models.Float64Ptr(-73.5),
		}, &models.Venue{
			Latitude: models.Float64Ptr(46.5), Longitude: models.Float64Ptr(-73.5),
		}, 0},
	}
	for _, tt := range tests {
		got, applicable := engine.locationSimilarity(tt.a, tt.b)
		if !applicable {
			t.Errorf("%s: expected location to be applicable", tt.name)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: location similarity = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestOneSidedVenueNeverMatchesOnLocation(t *testing.T) {
	t.Parallel()

	engine := New(DefaultConfig())
	a := models.NormalizedEvent{Title: "Open Air Cinema", StartTime: jazzStart, Venue: clubX()}
	b := models.NormalizedEvent{Title: "Open Air Cinema", StartTime: jazzStart}

	score, bd := engine.Score(&a, &b)
	if bd.Location != 0 {
		t.Errorf("location = %v, want 0", bd.Location)
	}
	if math.Abs(score-0.7) > 1e-9 {
		t.Errorf("score = %v, want 0.7", score)
	}
}

func TestScoreWithoutStartTimes(t *testing.T) {
	t.Parallel()

	engine := New(DefaultConfig())
	a := models.NormalizedEvent{Title: "Same"}
	b := models.NormalizedEvent{Title: "Same"}

	score, bd := engine.Score(&a, &b)
	if bd.TimeApplicable {
		t.Error("time should not be applicable without start times")
	}
	if score != 1.0 {
		t.Errorf("score = %v, want 1.0 when every applicable component agrees", score)
	}
}

func TestTemporalDecay(t *testing.T) {
	t.Parallel()

	engine := New(DefaultConfig())
	tests := []struct {
		offset time.Duration
		want   float64
	}{
		{0, 1},
		{6 * time.Hour, 0.75},
		{12 * time.Hour, 0.5},
		{24 * time.Hour, 0},
		{36 * time.Hour, 0},
	}
	for _, tt := range tests {
		got, _ := engine.timeSimilarity(jazzStart, jazzStart.Add(tt.offset))
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("offset %v: got %v, want %v", tt.offset, got, tt.want)
		}
	}
}
