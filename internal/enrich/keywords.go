// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package enrich

import (
	"context"
	"sort"

	"github.com/tomtom215/eventfold/internal/dedupe"
	"github.com/tomtom215/eventfold/internal/models"
)

// automaton is an Aho-Corasick matcher over normalized text. Patterns and
// text are both run through dedupe.NormalizeText and padded with a space on
// each side, so a phrase only matches on whole words.
//
// Nodes live in a flat slice; node 0 is the root.
type automaton struct {
	next   []map[rune]int
	fail   []int
	output [][]int // pattern indices ending at each node, including via fail links
	tags   []string
}

func newAutomaton() *automaton {
	return &automaton{
		next:   []map[rune]int{{}},
		fail:   []int{0},
		output: [][]int{nil},
	}
}

// add registers phrase as implying tag. Phrases that normalize to nothing
// are ignored.
func (a *automaton) add(phrase, tag string) {
	norm := dedupe.NormalizeText(phrase)
	if norm == "" {
		return
	}

	node := 0
	for _, r := range " " + norm + " " {
		child, ok := a.next[node][r]
		if !ok {
			child = len(a.next)
			a.next = append(a.next, map[rune]int{})
			a.fail = append(a.fail, 0)
			a.output = append(a.output, nil)
			a.next[node][r] = child
		}
		node = child
	}
	a.output[node] = append(a.output[node], len(a.tags))
	a.tags = append(a.tags, tag)
}

// build computes failure links breadth first. It must be called after the
// last add and before search.
func (a *automaton) build() {
	queue := make([]int, 0, len(a.next))
	for _, child := range a.next[0] {
		a.fail[child] = 0
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		for r, child := range a.next[node] {
			queue = append(queue, child)

			f := a.fail[node]
			for f != 0 {
				if _, ok := a.next[f][r]; ok {
					break
				}
				f = a.fail[f]
			}
			if target, ok := a.next[f][r]; ok && target != child {
				a.fail[child] = target
			} else {
				a.fail[child] = 0
			}
			a.output[child] = append(a.output[child], a.output[a.fail[child]]...)
		}
	}
}

// search returns the distinct tags whose phrases occur in text, in the
// order they were first seen.
func (a *automaton) search(text string) []string {
	norm := dedupe.NormalizeText(text)
	if norm == "" || len(a.tags) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var found []string

	node := 0
	for _, r := range " " + norm + " " {
		for node != 0 {
			if _, ok := a.next[node][r]; ok {
				break
			}
			node = a.fail[node]
		}
		if child, ok := a.next[node][r]; ok {
			node = child
		}
		for _, idx := range a.output[node] {
			tag := a.tags[idx]
			if !seen[tag] {
				seen[tag] = true
				found = append(found, tag)
			}
		}
	}
	return found
}

// KeywordTagger tags events from a fixed dictionary of phrases. It needs no
// network access and never fails, which makes it the default tagger.
type KeywordTagger struct {
	ac *automaton
}

// NewKeywordTagger builds a tagger from a map of tag to implying phrases.
// The tag itself is always one of its phrases.
func NewKeywordTagger(keywords map[string][]string) *KeywordTagger {
	tags := make([]string, 0, len(keywords))
	for tag := range keywords {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	ac := newAutomaton()
	for _, tag := range tags {
		ac.add(tag, tag)
		for _, phrase := range keywords[tag] {
			ac.add(phrase, tag)
		}
	}
	ac.build()
	return &KeywordTagger{ac: ac}
}

// Name implements Tagger.
func (k *KeywordTagger) Name() string { return ProviderKeyword }

// Tags implements Tagger.
func (k *KeywordTagger) Tags(_ context.Context, ev *models.CatalogEvent) ([]string, error) {
	return k.ac.search(describe(ev)), nil
}
