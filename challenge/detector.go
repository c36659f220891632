// Package challenge classifies rendered markup as a bot-check interstitial
// and drives the layered strategy used to get past one.
package challenge

import "strings"

// Detector matches markup against a fixed set of challenge signatures.
// Matching is a case-sensitive substring test.
type Detector struct {
	phrases []string
}

// NewDetector creates a Detector. Empty phrases are dropped, since they
// would match every page.
func NewDetector(phrases []string) *Detector {
	kept := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return &Detector{phrases: kept}
}

// LooksChallenged reports whether markup contains any challenge signature.
func (d *Detector) LooksChallenged(markup string) bool {
	_, ok := d.Match(markup)
	return ok
}

// Match returns the first signature found in markup.
func (d *Detector) Match(markup string) (string, bool) {
	for _, p := range d.phrases {
		if strings.Contains(markup, p) {
			return p, true
		}
	}
	return "", false
}

// Phrases returns a copy of the configured signatures.
func (d *Detector) Phrases() []string {
	return append([]string(nil), d.phrases...)
}
