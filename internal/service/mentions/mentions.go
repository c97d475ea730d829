// Package mentions detects brand and competitor mentions in LLM response
// text using word-bounded, case-insensitive alias matching.
package mentions

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// EntitySpec describes one entity to detect: a display name plus optional
// aliases. ID is the competitor registry ID, or uuid.Nil for the brand
// itself (whose terms come from the job, not the registry).
type EntitySpec struct {
	ID      uuid.UUID
	Name    string
	Aliases []string
}

// Detection is the per-entity result of a Detect call.
type Detection struct {
	Key       string
	ID        uuid.UUID
	Mentioned bool
}

type entity struct {
	key      string
	id       uuid.UUID
	patterns []*regexp.Regexp
}

// Detector holds compiled patterns for a fixed entity set. Build once per
// worker run; Detect is safe for concurrent use.
type Detector struct {
	entities []entity
}

// Slugify lowercases a name and collapses every non-alphanumeric run into a
// single hyphen. "Chart.js" becomes "chart-js".
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// NewDetector compiles the entity set. Entity keys are slugified names;
// colliding slugs get -2, -3, ... suffixes in input order so every entity
// keeps a distinct key.
func NewDetector(specs []EntitySpec) (*Detector, error) {
	seen := make(map[string]int, len(specs))
	entities := make([]entity, 0, len(specs))

	for _, spec := range specs {
		key := Slugify(spec.Name)
		if key == "" {
			key = "entity"
		}
		seen[key]++
		if n := seen[key]; n > 1 {
			key = fmt.Sprintf("%s-%d", key, n)
		}

		aliases := make(map[string]bool, len(spec.Aliases)+1)
		for _, a := range append([]string{spec.Name}, spec.Aliases...) {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" {
				aliases[a] = true
			}
		}

		e := entity{key: key, id: spec.ID, patterns: make([]*regexp.Regexp, 0, len(aliases))}
		for a := range aliases {
			p, err := aliasPattern(a)
			if err != nil {
				return nil, fmt.Errorf("mentions: compile alias %q: %w", a, err)
			}
			e.patterns = append(e.patterns, p)
		}
		entities = append(entities, e)
	}

	return &Detector{entities: entities}, nil
}

// aliasPattern builds a case-insensitive match that refuses to fire inside
// a larger alphanumeric token, so "chart" does not match "Highcharts".
// RE2 has no lookaround; boundary groups stand in for it.
func aliasPattern(alias string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)(^|[^a-z0-9])` + regexp.QuoteMeta(alias) + `([^a-z0-9]|$)`)
}

// Detect scans the text once per entity and reports whether any of its
// aliases appear. Results are in entity input order.
func (d *Detector) Detect(text string) []Detection {
	results := make([]Detection, 0, len(d.entities))
	for _, e := range d.entities {
		mentioned := false
		for _, p := range e.patterns {
			if p.MatchString(text) {
				mentioned = true
				break
			}
		}
		results = append(results, Detection{Key: e.key, ID: e.id, Mentioned: mentioned})
	}
	return results
}
