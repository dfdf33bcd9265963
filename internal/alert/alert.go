// Package alert scans retrieved clinical content for curated
// high-risk terms and produces a deduplicated, severity-sorted alert
// list, grounded structurally on the teacher's single-pass,
// pre-sized-map iteration style seen throughout internal/store and
// internal/retrieve.
package alert

import (
	"sort"
	"strings"

	"github.com/chw-health/clinicalrag/internal/retrieve"
	"github.com/chw-health/clinicalrag/internal/store"
)

// HighRiskAlert is a single distinct lexicon term detected in a result
// set.
type HighRiskAlert struct {
	Term     string
	Category string
	Severity string
}

// Alerter scans search results for the curated high-risk lexicon.
type Alerter struct {
	lexicon []store.HighRiskTerm
}

// New builds an Alerter over a fixed lexicon snapshot.
func New(lexicon []store.HighRiskTerm) *Alerter {
	return &Alerter{lexicon: lexicon}
}

// Detect concatenates the lower-cased content of all results into one
// string, then emits one HighRiskAlert per lexicon term that appears
// as a substring. A term that matches more than once still yields
// exactly one alert. The returned list is sorted High before Medium,
// then by term.
func (a *Alerter) Detect(results []retrieve.Result) []HighRiskAlert {
	if len(results) == 0 || len(a.lexicon) == 0 {
		return []HighRiskAlert{}
	}

	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(strings.ToLower(r.Chunk.Content))
		sb.WriteByte('\n')
	}
	haystack := sb.String()

	alerts := make([]HighRiskAlert, 0, len(a.lexicon))
	for _, term := range a.lexicon {
		needle := strings.ToLower(term.Term)
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, needle) {
			alerts = append(alerts, HighRiskAlert{
				Term:     needle,
				Category: term.Category,
				Severity: term.Severity,
			})
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity != alerts[j].Severity {
			return severityRank(alerts[i].Severity) < severityRank(alerts[j].Severity)
		}
		return alerts[i].Term < alerts[j].Term
	})

	return alerts
}

func severityRank(s string) int {
	if s == "High" {
		return 0
	}
	return 1
}
