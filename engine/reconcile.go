/*
reconcile.go - Cross-matching against the insurer indicator feed

PURPOSE:
  Compares what the insurer says is new business for a period with what the
  internal classification says, policy by policy.

ALGORITHM:
  Indicator driven. For each indicator of the period:
    1. Find internal policies whose standard OR original number equals the
       indicator policy number. The first one (input order) wins.
    2. No candidate                        -> INSURER_ONLY
       (category == NUEVA) == indicator.IsNew -> MATCH
       otherwise                           -> MISMATCH

  Several candidates for one indicator is an ambiguity: the result is
  flagged and counted, or, with Strict, the run fails with
  AmbiguousMatchError.

  With Bidirectional, internal NUEVA policies applied in the period that no
  indicator names are reported as INTERNAL_ONLY.

SEE ALSO:
  - normalize.go: NormalizePolicyID produces StandardNumber
  - classify.go: Category of the internal side
*/
package engine

import (
	"fmt"
	"math"
)

type Verdict string

const (
	VerdictMatch        Verdict = "MATCH"
	VerdictMismatch     Verdict = "MISMATCH"
	VerdictInsurerOnly  Verdict = "INSURER_ONLY"
	VerdictInternalOnly Verdict = "INTERNAL_ONLY"
)

// Discrepancy texts.
const (
	discrepancyInsurerOnly  = "policy in insurer feed not found internally"
	discrepancyInternalOnly = "new policy not present in insurer feed"
)

// ReconcileOptions tunes a reconciliation run. The zero value reproduces
// the indicator-driven behavior.
type ReconcileOptions struct {
	Strict        bool // fail on ambiguous matches instead of flagging them
	Bidirectional bool // also report INTERNAL_ONLY policies
}

// ReconciliationResult is the verdict for one indicator (or, for
// INTERNAL_ONLY, one internal policy).
type ReconciliationResult struct {
	Indicator        *ExternalIndicator
	Policy           *ClassifiedPolicy
	Verdict          Verdict
	InternalCategory LifecycleCategory // empty when nothing matched
	Discrepancy      string
	Ambiguous        bool
	Candidates       []PolicyID // set only when Ambiguous
}

// Summary counts results per verdict.
type Summary struct {
	Total        int
	Match        int
	Mismatch     int
	InsurerOnly  int
	InternalOnly int
	Ambiguous    int
	MatchPct     int // round(Match / Total * 100), 0 when Total is 0
}

// Report is the output of one reconciliation run.
type Report struct {
	Period  string
	Results []ReconciliationResult
	Summary Summary
}

// Reconcile reconciles the indicators of period against classified
// policies. Indicators of other periods are ignored. A malformed period is
// a ValidationError.
func Reconcile(indicators []ExternalIndicator, policies []ClassifiedPolicy, period string, opts ReconcileOptions) (Report, error) {
	if _, _, err := ParsePeriod(period); err != nil {
		return Report{}, err
	}

	// number -> candidate positions, in input order, de-duplicated
	index := make(map[string][]int, len(policies)*2)
	for i := range policies {
		p := &policies[i]
		index[p.StandardNumber] = append(index[p.StandardNumber], i)
		if p.Number != p.StandardNumber {
			index[p.Number] = append(index[p.Number], i)
		}
	}

	report := Report{Period: period, Results: make([]ReconciliationResult, 0, len(indicators))}
	seen := make(map[int]bool)

	for i := range indicators {
		ind := &indicators[i]
		if ind.Period != period {
			continue
		}

		candidates := uniqueInts(index[ind.PolicyNumber])
		r := ReconciliationResult{Indicator: ind}

		if len(candidates) == 0 {
			r.Verdict = VerdictInsurerOnly
			r.Discrepancy = discrepancyInsurerOnly
			report.Results = append(report.Results, r)
			continue
		}

		if len(candidates) > 1 {
			ids := make([]PolicyID, len(candidates))
			for j, c := range candidates {
				ids[j] = policies[c].ID
			}
			if opts.Strict {
				return Report{}, &AmbiguousMatchError{PolicyNumber: ind.PolicyNumber, Candidates: ids}
			}
			r.Ambiguous = true
			r.Candidates = ids
		}

		for _, c := range candidates {
			seen[c] = true
		}

		matched := &policies[candidates[0]]
		r.Policy = matched
		r.InternalCategory = matched.Classification.Category
		if matched.Classification.IsNew() == ind.IsNew {
			r.Verdict = VerdictMatch
		} else {
			r.Verdict = VerdictMismatch
			r.Discrepancy = fmt.Sprintf("Internal: %s, Insurer: %s", matched.Classification.Category, insurerLabel(ind.IsNew))
		}
		report.Results = append(report.Results, r)
	}

	if opts.Bidirectional {
		for i := range policies {
			p := &policies[i]
			if seen[i] || !p.Classification.IsNew() || p.ApplicationPeriod != period {
				continue
			}
			report.Results = append(report.Results, ReconciliationResult{
				Policy:           p,
				Verdict:          VerdictInternalOnly,
				InternalCategory: p.Classification.Category,
				Discrepancy:      discrepancyInternalOnly,
			})
		}
	}

	report.Summary = summarize(report.Results)
	return report, nil
}

func summarize(results []ReconciliationResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Verdict {
		case VerdictMatch:
			s.Match++
		case VerdictMismatch:
			s.Mismatch++
		case VerdictInsurerOnly:
			s.InsurerOnly++
		case VerdictInternalOnly:
			s.InternalOnly++
		}
		if r.Ambiguous {
			s.Ambiguous++
		}
	}
	if s.Total > 0 {
		s.MatchPct = int(math.Round(float64(s.Match) / float64(s.Total) * 100))
	}
	return s
}

func insurerLabel(isNew bool) string {
	if isNew {
		return "NEW"
	}
	return "NOT NEW"
}

func uniqueInts(in []int) []int {
	if len(in) < 2 {
		return in
	}
	out := make([]int, 0, len(in))
	seen := make(map[int]bool, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
