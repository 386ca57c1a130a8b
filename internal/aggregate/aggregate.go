// Package aggregate merges stage results into a daily dataset and keeps its
// derived fields consistent: each norm URL is recorded at most once,
// expenditures stay sorted by amount, and the organization list always
// mirrors the expenditure list.
package aggregate

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/model"
)

// DefaultNonExpenditureCap bounds the non-expenditure list kept in a dataset.
const DefaultNonExpenditureCap = 50

// Aggregator applies merges with a fixed non-expenditure cap.
type Aggregator struct {
	cap int
}

// New creates an Aggregator. A negative cap selects the default; zero keeps
// no non-expenditure norms at all.
func New(nonExpenditureCap int) *Aggregator {
	if nonExpenditureCap < 0 {
		nonExpenditureCap = DefaultNonExpenditureCap
	}
	return &Aggregator{cap: nonExpenditureCap}
}

// MergeReport counts what a merge did with its input.
type MergeReport struct {
	Expenditures    int
	NonExpenditures int
	Overflow        int
	Duplicates      int
	Unclassified    int
}

// Added is the number of norms newly recorded by the merge.
func (r MergeReport) Added() int {
	return r.Expenditures + r.NonExpenditures + r.Overflow
}

// Merge appends each classified norm to ds exactly once. Non-expenditures
// beyond the cap are recorded by URL only. Norms already recorded are
// dropped and counted as duplicates; norms without a terminal outcome are
// ignored.
func (a *Aggregator) Merge(ds *model.DailyDataset, norms []model.Norm) MergeReport {
	var rep MergeReport
	seen := Recorded(ds)

	for _, n := range norms {
		if !n.Outcome.Classified() {
			rep.Unclassified++
			continue
		}
		if _, dup := seen[n.URL]; dup {
			rep.Duplicates++
			zap.L().Warn("aggregate: norm already recorded, dropping",
				zap.String("date", ds.Date),
				zap.String("url", n.URL),
			)
			continue
		}
		seen[n.URL] = struct{}{}

		switch {
		case n.IsExpenditure():
			ds.Expenditures = append(ds.Expenditures, n)
			rep.Expenditures++
		case len(ds.NonExpenditures) < a.cap:
			ds.NonExpenditures = append(ds.NonExpenditures, n)
			rep.NonExpenditures++
		default:
			ds.OverflowURLs = append(ds.OverflowURLs, n.URL)
			rep.Overflow++
		}
	}

	SortExpenditures(ds.Expenditures)
	ds.Organizations = Organizations(ds.Expenditures)
	return rep
}

// Recorded returns the set of norm URLs that already have an outcome in ds.
func Recorded(ds *model.DailyDataset) map[string]struct{} {
	set := make(map[string]struct{}, ds.ClassifiedCount())
	for _, n := range ds.Expenditures {
		set[n.URL] = struct{}{}
	}
	for _, n := range ds.NonExpenditures {
		set[n.URL] = struct{}{}
	}
	for _, u := range ds.OverflowURLs {
		set[u] = struct{}{}
	}
	return set
}

// SortExpenditures orders norms by amount, largest first. Equal amounts are
// ordered by URL so the result does not depend on arrival order.
func SortExpenditures(norms []model.Norm) {
	sort.SliceStable(norms, func(i, j int) bool {
		if norms[i].Outcome.Amount != norms[j].Outcome.Amount {
			return norms[i].Outcome.Amount > norms[j].Outcome.Amount
		}
		return norms[i].URL < norms[j].URL
	})
}

// Organizations returns the sorted distinct non-empty organizations of norms.
func Organizations(norms []model.Norm) []string {
	set := make(map[string]struct{})
	for _, n := range norms {
		if org := strings.TrimSpace(n.Organization); org != "" {
			set[org] = struct{}{}
		}
	}
	orgs := make([]string, 0, len(set))
	for org := range set {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	return orgs
}

// ApplyTenders replaces the dataset's tenders wholesale, keeping previously
// generated summaries for tenders that reappear and ordering by number.
// Tenders with a repeated number keep their first occurrence.
func ApplyTenders(ds *model.DailyDataset, tenders []model.Tender) {
	prior := make(map[string]model.Tender, len(ds.Tenders))
	for _, t := range ds.Tenders {
		prior[t.Number] = t
	}

	seen := make(map[string]struct{}, len(tenders))
	out := make([]model.Tender, 0, len(tenders))
	for _, t := range tenders {
		if _, dup := seen[t.Number]; dup {
			continue
		}
		seen[t.Number] = struct{}{}
		if p, ok := prior[t.Number]; ok && !p.NeedsSummary() {
			t.Summary = p.Summary
			t.SummaryAttempted = p.SummaryAttempted
		}
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	ds.Tenders = out
}

// Unit identifies one summarizable record in a dataset.
type Unit struct {
	Kind UnitKind
	// Key is the norm URL or tender number.
	Key string
	// Attachment names the attachment for KindAttachment units.
	Attachment string
}

// UnitKind distinguishes summarizable records.
type UnitKind string

const (
	KindNorm       UnitKind = "norm"
	KindAttachment UnitKind = "attachment"
	KindTender     UnitKind = "tender"
)

// SummaryResult is the text produced for one unit. Short is always set,
// with a fallback when the summarizer failed; Long only for expenditures.
type SummaryResult struct {
	Unit  Unit
	Short string
	Long  string
}

// PendingSummaries lists every recorded unit that was never sent to
// summarization, in dataset order.
func PendingSummaries(ds *model.DailyDataset) []Unit {
	var units []Unit
	addNorms := func(norms []model.Norm) {
		for _, n := range norms {
			if n.NeedsSummary() {
				units = append(units, Unit{Kind: KindNorm, Key: n.URL})
			}
			for _, a := range n.Attachments {
				if !a.SummaryAttempted && a.Summary == "" {
					units = append(units, Unit{Kind: KindAttachment, Key: n.URL, Attachment: a.Name})
				}
			}
		}
	}
	addNorms(ds.Expenditures)
	addNorms(ds.NonExpenditures)
	for _, t := range ds.Tenders {
		if t.NeedsSummary() {
			units = append(units, Unit{Kind: KindTender, Key: t.Number})
		}
	}
	return units
}

// ApplySummaries writes results back into ds and marks each unit as
// attempted. A unit that already has a summary is left untouched.
// It returns how many units were updated.
func ApplySummaries(ds *model.DailyDataset, results []SummaryResult) int {
	applied := 0
	for _, r := range results {
		if applySummary(ds, r) {
			applied++
		}
	}
	return applied
}

func applySummary(ds *model.DailyDataset, r SummaryResult) bool {
	switch r.Unit.Kind {
	case KindNorm, KindAttachment:
		n := FindNorm(ds, r.Unit.Key)
		if n == nil {
			return false
		}
		if r.Unit.Kind == KindNorm {
			if !n.NeedsSummary() {
				return false
			}
			n.ShortSummary = r.Short
			if n.IsExpenditure() {
				n.LongSummary = r.Long
			}
			n.SummaryAttempted = true
			return true
		}
		for i := range n.Attachments {
			a := &n.Attachments[i]
			if a.Name != r.Unit.Attachment || a.SummaryAttempted || a.Summary != "" {
				continue
			}
			a.Summary = r.Short
			a.SummaryAttempted = true
			return true
		}
	case KindTender:
		for i := range ds.Tenders {
			t := &ds.Tenders[i]
			if t.Number == r.Unit.Key && t.NeedsSummary() {
				t.Summary = r.Short
				t.SummaryAttempted = true
				return true
			}
		}
	}
	return false
}

// FindNorm returns the recorded norm with url, or nil.
func FindNorm(ds *model.DailyDataset, url string) *model.Norm {
	for i := range ds.Expenditures {
		if ds.Expenditures[i].URL == url {
			return &ds.Expenditures[i]
		}
	}
	for i := range ds.NonExpenditures {
		if ds.NonExpenditures[i].URL == url {
			return &ds.NonExpenditures[i]
		}
	}
	return nil
}

// FindTender returns the tender with number, or nil.
func FindTender(ds *model.DailyDataset, number string) *model.Tender {
	for i := range ds.Tenders {
		if ds.Tenders[i].Number == number {
			return &ds.Tenders[i]
		}
	}
	return nil
}
