package analytics

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/ehr/analytics/internal/domain/records"
)

type TypeCount struct {
	VisitType records.VisitType `json:"visit_type"`
	Visits    int               `json:"visits"`
}

type VisitSpan struct {
	PatientID  int64     `json:"patient_id"`
	FirstVisit time.Time `json:"first_visit"`
	LastVisit  time.Time `json:"last_visit"`
	Visits     int       `json:"visits"`
}

type ERVisitor struct {
	PatientID int64 `json:"patient_id"`
	Visits    int   `json:"visits"`
}

// MonthlyBreakdown pivots one calendar month of visits into a column per type.
type MonthlyBreakdown struct {
	Month        string `json:"month"`
	Outpatient   int    `json:"outpatient"`
	Inpatient    int    `json:"inpatient"`
	ER           int    `json:"er"`
	Telemedicine int    `json:"telemedicine"`
	Total        int    `json:"total"`
}

type VisitOrdinal struct {
	PatientID     int64     `json:"patient_id"`
	VisitID       int64     `json:"visit_id"`
	VisitDateTime time.Time `json:"visit_datetime"`
	Sequence      int       `json:"sequence"`
}

type RetentionSummary struct {
	WindowDays         int     `json:"window_days"`
	PatientsWithVisits int     `json:"patients_with_visits"`
	ReturningPatients  int     `json:"returning_patients"`
	RatePct            float64 `json:"rate_pct"`
}

// VisitCountByType counts visits per type, most frequent first.
func (e *Engine) VisitCountByType(ctx context.Context) ([]TypeCount, error) {
	return evalRows(ctx, e, "visit_count_by_type", func(snap *records.Snapshot) []TypeCount {
		counts := map[records.VisitType]int{}
		for _, v := range snap.Visits {
			counts[v.VisitType]++
		}
		out := make([]TypeCount, 0, len(counts))
		for t, n := range counts {
			out = append(out, TypeCount{VisitType: t, Visits: n})
		}
		slices.SortFunc(out, func(a, b TypeCount) int {
			return cmp.Or(cmp.Compare(b.Visits, a.Visits), cmp.Compare(a.VisitType, b.VisitType))
		})
		return out
	})
}

// visitsPerPatient groups visits by patient, each group in chronological
// order with equal timestamps ordered by visit id.
func visitsPerPatient(snap *records.Snapshot) (map[int64][]records.Visit, []int64) {
	groups := map[int64][]records.Visit{}
	for _, v := range snap.Visits {
		groups[v.PatientID] = append(groups[v.PatientID], v)
	}
	ids := make([]int64, 0, len(groups))
	for id, vs := range groups {
		slices.SortFunc(vs, chronological)
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return groups, ids
}

func chronological(a, b records.Visit) int {
	return cmp.Or(a.VisitDateTime.Compare(b.VisitDateTime), cmp.Compare(a.ID, b.ID))
}

// PatientVisitSpans reports first visit, last visit and visit count for
// every patient with at least one visit.
func (e *Engine) PatientVisitSpans(ctx context.Context) ([]VisitSpan, error) {
	return evalRows(ctx, e, "patient_visit_spans", func(snap *records.Snapshot) []VisitSpan {
		groups, ids := visitsPerPatient(snap)
		out := make([]VisitSpan, 0, len(ids))
		for _, id := range ids {
			vs := groups[id]
			out = append(out, VisitSpan{
				PatientID:  id,
				FirstVisit: vs[0].VisitDateTime,
				LastVisit:  vs[len(vs)-1].VisitDateTime,
				Visits:     len(vs),
			})
		}
		return out
	})
}

// RepeatERVisitors finds patients with at least minVisits ER visits whose
// datetime is no earlier than windowDays before now.
func (e *Engine) RepeatERVisitors(ctx context.Context, windowDays, minVisits int) ([]ERVisitor, error) {
	if windowDays < 0 {
		return nil, invalid("window_days", windowDays, "must not be negative")
	}
	if minVisits < 1 {
		return nil, invalid("min_visits", minVisits, "must be at least 1")
	}
	since := e.now().AddDate(0, 0, -windowDays)
	return evalRows(ctx, e, "repeat_er_visitors", func(snap *records.Snapshot) []ERVisitor {
		counts := map[int64]int{}
		for _, v := range snap.Visits {
			if v.VisitType == records.VisitER && !v.VisitDateTime.Before(since) {
				counts[v.PatientID]++
			}
		}
		var out []ERVisitor
		for id, n := range counts {
			if n >= minVisits {
				out = append(out, ERVisitor{PatientID: id, Visits: n})
			}
		}
		slices.SortFunc(out, func(a, b ERVisitor) int {
			return cmp.Or(cmp.Compare(b.Visits, a.Visits), cmp.Compare(a.PatientID, b.PatientID))
		})
		return out
	})
}

// MonthlyVisitTypes buckets visits by UTC calendar month.
func (e *Engine) MonthlyVisitTypes(ctx context.Context) ([]MonthlyBreakdown, error) {
	return evalRows(ctx, e, "monthly_visit_types", func(snap *records.Snapshot) []MonthlyBreakdown {
		byMonth := map[string]*MonthlyBreakdown{}
		for _, v := range snap.Visits {
			key := v.VisitDateTime.UTC().Format("2006-01")
			m, ok := byMonth[key]
			if !ok {
				m = &MonthlyBreakdown{Month: key}
				byMonth[key] = m
			}
			switch v.VisitType {
			case records.VisitOutpatient:
				m.Outpatient++
			case records.VisitInpatient:
				m.Inpatient++
			case records.VisitER:
				m.ER++
			case records.VisitTelemedicine:
				m.Telemedicine++
			}
			m.Total++
		}
		out := make([]MonthlyBreakdown, 0, len(byMonth))
		for _, m := range byMonth {
			out = append(out, *m)
		}
		// "YYYY-MM" sorts chronologically as a string.
		slices.SortFunc(out, func(a, b MonthlyBreakdown) int { return cmp.Compare(a.Month, b.Month) })
		return out
	})
}

// VisitSequence numbers each patient's visits from 1 in chronological order.
func (e *Engine) VisitSequence(ctx context.Context) ([]VisitOrdinal, error) {
	return evalRows(ctx, e, "visit_sequence", func(snap *records.Snapshot) []VisitOrdinal {
		groups, ids := visitsPerPatient(snap)
		out := make([]VisitOrdinal, 0, len(snap.Visits))
		for _, id := range ids {
			for i, v := range groups[id] {
				out = append(out, VisitOrdinal{
					PatientID:     id,
					VisitID:       v.ID,
					VisitDateTime: v.VisitDateTime,
					Sequence:      i + 1,
				})
			}
		}
		return out
	})
}

// Retention counts patients with at least one pair of consecutive visits no
// more than windowDays apart.
func (e *Engine) Retention(ctx context.Context, windowDays int) (RetentionSummary, error) {
	if windowDays < 0 {
		return RetentionSummary{}, invalid("window_days", windowDays, "must not be negative")
	}
	return evalValue(ctx, e, "retention", func(snap *records.Snapshot) RetentionSummary {
		groups, ids := visitsPerPatient(snap)
		sum := RetentionSummary{WindowDays: windowDays, PatientsWithVisits: len(ids)}
		for _, id := range ids {
			vs := groups[id]
			for i := 1; i < len(vs); i++ {
				if daysBetween(vs[i-1].VisitDateTime, vs[i].VisitDateTime) <= windowDays {
					sum.ReturningPatients++
					break
				}
			}
		}
		if sum.PatientsWithVisits > 0 {
			sum.RatePct = round2(float64(sum.ReturningPatients) / float64(sum.PatientsWithVisits) * 100)
		}
		return sum
	})
}
