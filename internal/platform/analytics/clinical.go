package analytics

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/ehr/analytics/internal/domain/records"
)

type DrugCount struct {
	DrugName      string `json:"drug_name"`
	Prescriptions int    `json:"prescriptions"`
}

type LabAbnormality struct {
	TestName string  `json:"test_name"`
	Total    int     `json:"total"`
	Abnormal int     `json:"abnormal"`
	RatePct  float64 `json:"rate_pct"`
}

type VisitDiagnoses struct {
	VisitID   int64 `json:"visit_id"`
	PatientID int64 `json:"patient_id"`
	Diagnoses int   `json:"diagnoses"`
}

// TopDrugs ranks drug names by number of prescriptions.
func (e *Engine) TopDrugs(ctx context.Context, n int) ([]DrugCount, error) {
	if err := checkLimit("n", n); err != nil {
		return nil, err
	}
	return evalRows(ctx, e, "top_drugs", func(snap *records.Snapshot) []DrugCount {
		counts := map[string]int{}
		for _, p := range snap.Prescriptions {
			counts[p.DrugName]++
		}
		out := make([]DrugCount, 0, len(counts))
		for name, c := range counts {
			out = append(out, DrugCount{DrugName: name, Prescriptions: c})
		}
		slices.SortFunc(out, func(a, b DrugCount) int {
			return cmp.Or(cmp.Compare(b.Prescriptions, a.Prescriptions), cmp.Compare(a.DrugName, b.DrugName))
		})
		return limit(out, n)
	})
}

// LabAbnormalityRates reports, per test, the share of results flagged High
// or Low. Flags are derived from the reference range when one is present.
func (e *Engine) LabAbnormalityRates(ctx context.Context) ([]LabAbnormality, error) {
	return evalRows(ctx, e, "lab_abnormality_rates", func(snap *records.Snapshot) []LabAbnormality {
		byTest := map[string]*LabAbnormality{}
		for _, l := range snap.LabResults {
			a, ok := byTest[l.TestName]
			if !ok {
				a = &LabAbnormality{TestName: l.TestName}
				byTest[l.TestName] = a
			}
			a.Total++
			if l.EffectiveFlag().Abnormal() {
				a.Abnormal++
			}
		}
		out := make([]LabAbnormality, 0, len(byTest))
		for _, a := range byTest {
			a.RatePct = round2(float64(a.Abnormal) / float64(a.Total) * 100)
			out = append(out, *a)
		}
		slices.SortFunc(out, func(a, b LabAbnormality) int {
			return cmp.Or(cmp.Compare(b.RatePct, a.RatePct), cmp.Compare(a.TestName, b.TestName))
		})
		return out
	})
}

// MultiDiagnosisVisits lists visits carrying at least minCount diagnoses.
func (e *Engine) MultiDiagnosisVisits(ctx context.Context, minCount int) ([]VisitDiagnoses, error) {
	if minCount < 1 {
		return nil, invalid("min", minCount, "must be at least 1")
	}
	return evalRows(ctx, e, "multi_diagnosis_visits", func(snap *records.Snapshot) []VisitDiagnoses {
		counts := map[int64]int{}
		for _, d := range snap.Diagnoses {
			counts[d.VisitID]++
		}
		var out []VisitDiagnoses
		for _, v := range snap.Visits {
			if c := counts[v.ID]; c >= minCount {
				out = append(out, VisitDiagnoses{VisitID: v.ID, PatientID: v.PatientID, Diagnoses: c})
			}
		}
		slices.SortFunc(out, func(a, b VisitDiagnoses) int {
			return cmp.Or(cmp.Compare(b.Diagnoses, a.Diagnoses), cmp.Compare(a.VisitID, b.VisitID))
		})
		return out
	})
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// HighRiskCohort lists patients who, on a single visit, had a High lab result
// and a diagnosis whose code is in codes.
func (e *Engine) HighRiskCohort(ctx context.Context, codes []string) ([]DirectoryEntry, error) {
	chronic := map[string]struct{}{}
	for _, c := range codes {
		if c = normalizeCode(c); c != "" {
			chronic[c] = struct{}{}
		}
	}
	if len(chronic) == 0 {
		return nil, invalid("codes", codes, "at least one diagnosis code is required")
	}
	return evalRows(ctx, e, "high_risk_cohort", func(snap *records.Snapshot) []DirectoryEntry {
		highLab := map[int64]bool{}
		for _, l := range snap.LabResults {
			if l.EffectiveFlag() == records.FlagHigh {
				highLab[l.VisitID] = true
			}
		}
		visits := visitsByID(snap)
		cohort := map[int64]bool{}
		for _, d := range snap.Diagnoses {
			if !highLab[d.VisitID] {
				continue
			}
			if _, ok := chronic[normalizeCode(d.ICD10Code)]; !ok {
				continue
			}
			if v, ok := visits[d.VisitID]; ok {
				cohort[v.PatientID] = true
			}
		}
		var out []DirectoryEntry
		for _, p := range snap.Patients {
			if cohort[p.ID] {
				out = append(out, directoryEntry(p))
			}
		}
		return out
	})
}
