package analytics

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/ehr/analytics/internal/domain/records"
)

type StatusTotals struct {
	Status                records.PaymentStatus `json:"payment_status"`
	TotalBilled           float64               `json:"total_billed"`
	TotalPatientPay       float64               `json:"total_patient_pay"`
	TotalInsuranceCovered float64               `json:"total_insurance_covered"`
}

type DoctorRevenue struct {
	DoctorID       int64   `json:"doctor_id"`
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	Specialization string  `json:"specialization"`
	Revenue        float64 `json:"revenue"`
}

type LatePayment struct {
	VisitID       int64     `json:"visit_id"`
	PatientID     int64     `json:"patient_id"`
	VisitDateTime time.Time `json:"visit_datetime"`
	PaidDate      time.Time `json:"paid_date"`
	DelayedDays   int       `json:"delayed_days"`
}

type PaymentDelay struct {
	AverageDays float64 `json:"average_days"`
	PaidVisits  int     `json:"paid_visits"`
}

type ProviderCoverage struct {
	Provider        string  `json:"insurance_provider"`
	CoveragePct     float64 `json:"coverage_pct"`
	PatientSharePct float64 `json:"patient_share_pct"`
	Claims          int     `json:"claims"`
}

// BillingByStatus sums billed, patient and insurer amounts per payment status.
func (e *Engine) BillingByStatus(ctx context.Context) ([]StatusTotals, error) {
	return evalRows(ctx, e, "billing_by_status", func(snap *records.Snapshot) []StatusTotals {
		byStatus := map[records.PaymentStatus]*StatusTotals{}
		for _, b := range snap.Billings {
			t, ok := byStatus[b.PaymentStatus]
			if !ok {
				t = &StatusTotals{Status: b.PaymentStatus}
				byStatus[b.PaymentStatus] = t
			}
			t.TotalBilled += b.TotalCost
			t.TotalPatientPay += b.PatientPay
			t.TotalInsuranceCovered += b.InsuranceCovered
		}
		out := make([]StatusTotals, 0, len(byStatus))
		for _, t := range byStatus {
			out = append(out, StatusTotals{
				Status:                t.Status,
				TotalBilled:           round2(t.TotalBilled),
				TotalPatientPay:       round2(t.TotalPatientPay),
				TotalInsuranceCovered: round2(t.TotalInsuranceCovered),
			})
		}
		slices.SortFunc(out, func(a, b StatusTotals) int { return cmp.Compare(a.Status, b.Status) })
		return out
	})
}

// TopDoctorsByRevenue ranks doctors by the total cost billed on their
// visits. Doctors without a billed visit are left out.
func (e *Engine) TopDoctorsByRevenue(ctx context.Context, n int) ([]DoctorRevenue, error) {
	if err := checkLimit("n", n); err != nil {
		return nil, err
	}
	return evalRows(ctx, e, "top_doctors_by_revenue", func(snap *records.Snapshot) []DoctorRevenue {
		visits := visitsByID(snap)
		revenue := map[int64]float64{}
		for _, b := range snap.Billings {
			v, ok := visits[b.VisitID]
			if !ok {
				continue
			}
			revenue[v.DoctorID] += b.TotalCost
		}
		var out []DoctorRevenue
		for _, d := range snap.Doctors {
			r, ok := revenue[d.ID]
			if !ok {
				continue
			}
			out = append(out, DoctorRevenue{
				DoctorID:       d.ID,
				FirstName:      d.FirstName,
				LastName:       d.LastName,
				Specialization: d.Specialization,
				Revenue:        round2(r),
			})
		}
		slices.SortFunc(out, func(a, b DoctorRevenue) int {
			return cmp.Or(cmp.Compare(b.Revenue, a.Revenue), cmp.Compare(a.DoctorID, b.DoctorID))
		})
		return limit(out, n)
	})
}

// paidDelays pairs every billing that carries a paid date with its visit.
func paidDelays(snap *records.Snapshot) []LatePayment {
	visits := visitsByID(snap)
	var out []LatePayment
	for _, b := range snap.Billings {
		if b.PaidDate == nil {
			continue
		}
		v, ok := visits[b.VisitID]
		if !ok {
			continue
		}
		out = append(out, LatePayment{
			VisitID:       v.ID,
			PatientID:     v.PatientID,
			VisitDateTime: v.VisitDateTime,
			PaidDate:      *b.PaidDate,
			DelayedDays:   daysBetween(v.VisitDateTime, *b.PaidDate),
		})
	}
	return out
}

// LatePayers lists paid visits settled strictly more than days after the visit.
func (e *Engine) LatePayers(ctx context.Context, days int) ([]LatePayment, error) {
	if days < 0 {
		return nil, invalid("days", days, "must not be negative")
	}
	return evalRows(ctx, e, "late_payers", func(snap *records.Snapshot) []LatePayment {
		var out []LatePayment
		for _, p := range paidDelays(snap) {
			if p.DelayedDays > days {
				out = append(out, p)
			}
		}
		slices.SortFunc(out, func(a, b LatePayment) int {
			return cmp.Or(cmp.Compare(b.DelayedDays, a.DelayedDays), cmp.Compare(a.VisitID, b.VisitID))
		})
		return out
	})
}

// AverageDaysToPay averages the whole-day delay over billings with a paid date.
func (e *Engine) AverageDaysToPay(ctx context.Context) (PaymentDelay, error) {
	return evalValue(ctx, e, "average_days_to_pay", func(snap *records.Snapshot) PaymentDelay {
		delays := paidDelays(snap)
		if len(delays) == 0 {
			return PaymentDelay{}
		}
		total := 0
		for _, d := range delays {
			total += d.DelayedDays
		}
		return PaymentDelay{
			AverageDays: round2(float64(total) / float64(len(delays))),
			PaidVisits:  len(delays),
		}
	})
}

// CoverageByProvider averages the insurer and patient shares of each bill per
// insurance provider. Bills with a zero total are skipped, as are patients
// with no provider on file.
func (e *Engine) CoverageByProvider(ctx context.Context) ([]ProviderCoverage, error) {
	return evalRows(ctx, e, "coverage_by_provider", func(snap *records.Snapshot) []ProviderCoverage {
		visits := visitsByID(snap)
		patients := patientsByID(snap)

		type acc struct {
			covered, patient float64
			n                int
		}
		byProvider := map[string]*acc{}
		for _, b := range snap.Billings {
			if b.TotalCost == 0 {
				continue
			}
			v, ok := visits[b.VisitID]
			if !ok {
				continue
			}
			provider := patients[v.PatientID].InsuranceProvider
			if provider == "" {
				continue
			}
			a, ok := byProvider[provider]
			if !ok {
				a = &acc{}
				byProvider[provider] = a
			}
			a.covered += b.InsuranceCovered / b.TotalCost
			a.patient += b.PatientPay / b.TotalCost
			a.n++
		}

		out := make([]ProviderCoverage, 0, len(byProvider))
		for provider, a := range byProvider {
			out = append(out, ProviderCoverage{
				Provider:        provider,
				CoveragePct:     round2(a.covered / float64(a.n) * 100),
				PatientSharePct: round2(a.patient / float64(a.n) * 100),
				Claims:          a.n,
			})
		}
		slices.SortFunc(out, func(a, b ProviderCoverage) int {
			return cmp.Or(cmp.Compare(b.CoveragePct, a.CoveragePct), cmp.Compare(a.Provider, b.Provider))
		})
		return out
	})
}
