package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ehr/analytics/internal/domain/records"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var fixtureNow = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func at(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func rng(low, high float64) (*float64, *float64) { return &low, &high }

func lab(id, visitID int64, test string, value, low, high float64, stored records.LabFlag) records.LabResult {
	lo, hi := rng(low, high)
	return records.LabResult{ID: id, VisitID: visitID, TestName: test, ResultValue: value, ReferenceLow: lo, ReferenceHigh: hi, Flag: stored}
}

// clinicRows is a small clinic: four patients (one without visits), two
// doctors and seven visits spread over 2024.
func clinicRows() []records.Entity {
	return []records.Entity{
		records.Patient{ID: 1, FirstName: "Ana", LastName: "Lopez", City: "Austin", InsuranceProvider: "Aetna"},
		records.Patient{ID: 2, FirstName: "Ben", LastName: "Cho", City: "Austin", InsuranceProvider: "No Insurance"},
		records.Patient{ID: 3, FirstName: "Cal", LastName: "Diaz", City: "Dallas", InsuranceProvider: "BlueCross"},
		records.Patient{ID: 4, FirstName: "Dee", LastName: "Evans", City: "Houston"},

		records.Doctor{ID: 10, FirstName: "Grace", LastName: "Kim", Specialization: "Cardiology"},
		records.Doctor{ID: 11, FirstName: "Omar", LastName: "Ross", Specialization: "Endocrinology"},

		records.Visit{ID: 100, PatientID: 1, DoctorID: 10, VisitDateTime: at(2024, time.January, 10, 9), VisitType: records.VisitOutpatient},
		records.Visit{ID: 101, PatientID: 1, DoctorID: 10, VisitDateTime: at(2024, time.March, 1, 9), VisitType: records.VisitOutpatient},
		records.Visit{ID: 102, PatientID: 2, DoctorID: 11, VisitDateTime: at(2024, time.June, 1, 10), VisitType: records.VisitER},
		records.Visit{ID: 103, PatientID: 2, DoctorID: 11, VisitDateTime: at(2024, time.June, 20, 10), VisitType: records.VisitER},
		records.Visit{ID: 104, PatientID: 3, DoctorID: 11, VisitDateTime: at(2024, time.January, 15, 8), VisitType: records.VisitInpatient},
		records.Visit{ID: 105, PatientID: 3, DoctorID: 10, VisitDateTime: at(2024, time.August, 1, 8), VisitType: records.VisitTelemedicine},
		records.Visit{ID: 106, PatientID: 1, DoctorID: 11, VisitDateTime: at(2024, time.May, 1, 14), VisitType: records.VisitER},

		records.Diagnosis{ID: 1000, VisitID: 100, ICD10Code: "E11", IsPrimary: true},
		records.Diagnosis{ID: 1001, VisitID: 100, ICD10Code: "I10"},
		records.Diagnosis{ID: 1002, VisitID: 102, ICD10Code: "J06"},
		records.Diagnosis{ID: 1003, VisitID: 104, ICD10Code: " e11 "},
		records.Diagnosis{ID: 1004, VisitID: 104, ICD10Code: "Z00"},
		records.Diagnosis{ID: 1005, VisitID: 104, ICD10Code: "R51"},

		records.Prescription{ID: 2000, VisitID: 100, DrugName: "Metformin"},
		records.Prescription{ID: 2001, VisitID: 101, DrugName: "Metformin"},
		records.Prescription{ID: 2002, VisitID: 102, DrugName: "Albuterol"},
		records.Prescription{ID: 2003, VisitID: 104, DrugName: "Lisinopril"},
		records.Prescription{ID: 2004, VisitID: 105, DrugName: "Albuterol"},
		records.Prescription{ID: 2005, VisitID: 106, DrugName: "Metformin"},

		// Stored as Normal but above range: read back as High.
		lab(3000, 100, "HbA1c", 8.1, 4.0, 5.6, records.FlagNormal),
		lab(3001, 101, "HbA1c", 5.2, 4.0, 5.6, records.FlagNormal),
		lab(3002, 102, "Glucose", 60, 70, 99, records.FlagLow),
		lab(3003, 104, "Glucose", 150, 70, 99, records.FlagHigh),
		lab(3004, 105, "Glucose", 85, 70, 99, records.FlagNormal),
		records.LabResult{ID: 3005, VisitID: 102, TestName: "Culture", ResultValue: 1, Flag: records.FlagHigh},

		records.Billing{ID: 4000, VisitID: 100, TotalCost: 100, InsuranceCovered: 80, PatientPay: 20, PaymentStatus: records.PaymentPaid, PaidDate: day(2024, time.March, 1)},
		records.Billing{ID: 4001, VisitID: 101, TotalCost: 200, InsuranceCovered: 150, PatientPay: 50, PaymentStatus: records.PaymentPaid, PaidDate: day(2024, time.March, 31)},
		records.Billing{ID: 4002, VisitID: 102, TotalCost: 500, InsuranceCovered: 0, PatientPay: 500, PaymentStatus: records.PaymentPending},
		records.Billing{ID: 4003, VisitID: 104, TotalCost: 1000, InsuranceCovered: 900, PatientPay: 100, PaymentStatus: records.PaymentDenied},
		records.Billing{ID: 4004, VisitID: 105, TotalCost: 0, InsuranceCovered: 0, PatientPay: 0, PaymentStatus: records.PaymentPending},
	}
}

func newStore(t *testing.T, rows []records.Entity) *records.MemStore {
	t.Helper()
	s := records.NewMemStore()
	for _, e := range rows {
		require.NoError(t, s.Insert(context.Background(), e), "insert %s %d", e.EntityKind(), e.PrimaryKey())
	}
	return s
}

func newEngine(t *testing.T, rows []records.Entity) *Engine {
	t.Helper()
	return NewEngine(newStore(t, rows), Options{
		Now:    func() time.Time { return fixtureNow },
		Logger: zerolog.Nop(),
	})
}

type failingSource struct{}

func (failingSource) Snapshot(context.Context) (*records.Snapshot, error) {
	return nil, errors.New("connection refused")
}
