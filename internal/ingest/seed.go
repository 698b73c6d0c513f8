package ingest

import (
	"fmt"
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/ehr/analytics/internal/domain/records"
)

// SeedOptions sizes a synthetic data set. The same non-zero Seed and Now
// always produce the same rows; Seed 0 picks a random seed.
type SeedOptions struct {
	Seed            uint64
	Patients        int
	Doctors         int
	Visits          int
	SelfPaySentinel string
	Now             time.Time
}

func (o SeedOptions) withDefaults() SeedOptions {
	if o.Patients == 0 {
		o.Patients = 200
	}
	if o.Doctors == 0 {
		o.Doctors = 20
	}
	if o.Visits == 0 {
		o.Visits = 1000
	}
	if o.SelfPaySentinel == "" {
		o.SelfPaySentinel = "No Insurance"
	}
	if o.Now.IsZero() {
		o.Now = time.Now().UTC().Truncate(time.Minute)
	}
	return o
}

// Dataset is one generated set of rows, each slice in primary-key order.
type Dataset struct {
	RunID         string
	Patients      []records.Patient
	Doctors       []records.Doctor
	Visits        []records.Visit
	Diagnoses     []records.Diagnosis
	Prescriptions []records.Prescription
	LabResults    []records.LabResult
	Billings      []records.Billing
}

func entities[T records.Entity](rows []T) []records.Entity {
	out := make([]records.Entity, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// Rows returns the rows of one kind.
func (d *Dataset) Rows(kind records.Kind) []records.Entity {
	switch kind {
	case records.KindPatient:
		return entities(d.Patients)
	case records.KindDoctor:
		return entities(d.Doctors)
	case records.KindVisit:
		return entities(d.Visits)
	case records.KindDiagnosis:
		return entities(d.Diagnoses)
	case records.KindPrescription:
		return entities(d.Prescriptions)
	case records.KindLabResult:
		return entities(d.LabResults)
	case records.KindBilling:
		return entities(d.Billings)
	}
	return nil
}

var (
	seedCities = []string{
		"Austin", "Dallas", "Houston", "San Antonio", "El Paso", "Fort Worth",
		"Plano", "Lubbock", "Laredo", "Irving", "Amarillo", "Waco",
	}
	seedProviders = []string{"Aetna", "BlueCross", "Cigna", "Humana", "Medicare", "Medicaid", "UnitedHealth"}

	specializations = []string{
		"Family Medicine", "Internal Medicine", "Cardiology", "Endocrinology",
		"Emergency Medicine", "Pulmonology", "Nephrology", "Pediatrics",
	}

	diagnosisCatalog = []struct{ code, description string }{
		{"E11", "Type 2 diabetes mellitus"},
		{"I10", "Essential hypertension"},
		{"I50", "Heart failure"},
		{"J44", "Chronic obstructive pulmonary disease"},
		{"N18", "Chronic kidney disease"},
		{"J06", "Acute upper respiratory infection"},
		{"M54", "Dorsalgia"},
		{"R51", "Headache"},
		{"K21", "Gastro-esophageal reflux disease"},
		{"S93", "Sprain of ankle"},
		{"F41", "Anxiety disorder"},
		{"E78", "Hyperlipidemia"},
	}

	drugCatalog = []struct{ name, dosage string }{
		{"Metformin", "500 mg"},
		{"Lisinopril", "10 mg"},
		{"Atorvastatin", "20 mg"},
		{"Amlodipine", "5 mg"},
		{"Albuterol", "90 mcg"},
		{"Omeprazole", "20 mg"},
		{"Ibuprofen", "400 mg"},
		{"Amoxicillin", "500 mg"},
		{"Furosemide", "40 mg"},
		{"Sertraline", "50 mg"},
	}
	frequencies = []string{"once daily", "twice daily", "three times daily", "as needed"}

	labCatalog = []struct {
		name, unit string
		low, high  float64
	}{
		{"HbA1c", "%", 4.0, 5.6},
		{"Glucose", "mg/dL", 70, 99},
		{"Creatinine", "mg/dL", 0.6, 1.3},
		{"LDL Cholesterol", "mg/dL", 0, 100},
		{"Hemoglobin", "g/dL", 12.0, 17.5},
		{"Potassium", "mmol/L", 3.5, 5.1},
		{"TSH", "mIU/L", 0.4, 4.0},
	}

	paymentMethods = []string{"Card", "Cash", "Check", "ACH"}
)

func round(x float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(x*p) / p
}

// weighted picks one of choices with probability proportional to its weight.
func weighted[T any](f *gofakeit.Faker, choices []T, weights []int) T {
	total := 0
	for _, w := range weights {
		total += w
	}
	n := f.IntRange(0, total-1)
	for i, w := range weights {
		if n < w {
			return choices[i]
		}
		n -= w
	}
	return choices[len(choices)-1]
}

// Generate builds a referentially consistent data set: every billing row
// balances, lab flags agree with their reference ranges, about one patient
// in ten is self-pay and roughly one in twenty never visits.
func Generate(opts SeedOptions) (*Dataset, error) {
	opts = opts.withDefaults()
	if opts.Patients < 0 || opts.Doctors < 0 || opts.Visits < 0 {
		return nil, fmt.Errorf("seed sizes must not be negative")
	}
	if opts.Visits > 0 && (opts.Patients == 0 || opts.Doctors == 0) {
		return nil, fmt.Errorf("visits need at least one patient and one doctor")
	}

	f := gofakeit.New(opts.Seed)
	d := &Dataset{RunID: uuid.NewString()}

	for i := 1; i <= opts.Patients; i++ {
		dob := f.DateRange(opts.Now.AddDate(-90, 0, 0), opts.Now.AddDate(-1, 0, 0)).UTC().Truncate(24 * time.Hour)
		p := records.Patient{
			ID:          int64(i),
			FirstName:   f.FirstName(),
			LastName:    f.LastName(),
			Gender:      f.Gender(),
			DateOfBirth: &dob,
			Phone:       f.Phone(),
			Email:       f.Email(),
			Address:     f.Street(),
			City:        f.RandomString(seedCities),
			State:       "TX",
			ZipCode:     f.Zip(),
		}
		switch r := f.IntRange(1, 100); {
		case r <= 10:
			p.InsuranceProvider = opts.SelfPaySentinel
		case r <= 13:
			// no insurance on file
		default:
			p.InsuranceProvider = f.RandomString(seedProviders)
			p.InsuranceMemberID = fmt.Sprintf("MBR%08d", f.IntRange(0, 99999999))
		}
		d.Patients = append(d.Patients, p)
	}

	for i := 1; i <= opts.Doctors; i++ {
		d.Doctors = append(d.Doctors, records.Doctor{
			ID:             int64(i),
			FirstName:      f.FirstName(),
			LastName:       f.LastName(),
			Specialization: f.RandomString(specializations),
			Phone:          f.Phone(),
			Email:          f.Email(),
		})
	}

	// The last twentieth of patients never gets a visit.
	visiting := max(1, opts.Patients-opts.Patients/20)
	var diagID, rxID, labID, billID int64
	for i := 1; i <= opts.Visits; i++ {
		at := f.DateRange(opts.Now.AddDate(-2, 0, 0), opts.Now).UTC().Truncate(time.Minute)
		height := round(f.Float64Range(150, 195), 1)
		weight := round(f.Float64Range(48, 120), 1)
		hr := f.IntRange(55, 110)
		v := records.Visit{
			ID:            int64(i),
			PatientID:     int64(f.IntRange(1, visiting)),
			DoctorID:      int64(f.IntRange(1, opts.Doctors)),
			VisitDateTime: at,
			VisitType: weighted(f,
				[]records.VisitType{records.VisitOutpatient, records.VisitTelemedicine, records.VisitER, records.VisitInpatient},
				[]int{55, 20, 15, 10}),
			HeightCM:      &height,
			WeightKG:      &weight,
			BloodPressure: fmt.Sprintf("%d/%d", f.IntRange(100, 160), f.IntRange(60, 100)),
			HeartRate:     &hr,
		}
		d.Visits = append(d.Visits, v)

		codes := map[string]bool{}
		for j := range f.IntRange(1, 3) {
			dx := diagnosisCatalog[f.IntRange(0, len(diagnosisCatalog)-1)]
			if codes[dx.code] {
				continue
			}
			codes[dx.code] = true
			diagID++
			d.Diagnoses = append(d.Diagnoses, records.Diagnosis{
				ID: diagID, VisitID: v.ID, ICD10Code: dx.code, Description: dx.description, IsPrimary: j == 0,
			})
		}

		for range f.IntRange(0, 2) {
			drug := drugCatalog[f.IntRange(0, len(drugCatalog)-1)]
			rxID++
			d.Prescriptions = append(d.Prescriptions, records.Prescription{
				ID: rxID, VisitID: v.ID, DrugName: drug.name, Dosage: drug.dosage,
				Frequency:  f.RandomString(frequencies),
				DaysSupply: weighted(f, []int{7, 14, 30, 90}, []int{2, 2, 4, 2}),
				Refills:    f.IntRange(0, 3),
			})
		}

		for range f.IntRange(0, 3) {
			t := labCatalog[f.IntRange(0, len(labCatalog)-1)]
			low, high := t.low, t.high
			value := round(f.Float64Range(low*0.7, high*1.3+1), 1)
			labID++
			d.LabResults = append(d.LabResults, records.LabResult{
				ID: labID, VisitID: v.ID, TestName: t.name, ResultValue: value, Unit: t.unit,
				ReferenceLow: &low, ReferenceHigh: &high,
				Flag: records.DeriveFlag(value, &low, &high),
			})
		}

		if f.IntRange(1, 10) == 1 {
			continue
		}
		billID++
		d.Billings = append(d.Billings, billing(f, billID, v, d.Patients[v.PatientID-1], opts))
	}
	return d, nil
}

func billing(f *gofakeit.Faker, id int64, v records.Visit, p records.Patient, opts SeedOptions) records.Billing {
	var lo, hi float64
	switch v.VisitType {
	case records.VisitInpatient:
		lo, hi = 2500, 25000
	case records.VisitER:
		lo, hi = 600, 6000
	case records.VisitTelemedicine:
		lo, hi = 40, 180
	default:
		lo, hi = 90, 450
	}
	total := round(f.Float64Range(lo, hi), 2)
	covered := 0.0
	if p.InsuranceProvider != "" && p.InsuranceProvider != opts.SelfPaySentinel {
		covered = round(total*f.Float64Range(0.5, 0.95), 2)
	}
	b := records.Billing{
		ID:               id,
		VisitID:          v.ID,
		TotalCost:        total,
		InsuranceCovered: covered,
		PatientPay:       round(total-covered, 2),
		PaymentStatus: weighted(f,
			[]records.PaymentStatus{records.PaymentPaid, records.PaymentPending, records.PaymentPartial, records.PaymentDenied},
			[]int{60, 20, 10, 10}),
	}
	if b.PaymentStatus == records.PaymentPaid || b.PaymentStatus == records.PaymentPartial {
		// paid_date is a calendar date, one to ninety days after the visit's date.
		paid := v.VisitDateTime.UTC().Truncate(24*time.Hour).AddDate(0, 0, f.IntRange(1, 90))
		method := f.RandomString(paymentMethods)
		if paid.After(opts.Now) {
			b.PaymentStatus = records.PaymentPending
		} else {
			b.PaidDate, b.PaymentMethod = &paid, &method
		}
	}
	return b
}
