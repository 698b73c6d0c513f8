package records

import (
	"fmt"
	"math"
	"time"
)

// Kind names one of the seven record collections.
type Kind string

const (
	KindPatient      Kind = "patient"
	KindDoctor       Kind = "doctor"
	KindVisit        Kind = "visit"
	KindDiagnosis    Kind = "diagnosis"
	KindPrescription Kind = "prescription"
	KindLabResult    Kind = "lab_result"
	KindBilling      Kind = "billing"
)

// Kinds lists every collection in load order: parents before children.
var Kinds = []Kind{
	KindPatient, KindDoctor, KindVisit,
	KindDiagnosis, KindPrescription, KindLabResult, KindBilling,
}

// ParseKind accepts the singular kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown record kind: %q", s)
}

// Entity is implemented by every stored record.
type Entity interface {
	EntityKind() Kind
	PrimaryKey() int64
}

type VisitType string

const (
	VisitOutpatient   VisitType = "Outpatient"
	VisitInpatient    VisitType = "Inpatient"
	VisitER           VisitType = "ER"
	VisitTelemedicine VisitType = "Telemedicine"
)

// VisitTypes is the fixed set of encounter types in display order.
var VisitTypes = []VisitType{VisitOutpatient, VisitInpatient, VisitER, VisitTelemedicine}

func (t VisitType) Valid() bool {
	switch t {
	case VisitOutpatient, VisitInpatient, VisitER, VisitTelemedicine:
		return true
	}
	return false
}

type LabFlag string

const (
	FlagLow    LabFlag = "Low"
	FlagNormal LabFlag = "Normal"
	FlagHigh   LabFlag = "High"
)

func (f LabFlag) Valid() bool {
	return f == FlagLow || f == FlagNormal || f == FlagHigh
}

// Abnormal reports whether the flag is outside the reference range.
func (f LabFlag) Abnormal() bool {
	return f == FlagLow || f == FlagHigh
}

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "Paid"
	PaymentPending PaymentStatus = "Pending"
	PaymentDenied  PaymentStatus = "Denied"
	PaymentPartial PaymentStatus = "Partial"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPaid, PaymentPending, PaymentDenied, PaymentPartial:
		return true
	}
	return false
}

// Patient maps to the patients table.
type Patient struct {
	ID                int64      `db:"patient_id" json:"patient_id"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	Gender            string     `db:"gender" json:"gender,omitempty"`
	DateOfBirth       *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Phone             string     `db:"phone" json:"phone,omitempty"`
	Email             string     `db:"email" json:"email,omitempty"`
	Address           string     `db:"address" json:"address,omitempty"`
	City              string     `db:"city" json:"city,omitempty"`
	State             string     `db:"state" json:"state,omitempty"`
	ZipCode           string     `db:"zip_code" json:"zip_code,omitempty"`
	InsuranceProvider string     `db:"insurance_provider" json:"insurance_provider,omitempty"`
	InsuranceMemberID string     `db:"insurance_member_id" json:"insurance_member_id,omitempty"`
}

func (p Patient) EntityKind() Kind  { return KindPatient }
func (p Patient) PrimaryKey() int64 { return p.ID }

// Doctor maps to the doctors table.
type Doctor struct {
	ID             int64  `db:"doctor_id" json:"doctor_id"`
	FirstName      string `db:"first_name" json:"first_name"`
	LastName       string `db:"last_name" json:"last_name"`
	Specialization string `db:"specialization" json:"specialization,omitempty"`
	Phone          string `db:"phone" json:"phone,omitempty"`
	Email          string `db:"email" json:"email,omitempty"`
}

func (d Doctor) EntityKind() Kind  { return KindDoctor }
func (d Doctor) PrimaryKey() int64 { return d.ID }

// Visit is one encounter between a patient and a doctor.
type Visit struct {
	ID            int64     `db:"visit_id" json:"visit_id"`
	PatientID     int64     `db:"patient_id" json:"patient_id"`
	DoctorID      int64     `db:"doctor_id" json:"doctor_id"`
	VisitDateTime time.Time `db:"visit_datetime" json:"visit_datetime"`
	VisitType     VisitType `db:"visit_type" json:"visit_type"`
	HeightCM      *float64  `db:"height_cm" json:"height_cm,omitempty"`
	WeightKG      *float64  `db:"weight_kg" json:"weight_kg,omitempty"`
	BloodPressure string    `db:"blood_pressure" json:"blood_pressure,omitempty"`
	HeartRate     *int      `db:"heart_rate" json:"heart_rate,omitempty"`
	Notes         string    `db:"notes" json:"notes,omitempty"`
}

func (v Visit) EntityKind() Kind  { return KindVisit }
func (v Visit) PrimaryKey() int64 { return v.ID }

// Diagnosis is an ICD-10 coded finding recorded on a visit. IsPrimary is
// advisory: several rows on one visit may carry it.
type Diagnosis struct {
	ID          int64  `db:"diagnosis_id" json:"diagnosis_id"`
	VisitID     int64  `db:"visit_id" json:"visit_id"`
	ICD10Code   string `db:"icd10_code" json:"icd10_code"`
	Description string `db:"description" json:"description,omitempty"`
	IsPrimary   bool   `db:"is_primary" json:"is_primary"`
}

func (d Diagnosis) EntityKind() Kind  { return KindDiagnosis }
func (d Diagnosis) PrimaryKey() int64 { return d.ID }

type Prescription struct {
	ID         int64  `db:"prescription_id" json:"prescription_id"`
	VisitID    int64  `db:"visit_id" json:"visit_id"`
	DrugName   string `db:"drug_name" json:"drug_name"`
	Dosage     string `db:"dosage" json:"dosage,omitempty"`
	Frequency  string `db:"frequency" json:"frequency,omitempty"`
	DaysSupply int    `db:"days_supply" json:"days_supply"`
	Refills    int    `db:"refills" json:"refills"`
}

func (p Prescription) EntityKind() Kind  { return KindPrescription }
func (p Prescription) PrimaryKey() int64 { return p.ID }

type LabResult struct {
	ID            int64    `db:"lab_result_id" json:"lab_result_id"`
	VisitID       int64    `db:"visit_id" json:"visit_id"`
	TestName      string   `db:"test_name" json:"test_name"`
	ResultValue   float64  `db:"result_value" json:"result_value"`
	Unit          string   `db:"unit" json:"unit,omitempty"`
	ReferenceLow  *float64 `db:"reference_low" json:"reference_low,omitempty"`
	ReferenceHigh *float64 `db:"reference_high" json:"reference_high,omitempty"`
	Flag          LabFlag  `db:"flag" json:"flag,omitempty"`
}

func (l LabResult) EntityKind() Kind  { return KindLabResult }
func (l LabResult) PrimaryKey() int64 { return l.ID }

// EffectiveFlag derives the flag from the reference range. The stored flag is
// only used when the row carries no range at all.
func (l LabResult) EffectiveFlag() LabFlag {
	if l.ReferenceLow == nil && l.ReferenceHigh == nil {
		return l.Flag
	}
	return DeriveFlag(l.ResultValue, l.ReferenceLow, l.ReferenceHigh)
}

// DeriveFlag classifies value against an optionally open reference range.
// Bounds are inclusive.
func DeriveFlag(value float64, low, high *float64) LabFlag {
	if low != nil && value < *low {
		return FlagLow
	}
	if high != nil && value > *high {
		return FlagHigh
	}
	return FlagNormal
}

// Billing is the single charge record of a visit.
type Billing struct {
	ID               int64         `db:"billing_id" json:"billing_id"`
	VisitID          int64         `db:"visit_id" json:"visit_id"`
	TotalCost        float64       `db:"total_cost" json:"total_cost"`
	InsuranceCovered float64       `db:"insurance_covered" json:"insurance_covered"`
	PatientPay       float64       `db:"patient_pay" json:"patient_pay"`
	PaymentStatus    PaymentStatus `db:"payment_status" json:"payment_status"`
	PaidDate         *time.Time    `db:"paid_date" json:"paid_date,omitempty"`
	PaymentMethod    *string       `db:"payment_method" json:"payment_method,omitempty"`
}

func (b Billing) EntityKind() Kind  { return KindBilling }
func (b Billing) PrimaryKey() int64 { return b.ID }

// Balanced reports whether total_cost equals covered plus patient pay to the cent.
func (b Billing) Balanced() bool {
	return math.Abs(b.TotalCost-(b.InsuranceCovered+b.PatientPay)) < 0.005
}

// PaymentUpdate carries the mutable part of a Billing row.
type PaymentUpdate struct {
	Status   PaymentStatus `json:"payment_status"`
	PaidDate *time.Time    `json:"paid_date,omitempty"`
	Method   *string       `json:"payment_method,omitempty"`
}

// normalized validates u and truncates PaidDate to its calendar date.
func (u PaymentUpdate) normalized(visitID int64) (PaymentUpdate, error) {
	if !u.Status.Valid() {
		return u, integrity(KindBilling, visitID, "invalid payment_status "+string(u.Status))
	}
	if err := checkSettlement(visitID, u.Status, u.PaidDate, u.Method); err != nil {
		return u, err
	}
	u.PaidDate = calendarDate(u.PaidDate)
	return u, nil
}

// Settled reports whether a billing in this status may carry a paid date
// and payment method.
func (s PaymentStatus) Settled() bool {
	return s == PaymentPaid || s == PaymentPartial
}

// paid_date and payment_method stay empty until a payment is recorded.
func checkSettlement(id int64, status PaymentStatus, paid *time.Time, method *string) error {
	if status.Settled() {
		return nil
	}
	if paid != nil {
		return integrity(KindBilling, id, fmt.Sprintf("paid_date must be empty while payment is %s", status))
	}
	if method != nil {
		return integrity(KindBilling, id, fmt.Sprintf("payment_method must be empty while payment is %s", status))
	}
	return nil
}

// calendarDate keeps only the UTC date of t, matching the DATE column.
func calendarDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	y, m, d := t.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &day
}

// normalize returns e as it is stored.
func normalize(e Entity) Entity {
	if b, ok := e.(Billing); ok {
		b.PaidDate = calendarDate(b.PaidDate)
		return b
	}
	return e
}

// VisitDetail is a visit together with every child row that references it.
type VisitDetail struct {
	Visit         Visit          `json:"visit"`
	Diagnoses     []Diagnosis    `json:"diagnoses"`
	Prescriptions []Prescription `json:"prescriptions"`
	LabResults    []LabResult    `json:"lab_results"`
	Billing       *Billing       `json:"billing,omitempty"`
}

// validate checks the invariants an insert must satisfy before any foreign
// key is looked up.
func validate(e Entity) error {
	switch v := e.(type) {
	case Patient:
		if v.FirstName == "" && v.LastName == "" {
			return integrity(KindPatient, v.ID, "patient name is required")
		}
	case Doctor:
		if v.FirstName == "" && v.LastName == "" {
			return integrity(KindDoctor, v.ID, "doctor name is required")
		}
	case Visit:
		if v.VisitDateTime.IsZero() {
			return integrity(KindVisit, v.ID, "visit_datetime is required")
		}
		if !v.VisitType.Valid() {
			return integrity(KindVisit, v.ID, fmt.Sprintf("invalid visit_type %q", v.VisitType))
		}
	case Diagnosis:
		if v.ICD10Code == "" {
			return integrity(KindDiagnosis, v.ID, "icd10_code is required")
		}
	case Prescription:
		if v.DrugName == "" {
			return integrity(KindPrescription, v.ID, "drug_name is required")
		}
	case LabResult:
		if v.TestName == "" {
			return integrity(KindLabResult, v.ID, "test_name is required")
		}
		if v.Flag != "" && !v.Flag.Valid() {
			return integrity(KindLabResult, v.ID, fmt.Sprintf("invalid flag %q", v.Flag))
		}
	case Billing:
		if !v.PaymentStatus.Valid() {
			return integrity(KindBilling, v.ID, fmt.Sprintf("invalid payment_status %q", v.PaymentStatus))
		}
		if err := checkSettlement(v.ID, v.PaymentStatus, v.PaidDate, v.PaymentMethod); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported entity type %T", e)
	}
	return nil
}
