package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/analytics/internal/domain/records"
)

// FileName returns the CSV file a kind is read from and written to.
func FileName(kind records.Kind) string {
	switch kind {
	case records.KindDiagnosis:
		return "diagnoses.csv"
	case records.KindBilling:
		return "billing.csv"
	default:
		return string(kind) + "s.csv"
	}
}

// columns lists every column per kind in the order WriteDir emits them.
var columns = map[records.Kind][]string{
	records.KindPatient: {
		"patient_id", "first_name", "last_name", "gender", "date_of_birth", "phone", "email",
		"address", "city", "state", "zip_code", "insurance_provider", "insurance_member_id",
	},
	records.KindDoctor: {"doctor_id", "first_name", "last_name", "specialization", "phone", "email"},
	records.KindVisit: {
		"visit_id", "patient_id", "doctor_id", "visit_datetime", "visit_type",
		"height_cm", "weight_kg", "blood_pressure", "heart_rate", "notes",
	},
	records.KindDiagnosis:    {"diagnosis_id", "visit_id", "icd10_code", "description", "is_primary"},
	records.KindPrescription: {"prescription_id", "visit_id", "drug_name", "dosage", "frequency", "days_supply", "refills"},
	records.KindLabResult: {
		"lab_result_id", "visit_id", "test_name", "result_value", "unit",
		"reference_low", "reference_high", "flag",
	},
	records.KindBilling: {
		"billing_id", "visit_id", "total_cost", "insurance_covered", "patient_pay",
		"payment_status", "paid_date", "payment_method",
	},
}

// required columns must appear in the header; the rest may be omitted.
var required = map[records.Kind][]string{
	records.KindPatient:      {"patient_id", "first_name", "last_name"},
	records.KindDoctor:       {"doctor_id", "first_name", "last_name"},
	records.KindVisit:        {"visit_id", "patient_id", "doctor_id", "visit_datetime", "visit_type"},
	records.KindDiagnosis:    {"diagnosis_id", "visit_id", "icd10_code"},
	records.KindPrescription: {"prescription_id", "visit_id", "drug_name"},
	records.KindLabResult:    {"lab_result_id", "visit_id", "test_name", "result_value"},
	records.KindBilling: {
		"billing_id", "visit_id", "total_cost", "insurance_covered", "patient_pay", "payment_status",
	},
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// row reads named fields from one CSV record. The first conversion error
// sticks and later reads return zero values.
type row struct {
	cols   map[string]int
	fields []string
	err    error
}

func (r *row) str(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (r *row) fail(name, v string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("column %s: invalid value %q: %w", name, v, err)
	}
}

func (r *row) int64(name string) int64 {
	v := r.str(name)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(name, v, err)
	}
	return n
}

func (r *row) int(name string) int {
	v := r.str(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(name, v, err)
	}
	return n
}

func (r *row) optInt(name string) *int {
	if r.str(name) == "" {
		return nil
	}
	n := r.int(name)
	return &n
}

func (r *row) float(name string) float64 {
	v := r.str(name)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(name, v, err)
	}
	return f
}

func (r *row) optFloat(name string) *float64 {
	if r.str(name) == "" {
		return nil
	}
	f := r.float(name)
	return &f
}

func (r *row) bool(name string) bool {
	v := r.str(name)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(name, v, err)
	}
	return b
}

func (r *row) time(name string) time.Time {
	v := r.str(name)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC()
		}
	}
	r.fail(name, v, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD[ HH:MM[:SS]]"))
	return time.Time{}
}

func (r *row) optTime(name string) *time.Time {
	if r.str(name) == "" {
		return nil
	}
	t := r.time(name)
	return &t
}

func (r *row) optStr(name string) *string {
	v := r.str(name)
	if v == "" {
		return nil
	}
	return &v
}

// decode builds the entity of kind from r.
func decode(kind records.Kind, r *row) (records.Entity, error) {
	var e records.Entity
	switch kind {
	case records.KindPatient:
		e = records.Patient{
			ID:                r.int64("patient_id"),
			FirstName:         r.str("first_name"),
			LastName:          r.str("last_name"),
			Gender:            r.str("gender"),
			DateOfBirth:       r.optTime("date_of_birth"),
			Phone:             r.str("phone"),
			Email:             r.str("email"),
			Address:           r.str("address"),
			City:              r.str("city"),
			State:             r.str("state"),
			ZipCode:           r.str("zip_code"),
			InsuranceProvider: r.str("insurance_provider"),
			InsuranceMemberID: r.str("insurance_member_id"),
		}
	case records.KindDoctor:
		e = records.Doctor{
			ID:             r.int64("doctor_id"),
			FirstName:      r.str("first_name"),
			LastName:       r.str("last_name"),
			Specialization: r.str("specialization"),
			Phone:          r.str("phone"),
			Email:          r.str("email"),
		}
	case records.KindVisit:
		e = records.Visit{
			ID:            r.int64("visit_id"),
			PatientID:     r.int64("patient_id"),
			DoctorID:      r.int64("doctor_id"),
			VisitDateTime: r.time("visit_datetime"),
			VisitType:     records.VisitType(r.str("visit_type")),
			HeightCM:      r.optFloat("height_cm"),
			WeightKG:      r.optFloat("weight_kg"),
			BloodPressure: r.str("blood_pressure"),
			HeartRate:     r.optInt("heart_rate"),
			Notes:         r.str("notes"),
		}
	case records.KindDiagnosis:
		e = records.Diagnosis{
			ID:          r.int64("diagnosis_id"),
			VisitID:     r.int64("visit_id"),
			ICD10Code:   r.str("icd10_code"),
			Description: r.str("description"),
			IsPrimary:   r.bool("is_primary"),
		}
	case records.KindPrescription:
		e = records.Prescription{
			ID:         r.int64("prescription_id"),
			VisitID:    r.int64("visit_id"),
			DrugName:   r.str("drug_name"),
			Dosage:     r.str("dosage"),
			Frequency:  r.str("frequency"),
			DaysSupply: r.int("days_supply"),
			Refills:    r.int("refills"),
		}
	case records.KindLabResult:
		e = records.LabResult{
			ID:            r.int64("lab_result_id"),
			VisitID:       r.int64("visit_id"),
			TestName:      r.str("test_name"),
			ResultValue:   r.float("result_value"),
			Unit:          r.str("unit"),
			ReferenceLow:  r.optFloat("reference_low"),
			ReferenceHigh: r.optFloat("reference_high"),
			Flag:          records.LabFlag(r.str("flag")),
		}
	case records.KindBilling:
		e = records.Billing{
			ID:               r.int64("billing_id"),
			VisitID:          r.int64("visit_id"),
			TotalCost:        r.float("total_cost"),
			InsuranceCovered: r.float("insurance_covered"),
			PatientPay:       r.float("patient_pay"),
			PaymentStatus:    records.PaymentStatus(r.str("payment_status")),
			PaidDate:         r.optTime("paid_date"),
			PaymentMethod:    r.optStr("payment_method"),
		}
	default:
		return nil, fmt.Errorf("unknown record kind: %q", kind)
	}
	if r.err != nil {
		return nil, r.err
	}
	return e, nil
}

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func fmtOptFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return fmtFloat(*f)
}

func fmtOptTime(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(layout)
}

// encode is the inverse of decode, in columns order.
func encode(e records.Entity) []string {
	switch v := e.(type) {
	case records.Patient:
		return []string{
			strconv.FormatInt(v.ID, 10), v.FirstName, v.LastName, v.Gender,
			fmtOptTime(v.DateOfBirth, time.DateOnly), v.Phone, v.Email, v.Address,
			v.City, v.State, v.ZipCode, v.InsuranceProvider, v.InsuranceMemberID,
		}
	case records.Doctor:
		return []string{strconv.FormatInt(v.ID, 10), v.FirstName, v.LastName, v.Specialization, v.Phone, v.Email}
	case records.Visit:
		hr := ""
		if v.HeartRate != nil {
			hr = strconv.Itoa(*v.HeartRate)
		}
		return []string{
			strconv.FormatInt(v.ID, 10), strconv.FormatInt(v.PatientID, 10), strconv.FormatInt(v.DoctorID, 10),
			v.VisitDateTime.UTC().Format(time.RFC3339), string(v.VisitType),
			fmtOptFloat(v.HeightCM), fmtOptFloat(v.WeightKG), v.BloodPressure, hr, v.Notes,
		}
	case records.Diagnosis:
		return []string{
			strconv.FormatInt(v.ID, 10), strconv.FormatInt(v.VisitID, 10),
			v.ICD10Code, v.Description, strconv.FormatBool(v.IsPrimary),
		}
	case records.Prescription:
		return []string{
			strconv.FormatInt(v.ID, 10), strconv.FormatInt(v.VisitID, 10), v.DrugName,
			v.Dosage, v.Frequency, strconv.Itoa(v.DaysSupply), strconv.Itoa(v.Refills),
		}
	case records.LabResult:
		return []string{
			strconv.FormatInt(v.ID, 10), strconv.FormatInt(v.VisitID, 10), v.TestName,
			fmtFloat(v.ResultValue), v.Unit, fmtOptFloat(v.ReferenceLow), fmtOptFloat(v.ReferenceHigh), string(v.Flag),
		}
	case records.Billing:
		method := ""
		if v.PaymentMethod != nil {
			method = *v.PaymentMethod
		}
		return []string{
			strconv.FormatInt(v.ID, 10), strconv.FormatInt(v.VisitID, 10),
			fmtFloat(v.TotalCost), fmtFloat(v.InsuranceCovered), fmtFloat(v.PatientPay),
			string(v.PaymentStatus), fmtOptTime(v.PaidDate, time.RFC3339), method,
		}
	}
	return nil
}
