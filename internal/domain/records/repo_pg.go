package records

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore is the PostgreSQL Store. Key and reference rules live in the schema
// (see platform/db/migrations); driver errors are translated here.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Close() { s.pool.Close() }

// =========== Columns and scanners ===========

const patientCols = `patient_id, first_name, last_name, COALESCE(gender, ''), date_of_birth,
	COALESCE(phone, ''), COALESCE(email, ''), COALESCE(address, ''), COALESCE(city, ''),
	COALESCE(state, ''), COALESCE(zip_code, ''), COALESCE(insurance_provider, ''),
	COALESCE(insurance_member_id, '')`

func scanPatient(row pgx.Row) (Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Gender, &p.DateOfBirth,
		&p.Phone, &p.Email, &p.Address, &p.City,
		&p.State, &p.ZipCode, &p.InsuranceProvider,
		&p.InsuranceMemberID)
	return p, err
}

const doctorCols = `doctor_id, first_name, last_name, COALESCE(specialization, ''),
	COALESCE(phone, ''), COALESCE(email, '')`

func scanDoctor(row pgx.Row) (Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.FirstName, &d.LastName, &d.Specialization, &d.Phone, &d.Email)
	return d, err
}

const visitCols = `visit_id, patient_id, doctor_id, visit_datetime, visit_type,
	height_cm, weight_kg, COALESCE(blood_pressure, ''), heart_rate, COALESCE(notes, '')`

func scanVisit(row pgx.Row) (Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.PatientID, &v.DoctorID, &v.VisitDateTime, &v.VisitType,
		&v.HeightCM, &v.WeightKG, &v.BloodPressure, &v.HeartRate, &v.Notes)
	v.VisitDateTime = v.VisitDateTime.UTC()
	return v, err
}

const diagnosisCols = `diagnosis_id, visit_id, icd10_code, COALESCE(description, ''), is_primary`

func scanDiagnosis(row pgx.Row) (Diagnosis, error) {
	var d Diagnosis
	err := row.Scan(&d.ID, &d.VisitID, &d.ICD10Code, &d.Description, &d.IsPrimary)
	return d, err
}

const prescriptionCols = `prescription_id, visit_id, drug_name, COALESCE(dosage, ''),
	COALESCE(frequency, ''), days_supply, refills`

func scanPrescription(row pgx.Row) (Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.VisitID, &p.DrugName, &p.Dosage, &p.Frequency, &p.DaysSupply, &p.Refills)
	return p, err
}

const labResultCols = `lab_result_id, visit_id, test_name, result_value, COALESCE(unit, ''),
	reference_low, reference_high, COALESCE(flag, '')`

func scanLabResult(row pgx.Row) (LabResult, error) {
	var l LabResult
	err := row.Scan(&l.ID, &l.VisitID, &l.TestName, &l.ResultValue, &l.Unit,
		&l.ReferenceLow, &l.ReferenceHigh, &l.Flag)
	return l, err
}

const billingCols = `billing_id, visit_id, total_cost::float8, insurance_covered::float8,
	patient_pay::float8, payment_status, paid_date, payment_method`

func scanBilling(row pgx.Row) (Billing, error) {
	var b Billing
	err := row.Scan(&b.ID, &b.VisitID, &b.TotalCost, &b.InsuranceCovered,
		&b.PatientPay, &b.PaymentStatus, &b.PaidDate, &b.PaymentMethod)
	return b, err
}

type tableDef struct {
	name string
	pk   string
	cols string
	scan func(pgx.Row) (Entity, error)
}

func entityScanner[T Entity](scan func(pgx.Row) (T, error)) func(pgx.Row) (Entity, error) {
	return func(row pgx.Row) (Entity, error) {
		v, err := scan(row)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

var tables = map[Kind]tableDef{
	KindPatient:      {"patients", "patient_id", patientCols, entityScanner(scanPatient)},
	KindDoctor:       {"doctors", "doctor_id", doctorCols, entityScanner(scanDoctor)},
	KindVisit:        {"visits", "visit_id", visitCols, entityScanner(scanVisit)},
	KindDiagnosis:    {"diagnoses", "diagnosis_id", diagnosisCols, entityScanner(scanDiagnosis)},
	KindPrescription: {"prescriptions", "prescription_id", prescriptionCols, entityScanner(scanPrescription)},
	KindLabResult:    {"lab_results", "lab_result_id", labResultCols, entityScanner(scanLabResult)},
	KindBilling:      {"billing", "billing_id", billingCols, entityScanner(scanBilling)},
}

func tableFor(kind Kind) (tableDef, error) {
	t, ok := tables[kind]
	if !ok {
		return tableDef{}, fmt.Errorf("unknown record kind: %q", kind)
	}
	return t, nil
}

// translate maps driver errors onto the store's error kinds.
func translate(kind Kind, id int64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(kind, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return integrity(kind, id, "foreign key violation: "+pgErr.ConstraintName)
		case "23505":
			return integrity(kind, id, "unique violation: "+pgErr.ConstraintName)
		case "23502":
			return integrity(kind, id, "missing required column "+pgErr.ColumnName)
		case "23514":
			return integrity(kind, id, "check violation: "+pgErr.ConstraintName)
		}
	}
	return err
}

// =========== Writes ===========

func (s *PGStore) Insert(ctx context.Context, e Entity) error {
	if err := validate(e); err != nil {
		return err
	}
	e = normalize(e)

	var err error
	switch v := e.(type) {
	case Patient:
		_, err = s.pool.Exec(ctx, `
			INSERT INTO patients (patient_id, first_name, last_name, gender, date_of_birth,
				phone, email, address, city, state, zip_code,
				insurance_provider, insurance_member_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			v.ID, v.FirstName, v.LastName, nullable(v.Gender), v.DateOfBirth,
			nullable(v.Phone), nullable(v.Email), nullable(v.Address), nullable(v.City),
			nullable(v.State), nullable(v.ZipCode),
			nullable(v.InsuranceProvider), nullable(v.InsuranceMemberID))
	case Doctor:
		_, err = s.pool.Exec(ctx, `
			INSERT INTO doctors (doctor_id, first_name, last_name, specialization, phone, email)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			v.ID, v.FirstName, v.LastName, nullable(v.Specialization), nullable(v.Phone), nullable(v.Email))
	case Visit:
		_, err = s.pool.Exec(ctx, `
			INSERT INTO visits (visit_id, patient_id, doctor_id, visit_datetime, visit_type,
				height_cm, weight_kg, blood_pressure, heart_rate, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			v.ID, v.PatientID, v.DoctorID, v.VisitDateTime, string(v.VisitType),
			v.HeightCM, v.WeightKG, nullable(v.BloodPressure), v.HeartRate, nullable(v.Notes))
	case Diagnosis:
		_, err = s.pool.Exec(ctx, `
			INSERT INTO diagnoses (diagnosis_id, visit_id, icd10_code, description, is_primary)
			VALUES ($1,$2,$3,$4,$5)`,
			v.ID, v.VisitID, v.ICD10Code, nullable(v.Description), v.IsPrimary)
	case Prescription:
		_, err = s.pool.Exec(ctx, `
			INSERT INTO prescriptions (prescription_id, visit_id, drug_name, dosage, frequency,
				days_supply, refills)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			v.ID, v.VisitID, v.DrugName, nullable(v.Dosage), nullable(v.Frequency),
			v.DaysSupply, v.Refills)
	case LabResult:
		_, err = s.pool.Exec(ctx, `
			INSERT INTO lab_results (lab_result_id, visit_id, test_name, result_value, unit,
				reference_low, reference_high, flag)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			v.ID, v.VisitID, v.TestName, v.ResultValue, nullable(v.Unit),
			v.ReferenceLow, v.ReferenceHigh, nullable(string(v.Flag)))
	case Billing:
		_, err = s.pool.Exec(ctx, `
			INSERT INTO billing (billing_id, visit_id, total_cost, insurance_covered, patient_pay,
				payment_status, paid_date, payment_method)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			v.ID, v.VisitID, v.TotalCost, v.InsuranceCovered, v.PatientPay,
			string(v.PaymentStatus), v.PaidDate, v.PaymentMethod)
	}
	return translate(e.EntityKind(), e.PrimaryKey(), err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DeleteVisit relies on ON DELETE CASCADE for diagnoses; the remaining child
// tables restrict the delete.
func (s *PGStore) DeleteVisit(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM visits WHERE visit_id = $1`, id)
	if err != nil {
		return translate(KindVisit, id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(KindVisit, id)
	}
	return nil
}

func (s *PGStore) RecordPayment(ctx context.Context, visitID int64, u PaymentUpdate) error {
	u, err := u.normalized(visitID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE billing SET payment_status = $2, paid_date = $3, payment_method = $4
		WHERE visit_id = $1`,
		visitID, string(u.Status), u.PaidDate, u.Method)
	if err != nil {
		return translate(KindBilling, visitID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(KindBilling, visitID)
	}
	return nil
}

// =========== Reads ===========

func (s *PGStore) Get(ctx context.Context, kind Kind, id int64) (Entity, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	e, err := t.scan(s.pool.QueryRow(ctx,
		`SELECT `+t.cols+` FROM `+t.name+` WHERE `+t.pk+` = $1`, id))
	if err != nil {
		return nil, translate(kind, id, err)
	}
	return e, nil
}

func (s *PGStore) Query(ctx context.Context, kind Kind, pred Predicate) iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		t, err := tableFor(kind)
		if err != nil {
			yield(nil, err)
			return
		}
		rows, err := s.pool.Query(ctx, `SELECT `+t.cols+` FROM `+t.name+` ORDER BY `+t.pk)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			e, err := t.scan(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if pred != nil && !pred(e) {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (s *PGStore) VisitsByPatient(ctx context.Context, patientID int64) ([]Visit, error) {
	if _, err := s.Get(ctx, KindPatient, patientID); err != nil {
		return nil, err
	}
	return collectRows(ctx, s.pool,
		`SELECT `+visitCols+` FROM visits WHERE patient_id = $1 ORDER BY visit_id`, scanVisit, patientID)
}

func (s *PGStore) VisitsByDoctor(ctx context.Context, doctorID int64) ([]Visit, error) {
	if _, err := s.Get(ctx, KindDoctor, doctorID); err != nil {
		return nil, err
	}
	return collectRows(ctx, s.pool,
		`SELECT `+visitCols+` FROM visits WHERE doctor_id = $1 ORDER BY visit_id`, scanVisit, doctorID)
}

func (s *PGStore) VisitDetail(ctx context.Context, visitID int64) (*VisitDetail, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := scanVisit(tx.QueryRow(ctx, `SELECT `+visitCols+` FROM visits WHERE visit_id = $1`, visitID))
	if err != nil {
		return nil, translate(KindVisit, visitID, err)
	}
	d := &VisitDetail{Visit: v}
	if d.Diagnoses, err = collectRows(ctx, tx,
		`SELECT `+diagnosisCols+` FROM diagnoses WHERE visit_id = $1 ORDER BY diagnosis_id`, scanDiagnosis, visitID); err != nil {
		return nil, err
	}
	if d.Prescriptions, err = collectRows(ctx, tx,
		`SELECT `+prescriptionCols+` FROM prescriptions WHERE visit_id = $1 ORDER BY prescription_id`, scanPrescription, visitID); err != nil {
		return nil, err
	}
	if d.LabResults, err = collectRows(ctx, tx,
		`SELECT `+labResultCols+` FROM lab_results WHERE visit_id = $1 ORDER BY lab_result_id`, scanLabResult, visitID); err != nil {
		return nil, err
	}
	b, err := scanBilling(tx.QueryRow(ctx, `SELECT `+billingCols+` FROM billing WHERE visit_id = $1`, visitID))
	switch {
	case err == nil:
		d.Billing = &b
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, err
	}
	return d, tx.Commit(ctx)
}

// Snapshot reads every table inside one REPEATABLE READ, READ ONLY
// transaction so all collections reflect the same committed state.
func (s *PGStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	snap := &Snapshot{}
	if err := tx.QueryRow(ctx, `SELECT NOW()`).Scan(&snap.TakenAt); err != nil {
		return nil, fmt.Errorf("snapshot clock: %w", err)
	}
	if snap.Patients, err = loadAll(ctx, tx, KindPatient, scanPatient); err != nil {
		return nil, err
	}
	if snap.Doctors, err = loadAll(ctx, tx, KindDoctor, scanDoctor); err != nil {
		return nil, err
	}
	if snap.Visits, err = loadAll(ctx, tx, KindVisit, scanVisit); err != nil {
		return nil, err
	}
	if snap.Diagnoses, err = loadAll(ctx, tx, KindDiagnosis, scanDiagnosis); err != nil {
		return nil, err
	}
	if snap.Prescriptions, err = loadAll(ctx, tx, KindPrescription, scanPrescription); err != nil {
		return nil, err
	}
	if snap.LabResults, err = loadAll(ctx, tx, KindLabResult, scanLabResult); err != nil {
		return nil, err
	}
	if snap.Billings, err = loadAll(ctx, tx, KindBilling, scanBilling); err != nil {
		return nil, err
	}
	snap.TakenAt = snap.TakenAt.In(time.UTC)
	return snap, tx.Commit(ctx)
}

func loadAll[T any](ctx context.Context, q queryable, kind Kind, scan func(pgx.Row) (T, error)) ([]T, error) {
	t := tables[kind]
	out, err := collectRows(ctx, q, `SELECT `+t.cols+` FROM `+t.name+` ORDER BY `+t.pk, scan)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", t.name, err)
	}
	return out, nil
}

func collectRows[T any](ctx context.Context, q queryable, sql string, scan func(pgx.Row) (T, error), args ...interface{}) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}
