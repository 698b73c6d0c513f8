package records

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// Predicate filters entities in Query. A nil predicate matches everything.
type Predicate func(Entity) bool

// Store holds the seven record collections and enforces referential
// integrity between them.
type Store interface {
	Insert(ctx context.Context, e Entity) error
	Get(ctx context.Context, kind Kind, id int64) (Entity, error)
	// Query yields matching entities in primary-key order. Each range over the
	// returned sequence re-reads current state.
	Query(ctx context.Context, kind Kind, pred Predicate) iter.Seq2[Entity, error]
	// DeleteVisit removes a visit and its diagnoses.
	DeleteVisit(ctx context.Context, id int64) error
	RecordPayment(ctx context.Context, visitID int64, u PaymentUpdate) error

	VisitsByPatient(ctx context.Context, patientID int64) ([]Visit, error)
	VisitsByDoctor(ctx context.Context, doctorID int64) ([]Visit, error)
	VisitDetail(ctx context.Context, visitID int64) (*VisitDetail, error)

	Snapshot(ctx context.Context) (*Snapshot, error)
	Close()
}

// Snapshot is one consistent view of every collection, each ordered by
// primary key. It must not be modified.
type Snapshot struct {
	Patients      []Patient
	Doctors       []Doctor
	Visits        []Visit
	Diagnoses     []Diagnosis
	Prescriptions []Prescription
	LabResults    []LabResult
	Billings      []Billing
	TakenAt       time.Time
}

// Counts returns the number of rows per kind.
func (s *Snapshot) Counts() map[Kind]int {
	return map[Kind]int{
		KindPatient:      len(s.Patients),
		KindDoctor:       len(s.Doctors),
		KindVisit:        len(s.Visits),
		KindDiagnosis:    len(s.Diagnoses),
		KindPrescription: len(s.Prescriptions),
		KindLabResult:    len(s.LabResults),
		KindBilling:      len(s.Billings),
	}
}

// GetAs fetches one entity and asserts its concrete type.
func GetAs[T Entity](ctx context.Context, s Store, id int64) (T, error) {
	var zero T
	e, err := s.Get(ctx, zero.EntityKind(), id)
	if err != nil {
		return zero, err
	}
	v, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("%s %d: unexpected type %T", zero.EntityKind(), id, e)
	}
	return v, nil
}

// QueryAs is the typed form of Store.Query.
func QueryAs[T Entity](ctx context.Context, s Store, pred func(T) bool) iter.Seq2[T, error] {
	var zero T
	var p Predicate
	if pred != nil {
		p = func(e Entity) bool {
			v, ok := e.(T)
			return ok && pred(v)
		}
	}
	src := s.Query(ctx, zero.EntityKind(), p)
	return func(yield func(T, error) bool) {
		for e, err := range src {
			if err != nil {
				yield(zero, err)
				return
			}
			v, ok := e.(T)
			if !ok {
				yield(zero, fmt.Errorf("%s: unexpected type %T", zero.EntityKind(), e))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Collect drains a typed query into a slice.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
