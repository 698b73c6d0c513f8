package records

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"
)

type idSet map[int64]struct{}

func (s idSet) add(id int64)    { s[id] = struct{}{} }
func (s idSet) remove(id int64) { delete(s, id) }

func (s idSet) sorted() []int64 {
	return slices.Sorted(maps.Keys(s))
}

// index maps a parent key to the child keys that reference it.
type index map[int64]idSet

func (ix index) add(parent, child int64) {
	set, ok := ix[parent]
	if !ok {
		set = idSet{}
		ix[parent] = set
	}
	set.add(child)
}

func (ix index) remove(parent, child int64) {
	if set, ok := ix[parent]; ok {
		set.remove(child)
		if len(set) == 0 {
			delete(ix, parent)
		}
	}
}

// MemStore is a process-scoped in-memory Store. Readers share an RWMutex with
// the single writer, so a Snapshot never mixes pre- and post-update rows.
type MemStore struct {
	mu sync.RWMutex

	patients      map[int64]Patient
	doctors       map[int64]Doctor
	visits        map[int64]Visit
	diagnoses     map[int64]Diagnosis
	prescriptions map[int64]Prescription
	labResults    map[int64]LabResult
	billings      map[int64]Billing

	visitsByPatient      index
	visitsByDoctor       index
	diagnosesByVisit     index
	prescriptionsByVisit index
	labResultsByVisit    index
	billingByVisit       map[int64]int64
	now                  func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		patients:             map[int64]Patient{},
		doctors:              map[int64]Doctor{},
		visits:               map[int64]Visit{},
		diagnoses:            map[int64]Diagnosis{},
		prescriptions:        map[int64]Prescription{},
		labResults:           map[int64]LabResult{},
		billings:             map[int64]Billing{},
		visitsByPatient:      index{},
		visitsByDoctor:       index{},
		diagnosesByVisit:     index{},
		prescriptionsByVisit: index{},
		labResultsByVisit:    index{},
		billingByVisit:       map[int64]int64{},
		now:                  time.Now,
	}
}

func (s *MemStore) Close() {}

func (s *MemStore) Insert(_ context.Context, e Entity) error {
	if err := validate(e); err != nil {
		return err
	}
	e = normalize(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := e.(type) {
	case Patient:
		if _, ok := s.patients[v.ID]; ok {
			return integrity(KindPatient, v.ID, "duplicate primary key")
		}
		s.patients[v.ID] = v
	case Doctor:
		if _, ok := s.doctors[v.ID]; ok {
			return integrity(KindDoctor, v.ID, "duplicate primary key")
		}
		s.doctors[v.ID] = v
	case Visit:
		if _, ok := s.visits[v.ID]; ok {
			return integrity(KindVisit, v.ID, "duplicate primary key")
		}
		if _, ok := s.patients[v.PatientID]; !ok {
			return integrity(KindVisit, v.ID, "referenced patient does not exist")
		}
		if _, ok := s.doctors[v.DoctorID]; !ok {
			return integrity(KindVisit, v.ID, "referenced doctor does not exist")
		}
		s.visits[v.ID] = v
		s.visitsByPatient.add(v.PatientID, v.ID)
		s.visitsByDoctor.add(v.DoctorID, v.ID)
	case Diagnosis:
		if _, ok := s.diagnoses[v.ID]; ok {
			return integrity(KindDiagnosis, v.ID, "duplicate primary key")
		}
		if err := s.requireVisit(KindDiagnosis, v.ID, v.VisitID); err != nil {
			return err
		}
		s.diagnoses[v.ID] = v
		s.diagnosesByVisit.add(v.VisitID, v.ID)
	case Prescription:
		if _, ok := s.prescriptions[v.ID]; ok {
			return integrity(KindPrescription, v.ID, "duplicate primary key")
		}
		if err := s.requireVisit(KindPrescription, v.ID, v.VisitID); err != nil {
			return err
		}
		s.prescriptions[v.ID] = v
		s.prescriptionsByVisit.add(v.VisitID, v.ID)
	case LabResult:
		if _, ok := s.labResults[v.ID]; ok {
			return integrity(KindLabResult, v.ID, "duplicate primary key")
		}
		if err := s.requireVisit(KindLabResult, v.ID, v.VisitID); err != nil {
			return err
		}
		s.labResults[v.ID] = v
		s.labResultsByVisit.add(v.VisitID, v.ID)
	case Billing:
		if _, ok := s.billings[v.ID]; ok {
			return integrity(KindBilling, v.ID, "duplicate primary key")
		}
		if err := s.requireVisit(KindBilling, v.ID, v.VisitID); err != nil {
			return err
		}
		if _, ok := s.billingByVisit[v.VisitID]; ok {
			return integrity(KindBilling, v.ID, "visit already has a billing record")
		}
		s.billings[v.ID] = v
		s.billingByVisit[v.VisitID] = v.ID
	}
	return nil
}

func (s *MemStore) requireVisit(kind Kind, id, visitID int64) error {
	if _, ok := s.visits[visitID]; !ok {
		return integrity(kind, id, "referenced visit does not exist")
	}
	return nil
}

func (s *MemStore) Get(_ context.Context, kind Kind, id int64) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		e  Entity
		ok bool
	)
	switch kind {
	case KindPatient:
		e, ok = lookup(s.patients, id)
	case KindDoctor:
		e, ok = lookup(s.doctors, id)
	case KindVisit:
		e, ok = lookup(s.visits, id)
	case KindDiagnosis:
		e, ok = lookup(s.diagnoses, id)
	case KindPrescription:
		e, ok = lookup(s.prescriptions, id)
	case KindLabResult:
		e, ok = lookup(s.labResults, id)
	case KindBilling:
		e, ok = lookup(s.billings, id)
	default:
		_, err := ParseKind(string(kind))
		return nil, err
	}
	if !ok {
		return nil, notFound(kind, id)
	}
	return e, nil
}

func lookup[T Entity](m map[int64]T, id int64) (Entity, bool) {
	v, ok := m[id]
	return v, ok
}

func (s *MemStore) Query(_ context.Context, kind Kind, pred Predicate) iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		if _, err := ParseKind(string(kind)); err != nil {
			yield(nil, err)
			return
		}
		// Matches are collected under the lock and yielded after it is
		// released so a consumer may call back into the store.
		s.mu.RLock()
		var matched []Entity
		switch kind {
		case KindPatient:
			matched = filterSorted(s.patients, pred)
		case KindDoctor:
			matched = filterSorted(s.doctors, pred)
		case KindVisit:
			matched = filterSorted(s.visits, pred)
		case KindDiagnosis:
			matched = filterSorted(s.diagnoses, pred)
		case KindPrescription:
			matched = filterSorted(s.prescriptions, pred)
		case KindLabResult:
			matched = filterSorted(s.labResults, pred)
		case KindBilling:
			matched = filterSorted(s.billings, pred)
		}
		s.mu.RUnlock()

		for _, e := range matched {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func filterSorted[T Entity](m map[int64]T, pred Predicate) []Entity {
	out := make([]Entity, 0, len(m))
	for _, id := range slices.Sorted(maps.Keys(m)) {
		v := m[id]
		if pred == nil || pred(v) {
			out = append(out, v)
		}
	}
	return out
}

func (s *MemStore) DeleteVisit(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok {
		return notFound(KindVisit, id)
	}
	if len(s.prescriptionsByVisit[id]) > 0 {
		return integrity(KindVisit, id, "prescriptions still reference this visit")
	}
	if len(s.labResultsByVisit[id]) > 0 {
		return integrity(KindVisit, id, "lab results still reference this visit")
	}
	if _, ok := s.billingByVisit[id]; ok {
		return integrity(KindVisit, id, "billing still references this visit")
	}

	for dxID := range s.diagnosesByVisit[id] {
		delete(s.diagnoses, dxID)
	}
	delete(s.diagnosesByVisit, id)

	s.visitsByPatient.remove(v.PatientID, id)
	s.visitsByDoctor.remove(v.DoctorID, id)
	delete(s.visits, id)
	return nil
}

func (s *MemStore) RecordPayment(_ context.Context, visitID int64, u PaymentUpdate) error {
	u, err := u.normalized(visitID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	billingID, ok := s.billingByVisit[visitID]
	if !ok {
		return notFound(KindBilling, visitID)
	}
	b := s.billings[billingID]
	b.PaymentStatus = u.Status
	b.PaidDate = u.PaidDate
	b.PaymentMethod = u.Method
	s.billings[billingID] = b
	return nil
}

func (s *MemStore) VisitsByPatient(_ context.Context, patientID int64) ([]Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.patients[patientID]; !ok {
		return nil, notFound(KindPatient, patientID)
	}
	return s.visitsFor(s.visitsByPatient[patientID]), nil
}

func (s *MemStore) VisitsByDoctor(_ context.Context, doctorID int64) ([]Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.doctors[doctorID]; !ok {
		return nil, notFound(KindDoctor, doctorID)
	}
	return s.visitsFor(s.visitsByDoctor[doctorID]), nil
}

func (s *MemStore) visitsFor(ids idSet) []Visit {
	out := make([]Visit, 0, len(ids))
	for _, id := range ids.sorted() {
		out = append(out, s.visits[id])
	}
	return out
}

func (s *MemStore) VisitDetail(_ context.Context, visitID int64) (*VisitDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.visits[visitID]
	if !ok {
		return nil, notFound(KindVisit, visitID)
	}
	d := &VisitDetail{
		Visit:         v,
		Diagnoses:     []Diagnosis{},
		Prescriptions: []Prescription{},
		LabResults:    []LabResult{},
	}
	for _, id := range s.diagnosesByVisit[visitID].sorted() {
		d.Diagnoses = append(d.Diagnoses, s.diagnoses[id])
	}
	for _, id := range s.prescriptionsByVisit[visitID].sorted() {
		d.Prescriptions = append(d.Prescriptions, s.prescriptions[id])
	}
	for _, id := range s.labResultsByVisit[visitID].sorted() {
		d.LabResults = append(d.LabResults, s.labResults[id])
	}
	if id, ok := s.billingByVisit[visitID]; ok {
		b := s.billings[id]
		d.Billing = &b
	}
	return d, nil
}

// Snapshot copies every collection under one read lock.
func (s *MemStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Snapshot{
		Patients:      sortedValues(s.patients),
		Doctors:       sortedValues(s.doctors),
		Visits:        sortedValues(s.visits),
		Diagnoses:     sortedValues(s.diagnoses),
		Prescriptions: sortedValues(s.prescriptions),
		LabResults:    sortedValues(s.labResults),
		Billings:      sortedValues(s.billings),
		TakenAt:       s.now(),
	}, nil
}

func sortedValues[T any](m map[int64]T) []T {
	out := make([]T, 0, len(m))
	for _, id := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[id])
	}
	return out
}
