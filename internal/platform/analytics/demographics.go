package analytics

import (
	"cmp"
	"context"
	"slices"

	"github.com/ehr/analytics/internal/domain/records"
)

type DirectoryEntry struct {
	PatientID int64  `json:"patient_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	City      string `json:"city"`
}

func directoryEntry(p records.Patient) DirectoryEntry {
	return DirectoryEntry{PatientID: p.ID, FirstName: p.FirstName, LastName: p.LastName, City: p.City}
}

type CityCount struct {
	City     string `json:"city"`
	Patients int    `json:"patients"`
}

// PatientDirectory lists every patient by last name, then first name.
func (e *Engine) PatientDirectory(ctx context.Context) ([]DirectoryEntry, error) {
	return evalRows(ctx, e, "patient_directory", patientDirectory)
}

func patientDirectory(snap *records.Snapshot) []DirectoryEntry {
	out := make([]DirectoryEntry, 0, len(snap.Patients))
	for _, p := range snap.Patients {
		out = append(out, directoryEntry(p))
	}
	slices.SortFunc(out, func(a, b DirectoryEntry) int {
		return cmp.Or(
			cmp.Compare(a.LastName, b.LastName),
			cmp.Compare(a.FirstName, b.FirstName),
			cmp.Compare(a.PatientID, b.PatientID),
		)
	})
	return out
}

// InsuranceProviders returns the distinct non-empty providers alphabetically.
func (e *Engine) InsuranceProviders(ctx context.Context) ([]string, error) {
	return evalRows(ctx, e, "insurance_providers", func(snap *records.Snapshot) []string {
		seen := map[string]struct{}{}
		var out []string
		for _, p := range snap.Patients {
			if p.InsuranceProvider == "" {
				continue
			}
			if _, ok := seen[p.InsuranceProvider]; ok {
				continue
			}
			seen[p.InsuranceProvider] = struct{}{}
			out = append(out, p.InsuranceProvider)
		}
		slices.Sort(out)
		return out
	})
}

// TopCities returns at most n cities by patient count. Cities with equal
// counts keep the order in which they first appear among patients sorted by
// id. Patients without a city are not counted.
func (e *Engine) TopCities(ctx context.Context, n int) ([]CityCount, error) {
	if err := checkLimit("n", n); err != nil {
		return nil, err
	}
	return evalRows(ctx, e, "top_cities", func(snap *records.Snapshot) []CityCount {
		pos := map[string]int{}
		var out []CityCount
		for _, p := range snap.Patients {
			if p.City == "" {
				continue
			}
			i, ok := pos[p.City]
			if !ok {
				i = len(out)
				pos[p.City] = i
				out = append(out, CityCount{City: p.City})
			}
			out[i].Patients++
		}
		slices.SortStableFunc(out, func(a, b CityCount) int {
			return cmp.Compare(b.Patients, a.Patients)
		})
		return limit(out, n)
	})
}

// SelfPayCount counts patients whose insurance provider equals sentinel.
func (e *Engine) SelfPayCount(ctx context.Context, sentinel string) (int, error) {
	return evalValue(ctx, e, "self_pay_count", func(snap *records.Snapshot) int {
		n := 0
		for _, p := range snap.Patients {
			if p.InsuranceProvider == sentinel {
				n++
			}
		}
		return n
	})
}

// PatientsWithoutVisits lists patients no visit references, by id.
func (e *Engine) PatientsWithoutVisits(ctx context.Context) ([]DirectoryEntry, error) {
	return evalRows(ctx, e, "patients_without_visits", func(snap *records.Snapshot) []DirectoryEntry {
		seen := make(map[int64]bool, len(snap.Patients))
		for _, v := range snap.Visits {
			seen[v.PatientID] = true
		}
		var out []DirectoryEntry
		for _, p := range snap.Patients {
			if !seen[p.ID] {
				out = append(out, directoryEntry(p))
			}
		}
		return out
	})
}
