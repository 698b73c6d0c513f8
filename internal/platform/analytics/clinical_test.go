package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopDrugs(t *testing.T) {
	e := newEngine(t, clinicRows())
	ctx := context.Background()

	top, err := e.TopDrugs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []DrugCount{
		{DrugName: "Metformin", Prescriptions: 3},
		{DrugName: "Albuterol", Prescriptions: 2},
	}, top)

	all, err := e.TopDrugs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLabAbnormalityRates(t *testing.T) {
	e := newEngine(t, clinicRows())

	rates, err := e.LabAbnormalityRates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []LabAbnormality{
		{TestName: "Culture", Total: 1, Abnormal: 1, RatePct: 100},
		{TestName: "Glucose", Total: 3, Abnormal: 2, RatePct: 66.67},
		// One HbA1c row is stored Normal but sits above its range.
		{TestName: "HbA1c", Total: 2, Abnormal: 1, RatePct: 50},
	}, rates)
}

func TestMultiDiagnosisVisits(t *testing.T) {
	e := newEngine(t, clinicRows())
	ctx := context.Background()

	visits, err := e.MultiDiagnosisVisits(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []VisitDiagnoses{
		{VisitID: 104, PatientID: 3, Diagnoses: 3},
		{VisitID: 100, PatientID: 1, Diagnoses: 2},
	}, visits)

	visits, err = e.MultiDiagnosisVisits(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, visits, 3)
}

func TestHighRiskCohort(t *testing.T) {
	e := newEngine(t, clinicRows())
	ctx := context.Background()

	cohort, err := e.HighRiskCohort(ctx, []string{"E11", "I10", "J44"})
	require.NoError(t, err)
	var ids []int64
	for _, p := range cohort {
		ids = append(ids, p.PatientID)
	}
	// Patient 1 via the corrected HbA1c flag, patient 3 via a lower-case code.
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestHighRiskCohort_CodeSetIsAParameter(t *testing.T) {
	e := newEngine(t, clinicRows())
	ctx := context.Background()

	// Visit 102 has a High culture, but J06 is only chronic if configured so.
	cohort, err := e.HighRiskCohort(ctx, []string{"j06"})
	require.NoError(t, err)
	require.Len(t, cohort, 1)
	assert.Equal(t, int64(2), cohort[0].PatientID)

	// A chronic code on a visit without a High lab does not qualify.
	cohort, err = e.HighRiskCohort(ctx, []string{"I50"})
	require.NoError(t, err)
	assert.Empty(t, cohort)
}
