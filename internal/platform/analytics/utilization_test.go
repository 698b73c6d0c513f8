package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/ehr/analytics/internal/domain/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisitCountByType(t *testing.T) {
	e := newEngine(t, clinicRows())

	counts, err := e.VisitCountByType(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []TypeCount{
		{VisitType: records.VisitER, Visits: 3},
		{VisitType: records.VisitOutpatient, Visits: 2},
		{VisitType: records.VisitInpatient, Visits: 1},
		{VisitType: records.VisitTelemedicine, Visits: 1},
	}, counts)
}

func TestPatientVisitSpans(t *testing.T) {
	e := newEngine(t, clinicRows())

	spans, err := e.PatientVisitSpans(context.Background())
	require.NoError(t, err)
	require.Len(t, spans, 3)

	assert.Equal(t, VisitSpan{
		PatientID:  1,
		FirstVisit: at(2024, time.January, 10, 9),
		LastVisit:  at(2024, time.May, 1, 14),
		Visits:     3,
	}, spans[0])
	assert.Equal(t, int64(3), spans[2].PatientID)
	assert.Equal(t, 2, spans[2].Visits)
}

func TestRepeatERVisitors(t *testing.T) {
	e := newEngine(t, clinicRows())
	ctx := context.Background()

	// Patient 1's ER visit on May 1 is outside the 45 day window.
	visitors, err := e.RepeatERVisitors(ctx, 45, 2)
	require.NoError(t, err)
	assert.Equal(t, []ERVisitor{{PatientID: 2, Visits: 2}}, visitors)

	visitors, err = e.RepeatERVisitors(ctx, 90, 1)
	require.NoError(t, err)
	assert.Equal(t, []ERVisitor{{PatientID: 2, Visits: 2}, {PatientID: 1, Visits: 1}}, visitors)
}

func TestMonthlyVisitTypes(t *testing.T) {
	e := newEngine(t, clinicRows())

	months, err := e.MonthlyVisitTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []MonthlyBreakdown{
		{Month: "2024-01", Outpatient: 1, Inpatient: 1, Total: 2},
		{Month: "2024-03", Outpatient: 1, Total: 1},
		{Month: "2024-05", ER: 1, Total: 1},
		{Month: "2024-06", ER: 2, Total: 2},
		{Month: "2024-08", Telemedicine: 1, Total: 1},
	}, months)
}

func TestVisitSequence(t *testing.T) {
	e := newEngine(t, clinicRows())

	seq, err := e.VisitSequence(context.Background())
	require.NoError(t, err)
	require.Len(t, seq, 7)

	// Patient 1: visits at t1 < t2 < t3 are numbered 1, 2, 3.
	assert.Equal(t, []VisitOrdinal{
		{PatientID: 1, VisitID: 100, VisitDateTime: at(2024, time.January, 10, 9), Sequence: 1},
		{PatientID: 1, VisitID: 101, VisitDateTime: at(2024, time.March, 1, 9), Sequence: 2},
		{PatientID: 1, VisitID: 106, VisitDateTime: at(2024, time.May, 1, 14), Sequence: 3},
	}, seq[:3])
	assert.Equal(t, int64(2), seq[3].PatientID)
	assert.Equal(t, 1, seq[3].Sequence)
}

func TestVisitSequence_EqualTimestamps(t *testing.T) {
	same := at(2024, time.April, 4, 10)
	e := newEngine(t, []records.Entity{
		records.Patient{ID: 1, FirstName: "A"},
		records.Doctor{ID: 1, FirstName: "D"},
		records.Visit{ID: 9, PatientID: 1, DoctorID: 1, VisitDateTime: same, VisitType: records.VisitER},
		records.Visit{ID: 4, PatientID: 1, DoctorID: 1, VisitDateTime: same, VisitType: records.VisitER},
	})

	seq, err := e.VisitSequence(context.Background())
	require.NoError(t, err)
	require.Len(t, seq, 2)
	assert.Equal(t, int64(4), seq[0].VisitID)
	assert.Equal(t, int64(9), seq[1].VisitID)
	assert.Equal(t, 2, seq[1].Sequence)
}

func TestRetention(t *testing.T) {
	e := newEngine(t, clinicRows())
	ctx := context.Background()

	// Patient 3's visits are 199 days apart.
	sum, err := e.Retention(ctx, 180)
	require.NoError(t, err)
	assert.Equal(t, RetentionSummary{WindowDays: 180, PatientsWithVisits: 3, ReturningPatients: 2, RatePct: 66.67}, sum)

	sum, err = e.Retention(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.ReturningPatients)
	assert.Equal(t, 100.0, sum.RatePct)

	sum, err = e.Retention(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.ReturningPatients)
}
