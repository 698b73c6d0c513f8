package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ehr/analytics/internal/domain/records"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound2(t *testing.T) {
	assert.Equal(t, 66.67, round2(200.0/3))
	assert.Equal(t, 0.13, round2(0.125))
	assert.Equal(t, -0.13, round2(-0.125))
	assert.Equal(t, 300.0, round2(100.1+199.9))
}

func TestDaysBetween(t *testing.T) {
	visit := at(2024, time.January, 1, 9)
	assert.Equal(t, 50, daysBetween(visit, visit.AddDate(0, 0, 50)))
	// 49 days and 15 hours is still 49 whole days.
	assert.Equal(t, 49, daysBetween(visit, *day(2024, time.February, 20)))
	assert.Equal(t, 0, daysBetween(visit, visit.Add(23*time.Hour)))
	assert.Equal(t, -1, daysBetween(visit, visit.Add(-time.Hour)))
}

func TestInvalidParameters(t *testing.T) {
	e := newEngine(t, clinicRows())
	ctx := context.Background()

	calls := map[string]func() error{
		"top cities":       func() error { _, err := e.TopCities(ctx, -1); return err },
		"top drugs":        func() error { _, err := e.TopDrugs(ctx, -5); return err },
		"top doctors":      func() error { _, err := e.TopDoctorsByRevenue(ctx, -1); return err },
		"multi diagnosis":  func() error { _, err := e.MultiDiagnosisVisits(ctx, 0); return err },
		"late payers":      func() error { _, err := e.LatePayers(ctx, -45); return err },
		"empty cohort":     func() error { _, err := e.HighRiskCohort(ctx, nil); return err },
		"blank cohort":     func() error { _, err := e.HighRiskCohort(ctx, []string{" ", ""}); return err },
		"er window":        func() error { _, err := e.RepeatERVisitors(ctx, -1, 2); return err },
		"er min":           func() error { _, err := e.RepeatERVisitors(ctx, 45, 0); return err },
		"retention window": func() error { _, err := e.Retention(ctx, -180); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParameter), "got %v", err)
			var ipe *InvalidParameterError
			require.ErrorAs(t, err, &ipe)
			assert.NotEmpty(t, ipe.Name)
		})
	}
}

func TestZeroLimitReturnsEmpty(t *testing.T) {
	e := newEngine(t, clinicRows())

	cities, err := e.TopCities(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, cities)
	assert.Empty(t, cities)
}

func TestEmptyStore(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	dir, err := e.PatientDirectory(ctx)
	require.NoError(t, err)
	assert.Empty(t, dir)

	delay, err := e.AverageDaysToPay(ctx)
	require.NoError(t, err)
	assert.Equal(t, PaymentDelay{}, delay)

	ret, err := e.Retention(ctx, 180)
	require.NoError(t, err)
	assert.Equal(t, RetentionSummary{WindowDays: 180}, ret)

	cov, err := e.CoverageByProvider(ctx)
	require.NoError(t, err)
	assert.Empty(t, cov)
}

func TestSnapshotFailure(t *testing.T) {
	e := NewEngine(failingSource{}, Options{Logger: zerolog.Nop()})

	_, err := e.BillingByStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing_by_status")

	_, err = e.SelfPayCount(context.Background(), "No Insurance")
	require.Error(t, err)
}

func TestCanceledContext(t *testing.T) {
	e := newEngine(t, clinicRows())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.PatientDirectory(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = e.AverageDaysToPay(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLatePayers_PaidDateWithTimeOfDay(t *testing.T) {
	paid := time.Date(2024, time.February, 16, 12, 0, 0, 0, time.UTC)
	e := newEngine(t, []records.Entity{
		records.Patient{ID: 1, FirstName: "A"},
		records.Doctor{ID: 1, FirstName: "D"},
		records.Visit{ID: 1, PatientID: 1, DoctorID: 1, VisitDateTime: time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC), VisitType: records.VisitER},
		records.Billing{ID: 1, VisitID: 1, TotalCost: 10, PatientPay: 10, PaymentStatus: records.PaymentPaid, PaidDate: &paid},
	})
	ctx := context.Background()

	// Stored as 2024-02-16, 45 whole days after the visit.
	late, err := e.LatePayers(ctx, 45)
	require.NoError(t, err)
	assert.Empty(t, late)
	avg, err := e.AverageDaysToPay(ctx)
	require.NoError(t, err)
	assert.Equal(t, PaymentDelay{AverageDays: 45, PaidVisits: 1}, avg)
}

func TestMetricsSeeOneSnapshot(t *testing.T) {
	store := newStore(t, clinicRows())
	e := NewEngine(store, Options{Now: func() time.Time { return fixtureNow }, Logger: zerolog.Nop()})
	ctx := context.Background()

	before, err := e.BillingByStatus(ctx)
	require.NoError(t, err)

	require.NoError(t, store.RecordPayment(ctx, 102, records.PaymentUpdate{
		Status:   records.PaymentPaid,
		PaidDate: day(2024, time.June, 10),
	}))

	after, err := e.BillingByStatus(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	var paid StatusTotals
	for _, s := range after {
		if s.Status == records.PaymentPaid {
			paid = s
		}
	}
	assert.Equal(t, 800.0, paid.TotalBilled)
}
