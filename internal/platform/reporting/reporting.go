package reporting

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/analytics/internal/platform/analytics"
)

var ErrMeasureNotFound = errors.New("measure not found")

// Defaults supplies parameter values when a request omits them.
type Defaults struct {
	SelfPaySentinel     string
	ChronicCodes        []string
	RetentionWindowDays int
	ERWindowDays        int
	LatePaymentDays     int
}

// Parameter describes one query parameter a measure accepts.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     string `json:"default,omitempty"`

	defaultFrom func(Defaults) string
}

// Params are the resolved string values passed to a measure.
type Params map[string]string

type evalFunc func(ctx context.Context, e *analytics.Engine, p Params) (any, error)

// MeasureDefinition is one entry in the measure catalog.
type MeasureDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Paginated   bool        `json:"paginated"`

	eval evalFunc
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string            `json:"measure_id"`
	MeasureName string            `json:"measure_name"`
	GeneratedAt time.Time         `json:"generated_at"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Total       int               `json:"total"`
	Results     any               `json:"results"`
}

func fixed(v string) func(Defaults) string { return func(Defaults) string { return v } }

func intParam(name, desc string, def func(Defaults) string) Parameter {
	return Parameter{Name: name, Type: "integer", Description: desc, defaultFrom: def}
}

var (
	paramN = func(def int) Parameter {
		return intParam("n", "maximum number of rows", fixed(strconv.Itoa(def)))
	}
	paramSentinel = Parameter{
		Name: "sentinel", Type: "string", Description: "insurance provider value that marks a self-pay patient",
		defaultFrom: func(d Defaults) string { return d.SelfPaySentinel },
	}
	paramCodes = Parameter{
		Name: "codes", Type: "string list", Description: "comma-separated ICD-10 codes considered chronic",
		defaultFrom: func(d Defaults) string { return strings.Join(d.ChronicCodes, ",") },
	}
)

// list boxes typed rows so the handler can page any list measure.
func list[T any](rows []T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func value[T any](v T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "patient-directory",
		Name:        "Patient Directory",
		Description: "Every patient with name and city, ordered by last name then first name",
		Paginated:   true,
		eval: func(ctx context.Context, e *analytics.Engine, _ Params) (any, error) {
			return list(e.PatientDirectory(ctx))
		},
	},
	{
		ID:          "insurance-providers",
		Name:        "Insurance Providers",
		Description: "Distinct insurance providers on file, alphabetically",
		eval: func(ctx context.Context, e *analytics.Engine, _ Params) (any, error) {
			return list(e.InsuranceProviders(ctx))
		},
	},
	{
		ID:          "top-cities",
		Name:        "Top Cities by Patient Count",
		Description: "Cities with the most patients; ties keep first appearance by patient id",
		Parameters:  []Parameter{paramN(5)},
		eval: func(ctx context.Context, e *analytics.Engine, p Params) (any, error) {
			n, err := p.Int("n")
			if err != nil {
				return nil, err
			}
			return list(e.TopCities(ctx, n))
		},
	},
	{
		ID:          "visit-count-by-type",
		Name:        "Visit Count by Type",
		Description: "Number of visits per visit type, most frequent first",
		eval: func(ctx context.Context, e *analytics.Engine, _ Params) (any, error) {
			return list(e.VisitCountByType(ctx))
		},
	},
	{
		ID:          "billing-by-status",
		Name:        "Billing vs Collections by Status",
		Description: "Total billed, patient pay and insurance covered per payment status",
		eval: func(ctx context.Context, e *analytics.Engine, _ Params) (any, error) {
			return list(e.BillingByStatus(ctx))
		},
	},
	{
		ID:          "top-drugs",
		Name:        "Top Prescribed Drugs",
		Description: "Drug names by number of prescriptions",
		Parameters:  []Parameter{paramN(10)},
		eval: func(ctx context.Context, e *analytics.Engine, p Params) (any, error) {
			n, err := p.Int("n")
			if err != nil {
				return nil, err
			}
			return list(e.TopDrugs(ctx, n))
		},
	},
	{
		ID:          "self-pay-count",
		Name:        "Self-Pay Patient Count",
		Description: "Patients whose insurance provider equals the self-pay sentinel",
		Parameters:  []Parameter{paramSentinel},
		eval: func(ctx context.Context, e *analytics.Engine, p Params) (any, error) {
			return value(e.SelfPayCount(ctx, p["sentinel"]))
		},
	},
	{
		ID:          "top-doctors-by-revenue",
		Name:        "Top Doctors by Revenue",
		Description: "Doctors ranked by total cost billed on their visits",
		Parameters:  []Parameter{paramN(10)},
		eval: func(ctx context.Context, e *analytics.Engine, p Params) (any, error) {
			n, err := p.Int("n")
			if err != nil {
				return nil, err
			}
			return list(e.TopDoctorsByRevenue(ctx, n))
		},
	},
	{
		ID:          "lab-abnormality-rates",
		Name:        "Lab Abnormality Rate by Test",
		Description: "Share of results outside the reference range per test",
		eval: func(ctx context.Context, e *analytics.Engine, _ Params) (any, error) {
			return list(e.LabAbnormalityRates(ctx))
		},
	},
	{
		ID:          "patient-visit-spans",
		Name:        "First and Last Visit per Patient",
		Description: "First visit, last visit and visit count for each patient with visits",
		Paginated:   true,
		eval: func(ctx context.Context, e *analytics.Engine, _ Params) (any, error) {
			return list(e.PatientVisitSpans(ctx))
		},
	},
	{
		ID:          "multi-diagnosis-visits",
		Name:        "Visits with Multiple Diagnoses",
		Description: "Visits carrying at least min diagnoses",
		Parameters:  []Parameter{intParam("min", "minimum diagnoses per visit", fixed("2"))},
		eval: func(ctx context.Context, e *analytics.Engine, p Params) (any, error) {
			n, err := p.Int("min")
			if err != nil {
				return nil, err
			}
			return list(e.MultiDiagnosisVisits(ctx, n))
		},
	},
	{
		ID:          "patients-without-visits",
		Name:        "Patients with Zero Visits",
		Description: "Patients that no visit references",
		Paginated:   true,
		eval: func(ctx context.Context, e *analytics.Engine, _ Params) (any, error) {
			return list(e.PatientsWithoutVisits(ctx))
		},
	},
	{
		ID:          "late-payers",
		Name:        "Late Payers",
		Description: "Paid visits settled more than days after the visit",
		Parameters: []Parameter{intParam("days", "payment delay threshold in days",
			func(d Defaults) string { return strconv.Itoa(d.LatePaymentDays) })},
		eval: func(ctx context.Context, e *analytics.Engine, p Params) (any, error) {
			days, err := p.Int("days")
			if err != nil {
				return nil, err
			}
			return list(e.LatePayers(ctx, days))
		},
	},
	{
		ID:          "average-days-to-pay",
		Name:        "Average Days to Pay",
		Description: "Mean whole-day delay between visit and payment over paid visits",
		eval: func(ctx context.Context, e *analytics.Engine, _ Params) (any, error) {
			return value(e.AverageDaysToPay(ctx))
		},
	},
	{
		ID:          "high-risk-cohort",
		Name:        "High-Risk Cohort",
		Description: "Patients with a High lab result and a chronic diagnosis on the same visit",
		Parameters:  []Parameter{paramCodes},
		eval: func(ctx context.Context, e *analytics.Engine, p Params) (any, error) {
			return list(e.HighRiskCohort(ctx, p.List("codes")))
		},
	},
	{
		ID:          "repeat-er-visitors",
		Name:        "Repeat ER Visitors",
		Description: "Patients with repeated ER visits inside a recent window",
		Parameters: []Parameter{
			intParam("window_days", "lookback window in days",
				func(d Defaults) string { return strconv.Itoa(d.ERWindowDays) }),
			intParam("min_visits", "minimum ER visits in the window", fixed("2")),
		},
		eval: func(ctx context.Context, e *analytics.Engine, p Params) (any, error) {
			window, err := p.Int("window_days")
			if err != nil {
				return nil, err
			}
			minVisits, err := p.Int("min_visits")
			if err != nil {
				return nil, err
			}
			return list(e.RepeatERVisitors(ctx, window, minVisits))
		},
	},
	{
		ID:          "coverage-by-provider",
		Name:        "Insurance Coverage Ratio by Provider",
		Description: "Average insurer and patient share of each bill per provider",
		eval: func(ctx context.Context, e *analytics.Engine, _ Params) (any, error) {
			return list(e.CoverageByProvider(ctx))
		},
	},
	{
		ID:          "monthly-visit-types",
		Name:        "Monthly Visit-Type Breakdown",
		Description: "Visits per calendar month with one column per visit type",
		eval: func(ctx context.Context, e *analytics.Engine, _ Params) (any, error) {
			return list(e.MonthlyVisitTypes(ctx))
		},
	},
	{
		ID:          "visit-sequence",
		Name:        "Per-Patient Visit Sequence",
		Description: "Each visit numbered from 1 in chronological order within its patient",
		Paginated:   true,
		eval: func(ctx context.Context, e *analytics.Engine, _ Params) (any, error) {
			return list(e.VisitSequence(ctx))
		},
	},
	{
		ID:          "retention",
		Name:        "Patient Retention",
		Description: "Patients returning within the window between consecutive visits",
		Parameters: []Parameter{intParam("window_days", "maximum gap between consecutive visits",
			func(d Defaults) string { return strconv.Itoa(d.RetentionWindowDays) })},
		eval: func(ctx context.Context, e *analytics.Engine, p Params) (any, error) {
			window, err := p.Int("window_days")
			if err != nil {
				return nil, err
			}
			return value(e.Retention(ctx, window))
		},
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Int parses an integer parameter.
func (p Params) Int(name string) (int, error) {
	raw := p[name]
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &analytics.InvalidParameterError{Name: name, Value: raw, Reason: "must be an integer"}
	}
	return n, nil
}

// List splits a comma-separated parameter, dropping empty items.
func (p Params) List(name string) []string {
	var out []string
	for _, s := range strings.Split(p[name], ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Recorder receives one observation per evaluation.
type Recorder interface {
	RecordEvaluation(measure, outcome string, d time.Duration)
}

// Service evaluates catalog measures against the analytics engine.
type Service struct {
	engine   *analytics.Engine
	defaults Defaults
	recorder Recorder
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(engine *analytics.Engine, defaults Defaults, recorder Recorder, logger zerolog.Logger) *Service {
	return &Service{
		engine:   engine,
		defaults: defaults,
		recorder: recorder,
		log:      logger,
		now:      time.Now,
	}
}

// Measures returns the catalog with defaults filled in.
func (s *Service) Measures() []MeasureDefinition {
	out := make([]MeasureDefinition, len(PredefinedMeasures))
	for i, m := range PredefinedMeasures {
		out[i] = m
		out[i].Parameters = make([]Parameter, len(m.Parameters))
		for j, p := range m.Parameters {
			out[i].Parameters[j] = p
			if p.defaultFrom != nil {
				out[i].Parameters[j].Default = p.defaultFrom(s.defaults)
			}
		}
	}
	return out
}

// Resolve fills missing parameters from the defaults. Unknown keys in raw
// are ignored.
func (s *Service) Resolve(m *MeasureDefinition, raw map[string]string) Params {
	resolved := Params{}
	for _, p := range m.Parameters {
		v, ok := raw[p.Name]
		if !ok || v == "" {
			if p.defaultFrom != nil {
				v = p.defaultFrom(s.defaults)
			}
		}
		resolved[p.Name] = v
	}
	return resolved
}

// Evaluate runs measure id with raw parameters.
func (s *Service) Evaluate(ctx context.Context, id string, raw map[string]string) (*MeasureReport, error) {
	m := FindMeasure(id)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrMeasureNotFound, id)
	}
	params := s.Resolve(m, raw)

	start := time.Now()
	results, err := m.eval(ctx, s.engine, params)
	elapsed := time.Since(start)

	outcome := "ok"
	switch {
	case errors.Is(err, analytics.ErrInvalidParameter):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	}
	if s.recorder != nil {
		s.recorder.RecordEvaluation(m.ID, outcome, elapsed)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("measure", m.ID).Str("outcome", outcome).Msg("measure evaluation failed")
		return nil, fmt.Errorf("evaluate %s: %w", m.ID, err)
	}

	total := 1
	if rows, ok := results.([]any); ok {
		total = len(rows)
	}
	s.log.Info().
		Str("measure", m.ID).
		Int("total", total).
		Dur("elapsed", elapsed).
		Msg("measure evaluated")

	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: s.now().UTC(),
		Parameters:  params,
		Total:       total,
		Results:     results,
	}, nil
}
