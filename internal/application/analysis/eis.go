package analysis

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/optimize"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// EISResult holds the intercepts and the equivalent circuit fit of an
// impedance spectrum
type EISResult struct {
	Model  string `json:"model"`
	Points int    `json:"points"`

	HighFrequencyIntercept float64 `json:"hf_intercept_ohm"`
	LowFrequencyIntercept  float64 `json:"lf_intercept_ohm"`
	ApexFrequency          float64 `json:"apex_frequency_hz"`

	SolutionResistance       float64 `json:"r_s_ohm"`
	ChargeTransferResistance float64 `json:"r_ct_ohm"`
	// DoubleLayerCapacitance is the fitted capacitance for the Randles model
	// and the effective capacitance of the CPE otherwise
	DoubleLayerCapacitance float64 `json:"c_dl_f"`
	CPEQ                   float64 `json:"cpe_q,omitempty"`
	CPEExponent            float64 `json:"cpe_n,omitempty"`

	ChiSquared  float64 `json:"chi_squared"`
	Iterations  int     `json:"iterations"`
	Evaluations int     `json:"evaluations"`
	Converged   bool    `json:"converged"`
}

// Fields lists the scalar results
func (r *EISResult) Fields() []Field {
	fields := []Field{
		{Name: "points", Value: float64(r.Points)},
		{Name: "hf_intercept", Value: r.HighFrequencyIntercept, Unit: "Ohm"},
		{Name: "lf_intercept", Value: r.LowFrequencyIntercept, Unit: "Ohm"},
		{Name: "apex_frequency", Value: r.ApexFrequency, Unit: "Hz"},
		{Name: "r_s", Value: r.SolutionResistance, Unit: "Ohm"},
		{Name: "r_ct", Value: r.ChargeTransferResistance, Unit: "Ohm"},
		{Name: "c_dl", Value: r.DoubleLayerCapacitance, Unit: "F"},
	}
	if r.Model == ModelRandlesCPE {
		fields = append(fields,
			Field{Name: "cpe_q", Value: r.CPEQ, Unit: "F s^(n-1)"},
			Field{Name: "cpe_n", Value: r.CPEExponent},
		)
	}
	return append(fields,
		Field{Name: "chi_squared", Value: r.ChiSquared},
		Field{Name: "iterations", Value: float64(r.Iterations)},
	)
}

// EISAnalyzer fits a Randles circuit, Rs + (Rct || Cdl) or Rs + (Rct || CPE),
// to an impedance spectrum
type EISAnalyzer struct {
	baseAnalyzer
}

// NewEISAnalyzer creates the impedance analyzer
func NewEISAnalyzer() *EISAnalyzer {
	return &EISAnalyzer{
		baseAnalyzer: newBaseAnalyzer(
			"eis",
			"Real-axis intercepts and Randles equivalent circuit fit",
			measurement.TechniqueEIS,
		),
	}
}

type spectrum struct {
	freq, re, im []float64
}

func (s spectrum) Len() int           { return len(s.freq) }
func (s spectrum) Less(i, j int) bool { return s.freq[i] > s.freq[j] }
func (s spectrum) Swap(i, j int) {
	s.freq[i], s.freq[j] = s.freq[j], s.freq[i]
	s.re[i], s.re[j] = s.re[j], s.re[i]
	s.im[i], s.im[j] = s.im[j], s.im[i]
}

// loadSpectrum collects the finite points with a positive frequency, sorted
// from high to low frequency
func loadSpectrum(m *measurement.Measurement) (spectrum, error) {
	if !m.Has(measurement.QuantityFrequency, measurement.QuantityZReal, measurement.QuantityZImag) {
		return spectrum{}, fmt.Errorf("%w: impedance needs frequency, z_real and z_imag", shared.ErrInsufficientData)
	}
	f := m.Values(measurement.QuantityFrequency)
	re := m.Values(measurement.QuantityZReal)
	im := m.Values(measurement.QuantityZImag)

	var s spectrum
	for i := range f {
		if !finite(f[i]) || f[i] <= 0 || !finite(re[i]) || !finite(im[i]) {
			continue
		}
		s.freq = append(s.freq, f[i])
		s.re = append(s.re, re[i])
		s.im = append(s.im, im[i])
	}
	sort.Stable(s)
	return s, nil
}

// highFrequencyIntercept interpolates the first real-axis crossing from the
// high-frequency end, or returns Re(Z) at the highest frequency
func highFrequencyIntercept(s spectrum) float64 {
	for i := 0; i+1 < s.Len(); i++ {
		a, b := s.im[i], s.im[i+1]
		if a == 0 {
			return s.re[i]
		}
		if a*b < 0 {
			return s.re[i] + (s.re[i+1]-s.re[i])*a/(a-b)
		}
	}
	return s.re[0]
}

// apex returns the index of the largest -Im(Z)
func apex(s spectrum) int {
	best := 0
	for i := range s.im {
		if -s.im[i] > -s.im[best] {
			best = i
		}
	}
	return best
}

// lowFrequencyIntercept returns Re(Z) at the minimum of -Im(Z) that ends the
// semicircle, or at the lowest frequency when there is no diffusion tail
func lowFrequencyIntercept(s spectrum) float64 {
	for k := apex(s) + 1; k+1 < s.Len(); k++ {
		if -s.im[k] <= -s.im[k-1] && -s.im[k] < -s.im[k+1] {
			return s.re[k]
		}
	}
	return s.re[s.Len()-1]
}

// randles evaluates the model impedance. p holds Rs, Rct and either Cdl or
// Q and n.
func randles(omega float64, p []float64) complex128 {
	var y complex128
	if len(p) == 4 {
		y = complex(p[2], 0) * cmplx.Pow(complex(0, omega), complex(p[3], 0))
	} else {
		y = complex(0, omega*p[2])
	}
	rct := complex(p[1], 0)
	return complex(p[0], 0) + rct/(1+rct*y)
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

// fromSearch maps the unconstrained search vector to circuit parameters:
// resistances and capacitances are searched in log space, the CPE exponent
// through a logistic function
func fromSearch(x []float64) []float64 {
	p := make([]float64, len(x))
	for i := 0; i < 3; i++ {
		p[i] = math.Exp(x[i])
	}
	if len(x) == 4 {
		p[3] = sigmoid(x[3])
	}
	return p
}

// setFit stores the circuit parameters. A search that ran off to infinity
// leaves zeros and marks the fit as not converged.
func (r *EISResult) setFit(params []float64, cpe bool) {
	cdl := params[2]
	if cpe {
		// Hsu-Mansfeld effective capacitance
		cdl = math.Pow(params[2]*math.Pow(params[1], 1-params[3]), 1/params[3])
	}
	r.Converged = finite(cdl)
	for _, v := range params {
		if !finite(v) {
			r.Converged = false
		}
	}
	r.SolutionResistance = clip(params[0])
	r.ChargeTransferResistance = clip(params[1])
	r.DoubleLayerCapacitance = clip(cdl)
	if cpe {
		r.CPEQ = clip(params[2])
		r.CPEExponent = clip(params[3])
	}
}

// Analyze computes the intercepts and fits the circuit
func (a *EISAnalyzer) Analyze(ctx context.Context, m *measurement.Measurement, p Params) (Result, error) {
	s, err := loadSpectrum(m)
	if err != nil {
		return nil, err
	}
	cpe := p.EISModel == ModelRandlesCPE
	dims := 3
	if cpe {
		dims = 4
	}
	if s.Len() <= dims {
		return nil, fmt.Errorf("%w: %d usable impedance points, need more than %d",
			shared.ErrInsufficientData, s.Len(), dims)
	}

	res := &EISResult{
		Model:                  p.EISModel,
		Points:                 s.Len(),
		HighFrequencyIntercept: clip(highFrequencyIntercept(s)),
		LowFrequencyIntercept:  clip(lowFrequencyIntercept(s)),
		ApexFrequency:          s.freq[apex(s)],
	}

	rs0 := res.HighFrequencyIntercept
	if rs0 <= 0 {
		rs0 = 1e-3
	}
	rct0 := res.LowFrequencyIntercept - rs0
	if rct0 <= 0 {
		rct0 = rs0
	}
	c0 := 1 / (2 * math.Pi * res.ApexFrequency * rct0)
	x0 := []float64{math.Log(rs0), math.Log(rct0), math.Log(c0)}
	if cpe {
		x0 = append(x0, logit(0.9))
	}

	omega := make([]float64, s.Len())
	measured := make([]complex128, s.Len())
	for i := range s.freq {
		omega[i] = 2 * math.Pi * s.freq[i]
		measured[i] = complex(s.re[i], s.im[i])
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			params := fromSearch(x)
			var sum float64
			for i, w := range omega {
				d := measured[i] - randles(w, params)
				mod := cmplx.Abs(measured[i])
				if mod == 0 {
					continue
				}
				sum += (real(d)*real(d) + imag(d)*imag(d)) / (mod * mod)
			}
			return sum
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		MajorIterations: p.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-15,
			Relative:   1e-12,
			Iterations: 200,
		},
	}

	fit, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{SimplexSize: 0.5})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if fit == nil {
		return nil, fmt.Errorf("impedance fit failed: %w", err)
	}

	res.setFit(fromSearch(fit.X), cpe)
	res.ChiSquared = clip(fit.F)
	res.Iterations = fit.Stats.MajorIterations
	res.Evaluations = fit.Stats.FuncEvaluations
	res.Converged = res.Converged && err == nil && fit.Status != optimize.IterationLimit
	return res, nil
}
