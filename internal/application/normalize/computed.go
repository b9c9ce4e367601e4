package normalize

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// WarnComputedChannel flags a computed channel that could not be evaluated
const WarnComputedChannel = "NORM_COMPUTED_CHANNEL"

// computedChannel derives a channel row by row from an expression over the
// canonical quantities, e.g. "potential * current" for power
type computedChannel struct {
	quantity   measurement.Quantity
	expression string
	program    *vm.Program
	uses       []measurement.Quantity
}

// quantityEnv is the compile-time environment: every canonical quantity as
// a float64 variable
func quantityEnv() map[string]any {
	env := make(map[string]any)
	for _, q := range measurement.KnownQuantities() {
		env[string(q)] = 0.0
	}
	return env
}

// compileComputed compiles "quantity" -> "expression" definitions. Unknown
// target names become raw quantities.
func compileComputed(defs map[string]string) ([]computedChannel, error) {
	env := quantityEnv()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]computedChannel, 0, len(defs))
	for _, name := range names {
		source := strings.TrimSpace(defs[name])
		ids := identifiers{}
		program, err := expr.Compile(source, expr.Env(env), expr.AsFloat64(), expr.Patch(ids))
		if err != nil {
			return nil, fmt.Errorf("%w: computed channel %s: %v", shared.ErrInvalidInput, name, err)
		}

		q := measurement.Quantity(strings.ToLower(strings.TrimSpace(name)))
		if !q.IsKnown() {
			q = measurement.RawQuantity(name)
		}
		var uses []measurement.Quantity
		for _, known := range measurement.KnownQuantities() {
			if ids[string(known)] {
				uses = append(uses, known)
			}
		}
		out = append(out, computedChannel{quantity: q, expression: source, program: program, uses: uses})
	}
	return out, nil
}

// identifiers collects the variable names an expression reads
type identifiers map[string]bool

func (ids identifiers) Visit(node *ast.Node) {
	if id, ok := (*node).(*ast.IdentifierNode); ok {
		ids[id.Value] = true
	}
}

// WithComputed adds channels computed from expressions over the canonical
// quantities. Keys name the target quantity.
func WithComputed(defs map[string]string) Option {
	return func(n *Normalizer) error {
		computed, err := compileComputed(defs)
		if err != nil {
			return err
		}
		n.computed = append(n.computed, computed...)
		return nil
	}
}

// addComputed evaluates the computed channels against m
func addComputed(m *measurement.Measurement, computed []computedChannel, warns *warnings) {
	for _, c := range computed {
		if m.Has(c.quantity) {
			warns.add(c.quantity.String(), WarnComputedChannel, "%s already present, expression %q skipped", c.quantity, c.expression)
			continue
		}
		if !m.Has(c.uses...) {
			warns.add(c.quantity.String(), WarnComputedChannel, "expression %q needs %v", c.expression, c.uses)
			continue
		}

		env := quantityEnv()
		values := make([]float64, m.Len())
		inputs := make([][]float64, len(c.uses))
		for k, q := range c.uses {
			inputs[k] = m.Values(q)
		}

		var failed error
		for row := range values {
			for k, q := range c.uses {
				env[string(q)] = inputs[k][row]
			}
			out, err := expr.Run(c.program, env)
			if err != nil {
				failed = err
				break
			}
			v, ok := out.(float64)
			if !ok {
				v = math.NaN()
			}
			values[row] = v
		}
		if failed != nil {
			warns.add(c.quantity.String(), WarnComputedChannel, "expression %q: %v", c.expression, failed)
			continue
		}

		_ = m.AddChannel(measurement.Channel{
			Quantity:   c.quantity,
			Unit:       c.quantity.CanonicalUnit(),
			Values:     values,
			SourceName: c.expression,
		})
	}
}
