// Package optimizer describes small mixed integer linear programs and solves them through
// pluggable backends.
package optimizer

import (
	"fmt"
	"math"
)

// Sense is the optimisation direction of a model.
type Sense int

const (
	// Maximize the objective.
	Maximize Sense = iota
	// Minimize the objective.
	Minimize
)

// VarKind distinguishes binary, integer and continuous columns.
type VarKind int

const (
	// Binary variables take values in {0, 1}.
	Binary VarKind = iota
	// Continuous variables take any value within their bounds.
	Continuous
	// Integer variables take whole values within finite bounds.
	Integer
)

// Integral reports whether columns of this kind only take whole values.
func (k VarKind) Integral() bool { return k == Binary || k == Integer }

// Relation is the comparison operator of a linear row.
type Relation int

const (
	// LessEqual encodes sum <= rhs.
	LessEqual Relation = iota
	// GreaterEqual encodes sum >= rhs.
	GreaterEqual
	// Equal encodes sum == rhs.
	Equal
)

// String renders the relation as an operator.
func (r Relation) String() string {
	switch r {
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	case Equal:
		return "=="
	default:
		return fmt.Sprintf("Relation(%d)", int(r))
	}
}

// Var is the handle of a variable inside its model.
type Var int

// Term is one coefficient of a linear expression.
type Term struct {
	Var  Var
	Coef float64
}

// Variable describes a model column.
type Variable struct {
	Name  string
	Kind  VarKind
	Lower float64
	Upper float64
}

// Constraint describes a model row.
type Constraint struct {
	Name     string
	Terms    []Term
	Relation Relation
	RHS      float64
}

// Model is a linear program with binary, integer and continuous columns. A model is not safe for
// concurrent mutation; solving only reads it.
type Model struct {
	Name        string
	Sense       Sense
	variables   []Variable
	constraints []Constraint
	objective   []float64
}

// NewModel creates an empty model.
func NewModel(name string, sense Sense) *Model {
	return &Model{Name: name, Sense: sense}
}

// AddBinary appends a 0/1 column.
func (m *Model) AddBinary(name string) Var {
	return m.addVariable(Variable{Name: name, Kind: Binary, Lower: 0, Upper: 1})
}

// AddContinuous appends a continuous column bounded by [lower, upper]. Use math.Inf for an
// open side.
func (m *Model) AddContinuous(name string, lower, upper float64) Var {
	return m.addVariable(Variable{Name: name, Kind: Continuous, Lower: lower, Upper: upper})
}

// AddInteger appends a whole-valued column bounded by [lower, upper]. Both bounds must be
// finite.
func (m *Model) AddInteger(name string, lower, upper float64) Var {
	return m.addVariable(Variable{Name: name, Kind: Integer, Lower: lower, Upper: upper})
}

func (m *Model) addVariable(v Variable) Var {
	m.variables = append(m.variables, v)
	m.objective = append(m.objective, 0)
	return Var(len(m.variables) - 1)
}

// AddConstraint appends a row. Terms referencing the same variable are merged.
func (m *Model) AddConstraint(name string, terms []Term, rel Relation, rhs float64) error {
	merged := make([]Term, 0, len(terms))
	index := make(map[Var]int, len(terms))
	for _, term := range terms {
		if !m.valid(term.Var) {
			return fmt.Errorf("constraint %s: unknown variable %d", name, term.Var)
		}
		if math.IsNaN(term.Coef) || math.IsInf(term.Coef, 0) {
			return fmt.Errorf("constraint %s: invalid coefficient for %s", name, m.variables[term.Var].Name)
		}
		if pos, ok := index[term.Var]; ok {
			merged[pos].Coef += term.Coef
			continue
		}
		index[term.Var] = len(merged)
		merged = append(merged, term)
	}
	m.constraints = append(m.constraints, Constraint{Name: name, Terms: merged, Relation: rel, RHS: rhs})
	return nil
}

// SetObjective sets the objective coefficient of v, replacing any previous value.
func (m *Model) SetObjective(v Var, coef float64) {
	if !m.valid(v) {
		panic(fmt.Sprintf("optimizer: unknown variable %d", v))
	}
	m.objective[v] = coef
}

// Variables returns the model columns.
func (m *Model) Variables() []Variable { return m.variables }

// Constraints returns the model rows.
func (m *Model) Constraints() []Constraint { return m.constraints }

// Objective returns the objective coefficient of v.
func (m *Model) Objective(v Var) float64 { return m.objective[v] }

// NumVariables reports the column count.
func (m *Model) NumVariables() int { return len(m.variables) }

func (m *Model) valid(v Var) bool {
	return int(v) >= 0 && int(v) < len(m.variables)
}
