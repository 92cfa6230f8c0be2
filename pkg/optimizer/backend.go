package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the termination state reported by a backend.
type Status string

const (
	// StatusOptimal means the incumbent is proven optimal.
	StatusOptimal Status = "Optimal"
	// StatusFeasible means a solution was found but optimality was not proven.
	StatusFeasible Status = "Feasible"
	// StatusInfeasible means no assignment satisfies the rows.
	StatusInfeasible Status = "Infeasible"
	// StatusNotSolved means the backend stopped before finding any solution.
	StatusNotSolved Status = "Not Solved"
	// StatusUndefined covers backend-specific failures.
	StatusUndefined Status = "Undefined"
)

// HasSolution reports whether variable values can be read back.
func (s Status) HasSolution() bool {
	return s == StatusOptimal || s == StatusFeasible
}

// Params tune a single solve.
type Params struct {
	// TimeLimit caps the solve; zero means no limit.
	TimeLimit time.Duration
}

// Solution is the read-back of a solve.
type Solution struct {
	Status    Status
	Objective float64
	Nodes     int
	values    []float64
}

// Value returns the value of v, or zero when the solve produced no solution.
func (s *Solution) Value(v Var) float64 {
	if s == nil || int(v) < 0 || int(v) >= len(s.values) {
		return 0
	}
	return s.values[v]
}

// Backend solves models.
type Backend interface {
	Name() string
	Solve(ctx context.Context, model *Model, params Params) (*Solution, error)
}

// Factory builds a backend.
type Factory func(logger *zap.Logger) Backend

// ErrUnknownBackend is returned by New for unregistered names.
var ErrUnknownBackend = errors.New("optimizer: unknown backend")

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available through New. Registering a name twice panics.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("optimizer: backend %q registered twice", name))
	}
	registry[name] = factory
}

// New builds the backend registered under name.
func New(name string, logger *zap.Logger) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return factory(logger), nil
}

// Backends lists registered backend names in lexical order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
