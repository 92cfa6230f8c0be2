//go:build glpk

package optimizer

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/lukpank/go-glpk/glpk"
	"go.uber.org/zap"
)

// GLPK is the registry name of the GLPK MIP backend.
const GLPK = "glpk"

func init() {
	Register(GLPK, func(logger *zap.Logger) Backend { return &GLPKBackend{logger: logger} })
}

// GLPKBackend solves models with the GNU Linear Programming Kit.
type GLPKBackend struct {
	logger *zap.Logger
}

// Name implements Backend.
func (b *GLPKBackend) Name() string { return GLPK }

// Solve implements Backend. The binding offers no way to interrupt a running solve, so
// Params.TimeLimit and ctx are watched from outside: when either fires first Solve returns
// StatusNotSolved or the context error, and the abandoned solve releases its problem once
// GLPK returns.
func (b *GLPKBackend) Solve(ctx context.Context, model *Model, params Params) (*Solution, error) {
	if model == nil {
		return nil, errors.New("optimizer: nil model")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan *Solution, 1)
	go func() { done <- b.solve(model) }()

	var expired <-chan time.Time
	if params.TimeLimit > 0 {
		timer := time.NewTimer(params.TimeLimit)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case solution := <-done:
		return solution, nil
	case <-expired:
		b.logger.Warn("glpk solve exceeded its time limit; abandoning it",
			zap.String("model", model.Name),
			zap.Duration("time_limit", params.TimeLimit))
		return &Solution{Status: StatusNotSolved}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *GLPKBackend) solve(model *Model) *Solution {
	lp := glpk.New()
	defer lp.Delete()
	lp.SetProbName(model.Name)
	if model.Sense == Minimize {
		lp.SetObjDir(glpk.ObjDir(glpk.MIN))
	} else {
		lp.SetObjDir(glpk.ObjDir(glpk.MAX))
	}

	vars := model.Variables()
	if len(vars) > 0 {
		lp.AddCols(len(vars))
	}
	for i, v := range vars {
		col := i + 1
		lp.SetColName(col, v.Name)
		switch v.Kind {
		case Binary:
			lp.SetColKind(col, glpk.VarType(glpk.BV))
		case Integer:
			lp.SetColKind(col, glpk.VarType(glpk.IV))
			bndsType, lo, hi := columnBounds(v.Lower, v.Upper)
			lp.SetColBnds(col, bndsType, lo, hi)
		default:
			lp.SetColKind(col, glpk.VarType(glpk.CV))
			bndsType, lo, hi := columnBounds(v.Lower, v.Upper)
			lp.SetColBnds(col, bndsType, lo, hi)
		}
		lp.SetObjCoef(col, model.Objective(Var(i)))
	}

	rows := model.Constraints()
	if len(rows) > 0 {
		lp.AddRows(len(rows))
	}
	for i, row := range rows {
		r := i + 1
		lp.SetRowName(r, row.Name)
		switch row.Relation {
		case LessEqual:
			lp.SetRowBnds(r, glpk.BndsType(glpk.UP), 0, row.RHS)
		case GreaterEqual:
			lp.SetRowBnds(r, glpk.BndsType(glpk.LO), row.RHS, 0)
		default:
			lp.SetRowBnds(r, glpk.BndsType(glpk.FX), row.RHS, row.RHS)
		}
		// Index 0 of both slices is ignored by the binding.
		ind := make([]int32, 1, len(row.Terms)+1)
		val := make([]float64, 1, len(row.Terms)+1)
		for _, t := range row.Terms {
			ind = append(ind, int32(t.Var)+1)
			val = append(val, t.Coef)
		}
		lp.SetMatRow(r, ind, val)
	}

	iocp := glpk.NewIocp()
	iocp.SetPresolve(true)
	iocp.SetMsgLev(glpk.MsgLev(glpk.MSG_ERR))
	if err := lp.Intopt(iocp); err != nil {
		b.logger.Warn("glpk intopt failed", zap.Error(err))
		return &Solution{Status: StatusUndefined}
	}

	solution := &Solution{}
	switch lp.MipStatus() {
	case glpk.OPT:
		solution.Status = StatusOptimal
	case glpk.FEAS:
		solution.Status = StatusFeasible
	case glpk.NOFEAS:
		solution.Status = StatusInfeasible
	default:
		solution.Status = StatusUndefined
	}
	if solution.Status.HasSolution() {
		solution.values = make([]float64, len(vars))
		for i, v := range vars {
			value := lp.MipColVal(i + 1)
			if v.Kind.Integral() {
				value = math.Round(value)
			}
			solution.values[i] = value
		}
		solution.Objective = lp.MipObjVal()
	}
	return solution
}

func columnBounds(lower, upper float64) (glpk.BndsType, float64, float64) {
	loInf, hiInf := math.IsInf(lower, -1), math.IsInf(upper, 1)
	switch {
	case loInf && hiInf:
		return glpk.BndsType(glpk.FR), 0, 0
	case loInf:
		return glpk.BndsType(glpk.UP), 0, upper
	case hiInf:
		return glpk.BndsType(glpk.LO), lower, 0
	case lower == upper:
		return glpk.BndsType(glpk.FX), lower, upper
	default:
		return glpk.BndsType(glpk.DB), lower, upper
	}
}
