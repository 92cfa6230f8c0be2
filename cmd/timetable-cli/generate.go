package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/service"
	"github.com/noah-isme/sma-timetable/pkg/optimizer"
)

type generateFlags struct {
	snapshot       string
	seed           int64
	timeout        time.Duration
	backend        string
	allowMissing   bool
	missingScore   int
	noPrecheck     bool
	teachers       []string
	classrooms     []string
	divisions      []string
	export         string
	exportDivision string
}

// runEntries serves the entries of a run that was never stored.
type runEntries []dto.TimetableEntryView

func (r runEntries) Entries(ctx context.Context, timetableID, divisionID string) ([]dto.TimetableEntryView, error) {
	if divisionID == "" {
		return r, nil
	}
	var out []dto.TimetableEntryView
	for _, e := range r {
		if e.DivisionID == divisionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func generateCmd(a *app) *cobra.Command {
	f := &generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Assign teachers and place every session",
		Long:  `Prints the run as JSON. The command fails when the run does not produce a timetable; the JSON still carries the outcome and its reasons.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := service.ReadSnapshotFile(f.snapshot)
			if err != nil {
				return err
			}
			snapshot, err := service.SnapshotFromFile(file)
			if err != nil {
				return err
			}
			backend, err := optimizer.New(f.backendName(a), a.logger)
			if err != nil {
				return err
			}

			seed := f.seed
			if !cmd.Flags().Changed("seed") {
				seed = time.Now().UnixNano()
			}
			timeout := f.timeout
			if !cmd.Flags().Changed("timeout") {
				timeout = a.cfg.Scheduler.PlacementTimeout
			}
			missing := f.missingScore
			if !cmd.Flags().Changed("missing-score") {
				missing = a.cfg.Scheduler.MissingScore
			}
			opts := engine.Options{
				Universe: engine.Universe{TeacherIDs: f.teachers, ClassroomIDs: f.classrooms, DivisionIDs: f.divisions},
				Assignment: engine.AssignmentOptions{
					RequirePreference: a.cfg.Scheduler.RequirePreference && !f.allowMissing,
					MissingScore:      missing,
					TimeLimit:         a.cfg.Scheduler.SolverTimeLimit,
				},
				PlacementTimeout: timeout,
				Precheck:         a.cfg.Scheduler.Precheck && !f.noPrecheck,
				Seed:             seed,
				ObserveEvery:     a.cfg.Scheduler.ProgressEvery,
				Observer: func(p engine.SearchProgress) {
					a.logger.Debug("placement search progress", zap.Int("nodes", p.Nodes), zap.Int("depth", p.Depth))
				},
			}

			result, err := engine.New(backend, a.logger).Generate(cmd.Context(), snapshot, opts)
			if err != nil {
				return err
			}
			resp := service.ResponseFromResult(result)
			if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if !result.Outcome.Succeeded() {
				return fmt.Errorf("generation finished with outcome %s", result.Outcome)
			}
			if f.export != "" {
				return f.writeExport(cmd.Context(), a, resp.Entries)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.snapshot, "snapshot", "", "Path to a YAML or JSON school snapshot")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "Seed for the session shuffle (random when omitted)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Placement search budget (defaults to SCHEDULER_PLACEMENT_TIMEOUT)")
	cmd.Flags().StringVar(&f.backend, "backend", "", "Assignment backend (defaults to SCHEDULER_BACKEND)")
	cmd.Flags().BoolVar(&f.allowMissing, "allow-missing-preference", false, "Let teachers without a preference row take a subject")
	cmd.Flags().IntVar(&f.missingScore, "missing-score", 0, "Score of a candidate without a preference row")
	cmd.Flags().BoolVar(&f.noPrecheck, "no-precheck", false, "Skip the placement feasibility pre-check")
	cmd.Flags().StringSliceVar(&f.teachers, "teachers", nil, "Restrict the run to these teacher ids")
	cmd.Flags().StringSliceVar(&f.classrooms, "classrooms", nil, "Restrict the run to these classroom ids")
	cmd.Flags().StringSliceVar(&f.divisions, "divisions", nil, "Restrict the run to these division ids")
	cmd.Flags().StringVar(&f.export, "export", "", "Also write the timetable to this .csv or .pdf file")
	cmd.Flags().StringVar(&f.exportDivision, "export-division", "", "Export the weekly grid of one division instead of every entry")
	_ = cmd.MarkFlagRequired("snapshot")

	return cmd
}

func (f *generateFlags) backendName(a *app) string {
	if f.backend != "" {
		return f.backend
	}
	return a.cfg.Scheduler.Backend
}

func (f *generateFlags) writeExport(ctx context.Context, a *app, entries []dto.TimetableEntryView) error {
	format := dto.ExportFormat(strings.TrimPrefix(strings.ToLower(filepath.Ext(f.export)), "."))
	exporter := service.NewExportService(runEntries(entries), service.ExportLookups{}, a.logger, nil, nil)
	file, err := exporter.Export(ctx, "run", f.exportDivision, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.export, file.Body, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	a.logger.Info("timetable exported", zap.String("path", f.export), zap.Int("bytes", len(file.Body)))
	return nil
}
