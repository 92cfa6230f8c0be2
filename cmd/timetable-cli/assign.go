package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/service"
	"github.com/noah-isme/sma-timetable/pkg/optimizer"
)

func assignCmd(a *app) *cobra.Command {
	var (
		snapshotPath string
		backendName  string
		allowMissing bool
	)
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Run teacher assignment only and print the workload report",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := service.ReadSnapshotFile(snapshotPath)
			if err != nil {
				return err
			}
			snapshot, err := service.SnapshotFromFile(file)
			if err != nil {
				return err
			}
			if err := snapshot.Validate(); err != nil {
				return err
			}
			if backendName == "" {
				backendName = a.cfg.Scheduler.Backend
			}
			backend, err := optimizer.New(backendName, a.logger)
			if err != nil {
				return err
			}

			result, err := engine.NewAssignmentSolver(backend, a.logger).Solve(cmd.Context(), snapshot, engine.AssignmentOptions{
				RequirePreference: a.cfg.Scheduler.RequirePreference && !allowMissing,
				MissingScore:      a.cfg.Scheduler.MissingScore,
				TimeLimit:         a.cfg.Scheduler.SolverTimeLimit,
			})
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), service.AssignmentReportFromResult(result)); err != nil {
				return err
			}
			if !result.Status.Solved() {
				return fmt.Errorf("assignment finished with status %s", result.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Path to a YAML or JSON school snapshot")
	cmd.Flags().StringVar(&backendName, "backend", "", "Assignment backend (defaults to SCHEDULER_BACKEND)")
	cmd.Flags().BoolVar(&allowMissing, "allow-missing-preference", false, "Let teachers without a preference row take a subject")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}
