package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/san-kum/recede/internal/monitoring"
)

var (
	dataDir     string
	configFile  string
	preset      string
	dt          float64
	duration    float64
	theta       float64
	pos         float64
	integrator  string
	horizon     int
	formulation string
	terminal    string
	uMax        float64
	fallback    string
	timeout     string
	quiet       bool
	// sweep
	angles  []float64
	workers int
	// tune
	horizons []float64
	rWeights []float64
	metric   string
	// list
	filterController string
	limit            int
	best             string
	// export-csv
	outFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "recede",
		Short: "LQR and receding-horizon MPC for the linearized cart-pole",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			monitoring.SetVerbose(!quiet)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".recede", "data directory")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "silence diagnostic logging")

	runCmd := &cobra.Command{
		Use:   "run [lqr|mpc|none]",
		Short: "simulate the closed loop and store the run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulation,
	}
	addConfigFlags(runCmd)

	gainCmd := &cobra.Command{
		Use:   "gain",
		Short: "print the Riccati solution, LQR gain and closed-loop poles",
		Args:  cobra.NoArgs,
		RunE:  printGain,
	}
	addConfigFlags(gainCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}
	listCmd.Flags().StringVar(&filterController, "controller", "", "only runs with this controller")
	listCmd.Flags().IntVar(&limit, "limit", 0, "show at most this many runs")
	listCmd.Flags().StringVar(&best, "best", "", "show the non-diverged run with the lowest value of this metric")

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show run metadata and metrics",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run metadata and trajectory as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export the run trajectory as CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		RunE:  listPresets,
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "run the configured controller from several initial angles in parallel",
		Args:  cobra.NoArgs,
		RunE:  sweepAngles,
	}
	addConfigFlags(sweepCmd)
	sweepCmd.Flags().Float64SliceVar(&angles, "angles", []float64{0.05, 0.1, 0.2, 0.3, 0.5}, "initial pole angles")
	sweepCmd.Flags().IntVar(&workers, "workers", 0, "concurrent runs (default GOMAXPROCS)")

	tuneCmd := &cobra.Command{
		Use:   "tune",
		Short: "grid search MPC horizon and input weight on a metric",
		Args:  cobra.NoArgs,
		RunE:  tuneGrid,
	}
	addConfigFlags(tuneCmd)
	tuneCmd.Flags().Float64SliceVar(&horizons, "horizons", []float64{5, 10, 20}, "horizon lengths")
	tuneCmd.Flags().Float64SliceVar(&rWeights, "r", []float64{0.001, 0.01, 0.1}, "input weights")
	tuneCmd.Flags().StringVar(&metric, "metric", "stage_cost", "metric to minimize")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "step the closed loop live in the terminal",
		Args:  cobra.NoArgs,
		RunE:  watchLoop,
	}
	addConfigFlags(watchCmd)

	rootCmd.AddCommand(runCmd, gainCmd, listCmd, showCmd, exportJSONCmd, exportCSVCmd, presetsCmd, sweepCmd, tuneCmd, watchCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "start from a named preset")
	cmd.Flags().Float64Var(&dt, "dt", 0.01, "control interval")
	cmd.Flags().Float64Var(&duration, "time", 3.0, "duration")
	cmd.Flags().Float64Var(&theta, "theta", 0.0, "initial pole angle")
	cmd.Flags().Float64Var(&pos, "pos", 0.1, "initial cart position")
	cmd.Flags().StringVar(&integrator, "integrator", "euler", "integrator (euler, rk4)")
	cmd.Flags().IntVar(&horizon, "horizon", 20, "MPC horizon")
	cmd.Flags().StringVar(&formulation, "formulation", "condensed", "MPC formulation (condensed, sparse)")
	cmd.Flags().StringVar(&terminal, "terminal", "care", "MPC terminal weight (care, dare, none)")
	cmd.Flags().Float64Var(&uMax, "umax", 0, "input limit |u| <= umax (0 for none)")
	cmd.Flags().StringVar(&fallback, "fallback", "none", "policy on solve failure (none, zero, hold)")
	cmd.Flags().StringVar(&timeout, "timeout", "1s", "per-solve time limit (0 disables)")
}
