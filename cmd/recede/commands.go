package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/recede/internal/analysis"
	"github.com/san-kum/recede/internal/config"
	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/experiment"
	"github.com/san-kum/recede/internal/integrators"
	"github.com/san-kum/recede/internal/lqr"
	"github.com/san-kum/recede/internal/monitoring"
	"github.com/san-kum/recede/internal/optim"
	"github.com/san-kum/recede/internal/storage"
	"github.com/san-kum/recede/internal/viz"
)

var heading = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))

// resolveConfig layers, lowest first: defaults or --preset, --config, then
// any flag set on the command line.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	name := "default"
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, "", fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		name = preset
	}

	if configFile != "" {
		loaded, err := config.LoadInto(configFile, cfg)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		name = filepath.Base(configFile)
	}

	flags := cmd.Flags()
	if flags.Changed("dt") {
		cfg.Sim.Dt = dt
	}
	if flags.Changed("time") {
		cfg.Sim.Duration = duration
	}
	if flags.Changed("theta") {
		cfg.Sim.InitState.Theta = theta
	}
	if flags.Changed("pos") {
		cfg.Sim.InitState.Pos = pos
	}
	if flags.Changed("integrator") {
		cfg.Integrator = integrator
	}
	if flags.Changed("horizon") {
		cfg.MPC.Horizon = horizon
	}
	if flags.Changed("formulation") {
		cfg.MPC.Formulation = formulation
	}
	if flags.Changed("terminal") {
		cfg.MPC.Terminal = terminal
	}
	if flags.Changed("umax") {
		cfg.MPC.UMax = uMax
	}
	if flags.Changed("fallback") {
		cfg.MPC.Fallback = fallback
	}
	if flags.Changed("timeout") {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, "", fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.MPC.Timeout = d
	}
	return cfg, name, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, name, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Controller = args[0]
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	catalog, err := storage.OpenCatalog(filepath.Join(dataDir, "catalog.db"))
	if err != nil {
		return err
	}
	defer catalog.Close()

	exp, err := experiment.NewRegistry().Build(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("running %s on the cart-pole (%d steps, dt %g)...\n", cfg.Controller, cfg.Steps(), cfg.Sim.Dt)
	start := time.Now()
	result, err := exp.Run(cmd.Context())
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	meta := storage.Describe(exp, name, result)
	runID, err := st.Save(meta, result)
	if err != nil {
		return err
	}
	meta.ID = runID
	if err := catalog.Record(cmd.Context(), meta); err != nil {
		return err
	}
	monitoring.Logf("stored run %s in %s", runID, filepath.Join(dataDir, runID))

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("steps: %d", result.StepsTaken)
	if result.Diverged {
		fmt.Print(" (diverged)")
	}
	fmt.Println()
	if len(result.Errors) > 0 {
		fmt.Printf("recovered errors: %d, first: %v\n", len(result.Errors), result.Errors[0])
	}

	fmt.Println("\n" + heading.Render("metrics"))
	printMetrics(os.Stdout, result.Metrics)

	v := exp.Design().Value
	report := analysis.CheckDecrease(result.States, v)
	fmt.Println("\n" + heading.Render("value function xᵀPx"))
	fmt.Printf("  V(x0) %.6g  V(xN) %.6g  increases %d/%d\n", report.Initial, report.Final, report.Increases, report.Steps)

	if ctrl := exp.MPC(); ctrl != nil {
		stats := ctrl.Stats()
		fmt.Println("\n" + heading.Render("mpc"))
		fmt.Printf("  solves %d  failures %d  fallbacks %d\n", stats.Solves, stats.Failures, stats.Fallbacks)
		fmt.Printf("  mean solve %v  max solve %v\n", stats.MeanSolveTime(), stats.MaxSolveTime)
		if stats.Failures == 0 && len(stats.Costs) > 0 {
			cmp, err := analysis.CompareCostToGo(stats.Costs, result.States, v)
			if err == nil {
				fmt.Printf("  J* vs V: max gap %.3g%%  mean gap %.3g%%\n", 100*cmp.MaxRelGap, 100*cmp.MeanRelGap)
			}
		}
	}
	return nil
}

func printMetrics(out io.Writer, metrics map[string]float64) {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\t%.6g\n", name, metrics[name])
	}
	w.Flush()
}

func printGain(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Controller = "lqr"
	exp, err := experiment.NewRegistry().Build(cfg)
	if err != nil {
		return err
	}
	d := exp.Design()

	fmt.Println(heading.Render("P"))
	fmt.Printf("%v\n\n", mat.Formatted(d.P, mat.Prefix(""), mat.Squeeze()))
	fmt.Println(heading.Render("K"))
	fmt.Printf("%v\n\n", mat.Formatted(d.K, mat.Prefix(""), mat.Squeeze()))
	fmt.Printf("riccati residual: %.3g\n", d.Residual)
	fmt.Printf("controllable: %t\n", exp.Plant().Controllable())
	fmt.Println("closed-loop poles:")
	slowest := math.Inf(-1)
	for _, p := range d.Poles {
		fmt.Printf("  %.6g %+.6gi\n", real(p), imag(p))
		slowest = math.Max(slowest, real(p))
	}

	disc := exp.Discrete()
	scaled := exp.Weights().Scaled(cfg.Sim.Dt)
	if pd, err := lqr.SolveDARE(disc.Ad(), disc.Bd(), scaled.Q(), scaled.R()); err != nil {
		fmt.Printf("\ndiscrete design at dt %g failed: %v\n", cfg.Sim.Dt, err)
	} else if kd, err := lqr.GainDiscrete(pd, disc.Ad(), disc.Bd(), scaled.R()); err == nil {
		fmt.Println("\n" + heading.Render(fmt.Sprintf("K discrete (%s, dt %g)", disc.Method(), cfg.Sim.Dt)))
		fmt.Printf("%v\n", mat.Formatted(kd, mat.Prefix(""), mat.Squeeze()))
	}

	exponent, err := analysis.ClosedLoopExponent(cmd.Context(), exp.Plant(), integrators.NewRK4(), exp.Controller(),
		cfg.GetInitState(), cfg.Sim.Dt, 10, 1e-6)
	if err != nil {
		return err
	}
	fmt.Printf("\nclosed-loop exponent over 10s: %.4g (slowest pole %.4g)\n", exponent, slowest)
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	catalog, err := storage.OpenCatalog(filepath.Join(dataDir, "catalog.db"))
	if err != nil {
		return err
	}
	defer catalog.Close()

	var runs []storage.RunMetadata
	if best != "" {
		run, err := catalog.Best(cmd.Context(), best)
		if err != nil {
			return err
		}
		runs = append(runs, *run)
	} else {
		runs, err = catalog.Query(cmd.Context(), storage.Filter{Controller: filterController, Limit: limit})
		if err != nil {
			return err
		}
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRESET\tTIME\tCTRL\tN\tSTEPS\tSTAGE COST\tFALLBACKS")
	for _, run := range runs {
		n := "-"
		if run.Horizon > 0 {
			n = fmt.Sprint(run.Horizon)
		}
		steps := fmt.Sprint(run.Steps)
		if run.Diverged {
			steps += "!"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.6g\t%d\n",
			run.ID,
			run.Preset,
			run.Timestamp.Local().Format("2006-01-02 15:04:05"),
			run.Controller,
			n,
			steps,
			run.Metrics["stage_cost"],
			run.Fallbacks,
		)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	traj, err := st.LoadStates(args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", meta.ID)
	fmt.Fprintf(w, "preset\t%s\n", meta.Preset)
	fmt.Fprintf(w, "time\t%s\n", meta.Timestamp.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "controller\t%s\n", meta.Controller)
	fmt.Fprintf(w, "integrator\t%s\n", meta.Integrator)
	if meta.Controller == "mpc" {
		fmt.Fprintf(w, "horizon\t%d (%s, terminal %s)\n", meta.Horizon, meta.Formulation, meta.Terminal)
		if meta.UMax > 0 {
			fmt.Fprintf(w, "input limit\t%g\n", meta.UMax)
		}
		fmt.Fprintf(w, "solves\t%d (failed %d, fallback %d, mean %.3gms)\n", meta.Solves, meta.Failures, meta.Fallbacks, meta.MeanSolveMs)
	}
	fmt.Fprintf(w, "steps\t%d (dt %g, diverged %t)\n", meta.Steps, meta.Dt, meta.Diverged)
	if n := len(traj.States); n > 0 {
		fmt.Fprintf(w, "final state\t%.4g\n", traj.States[n-1])
	}
	w.Flush()

	fmt.Println("\n" + heading.Render("metrics"))
	printMetrics(os.Stdout, meta.Metrics)
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	traj, err := st.LoadStates(args[0])
	if err != nil {
		return err
	}

	out := struct {
		*storage.RunMetadata
		Times    []float64   `json:"times"`
		States   [][]float64 `json:"states"`
		Controls [][]float64 `json:"controls"`
	}{meta, traj.Times, traj.States, traj.Controls}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func exportCSV(cmd *cobra.Command, args []string) error {
	in, err := os.Open(filepath.Join(dataDir, args[0], "states.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, args[0])
		}
		return err
	}
	defer in.Close()

	var out io.Writer = os.Stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err = io.Copy(out, in)
	return err
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCTRL\tN\tFORM\tTERMINAL\tUMAX\tFALLBACK")
	for _, name := range config.ListPresets() {
		p := config.GetPreset(name)
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%g\t%s\n",
			name, p.Controller, p.MPC.Horizon, p.MPC.Formulation, p.MPC.Terminal, p.MPC.UMax, p.MPC.Fallback)
	}
	return w.Flush()
}

func sweepAngles(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Controller == "openloop" {
		return fmt.Errorf("sweep: openloop replays one plan from the configured x0; use mpc or lqr")
	}
	reg := experiment.NewRegistry()
	exp, err := reg.Build(cfg)
	if err != nil {
		return err
	}

	x0s := make([]dynamo.State, len(angles))
	for i, a := range angles {
		x0 := dynamo.State(cfg.GetInitState())
		x0[2] = a
		x0s[i] = x0
	}

	newIntegrator := func() dynamo.Integrator { return integrators.NewEuler() }
	if cfg.Integrator == "rk4" {
		newIntegrator = func() dynamo.Integrator { return integrators.NewRK4() }
	}
	ens := dynamo.NewEnsemble(exp.Plant(), newIntegrator, exp.ControllerFactory(reg)).
		WithMetrics(exp.DefaultMetrics).
		WithWorkers(workers)

	start := time.Now()
	results, err := ens.Run(cmd.Context(), x0s, exp.SimConfig())
	if err != nil {
		return err
	}
	fmt.Printf("%d runs in %v\n\n", len(results), time.Since(start))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "THETA0\tBOUNDED\tSTEPS\tMAX |X|\tIN BOUNDS\tSTAGE COST\tV INCREASES\tFALLBACKS")
	for i, r := range results {
		peak := 0.0
		for _, x := range r.States {
			peak = max(peak, x.MaxAbs())
		}
		fmt.Fprintf(w, "%g\t%t\t%d\t%.4g\t%.3f\t%.6g\t%g\t%d\n",
			angles[i], !r.Diverged, r.StepsTaken, peak, r.Metrics["stability"], r.Metrics["stage_cost"], r.Metrics["value_increases"], len(r.Errors))
	}
	return w.Flush()
}

func tuneGrid(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Controller = "mpc"

	g := optim.NewGridSearch([]string{"horizon", "r"}, [][]float64{horizons, rWeights})
	bestParams, bestValue, points, err := g.Search(cmd.Context(), optim.ConfigBuilder(cfg, experiment.NewRegistry()), metric)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "HORIZON\tR\t%s\n", metric)
	for _, p := range points {
		val := fmt.Sprintf("%.6g", p.Value)
		if p.Err != nil {
			val = p.Err.Error()
		}
		fmt.Fprintf(w, "%g\t%g\t%s\n", p.Params["horizon"], p.Params["r"], val)
	}
	w.Flush()
	if err != nil {
		return err
	}

	fmt.Printf("\nbest: horizon %g, r %g (%s %.6g)\n", bestParams["horizon"], bestParams["r"], metric, bestValue)
	return nil
}

func watchLoop(cmd *cobra.Command, args []string) error {
	cfg, name, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	// log lines would tear the alternate screen
	monitoring.SetVerbose(false)

	reg := experiment.NewRegistry()
	exp, err := reg.Build(cfg)
	if err != nil {
		return err
	}
	integ, err := reg.GetIntegrator(cfg.Integrator)
	if err != nil {
		return err
	}

	model := viz.NewModel(fmt.Sprintf("recede %s · %s", cfg.Controller, name), viz.Loop{
		System:     exp.Plant(),
		Integrator: integ,
		Controller: exp.Controller(),
		X0:         cfg.GetInitState(),
		Dt:         cfg.Sim.Dt,
		Steps:      cfg.Steps(),
		Value:      exp.Design().Value,
	})
	return viz.Run(model)
}
