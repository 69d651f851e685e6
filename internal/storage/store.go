package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/recede/internal/dynamo"
	"github.com/san-kum/recede/internal/experiment"
)

var ErrNotFound = errors.New("storage: run not found")

const (
	metadataFile = "metadata.json"
	statesFile   = "states.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

type RunMetadata struct {
	ID          string             `json:"id"`
	Preset      string             `json:"preset"`
	Timestamp   time.Time          `json:"timestamp"`
	Controller  string             `json:"controller"`
	Integrator  string             `json:"integrator"`
	Formulation string             `json:"formulation,omitempty"`
	Horizon     int                `json:"horizon,omitempty"`
	Terminal    string             `json:"terminal,omitempty"`
	UMax        float64            `json:"u_max,omitempty"`
	Dt          float64            `json:"dt"`
	Duration    float64            `json:"duration"`
	Steps       int                `json:"steps"`
	Diverged    bool               `json:"diverged"`
	Solves      int                `json:"solves,omitempty"`
	Failures    int                `json:"failures,omitempty"`
	Fallbacks   int                `json:"fallbacks,omitempty"`
	MeanSolveMs float64            `json:"mean_solve_ms,omitempty"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Describe collects the metadata of a finished run of e.
func Describe(e *experiment.Experiment, preset string, result *dynamo.Result) RunMetadata {
	cfg := e.Config()
	meta := RunMetadata{
		Preset:     preset,
		Timestamp:  time.Now().UTC(),
		Controller: cfg.Controller,
		Integrator: cfg.Integrator,
		Dt:         cfg.Sim.Dt,
		Duration:   cfg.Sim.Duration,
		Steps:      result.StepsTaken,
		Diverged:   result.Diverged,
		Metrics:    finiteMetrics(result.Metrics),
	}
	if ctrl := e.MPC(); ctrl != nil {
		stats := ctrl.Stats()
		meta.Formulation = cfg.MPC.Formulation
		meta.Horizon = cfg.MPC.Horizon
		meta.Terminal = cfg.MPC.Terminal
		meta.UMax = cfg.MPC.UMax
		meta.Solves = stats.Solves
		meta.Failures = stats.Failures
		meta.Fallbacks = stats.Fallbacks
		meta.MeanSolveMs = float64(stats.MeanSolveTime()) / float64(time.Millisecond)
	}
	return meta
}

// Save writes metadata.json and states.csv under a new run directory and
// returns the run ID. An empty meta.ID gets a random one.
func (s *Store) Save(meta RunMetadata, result *dynamo.Result) (string, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}

	meta.Metrics = finiteMetrics(meta.Metrics)

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("storage: encode metadata: %w", err)
	}

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("storage: create run dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, metadataFile), append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("storage: write metadata: %w", err)
	}

	if err := writeFile(filepath.Join(runDir, statesFile), func(w io.Writer) error {
		return WriteCSV(w, result)
	}); err != nil {
		return "", fmt.Errorf("storage: write states: %w", err)
	}
	return meta.ID, nil
}

// finiteMetrics clamps infinite values to ±MaxFloat64 and drops NaNs so
// diverged runs still encode as JSON and index in the catalog.
func finiteMetrics(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for name, v := range in {
		switch {
		case math.IsNaN(v):
			continue
		case math.IsInf(v, 1):
			v = math.MaxFloat64
		case math.IsInf(v, -1):
			v = -math.MaxFloat64
		}
		out[name] = v
	}
	return out
}

func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteCSV writes one row per recorded state: time, x0..x(n-1), u0..u(m-1).
// The final state has no control and gets zeros.
func WriteCSV(out io.Writer, result *dynamo.Result) error {
	w := csv.NewWriter(out)
	if len(result.States) > 0 {
		if err := writeRows(w, result); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeRows(w *csv.Writer, result *dynamo.Result) error {
	n := len(result.States[0])
	m := 0
	if len(result.Controls) > 0 {
		m = len(result.Controls[0])
	}

	header := append([]string{"time"}, columns("x", n)...)
	if err := w.Write(append(header, columns("u", m)...)); err != nil {
		return err
	}

	zeros := make([]float64, m)
	for i, x := range result.States {
		u := zeros
		if i < len(result.Controls) && len(result.Controls[i]) == m {
			u = result.Controls[i]
		}
		row := make([]string, 0, 1+n+m)
		row = append(row, strconv.FormatFloat(result.Times[i], 'f', 6, 64))
		for _, v := range append(append([]float64(nil), x...), u...) {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func columns(prefix string, n int) []string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = prefix + strconv.Itoa(i)
	}
	return cols
}

// List returns the saved runs, newest first. Directories without readable
// metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []RunMetadata{}, nil
	}
	if err != nil {
		return nil, err
	}

	runs := make([]RunMetadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if meta, err := s.Load(entry.Name()); err == nil {
			runs = append(runs, *meta)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, notFound(runID, err)
	}
	meta := &RunMetadata{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", runID, err)
	}
	return meta, nil
}

func notFound(runID string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return err
}

// Trajectory is a run read back from states.csv.
type Trajectory struct {
	Times    []float64
	States   [][]float64
	Controls [][]float64
}

func (s *Store) LoadStates(runID string) (*Trajectory, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, statesFile))
	if err != nil {
		return nil, notFound(runID, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	traj := &Trajectory{}
	if len(records) < 2 {
		return traj, nil
	}

	header := records[0]
	for i, record := range records[1:] {
		line := i + 2
		if len(record) != len(header) {
			return nil, fmt.Errorf("storage: %s line %d has %d fields, header has %d", runID, line, len(record), len(header))
		}

		var state, control []float64
		for j, field := range record {
			val, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("storage: %s line %d: %w", runID, line, err)
			}
			switch {
			case j == 0:
				traj.Times = append(traj.Times, val)
			case strings.HasPrefix(header[j], "u"):
				control = append(control, val)
			default:
				state = append(state, val)
			}
		}
		traj.States = append(traj.States, state)
		traj.Controls = append(traj.Controls, control)
	}
	return traj, nil
}

// Delete removes a run directory.
func (s *Store) Delete(runID string) error {
	dir := filepath.Join(s.baseDir, runID)
	if _, err := os.Stat(dir); err != nil {
		return notFound(runID, err)
	}
	return os.RemoveAll(dir)
}
