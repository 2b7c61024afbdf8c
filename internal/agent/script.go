package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Proton-105/protrader-agent/internal/errors"
	"github.com/Proton-105/protrader-agent/internal/fsm"
	"github.com/Proton-105/protrader-agent/internal/marketplace"
	"github.com/Proton-105/protrader-agent/internal/state"
	"github.com/Proton-105/protrader-agent/pkg/logger"
)

const scriptName = "marketplace"

// Workflow is the part of marketplace.Workflow a run needs.
type Workflow interface {
	Run(ctx context.Context, resources []marketplace.Resource, lines []marketplace.FortuneLine) (fsm.Status, error)
}

// WorkflowFactory builds a fresh workflow whose progress is reported to progress.
type WorkflowFactory func(progress func(ctx context.Context, p marketplace.Progress)) (Workflow, error)

// Item is one start_script entry as sent by the operator.
type Item struct {
	Slug      string `mapstructure:"slug"`
	SlugFR    string `mapstructure:"slug_fr"`
	NameFR    string `mapstructure:"name_fr"`
	ImgBlob   string `mapstructure:"img_blob"`
	ImgBase64 string `mapstructure:"img_base64"`
}

// Name returns the first non-empty of slug, slug_fr and name_fr.
func (it Item) Name() string {
	for _, s := range []string{it.Slug, it.SlugFR, it.NameFR} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func (it Item) image() string {
	if it.ImgBlob != "" {
		return it.ImgBlob
	}
	return it.ImgBase64
}

// StartResult is the data of a script_result reply.
type StartResult struct {
	OK        bool                   `json:"ok"`
	Started   bool                   `json:"started"`
	Error     string                 `json:"error,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Resources []marketplace.Resource `json:"resources,omitempty"`
}

type activeRun struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Scripts starts and stops workflow runs. At most one run is active.
type Scripts struct {
	tracker state.Tracker
	build   WorkflowFactory
	tempDir string
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	current *activeRun
}

// NewScripts wires run management. Templates are written under tempDir
// (the OS temp dir when empty).
func NewScripts(tracker state.Tracker, build WorkflowFactory, tempDir string, log *slog.Logger) *Scripts {
	if log == nil {
		log = slog.Default()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	return &Scripts{
		tracker: tracker,
		build:   build,
		tempDir: tempDir,
		log:     log.With("component", "scripts"),
		now:     time.Now,
	}
}

// Register binds the script commands on d.
func (s *Scripts) Register(d *Dispatcher) {
	d.Register("start_script", s.startAction)
	d.Register("stop_script", s.stopAction)
	d.Register("status", s.statusAction)
}

func (s *Scripts) startAction(ctx context.Context, cmd Command) (Reply, error) {
	var args struct {
		Items []Item `mapstructure:"items"`
	}
	if err := decodeArgs(cmd.Args, &args); err != nil {
		return Reply{}, apperrors.NewValidationError(fmt.Sprintf("items: %v", err))
	}

	lines, err := decodeFortuneLines(cmd.Args["fortune_lines"])
	if err != nil {
		return Reply{}, apperrors.NewValidationError(fmt.Sprintf("fortune_lines: %v", err))
	}

	res, err := s.Start(ctx, args.Items, lines)
	if err != nil {
		return Reply{}, err
	}

	return Reply{Type: "script_result", Data: res, Meta: map[string]any{"cmd": cmd.Cmd}}, nil
}

// Start decodes items into template files and launches a run in the background.
// Empty or unusable input yields a result with OK false rather than an error.
func (s *Scripts) Start(ctx context.Context, items []Item, lines []marketplace.FortuneLine) (StartResult, error) {
	s.log.InfoContext(ctx, "start requested", slog.Int("items", len(items)), slog.Int("fortune_lines", len(lines)))

	if len(items) == 0 {
		return StartResult{Error: "no items received"}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return StartResult{}, runActiveError()
	}

	resources, err := s.writeTemplates(items)
	if err != nil {
		return StartResult{}, err
	}
	if len(resources) == 0 {
		return StartResult{Error: "no usable resource"}, nil
	}

	runID := logger.NewID()
	if _, err := s.tracker.Begin(ctx, runID, scriptName, len(resources)); err != nil {
		removeTemplates(resources)
		if errors.Is(err, state.ErrRunActive) {
			return StartResult{}, runActiveError()
		}
		return StartResult{}, err
	}

	runCtx, cancel := context.WithCancel(logger.WithRunID(context.WithoutCancel(ctx), runID))
	wf, err := s.build(s.progress(runID))
	if err != nil {
		cancel()
		removeTemplates(resources)
		_ = s.tracker.Finish(runCtx, runID, state.StatusError)
		return StartResult{}, apperrors.NewConfigError("cannot build workflow", err)
	}

	run := &activeRun{id: runID, cancel: cancel, done: make(chan struct{})}
	s.current = run

	go s.execute(runCtx, run, wf, resources, lines)

	return StartResult{OK: true, Started: true, RunID: runID, Resources: resources}, nil
}

func (s *Scripts) execute(ctx context.Context, run *activeRun, wf Workflow, resources []marketplace.Resource, lines []marketplace.FortuneLine) {
	defer close(run.done)
	defer run.cancel()
	defer removeTemplates(resources)

	status, err := wf.Run(ctx, resources, lines)

	log := s.log.With(slog.String("run_id", run.id), slog.String("status", string(status)))
	if err != nil {
		log.ErrorContext(ctx, "run finished with error", slog.Any("error", err))
	} else {
		log.InfoContext(ctx, "run finished")
	}

	if ferr := s.tracker.Finish(context.WithoutCancel(ctx), run.id, string(status)); ferr != nil {
		log.WarnContext(ctx, "failed to record run end", slog.Any("error", ferr))
	}

	s.mu.Lock()
	if s.current == run {
		s.current = nil
	}
	s.mu.Unlock()
}

func (s *Scripts) progress(runID string) func(ctx context.Context, p marketplace.Progress) {
	return func(ctx context.Context, p marketplace.Progress) {
		err := s.tracker.Update(ctx, runID, func(snap *state.Snapshot) {
			snap.State = string(p.State)
			snap.Resource = p.Resource
			snap.Index = p.Index
			snap.Count = p.Count
			if p.Kamas != nil {
				k := *p.Kamas
				snap.Kamas = &k
			}
			snap.UpdatedAt = s.now().UTC()
		})
		if err != nil {
			s.log.WarnContext(ctx, "failed to record progress", slog.String("run_id", runID), slog.Any("error", err))
		}
	}
}

// Stop cancels the active run and waits for it to wind down or ctx to end.
// It returns the id of the stopped run, or "" when nothing was running.
func (s *Scripts) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()

	if run == nil {
		return "", nil
	}

	run.cancel()
	select {
	case <-run.done:
		return run.id, nil
	case <-ctx.Done():
		return run.id, ctx.Err()
	}
}

// Active returns the id of the running run, if any.
func (s *Scripts) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", false
	}
	return s.current.id, true
}

func (s *Scripts) stopAction(ctx context.Context, _ Command) (Reply, error) {
	runID, err := s.Stop(ctx)
	if err != nil {
		return Reply{}, err
	}

	return Reply{Type: "script_stopped", Data: map[string]any{"ok": true, "stopped": runID != "", "run_id": runID}}, nil
}

func (s *Scripts) statusAction(ctx context.Context, _ Command) (Reply, error) {
	snap, err := s.tracker.Latest(ctx)
	if errors.Is(err, state.ErrSnapshotNotFound) {
		return Reply{Type: "status", Data: map[string]any{"active": false}}, nil
	}
	if err != nil {
		return Reply{}, err
	}

	return Reply{Type: "status", Data: map[string]any{"active": snap.Active(), "run": snap}}, nil
}

func (s *Scripts) writeTemplates(items []Item) ([]marketplace.Resource, error) {
	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	var resources []marketplace.Resource
	for i, it := range items {
		slug := it.Name()
		encoded := it.image()
		if encoded == "" {
			s.log.Warn("item without image skipped", slog.String("slug", slug))
			continue
		}

		raw, err := DecodeImage(encoded)
		if err != nil {
			removeTemplates(resources)
			return nil, apperrors.NewValidationError(fmt.Sprintf("items[%d] %q: %v", i, slug, err))
		}

		f, err := os.CreateTemp(s.tempDir, "protrader-*.png")
		if err != nil {
			removeTemplates(resources)
			return nil, fmt.Errorf("create template file: %w", err)
		}
		_, werr := f.Write(raw)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			_ = os.Remove(f.Name())
			removeTemplates(resources)
			return nil, fmt.Errorf("write template file: %w", err)
		}

		resources = append(resources, marketplace.Resource{Slug: slug, Template: f.Name()})
	}

	return resources, nil
}

func removeTemplates(resources []marketplace.Resource) {
	for _, r := range resources {
		_ = os.Remove(r.Template)
	}
}

// DecodeImage accepts raw base64 or a data URL.
func DecodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 || !strings.HasSuffix(s[:comma], ";base64") {
			return nil, errors.New("unsupported data URL")
		}
		s = s[comma+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("empty image")
	}
	return raw, nil
}

// decodeFortuneLines reuses the JSON decoding of FortuneLine so numbers may
// arrive as strings.
func decodeFortuneLines(v any) ([]marketplace.FortuneLine, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var lines []marketplace.FortuneLine
	if err := json.Unmarshal(b, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func runActiveError() error {
	err := apperrors.NewStateError("a run is already active")
	err.OperatorMessage = "a run is already active"
	return err
}
