package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ExecStage runs an external command as a pipeline stage. Only the exit
// status is interpreted; the stage is opaque otherwise. Stderr is captured
// so a failing run can report the tool's diagnostics.
type ExecStage struct {
	name   string
	argv   []string
	dir    string
	logger *zap.Logger
}

// NewExecStage builds a stage around argv executed in dir.
func NewExecStage(name string, argv []string, dir string, logger *zap.Logger) (*ExecStage, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("command is required for stage %s", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecStage{
		name:   name,
		argv:   argv,
		dir:    dir,
		logger: logger.Named(name),
	}, nil
}

// Name returns the stage name.
func (s *ExecStage) Name() string { return s.name }

// Execute runs the command and waits for it. A non-zero exit surfaces as an
// error carrying the exit status and trailing stderr.
func (s *ExecStage) Execute(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	cmd.Dir = s.dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	s.logger.Info("running external command", zap.Strings("argv", s.argv), zap.String("dir", s.dir))
	err := cmd.Run()
	if err == nil {
		return nil
	}

	detail := strings.TrimSpace(stderr.String())
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && detail != "" {
		return fmt.Errorf("%v: %s", exitErr, detail)
	}
	if detail != "" {
		return fmt.Errorf("%w: %s", err, detail)
	}
	return err
}

// EnrichStage chains the detect and load steps of enrichment. The load step
// is not attempted when detection fails, so a stale artifact is never
// ingested.
type EnrichStage struct {
	detect Stage
	load   Stage
}

// NewEnrichStage builds the two-step enrichment stage.
func NewEnrichStage(detect, load Stage) *EnrichStage {
	return &EnrichStage{detect: detect, load: load}
}

// Name returns "enrich".
func (s *EnrichStage) Name() string { return "enrich" }

// Execute runs detect then load.
func (s *EnrichStage) Execute(ctx context.Context) error {
	if err := s.detect.Execute(ctx); err != nil {
		return fmt.Errorf("%s step: %w", s.detect.Name(), err)
	}
	if err := s.load.Execute(ctx); err != nil {
		return fmt.Errorf("%s step: %w", s.load.Name(), err)
	}
	return nil
}
