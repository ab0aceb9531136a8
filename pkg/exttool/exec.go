package exttool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ToolSpec is how to start one tool.
type ToolSpec struct {
	Path string
	Args []string // Placed before the request flags
	Env  []string // Added to the current environment
}

// Tools configures the three programs.
type Tools struct {
	Calibrate ToolSpec
	Integrate ToolSpec
	Outliers  ToolSpec
}

// ToolError is a failed tool run.
type ToolError struct {
	Tool     string
	ExitCode int
	Timeout  bool
	Limit    time.Duration // Wall clock limit in force, for timeouts
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	var msg string
	switch {
	case e.Timeout && e.Limit > 0:
		msg = fmt.Sprintf("%s timed out after %s", e.Tool, e.Limit)
	case e.Timeout:
		msg = fmt.Sprintf("%s timed out", e.Tool)
	case e.ExitCode != 0:
		msg = fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	default:
		msg = fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is, or wraps, a timed out ToolError.
func IsTimeout(err error) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Timeout
}

// Exec runs the tools as subprocesses.
type Exec struct {
	Tools   Tools
	Timeout time.Duration // Per call; zero means no limit
	Logger  *log.Logger   // nil discards
}

// NewExec returns an Exec runner.
func NewExec(tools Tools, timeout time.Duration, logger *log.Logger) *Exec {
	if logger == nil {
		logger = discard
	}
	return &Exec{Tools: tools, Timeout: timeout, Logger: logger}
}

// Calibrate implements Runner. It must produce the calibrated data file.
func (e *Exec) Calibrate(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, "calibrate", e.Tools.Calibrate, req, req.Artifacts().Calibrated)
}

// Integrate implements Runner. It must produce the higher-level data file.
func (e *Exec) Integrate(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, "integrate", e.Tools.Integrate, req, req.Artifacts().HigherLevel)
}

// RemoveOutliers implements Runner. It must produce the cleaned relationship file.
func (e *Exec) RemoveOutliers(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, "outliers", e.Tools.Outliers, req, req.Artifacts().CleanRels)
}

func (e *Exec) run(ctx context.Context, name string, spec ToolSpec, req Request, required string) (*Result, error) {
	if spec.Path == "" {
		return nil, errors.Errorf("%s: no executable configured", name)
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, spec.Args...), Flags(req)...)
	cmd := exec.CommandContext(ctx, spec.Path, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = logWriter{e.logger(), name}

	e.logger().Printf("%s: %s %s", name, spec.Path, strings.Join(args, " "))
	start := time.Now()
	err := cmd.Run()
	e.logger().Printf("%s: %s finished in %s", name, req.Prefix, time.Since(start).Round(time.Millisecond))

	if err != nil {
		te := &ToolError{Tool: name, Stderr: stderr.String(), Err: err, ExitCode: -1}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			te.ExitCode = exitErr.ExitCode()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || te.ExitCode == TimeoutExitCode {
			te.Timeout = true
			te.Limit = e.Timeout
		}
		return nil, te
	}

	if _, err := os.Stat(required); err != nil {
		return nil, &ToolError{Tool: name, Stderr: stderr.String(), Err: errors.Wrap(err, "expected output missing")}
	}
	return Collect(req)
}

// Collect builds the Result of a finished request from the files on disk.
func Collect(req Request) (*Result, error) {
	res := &Result{Artifacts: req.Artifacts()}
	if _, err := os.Stat(res.Info); err == nil {
		v, err := ReadVariance(res.Info)
		if err != nil {
			return nil, err
		}
		res.Variance = v
	}
	if _, err := os.Stat(res.Stats); err == nil {
		rows, err := ReadStats(res.Stats)
		if err != nil {
			return nil, err
		}
		res.Rows = rows
	}
	return res, nil
}

// Flags renders the request as tool arguments.
func Flags(req Request) []string {
	args := []string{"-data", req.DataFile, "-prefix", req.Prefix, "-outdir", req.WorkDir}
	if req.RelFile != "" && !req.NoRelationship {
		args = append(args, "-rels", req.RelFile)
	}
	if req.InfoFile != "" {
		args = append(args, "-info", req.InfoFile)
	}
	if req.ForcedVariance != nil {
		args = append(args, "-variance", strconv.FormatFloat(*req.ForcedVariance, 'g', -1, 64))
	}
	if req.MaxIterations > 0 {
		args = append(args, "-iterations", strconv.Itoa(req.MaxIterations))
	}
	if req.FDR > 0 {
		args = append(args, "-fdr", strconv.FormatFloat(req.FDR, 'g', -1, 64))
	}
	if req.NoRelationship {
		args = append(args, "-norels")
	}
	return args
}

func (e *Exec) logger() *log.Logger {
	if e.Logger == nil {
		return discard
	}
	return e.Logger
}

var discard = log.New(io.Discard, "", 0)

// logWriter forwards tool stdout to the logger.
type logWriter struct {
	l    *log.Logger
	name string
}

func (w logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.l.Printf("%s> %s", w.name, line)
		}
	}
	return len(p), nil
}
