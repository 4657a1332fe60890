package gradeworker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cms-dev/cms/internal/domain"
)

// batchParams is the opaque content of Task.TaskTypeParams for "Batch"
// tasks: the name of the checker manager to run, or empty for a white
// diff against the testcase's expected output (grading.TaskType.py's
// BatchTaskType.evaluate_testcase).
type batchParams struct {
	Checker string `json:"checker,omitempty"`
}

// batch implements TaskType for the classic "compile one source file,
// run it against a testcase's input, compare output" style.
type batch struct {
	params batchParams
}

func newBatch(paramsJSON string) (TaskType, error) {
	var p batchParams
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
			return nil, fmt.Errorf("gradeworker: batch task type params: %w", err)
		}
	}
	return &batch{params: p}, nil
}

func (b *batch) GetUserManagers() []string    { return nil }
func (b *batch) Testable() bool               { return true }
func (b *batch) AllowPartialSubmission() bool { return false }
func (b *batch) ReusePreviousSubmission() bool { return false }

// Compile compiles tc's single source file, writing the resulting
// executable back through cacher. Submissions with more or fewer than
// one file are rejected as invalid rather than infrastructure failures.
func (b *batch) Compile(ctx domain.Context, tc TaskContext, cacher domain.Cacher, sandbox domain.Sandbox) (CompilationResult, error) {
	if len(tc.Files) != 1 {
		return CompilationResult{Success: true, Outcome: domain.CompilationFail, Text: "Invalid files in submission"}, nil
	}
	var sourceName, digest string
	for name, d := range tc.Files {
		sourceName, digest = name, d
	}

	workDir, err := os.MkdirTemp("", "gradeworker-compile-*")
	if err != nil {
		return CompilationResult{}, err
	}
	defer os.RemoveAll(workDir)

	sourcePath := filepath.Join(workDir, sourceName)
	if err := cacher.GetFileToPath(ctx, digest, sourcePath); err != nil {
		return CompilationResult{}, err
	}

	executableName := executableNameFor(sourceName)
	executablePath := filepath.Join(workDir, executableName)
	cmd, ok := compileCommand(tc.Language, sourcePath, executablePath)
	if !ok {
		return CompilationResult{
			Success:     true,
			Outcome:     domain.CompilationOK,
			Executables: map[string]string{sourceName: digest},
			Text:        "OK (interpreted language, no compilation needed)",
		}, nil
	}

	stats, err := sandbox.Run(ctx, cmd, domain.Limits{Time: 10 * time.Second, Memory: 256 * 1024 * 1024}, "", "")
	if err != nil {
		return CompilationResult{}, err
	}
	if stats.TimedOut {
		return CompilationResult{Success: true, Outcome: domain.CompilationFail, Text: "Compilation timed out", SandboxTrace: stats.Trace}, nil
	}
	if stats.ExitCode != 0 || stats.Signal != 0 {
		return CompilationResult{Success: true, Outcome: domain.CompilationFail, Text: "Compilation failed", SandboxTrace: stats.Trace}, nil
	}

	execData, err := os.ReadFile(executablePath)
	if err != nil {
		return CompilationResult{Success: true, Outcome: domain.CompilationFail, Text: "Compiler produced no executable", SandboxTrace: stats.Trace}, nil
	}
	execDigest, err := cacher.PutFile(ctx, execData, fmt.Sprintf("Executable %s", executableName))
	if err != nil {
		return CompilationResult{}, err
	}
	return CompilationResult{
		Success:      true,
		Outcome:      domain.CompilationOK,
		Executables:  map[string]string{executableName: execDigest},
		Text:         "OK",
		SandboxTrace: stats.Trace,
	}, nil
}

// Evaluate runs tc's single compiled executable against one testcase and
// grades the result either by white diff or by handing off to a checker
// manager, matching grading.TaskType.py's BatchTaskType.evaluate_testcase.
func (b *batch) Evaluate(ctx domain.Context, tc TaskContext, cacher domain.Cacher, sandbox domain.Sandbox) (EvaluationResult, error) {
	execName, execDigest, ok := soleEntry(tc.Executables)
	if !ok {
		return EvaluationResult{}, fmt.Errorf("gradeworker: batch evaluate: expected exactly one executable, got %d", len(tc.Executables))
	}

	workDir, err := os.MkdirTemp("", "gradeworker-eval-*")
	if err != nil {
		return EvaluationResult{}, err
	}
	defer os.RemoveAll(workDir)

	executablePath := filepath.Join(workDir, execName)
	if err := cacher.GetFileToPath(ctx, execDigest, executablePath); err != nil {
		return EvaluationResult{}, err
	}
	if err := os.Chmod(executablePath, 0o755); err != nil {
		return EvaluationResult{}, err
	}

	inputPath := filepath.Join(workDir, "input.txt")
	if err := cacher.GetFileToPath(ctx, tc.Testcase.InputDigest, inputPath); err != nil {
		return EvaluationResult{}, err
	}
	outputPath := filepath.Join(workDir, "output.txt")

	limits := domain.Limits{Time: tc.Dataset.TimeLimit, Memory: tc.Dataset.MemoryLimitBytes}
	stats, err := sandbox.Run(ctx, []string{executablePath}, limits, inputPath, outputPath)
	if err != nil {
		return EvaluationResult{}, err
	}

	res := EvaluationResult{
		Success:         true,
		ExecutionTime:   stats.ExecutionTime.Seconds(),
		WallTime:        stats.WallTime.Seconds(),
		MemoryUsedBytes: stats.MemoryUsedBytes,
		SandboxTrace:    stats.Trace,
	}
	switch {
	case stats.TimedOut:
		res.TestcaseOutcome, res.Text = "0.0", "Execution timed out"
		return res, nil
	case stats.Signal != 0:
		res.TestcaseOutcome, res.Text = "0.0", fmt.Sprintf("Execution killed with signal %d", stats.Signal)
		return res, nil
	case stats.ExitCode != 0:
		res.TestcaseOutcome, res.Text = "0.0", fmt.Sprintf("Execution exited with code %d", stats.ExitCode)
		return res, nil
	}

	outputData, err := os.ReadFile(outputPath)
	if err != nil {
		res.TestcaseOutcome, res.Text = "0.0", "Evaluation didn't produce file output.txt"
		return res, nil
	}
	outputDigest, err := cacher.PutFile(ctx, outputData, "Output file")
	if err != nil {
		return EvaluationResult{}, err
	}
	res.OutputDigest = outputDigest

	if tc.Testcase.OutputDigest == "" {
		// User tests have no expected output to grade against: stop
		// once the run produced an output file.
		res.Text = "Output produced"
		return res, nil
	}

	expectedPath := filepath.Join(workDir, "res.txt")
	if err := cacher.GetFileToPath(ctx, tc.Testcase.OutputDigest, expectedPath); err != nil {
		return EvaluationResult{}, err
	}

	manager := checkerManager(tc.Dataset.Managers, b.params.Checker)
	if manager == nil {
		expectedData, err := os.ReadFile(expectedPath)
		if err != nil {
			return EvaluationResult{}, err
		}
		if whiteDiff(outputData, expectedData) {
			res.TestcaseOutcome, res.Text = "1.0", "Output is correct"
		} else {
			res.TestcaseOutcome, res.Text = "0.0", "Output isn't correct"
		}
		return res, nil
	}

	managerPath := filepath.Join(workDir, manager.Filename)
	if err := cacher.GetFileToPath(ctx, manager.Digest, managerPath); err != nil {
		return EvaluationResult{}, err
	}
	if err := os.Chmod(managerPath, 0o755); err != nil {
		return EvaluationResult{}, err
	}
	checkerStdout := filepath.Join(workDir, "checker_stdout.txt")
	checkerLimits := domain.Limits{Time: 10 * time.Second, Memory: 256 * 1024 * 1024}
	if _, err := sandbox.Run(ctx, []string{managerPath, inputPath, expectedPath, outputPath}, checkerLimits, "", checkerStdout); err != nil {
		return EvaluationResult{}, err
	}
	outcome, text, err := parseCheckerOutput(checkerStdout)
	if err != nil {
		res.TestcaseOutcome, res.Text = "0.0", err.Error()
		return res, nil
	}
	res.TestcaseOutcome, res.Text = outcome, text
	return res, nil
}

// soleEntry returns the single (key, value) pair of m, or ok=false if m
// doesn't hold exactly one entry.
func soleEntry(m map[string]string) (key, value string, ok bool) {
	if len(m) != 1 {
		return "", "", false
	}
	for k, v := range m {
		return k, v, true
	}
	return "", "", false
}
