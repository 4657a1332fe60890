package gradeworker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cms-dev/cms/internal/domain"
)

// communicationParams names the manager that talks to the submission
// over stdin/stdout (grading.TaskType.py's CommunicationTaskType pipes
// the two processes together through a pair of fifos; this port wires
// them through the sandbox's stdin/stdout redirection instead).
type communicationParams struct {
	Manager string `json:"manager"`
}

// communication implements TaskType for tasks where the submission is
// run alongside a manager process rather than against static input: the
// manager feeds the submission its input over stdin and reads the
// submission's stdout, then reports an outcome the same way a Batch
// checker manager does.
type communication struct {
	compileStep *batch // compiling a Communication submission is identical to Batch
	params      communicationParams
}

func newCommunication(paramsJSON string) (TaskType, error) {
	var p communicationParams
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
			return nil, fmt.Errorf("gradeworker: communication task type params: %w", err)
		}
	}
	return &communication{compileStep: &batch{}, params: p}, nil
}

func (c *communication) GetUserManagers() []string    { return nil }
func (c *communication) Testable() bool               { return false }
func (c *communication) AllowPartialSubmission() bool { return false }
func (c *communication) ReusePreviousSubmission() bool { return false }

func (c *communication) Compile(ctx domain.Context, tc TaskContext, cacher domain.Cacher, sandbox domain.Sandbox) (CompilationResult, error) {
	return c.compileStep.Compile(ctx, tc, cacher, sandbox)
}

// Evaluate runs the submission's executable with its stdin/stdout
// redirected to files the manager also reads/writes, simulating the
// source's fifo-connected pipe with the plain file-based Sandbox
// boundary this port exposes (spec.md §1: a full bidirectional pipe
// sandbox is out of scope).
func (c *communication) Evaluate(ctx domain.Context, tc TaskContext, cacher domain.Cacher, sandbox domain.Sandbox) (EvaluationResult, error) {
	execName, execDigest, ok := soleEntry(tc.Executables)
	if !ok {
		return EvaluationResult{}, fmt.Errorf("gradeworker: communication evaluate: expected exactly one executable, got %d", len(tc.Executables))
	}
	manager := checkerManager(tc.Dataset.Managers, c.params.Manager)
	if manager == nil {
		return EvaluationResult{}, fmt.Errorf("gradeworker: communication evaluate: dataset has no manager")
	}

	workDir, err := os.MkdirTemp("", "gradeworker-comm-*")
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
	managerPath := filepath.Join(workDir, manager.Filename)
	if err := cacher.GetFileToPath(ctx, manager.Digest, managerPath); err != nil {
		return EvaluationResult{}, err
	}
	if err := os.Chmod(managerPath, 0o755); err != nil {
		return EvaluationResult{}, err
	}
	inputPath := filepath.Join(workDir, "input.txt")
	if err := cacher.GetFileToPath(ctx, tc.Testcase.InputDigest, inputPath); err != nil {
		return EvaluationResult{}, err
	}

	// Manager reads input.txt and writes the submission's stdin to
	// submission_in.txt; the submission's stdout goes straight to a file
	// the manager's judge run then reads (input.txt -> manager ->
	// submission_in.txt -> submission -> submission_out.txt -> manager).
	managerInputPath := filepath.Join(workDir, "submission_in.txt")
	managerStats, err := sandbox.Run(ctx, []string{managerPath, inputPath}, domain.Limits{Time: 10 * time.Second, Memory: 256 * 1024 * 1024}, "", managerInputPath)
	if err != nil {
		return EvaluationResult{}, err
	}
	_ = managerStats

	submissionOutputPath := filepath.Join(workDir, "submission_out.txt")
	limits := domain.Limits{Time: tc.Dataset.TimeLimit, Memory: tc.Dataset.MemoryLimitBytes}
	stats, err := sandbox.Run(ctx, []string{executablePath}, limits, managerInputPath, submissionOutputPath)
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
	}

	submissionOutputData, err := os.ReadFile(submissionOutputPath)
	if err != nil {
		res.TestcaseOutcome, res.Text = "0.0", "Evaluation didn't produce a submission output"
		return res, nil
	}
	outputDigest, err := cacher.PutFile(ctx, submissionOutputData, "Output file")
	if err != nil {
		return EvaluationResult{}, err
	}
	res.OutputDigest = outputDigest

	if tc.Testcase.OutputDigest == "" {
		res.Text = "Output produced"
		return res, nil
	}

	checkerStdout := filepath.Join(workDir, "checker_stdout.txt")
	expectedPath := filepath.Join(workDir, "res.txt")
	if err := cacher.GetFileToPath(ctx, tc.Testcase.OutputDigest, expectedPath); err != nil {
		return EvaluationResult{}, err
	}
	checkerLimits := domain.Limits{Time: 10 * time.Second, Memory: 256 * 1024 * 1024}
	if _, err := sandbox.Run(ctx, []string{managerPath, "judge", inputPath, expectedPath, submissionOutputPath}, checkerLimits, "", checkerStdout); err != nil {
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
