package driver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	apperrors "fuzoj/pkg/errors"

	"go.uber.org/zap"
)

// maxDiagnosticBytes bounds how much of a sandbox-produced text file (a
// compiler diagnostic, a grader's stdout/stderr) the driver will read.
const maxDiagnosticBytes = 1024

const (
	compileSourceName     = "source"
	compileExecutableName = "exe"
	candidateExecName     = "exe"
	candidateInputName    = "input.txt"
	candidateOutputName   = "output.txt"
	expectedOutputName    = "res.txt"
	graderExecName        = "grader"
)

// BatchDriver implements TaskDriver for TaskTypeBatch: a program that
// reads input.txt and writes output.txt in its sandbox working directory,
// scored either by whitespace-equivalence against the expected output or
// by a single external grader.
type BatchDriver struct {
	task Task
	deps Dependencies
}

// NewBatchDriver builds the Batch strategy bound to task and deps.
func NewBatchDriver(task Task, deps Dependencies) *BatchDriver {
	return &BatchDriver{task: task, deps: deps}
}

// Compile runs the compile pipeline described in §4.3: stage the single
// source file, build its compile command from the catalogue, run it under
// permissive-but-bounded limits, and classify the result.
func (d *BatchDriver) Compile(ctx context.Context, sub *Submission) (bool, error) {
	if len(sub.Sources) != 1 {
		return d.finalizeCompileFailure(ctx, sub, "submission must contain exactly one source file")
	}

	var sourceFilename string
	var sourceDigest Digest
	for name, digest := range sub.Sources {
		sourceFilename, sourceDigest = name, digest
	}

	language := sub.Language
	if language == "" {
		tag, ok := inferLanguage(sourceFilename)
		if !ok {
			return d.finalizeCompileFailure(ctx, sub, fmt.Sprintf("cannot determine language for %q", sourceFilename))
		}
		language = tag
	}

	argv, argErr := d.deps.Catalogue.CompileCommand(language, compileSourceName, compileExecutableName)
	if argErr != nil {
		return d.finalizeCompileFailure(ctx, sub, argErr.Error())
	}

	ranToVerdict, werr := withSandbox(ctx, d.deps.SandboxFactory, "compile-"+sub.ID, d.deps.KeepSandboxForDebug, func(sbx Sandbox) (bool, *apperrors.Error) {
		if err := stageFile(ctx, sbx, d.deps.Store, d.deps.Logger, sourceDigest, compileSourceName, false); err != nil {
			return false, err
		}

		cfg := SandboxConfig{
			WorkDir:            "",
			PreserveEnv:        true,
			SyscallFilterLevel: 0,
			AllowFork:          true,
			FileAccessAllow:    []string{"/etc", "/lib", "/usr"},
			CPUTimeoutSec:      8,
			WallTimeoutSec:     10,
			AddressSpaceKB:     256 * 1024,
			StdoutPath:         "compile.stdout",
			StderrPath:         "compile.stderr",
		}
		report, err := launch(ctx, sbx, cfg, argv)
		if err != nil {
			return false, err
		}

		stdout, err := readBounded(sbx, cfg.StdoutPath, maxDiagnosticBytes)
		if err != nil {
			return false, err
		}
		stderr, err := readBounded(sbx, cfg.StderrPath, maxDiagnosticBytes)
		if err != nil {
			return false, err
		}
		diagnostics := composeCompileText(report.Stats, stdout, stderr)

		switch {
		case report.Status == StatusOK && report.ExitCode == 0:
			digest, err := extractFile(ctx, sbx, d.deps.Store, compileExecutableName)
			if err != nil {
				return false, err
			}
			exe := Executable{Digest: digest, Filename: candidateExecName}
			sub.Executable = &exe
			sub.CompileResult = &CompileResult{Outcome: CompileOutcomeOK, Text: diagnostics}
			if serr := d.deps.Session.StageExecutable(ctx, sub, exe); serr != nil {
				return false, apperrors.Wrap(serr, apperrors.StageFileFailed)
			}
			if serr := d.deps.Session.SetCompileResult(ctx, sub, *sub.CompileResult); serr != nil {
				return false, apperrors.Wrap(serr, apperrors.StageFileFailed)
			}
			return true, nil

		case report.Status == StatusOK:
			return d.persistCompileFail(ctx, sub, "Failed to compile\n"+diagnostics)

		case report.Status == StatusTimeout:
			return d.persistCompileFail(ctx, sub, diagnostics)

		case report.Status == StatusSignal:
			text := diagnostics + fmt.Sprintf("\nkilled by signal %d (possible memory limit violation)\n", report.Signal)
			return d.persistCompileFail(ctx, sub, text)

		default:
			d.deps.Logger.Error(ctx, "compile ended in environmental status",
				zap.String("status", string(report.Status)))
			return false, apperrors.Newf(apperrors.SandboxUnexpected, "compile: unexpected sandbox status %q", report.Status)
		}
	})
	if werr != nil {
		return false, werr
	}
	return ranToVerdict, nil
}

func (d *BatchDriver) persistCompileFail(ctx context.Context, sub *Submission, text string) (bool, *apperrors.Error) {
	sub.CompileResult = &CompileResult{Outcome: CompileOutcomeFail, Text: text}
	if err := d.deps.Session.SetCompileResult(ctx, sub, *sub.CompileResult); err != nil {
		return false, apperrors.Wrap(err, apperrors.StageFileFailed)
	}
	return true, nil
}

func (d *BatchDriver) finalizeCompileFailure(ctx context.Context, sub *Submission, text string) (bool, error) {
	ok, err := d.persistCompileFail(ctx, sub, text)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func composeCompileText(stats, stdout, stderr string) string {
	if stdout == "" {
		stdout = "(empty)\n"
	}
	if stderr == "" {
		stderr = "(empty)\n"
	}
	var b strings.Builder
	if stats != "" {
		b.WriteString(stats)
		b.WriteString("\n")
	}
	b.WriteString("stdout:\n")
	b.WriteString(stdout)
	b.WriteString("\nstderr:\n")
	b.WriteString(stderr)
	return b.String()
}

// Execute runs the full evaluate pipeline described in §4.6: it requires
// exactly one executable, then drives execute_single for every testcase
// in task order, aborting on the first environmental failure while
// leaving previously-recorded evaluations in place.
func (d *BatchDriver) Execute(ctx context.Context, sub *Submission) (bool, error) {
	if sub.Executable == nil {
		return false, nil
	}

	for _, tc := range d.task.Testcases {
		placeholder := Evaluation{Index: tc.Index}
		sub.Evaluations = append(sub.Evaluations, placeholder)
		if err := d.deps.Session.StageEvaluation(ctx, sub, placeholder); err != nil {
			return false, apperrors.Wrap(err, apperrors.StageFileFailed)
		}
	}

	for _, tc := range d.task.Testcases {
		ok, err := d.executeSingle(ctx, sub, tc)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// executeSingle runs Stage A (candidate execution) and, when it produces
// output.txt, Stage B (scoring) for one testcase.
func (d *BatchDriver) executeSingle(ctx context.Context, sub *Submission, tc Testcase) (bool, error) {
	ranToVerdict, cerr := withSandbox(ctx, d.deps.SandboxFactory, fmt.Sprintf("exec-%s-%d", sub.ID, tc.Index), d.deps.KeepSandboxForDebug, func(sbx Sandbox) (bool, *apperrors.Error) {
		if err := stageFile(ctx, sbx, d.deps.Store, d.deps.Logger, sub.Executable.Digest, candidateExecName, true); err != nil {
			return false, err
		}
		if err := stageFile(ctx, sbx, d.deps.Store, d.deps.Logger, tc.InputDigest, candidateInputName, false); err != nil {
			return false, err
		}

		cfg := SandboxConfig{
			SyscallFilterLevel: 2,
			CPUTimeoutSec:      d.task.TimeLimitSec,
			AddressSpaceKB:     d.task.MemoryLimitKB,
			FileAccessAllow:    []string{candidateInputName, candidateOutputName, "/proc/self/exe", "/proc/meminfo"},
			ExtraSyscalls:      []string{"getrlimit", "rt_sigaction"},
			StdoutPath:         "run.stdout",
			StderrPath:         "run.stderr",
		}
		report, err := launch(ctx, sbx, cfg, []string{"./" + candidateExecName})
		if err != nil {
			return false, err
		}

		switch report.Status {
		case StatusTimeout:
			return true, d.stageScore(ctx, sub, tc.Index, 0.0, "Execution timed out")
		case StatusSignal:
			return true, d.stageScore(ctx, sub, tc.Index, 0.0, fmt.Sprintf("Execution killed with signal %d", report.Signal))
		case StatusForbiddenSyscall:
			return true, d.stageScore(ctx, sub, tc.Index, 0.0, "forbidden syscall")
		case StatusFileAccess:
			return true, d.stageScore(ctx, sub, tc.Index, 0.0, "forbidden file access")
		case StatusSandboxError:
			return false, apperrors.New(apperrors.SandboxUnexpected)
		case StatusOK:
			present, existsErr := sbx.FileExists(candidateOutputName)
			if existsErr != nil {
				return false, apperrors.Wrap(existsErr, apperrors.SandboxInternal)
			}
			if !present {
				return true, d.stageScore(ctx, sub, tc.Index, 0.0, "Execution didn't produce file output.txt")
			}
			return d.score(ctx, sbx, sub, tc)
		default:
			return false, apperrors.Newf(apperrors.SandboxUnexpected, "execute: unexpected sandbox status %q", report.Status)
		}
	})
	if cerr != nil {
		return false, cerr
	}
	return ranToVerdict, nil
}

// score runs Stage B: grader-based or whitespace-comparator-based
// scoring, once Stage A has confirmed output.txt exists.
func (d *BatchDriver) score(ctx context.Context, sbx Sandbox, sub *Submission, tc Testcase) (bool, *apperrors.Error) {
	if d.task.Grader == nil {
		expected, gerr := d.deps.Store.Get(ctx, tc.ExpectedDigest)
		if gerr != nil {
			return false, apperrors.Wrap(gerr, apperrors.ExtractFileFailed)
		}
		if err := sbx.CreateFileFromStorage(expectedOutputName, expected, false); err != nil {
			return false, apperrors.Wrap(err, apperrors.StageFileFailed)
		}

		produced, err := sbx.GetFileHandle(candidateOutputName)
		if err != nil {
			return false, apperrors.Wrap(err, apperrors.SandboxInternal)
		}
		defer produced.Close()
		want, err := sbx.GetFileHandle(expectedOutputName)
		if err != nil {
			return false, apperrors.Wrap(err, apperrors.SandboxInternal)
		}
		defer want.Close()

		equal, diffErr := WhiteDiff(produced, want)
		if diffErr != nil {
			return false, apperrors.Wrap(diffErr, apperrors.SandboxInternal)
		}
		if equal {
			return true, d.stageScore(ctx, sub, tc.Index, 1.0, "Output file is correct")
		}
		return true, d.stageScore(ctx, sub, tc.Index, 0.0, "Output file isn't correct")
	}

	return d.scoreWithGrader(ctx, sbx, sub, tc)
}

// scoreWithGrader runs the task's single external grader over
// {input.txt, res.txt, output.txt} and parses its contract.
func (d *BatchDriver) scoreWithGrader(ctx context.Context, sbx Sandbox, sub *Submission, tc Testcase) (bool, *apperrors.Error) {
	if err := stageFile(ctx, sbx, d.deps.Store, d.deps.Logger, tc.ExpectedDigest, expectedOutputName, false); err != nil {
		return false, err
	}
	if err := stageFile(ctx, sbx, d.deps.Store, d.deps.Logger, d.task.Grader.Digest, graderExecName, true); err != nil {
		return false, err
	}

	cfg := SandboxConfig{
		SyscallFilterLevel: 2,
		StdoutPath:         "grader.stdout",
		StderrPath:         "grader.stderr",
	}
	argv := []string{"./" + graderExecName, candidateInputName, expectedOutputName, candidateOutputName}
	report, err := launch(ctx, sbx, cfg, argv)
	if err != nil {
		return false, err
	}
	if report.Status != StatusOK {
		return false, apperrors.Newf(apperrors.SandboxUnexpected, "grader: unexpected sandbox status %q", report.Status)
	}

	stdout, err := readBounded(sbx, cfg.StdoutPath, maxDiagnosticBytes)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.GraderOutputNotDecodable)
	}
	stderr, err := readBounded(sbx, cfg.StderrPath, maxDiagnosticBytes)
	if err != nil {
		stderr = ""
	}
	if !utf8.ValidString(firstLine(stdout)) || !utf8.ValidString(firstLine(stderr)) {
		return false, apperrors.New(apperrors.GraderOutputNotDecodable)
	}

	line := firstLine(stdout)
	outcome, perr := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if perr != nil {
		return false, apperrors.Wrapf(perr, apperrors.GraderOutputUnparseable, "parse grader outcome %q", line)
	}
	if outcome < 0 || outcome > 1 {
		return false, apperrors.Newf(apperrors.GraderOutcomeOutOfRange, "grader outcome %v out of [0,1]", outcome)
	}

	text := FilterANSI(firstLine(stderr))
	return true, d.stageScore(ctx, sub, tc.Index, outcome, text)
}

// stageScore records testcase index's verdict, overwriting the empty
// placeholder Execute pre-populated for it.
func (d *BatchDriver) stageScore(ctx context.Context, sub *Submission, index int, outcome float64, text string) *apperrors.Error {
	eval := Evaluation{Index: index, Outcome: outcome, Text: text}
	updated := false
	for i := range sub.Evaluations {
		if sub.Evaluations[i].Index == index {
			sub.Evaluations[i] = eval
			updated = true
			break
		}
	}
	if !updated {
		sub.Evaluations = append(sub.Evaluations, eval)
	}
	if err := d.deps.Session.StageEvaluation(ctx, sub, eval); err != nil {
		return apperrors.Wrap(err, apperrors.StageFileFailed)
	}
	return nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
