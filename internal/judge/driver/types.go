// Package driver implements the per-submission task-type driver: the
// compile and evaluate pipelines that turn a Submission into a compiled
// Executable and a set of per-testcase Evaluations, inside a sandbox the
// driver never leaks.
//
// The package only knows about its five narrow collaborators (Store,
// Session, SandboxFactory, CompilerCatalogue, Logger); everything else —
// queueing, scoring aggregation, HTTP, auth — lives outside it.
package driver

import (
	"context"
	"io"
)

// Digest is a content-addressed handle into the Store.
type Digest string

// LanguageTag identifies a submission's source language to the compiler
// catalogue, e.g. "cpp17", "c11", "go1".
type LanguageTag string

// TaskType selects which strategy the dispatcher builds.
type TaskType string

// TaskTypeBatch is the only strategy this core ships: a stdin/stdout-free
// program evaluated testcase-by-testcase through fixed filenames.
const TaskTypeBatch TaskType = "batch"

// IOMode documents how a task's candidate program is expected to read
// input and write output. Batch always uses IOModeFile.
type IOMode int

const (
	// IOModeFile means the program reads input.txt and writes output.txt
	// in its sandbox working directory.
	IOModeFile IOMode = iota
	// IOModeStdio is reserved for a future interactive task type; Batch
	// never uses it.
	IOModeStdio
)

// GraderSpec names the single external grader attached to a task, if any.
// Task.Grader is a pointer rather than a map, so "more than one grader"
// is inexpressible rather than merely unsupported.
type GraderSpec struct {
	Name   string
	Digest Digest
}

// Testcase is one (input, expected-output) pair with its ordinal index.
type Testcase struct {
	Index          int
	InputDigest    Digest
	ExpectedDigest Digest
}

// Task is the read-only problem definition the driver judges against.
type Task struct {
	Type          TaskType
	Testcases     []Testcase
	Grader        *GraderSpec
	TimeLimitSec  float64
	MemoryLimitKB int64
	IOMode        IOMode
}

// Executable is the compiled artifact produced by a successful compile.
type Executable struct {
	Digest   Digest
	Filename string
}

// CompileResult is the user-visible verdict of the compile pipeline.
type CompileResult struct {
	// Outcome is "ok" or "fail"; it is data, not an error, because a
	// failed compile is a judgement about the contestant's program.
	Outcome string
	Text    string
}

const (
	CompileOutcomeOK   = "ok"
	CompileOutcomeFail = "fail"
)

// Evaluation is the per-testcase verdict of the evaluate pipeline.
type Evaluation struct {
	Index   int
	Outcome float64
	Text    string
}

// Submission is the unit of work the driver mutates. Sources maps the
// submitted filename to its digest in the Store; exactly one entry is
// expected for Batch.
type Submission struct {
	ID       string
	Sources  map[string]Digest
	Language LanguageTag

	Task Task

	CompileResult *CompileResult
	Executable    *Executable
	Evaluations   []Evaluation
}

// Store is a content-addressed blob repository.
type Store interface {
	Put(ctx context.Context, data []byte) (Digest, error)
	Get(ctx context.Context, digest Digest) ([]byte, error)
}

// Session is the borrowed, transactional view of the persistent model.
// The driver stages records here; the caller commits them.
type Session interface {
	SetCompileResult(ctx context.Context, sub *Submission, result CompileResult) error
	StageExecutable(ctx context.Context, sub *Submission, exe Executable) error
	StageEvaluation(ctx context.Context, sub *Submission, eval Evaluation) error
}

// ExitStatus is the sandbox's classification of one execute() call.
type ExitStatus string

const (
	StatusOK                ExitStatus = "OK"
	StatusTimeout            ExitStatus = "TIMEOUT"
	StatusSignal             ExitStatus = "SIGNAL"
	StatusSandboxError       ExitStatus = "SANDBOX_ERROR"
	StatusForbiddenSyscall   ExitStatus = "FORBIDDEN_SYSCALL"
	StatusFileAccess         ExitStatus = "FILE_ACCESS"
)

// SandboxConfig configures the next Execute call. Zero values mean
// "unlimited" or "disabled" per field, matching §6.1 of the task-driver
// contract.
type SandboxConfig struct {
	WorkDir             string
	PreserveEnv         bool
	EnvOverrides        map[string]string
	SyscallFilterLevel  int // 0 off, 1 moderate, 2 strict
	AllowFork           bool
	FileAccessAllow     []string
	ExtraSyscalls       []string
	CPUTimeoutSec       float64
	WallTimeoutSec      float64
	AddressSpaceKB      int64
	StdoutPath          string
	StderrPath          string
}

// ExecReport is the sandbox's verdict for one Execute call.
type ExecReport struct {
	Status   ExitStatus
	ExitCode int
	Signal   int
	Stats    string
}

// Sandbox is one isolated execution environment, bound to a single job
// (one compile, or one testcase) for its entire lifetime.
type Sandbox interface {
	Configure(cfg SandboxConfig)
	Execute(ctx context.Context, argv []string) (ExecReport, error)

	FileExists(name string) (bool, error)
	GetFile(name string) ([]byte, error)
	GetFileToString(name string, maxLen int) (string, error)
	GetFileHandle(name string) (io.ReadCloser, error)
	CreateFileFromStorage(name string, data []byte, executable bool) error

	Delete() error
}

// SandboxFactory creates a fresh Sandbox bound to one job.
type SandboxFactory interface {
	New(ctx context.Context, jobID string) (Sandbox, error)
}

// CompilerCatalogue maps a language tag to a concrete compile command.
type CompilerCatalogue interface {
	CompileCommand(language LanguageTag, sourceName, executableName string) ([]string, error)
}

// Logger is the narrow structured-diagnostic sink the driver writes to.
// driveradapter.PackageLogger implements it over pkg/utils/logger's
// package-level functions.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
}

// TaskDriver is the capability set every task-type strategy exposes.
type TaskDriver interface {
	Compile(ctx context.Context, sub *Submission) (bool, error)
	Execute(ctx context.Context, sub *Submission) (bool, error)
}

// Dependencies bundles the driver's collaborators. A Dependencies value
// is cheap to build per job; nothing in it is driver-owned state.
type Dependencies struct {
	Store          Store
	Session        Session
	SandboxFactory SandboxFactory
	Catalogue      CompilerCatalogue
	Logger         Logger

	// KeepSandboxForDebug disables sandbox release on every exit path.
	// Never set in production; exists for local reproduction of a failing
	// submission.
	KeepSandboxForDebug bool
}
