package driveradapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"fuzoj/internal/judge/driver"
	"fuzoj/internal/judge/sandbox/engine"
	"fuzoj/internal/judge/sandbox/result"
	"fuzoj/internal/judge/sandbox/security"
	"fuzoj/internal/judge/sandbox/spec"
)

// profileCompile and profileStrict are the only two isolation profile
// names this adapter asks the engine to resolve: the compile pipeline
// runs permissively (compilers fork helpers and touch the toolchain's own
// files), the execute pipeline runs under the strict, syscall-filtered
// profile.
const (
	profileCompile = "compile"
	profileStrict  = "strict"
)

// StaticProfileResolver serves a fixed pair of isolation profiles,
// configured once at startup from the judge host's rootfs and seccomp
// profile locations.
type StaticProfileResolver struct {
	profiles map[string]security.IsolationProfile
}

// NewStaticProfileResolver builds a resolver for the compile/strict
// profile pair. seccompProfile is a filename resolved against the
// engine's configured seccomp directory.
func NewStaticProfileResolver(rootFS, seccompProfile string) *StaticProfileResolver {
	return &StaticProfileResolver{
		profiles: map[string]security.IsolationProfile{
			profileCompile: {RootFS: rootFS, DisableNetwork: true},
			profileStrict:  {RootFS: rootFS, SeccompProfile: seccompProfile, DisableNetwork: true},
		},
	}
}

// Resolve implements engine.ProfileResolver.
func (r *StaticProfileResolver) Resolve(profile string) (security.IsolationProfile, error) {
	p, ok := r.profiles[profile]
	if !ok {
		return security.IsolationProfile{}, fmt.Errorf("unknown isolation profile %q", profile)
	}
	return p, nil
}

// EngineSandboxFactory builds driver.Sandbox instances backed by the
// linux namespace/cgroup engine, one host directory per job.
type EngineSandboxFactory struct {
	eng     engine.Engine
	workDir string
}

// NewEngineSandboxFactory builds a SandboxFactory that stages every job
// under its own subdirectory of workDir.
func NewEngineSandboxFactory(eng engine.Engine, workDir string) *EngineSandboxFactory {
	return &EngineSandboxFactory{eng: eng, workDir: workDir}
}

// New implements driver.SandboxFactory.
func (f *EngineSandboxFactory) New(ctx context.Context, jobID string) (driver.Sandbox, error) {
	dir, err := os.MkdirTemp(f.workDir, "job-"+jobID+"-")
	if err != nil {
		return nil, fmt.Errorf("create job work dir: %w", err)
	}
	return &engineSandbox{eng: f.eng, jobID: jobID, dir: dir}, nil
}

// engineSandbox implements driver.Sandbox over one RunSpec-shaped job
// directory. Configure stores the next Execute call's policy; Execute
// builds the RunSpec, runs it through the engine, and classifies the
// result into a driver.ExecReport.
type engineSandbox struct {
	eng   engine.Engine
	jobID string
	dir   string
	cfg   driver.SandboxConfig
}

func (s *engineSandbox) Configure(cfg driver.SandboxConfig) {
	s.cfg = cfg
}

func (s *engineSandbox) Execute(ctx context.Context, argv []string) (driver.ExecReport, error) {
	profile := profileStrict
	if s.cfg.SyscallFilterLevel == 0 {
		profile = profileCompile
	}

	stdout := s.cfg.StdoutPath
	if stdout == "" {
		stdout = "stdout.log"
	}
	stderr := s.cfg.StderrPath
	if stderr == "" {
		stderr = "stderr.log"
	}

	runSpec := spec.RunSpec{
		SubmissionID:  s.jobID,
		TestID:        s.jobID,
		WorkDir:       s.dir,
		Cmd:           argv,
		Env:           envFor(s.cfg, s.dir),
		StdinPath:     "/dev/null",
		StdoutPath:    filepath.Join(s.dir, stdout),
		StderrPath:    filepath.Join(s.dir, stderr),
		BindMounts:    bindMountsFor(s.cfg.FileAccessAllow),
		Profile:       profile,
		ExtraSyscalls: s.cfg.ExtraSyscalls,
		Limits: spec.ResourceLimit{
			CPUTimeMs:  int64(s.cfg.CPUTimeoutSec * 1000),
			WallTimeMs: int64(s.cfg.WallTimeoutSec * 1000),
			MemoryMB:   (s.cfg.AddressSpaceKB + 1023) / 1024,
			PIDs:       64,
		},
	}
	if runSpec.Limits.WallTimeMs == 0 && runSpec.Limits.CPUTimeMs > 0 {
		runSpec.Limits.WallTimeMs = runSpec.Limits.CPUTimeMs * 2
	}

	res, err := s.eng.Run(ctx, runSpec)
	if err != nil {
		return driver.ExecReport{Status: driver.StatusSandboxError}, nil
	}
	return classify(res, s.cfg), nil
}

// classify turns a raw result.RunResult into the sandbox's §6.1 status
// vocabulary. FILE_ACCESS is never produced here: this engine enforces
// file-access policy through mount namespaces and bind mounts, not
// per-syscall auditing, so a denied path surfaces as a forbidden-syscall
// or a plain nonzero exit rather than a distinct status (see DESIGN.md).
func classify(res result.RunResult, cfg driver.SandboxConfig) driver.ExecReport {
	report := driver.ExecReport{ExitCode: res.ExitCode, Signal: res.Signal}

	wallLimitMs := int64(cfg.WallTimeoutSec * 1000)
	if wallLimitMs > 0 && res.WallTimeMs >= wallLimitMs {
		report.Status = driver.StatusTimeout
		return report
	}
	cpuLimitMs := int64(cfg.CPUTimeoutSec * 1000)
	if cpuLimitMs > 0 && res.TimeMs >= cpuLimitMs {
		report.Status = driver.StatusTimeout
		return report
	}

	const sigsys = 31
	if res.Signal == sigsys {
		report.Status = driver.StatusForbiddenSyscall
		return report
	}
	if res.Signal != 0 {
		report.Status = driver.StatusSignal
		return report
	}

	report.Status = driver.StatusOK
	return report
}

// envFor builds the child process environment. TMPDIR always points at the
// job's sandbox directory so anything a compiler or candidate program
// writes under it (temp files, precompiled headers) stays inside the
// sandbox; EnvOverrides is layered last so a caller can still override it.
func envFor(cfg driver.SandboxConfig, jobDir string) []string {
	env := make([]string, 0, len(cfg.EnvOverrides)+2)
	if cfg.PreserveEnv {
		env = append(env, os.Environ()...)
	}
	env = append(env, "TMPDIR="+jobDir)
	for k, v := range cfg.EnvOverrides {
		env = append(env, k+"="+v)
	}
	return env
}

// bindMountsFor turns a SandboxConfig's FileAccessAllow list into read-only
// bind mounts for the host paths it names. Relative entries (candidate
// input/output filenames) already live under WorkDir and need no mount.
func bindMountsFor(allow []string) []spec.MountSpec {
	var mounts []spec.MountSpec
	for _, p := range allow {
		if !filepath.IsAbs(p) {
			continue
		}
		mounts = append(mounts, spec.MountSpec{Source: p, Target: p, ReadOnly: true})
	}
	return mounts
}

func (s *engineSandbox) FileExists(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.dir, name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *engineSandbox) GetFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, name))
}

func (s *engineSandbox) GetFileToString(name string, maxLen int) (string, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf := make([]byte, maxLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	return string(buf[:n]), nil
}

func (s *engineSandbox) GetFileHandle(name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.dir, name))
}

func (s *engineSandbox) CreateFileFromStorage(name string, data []byte, executable bool) error {
	mode := os.FileMode(0644)
	if executable {
		mode = 0755
	}
	return os.WriteFile(filepath.Join(s.dir, name), data, mode)
}

func (s *engineSandbox) Delete() error {
	return os.RemoveAll(s.dir)
}
