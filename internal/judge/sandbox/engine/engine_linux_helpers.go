//go:build linux

package engine

import (
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"fuzoj/internal/judge/sandbox/spec"
)

func durationFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// resolveHostPath turns a stdio redirection path from RunSpec into an
// absolute host path, relative to the sandbox work dir when not already
// absolute.
func resolveHostPath(p string, runSpec spec.RunSpec) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(runSpec.WorkDir, p)
}

func stdoutSizeKB(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size() / 1024
}

func readLimitedFile(path string, maxBytes int64) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	if maxBytes <= 0 {
		maxBytes = defaultStdoutStderrMaxBytes
	}
	data, _ := io.ReadAll(io.LimitReader(f, maxBytes))
	return string(data)
}

func cpuTimeMs(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	usage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	userMs := usage.Utime.Sec*1000 + int64(usage.Utime.Usec)/1000
	sysMs := usage.Stime.Sec*1000 + int64(usage.Stime.Usec)/1000
	return userMs + sysMs
}

// signalFromState reports the signal that killed the process, or 0 if it
// exited normally (including a nonzero exit code).
func signalFromState(state *os.ProcessState) int {
	if state == nil {
		return 0
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0
	}
	return int(ws.Signal())
}
