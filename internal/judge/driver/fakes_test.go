package driver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sync"
)

// fakeStore is an in-memory content-addressed blob store.
type fakeStore struct {
	mu   sync.Mutex
	blob map[Digest][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{blob: make(map[Digest][]byte)}
}

func (f *fakeStore) Put(ctx context.Context, data []byte) (Digest, error) {
	sum := sha256.Sum256(data)
	digest := Digest(hex.EncodeToString(sum[:]))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blob[digest] = append([]byte(nil), data...)
	return digest, nil
}

func (f *fakeStore) putString(s string) Digest {
	digest, _ := f.Put(context.Background(), []byte(s))
	return digest
}

func (f *fakeStore) Get(ctx context.Context, digest Digest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blob[digest]
	if !ok {
		return nil, errors.New("digest not found")
	}
	return data, nil
}

// fakeSession records every staged record for inspection by tests.
type fakeSession struct {
	mu          sync.Mutex
	compile     *CompileResult
	executable  *Executable
	evaluations []Evaluation
}

func (s *fakeSession) SetCompileResult(ctx context.Context, sub *Submission, result CompileResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := result
	s.compile = &r
	return nil
}

func (s *fakeSession) StageExecutable(ctx context.Context, sub *Submission, exe Executable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := exe
	s.executable = &e
	return nil
}

func (s *fakeSession) StageEvaluation(ctx context.Context, sub *Submission, eval Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations = append(s.evaluations, eval)
	return nil
}

// fakeLogger discards everything; tests assert on behaviour, not logs.
type fakeLogger struct{}

func (fakeLogger) Info(ctx context.Context, msg string, fields ...Field)  {}
func (fakeLogger) Warn(ctx context.Context, msg string, fields ...Field)  {}
func (fakeLogger) Error(ctx context.Context, msg string, fields ...Field) {}

// fakeCatalogue returns a scripted argv (or a scripted error) for every
// language.
type fakeCatalogue struct {
	argv []string
	err  error
}

func (c *fakeCatalogue) CompileCommand(language LanguageTag, sourceName, executableName string) ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.argv, nil
}

// fakeSandboxFactory hands out fakeSandboxes built from a scripted queue
// of ExecReports, one per Execute call across the whole test, in order.
// writes[i] simulates whatever files a real process invoked by the i-th
// Execute call would have left behind by the time the sandbox reports
// completion (a compiler's executable, a candidate's output.txt, a
// grader's stdout/stderr capture files).
type fakeSandboxFactory struct {
	mu        sync.Mutex
	reports   []ExecReport
	reportErr []error
	writes    []map[string]string
	next      int
	deleted   int
	sandboxes []*fakeSandbox
}

func (f *fakeSandboxFactory) New(ctx context.Context, jobID string) (Sandbox, error) {
	sbx := &fakeSandbox{factory: f, jobID: jobID, files: make(map[string][]byte)}
	f.mu.Lock()
	f.sandboxes = append(f.sandboxes, sbx)
	f.mu.Unlock()
	return sbx, nil
}

type fakeSandbox struct {
	factory *fakeSandboxFactory
	jobID   string
	cfg     SandboxConfig
	files   map[string][]byte
	deleted bool
}

func (s *fakeSandbox) Configure(cfg SandboxConfig) { s.cfg = cfg }

func (s *fakeSandbox) Execute(ctx context.Context, argv []string) (ExecReport, error) {
	f := s.factory
	f.mu.Lock()
	idx := f.next
	f.next++
	f.mu.Unlock()
	if idx < len(f.writes) {
		for name, content := range f.writes[idx] {
			s.files[name] = []byte(content)
		}
	}
	if idx >= len(f.reports) {
		return ExecReport{Status: StatusOK}, nil
	}
	var err error
	if idx < len(f.reportErr) {
		err = f.reportErr[idx]
	}
	return f.reports[idx], err
}

func (s *fakeSandbox) FileExists(name string) (bool, error) {
	_, ok := s.files[name]
	return ok, nil
}

func (s *fakeSandbox) GetFile(name string) ([]byte, error) {
	data, ok := s.files[name]
	if !ok {
		return nil, errors.New("no such file: " + name)
	}
	return data, nil
}

func (s *fakeSandbox) GetFileToString(name string, maxLen int) (string, error) {
	data, ok := s.files[name]
	if !ok {
		return "", nil
	}
	if len(data) > maxLen {
		data = data[:maxLen]
	}
	return string(data), nil
}

func (s *fakeSandbox) GetFileHandle(name string) (io.ReadCloser, error) {
	data, ok := s.files[name]
	if !ok {
		return nil, errors.New("no such file: " + name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeSandbox) CreateFileFromStorage(name string, data []byte, executable bool) error {
	s.files[name] = append([]byte(nil), data...)
	return nil
}

func (s *fakeSandbox) Delete() error {
	s.deleted = true
	s.factory.mu.Lock()
	s.factory.deleted++
	s.factory.mu.Unlock()
	return nil
}
