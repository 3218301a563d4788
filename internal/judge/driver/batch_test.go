package driver

import (
	"context"
	"testing"
)

func newTestDeps(store *fakeStore, session *fakeSession, factory *fakeSandboxFactory, cat CompilerCatalogue) Dependencies {
	return Dependencies{
		Store:          store,
		Session:        session,
		SandboxFactory: factory,
		Catalogue:      cat,
		Logger:         fakeLogger{},
	}
}

func TestBatchCompileSuccess(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{
		reports: []ExecReport{{Status: StatusOK, ExitCode: 0}},
		writes:  []map[string]string{{compileExecutableName: "#!/bin/sh\necho ok\n"}},
	}
	cat := &fakeCatalogue{argv: []string{"g++", "-o", "exe", "source"}}
	deps := newTestDeps(store, session, factory, cat)

	sub := &Submission{
		ID:       "sub-1",
		Sources:  map[string]Digest{"main.cpp": store.putString("int main(){}")},
		Language: "cpp17",
	}

	d := NewBatchDriver(Task{Type: TaskTypeBatch}, deps)
	ok, err := d.Compile(context.Background(), sub)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if !ok {
		t.Fatalf("Compile returned false, want true")
	}
	if sub.CompileResult == nil || sub.CompileResult.Outcome != CompileOutcomeOK {
		t.Fatalf("expected compile success, got %+v", sub.CompileResult)
	}
	if sub.Executable == nil {
		t.Fatalf("expected executable to be staged")
	}
	if session.executable == nil {
		t.Fatalf("expected session to record staged executable")
	}
	if factory.deleted != 1 {
		t.Fatalf("expected sandbox released, deleted count = %d", factory.deleted)
	}
}

func TestBatchCompileUserErrorNonZeroExit(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{reports: []ExecReport{{Status: StatusOK, ExitCode: 1}}}
	cat := &fakeCatalogue{argv: []string{"g++", "-o", "exe", "source"}}
	deps := newTestDeps(store, session, factory, cat)

	sub := &Submission{
		ID:      "sub-2",
		Sources: map[string]Digest{"main.cpp": store.putString("broken")},
	}

	d := NewBatchDriver(Task{Type: TaskTypeBatch}, deps)
	ok, err := d.Compile(context.Background(), sub)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if !ok {
		t.Fatalf("Compile returned false, want true (user-visible failure)")
	}
	if sub.CompileResult == nil || sub.CompileResult.Outcome != CompileOutcomeFail {
		t.Fatalf("expected compile failure verdict, got %+v", sub.CompileResult)
	}
	if sub.Executable != nil {
		t.Fatalf("expected no executable on failed compile")
	}
}

func TestBatchCompileEnvironmentalFailureReturnsFalse(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{reports: []ExecReport{{Status: StatusSandboxError}}}
	cat := &fakeCatalogue{argv: []string{"g++", "-o", "exe", "source"}}
	deps := newTestDeps(store, session, factory, cat)

	sub := &Submission{ID: "sub-3", Sources: map[string]Digest{"main.cpp": store.putString("x")}}

	d := NewBatchDriver(Task{Type: TaskTypeBatch}, deps)
	ok, err := d.Compile(context.Background(), sub)
	if err == nil {
		t.Fatalf("expected an error for environmental failure")
	}
	if ok {
		t.Fatalf("expected false return for environmental failure")
	}
}

func TestBatchCompileWrongSourceCount(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{}
	cat := &fakeCatalogue{}
	deps := newTestDeps(store, session, factory, cat)

	sub := &Submission{ID: "sub-4", Sources: map[string]Digest{
		"a.cpp": store.putString("a"),
		"b.cpp": store.putString("b"),
	}}

	d := NewBatchDriver(Task{Type: TaskTypeBatch}, deps)
	ok, err := d.Compile(context.Background(), sub)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if !ok {
		t.Fatalf("expected true (defined verdict) for malformed submission")
	}
	if sub.CompileResult == nil || sub.CompileResult.Outcome != CompileOutcomeFail {
		t.Fatalf("expected compile failure verdict, got %+v", sub.CompileResult)
	}
	if len(factory.sandboxes) != 0 {
		t.Fatalf("expected no sandbox created for a malformed submission")
	}
}

func compiledSubmission(store *fakeStore) *Submission {
	return &Submission{
		ID:         "sub-exec",
		Executable: &Executable{Digest: store.putString("#!/bin/sh\n"), Filename: "exe"},
	}
}

func TestBatchExecuteNoGraderCorrectAnswer(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{
		reports: []ExecReport{{Status: StatusOK, ExitCode: 0}},
		writes:  []map[string]string{{candidateOutputName: "42\n"}},
	}
	deps := newTestDeps(store, session, factory, &fakeCatalogue{})

	task := Task{
		Type:         TaskTypeBatch,
		TimeLimitSec: 1,
		Testcases: []Testcase{
			{Index: 0, InputDigest: store.putString("in"), ExpectedDigest: store.putString("42\n")},
		},
	}
	sub := compiledSubmission(store)
	d := NewBatchDriver(task, deps)

	ok, err := d.Execute(context.Background(), sub)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !ok {
		t.Fatalf("Execute returned false, want true")
	}
	if len(sub.Evaluations) != 1 || sub.Evaluations[0].Outcome != 1.0 {
		t.Fatalf("expected outcome 1.0, got %+v", sub.Evaluations)
	}
	if len(session.evaluations) != 2 {
		t.Fatalf("expected placeholder then real evaluation staged in session, got %+v", session.evaluations)
	}
	if session.evaluations[len(session.evaluations)-1].Outcome != 1.0 {
		t.Fatalf("expected last staged evaluation to be the real outcome, got %+v", session.evaluations)
	}
}

func TestBatchExecuteNoGraderWrongAnswer(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{
		reports: []ExecReport{{Status: StatusOK, ExitCode: 0}},
		writes:  []map[string]string{{candidateOutputName: "41\n"}},
	}
	deps := newTestDeps(store, session, factory, &fakeCatalogue{})

	task := Task{
		Type:         TaskTypeBatch,
		TimeLimitSec: 1,
		Testcases: []Testcase{
			{Index: 0, InputDigest: store.putString("in"), ExpectedDigest: store.putString("42\n")},
		},
	}
	sub := compiledSubmission(store)
	d := NewBatchDriver(task, deps)

	ok, err := d.Execute(context.Background(), sub)
	if err != nil || !ok {
		t.Fatalf("Execute returned (%v, %v), want (true, nil)", ok, err)
	}
	if sub.Evaluations[0].Outcome != 0.0 {
		t.Fatalf("expected outcome 0.0 for mismatch, got %v", sub.Evaluations[0].Outcome)
	}
}

func TestBatchExecuteWhitespaceToleranceYieldsCorrect(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{
		reports: []ExecReport{{Status: StatusOK, ExitCode: 0}},
		writes:  []map[string]string{{candidateOutputName: "1  2   3\n\n"}},
	}
	deps := newTestDeps(store, session, factory, &fakeCatalogue{})

	task := Task{
		Type:         TaskTypeBatch,
		TimeLimitSec: 1,
		Testcases: []Testcase{
			{Index: 0, InputDigest: store.putString("in"), ExpectedDigest: store.putString("1 2 3\n")},
		},
	}
	sub := compiledSubmission(store)
	d := NewBatchDriver(task, deps)

	if ok, err := d.Execute(context.Background(), sub); err != nil || !ok {
		t.Fatalf("Execute returned (%v, %v), want (true, nil)", ok, err)
	}
	if sub.Evaluations[0].Outcome != 1.0 {
		t.Fatalf("expected whitespace-tolerant match to score 1.0, got %v", sub.Evaluations[0].Outcome)
	}
}

func TestBatchExecuteTimeout(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{reports: []ExecReport{{Status: StatusTimeout}}}
	deps := newTestDeps(store, session, factory, &fakeCatalogue{})

	task := Task{
		Type:         TaskTypeBatch,
		TimeLimitSec: 1,
		Testcases:    []Testcase{{Index: 0, InputDigest: store.putString("in"), ExpectedDigest: store.putString("x")}},
	}
	sub := compiledSubmission(store)
	d := NewBatchDriver(task, deps)

	ok, err := d.Execute(context.Background(), sub)
	if err != nil || !ok {
		t.Fatalf("Execute returned (%v, %v), want (true, nil)", ok, err)
	}
	if sub.Evaluations[0].Outcome != 0.0 || sub.Evaluations[0].Text != "Execution timed out" {
		t.Fatalf("unexpected evaluation: %+v", sub.Evaluations[0])
	}
}

func TestBatchExecuteNoOutputFile(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{reports: []ExecReport{{Status: StatusOK, ExitCode: 0}}}
	deps := newTestDeps(store, session, factory, &fakeCatalogue{})

	task := Task{
		Type:         TaskTypeBatch,
		TimeLimitSec: 1,
		Testcases:    []Testcase{{Index: 0, InputDigest: store.putString("in"), ExpectedDigest: store.putString("x")}},
	}
	sub := compiledSubmission(store)
	d := NewBatchDriver(task, deps)

	ok, err := d.Execute(context.Background(), sub)
	if err != nil || !ok {
		t.Fatalf("Execute returned (%v, %v), want (true, nil)", ok, err)
	}
	if sub.Evaluations[0].Text != "Execution didn't produce file output.txt" {
		t.Fatalf("unexpected evaluation text: %q", sub.Evaluations[0].Text)
	}
}

func TestBatchExecuteMultipleTestcasesStopOnEnvironmentalFailure(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{
		reports: []ExecReport{
			{Status: StatusOK, ExitCode: 0},
			{Status: StatusSandboxError},
		},
		writes: []map[string]string{{candidateOutputName: "1\n"}},
	}
	deps := newTestDeps(store, session, factory, &fakeCatalogue{})

	task := Task{
		Type:         TaskTypeBatch,
		TimeLimitSec: 1,
		Testcases: []Testcase{
			{Index: 0, InputDigest: store.putString("in0"), ExpectedDigest: store.putString("1\n")},
			{Index: 1, InputDigest: store.putString("in1"), ExpectedDigest: store.putString("2\n")},
		},
	}
	sub := compiledSubmission(store)
	d := NewBatchDriver(task, deps)

	ok, err := d.Execute(context.Background(), sub)
	if err == nil {
		t.Fatalf("expected error from second testcase's environmental failure")
	}
	if ok {
		t.Fatalf("expected overall false return")
	}
	if len(sub.Evaluations) != 2 {
		t.Fatalf("expected placeholders pre-populated for both testcases, got %+v", sub.Evaluations)
	}
	if sub.Evaluations[0].Outcome != 1.0 {
		t.Fatalf("expected first testcase's real evaluation to survive, got %+v", sub.Evaluations[0])
	}
	if sub.Evaluations[1] != (Evaluation{Index: 1}) {
		t.Fatalf("expected second testcase to still be an empty placeholder, got %+v", sub.Evaluations[1])
	}
}

func TestBatchExecuteWithGrader(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{
		reports: []ExecReport{
			{Status: StatusOK, ExitCode: 0}, // candidate run
			{Status: StatusOK, ExitCode: 0}, // grader run
		},
		writes: []map[string]string{
			{candidateOutputName: "some output\n"},
			{"grader.stdout": "0.75\n", "grader.stderr": "\x1b[32mpartial credit\x1b[0m\nextra line\n"},
		},
	}
	deps := newTestDeps(store, session, factory, &fakeCatalogue{})

	task := Task{
		Type:         TaskTypeBatch,
		TimeLimitSec: 1,
		Grader:       &GraderSpec{Name: "checker", Digest: store.putString("#!/bin/sh\n")},
		Testcases: []Testcase{
			{Index: 0, InputDigest: store.putString("in"), ExpectedDigest: store.putString("ans\n")},
		},
	}
	sub := compiledSubmission(store)
	d := NewBatchDriver(task, deps)

	ok, err := d.Execute(context.Background(), sub)
	if err != nil || !ok {
		t.Fatalf("Execute returned (%v, %v), want (true, nil)", ok, err)
	}
	eval := sub.Evaluations[0]
	if eval.Outcome != 0.75 {
		t.Fatalf("expected grader outcome 0.75, got %v", eval.Outcome)
	}
	if eval.Text != "partial credit" {
		t.Fatalf("expected ANSI-stripped first stderr line, got %q", eval.Text)
	}
}

func TestBatchExecuteGraderUnparseableOutcomeIsEnvironmental(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{
		reports: []ExecReport{
			{Status: StatusOK, ExitCode: 0},
			{Status: StatusOK, ExitCode: 0},
		},
		writes: []map[string]string{
			{candidateOutputName: "output\n"},
			{"grader.stdout": "not-a-number\n"},
		},
	}
	deps := newTestDeps(store, session, factory, &fakeCatalogue{})

	task := Task{
		Type:         TaskTypeBatch,
		TimeLimitSec: 1,
		Grader:       &GraderSpec{Name: "checker", Digest: store.putString("#!/bin/sh\n")},
		Testcases: []Testcase{
			{Index: 0, InputDigest: store.putString("in"), ExpectedDigest: store.putString("ans\n")},
		},
	}
	sub := compiledSubmission(store)
	d := NewBatchDriver(task, deps)

	ok, err := d.Execute(context.Background(), sub)
	if err == nil {
		t.Fatalf("expected environmental error for unparseable grader outcome")
	}
	if ok {
		t.Fatalf("expected false return")
	}
}

func TestBatchExecuteNoExecutableTerminatesImmediately(t *testing.T) {
	store := newFakeStore()
	session := &fakeSession{}
	factory := &fakeSandboxFactory{}
	deps := newTestDeps(store, session, factory, &fakeCatalogue{})

	task := Task{Type: TaskTypeBatch, Testcases: []Testcase{{Index: 0}}}
	sub := &Submission{ID: "sub-none"}
	d := NewBatchDriver(task, deps)

	ok, err := d.Execute(context.Background(), sub)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if ok {
		t.Fatalf("expected false when submission has no executable")
	}
	if len(sub.Evaluations) != 0 {
		t.Fatalf("expected no evaluation records added")
	}
}
