package driver

import "testing"

func TestDispatchBatch(t *testing.T) {
	deps := Dependencies{
		Store:          newFakeStore(),
		Session:        &fakeSession{},
		SandboxFactory: &fakeSandboxFactory{},
		Catalogue:      &fakeCatalogue{},
		Logger:         fakeLogger{},
	}
	d, ok := Dispatch(Task{Type: TaskTypeBatch}, deps)
	if !ok {
		t.Fatalf("expected batch task type to dispatch")
	}
	if _, isBatch := d.(*BatchDriver); !isBatch {
		t.Fatalf("expected *BatchDriver, got %T", d)
	}
}

func TestDispatchUnknownTaskType(t *testing.T) {
	deps := Dependencies{}
	d, ok := Dispatch(Task{Type: "interactive"}, deps)
	if ok {
		t.Fatalf("expected no driver for unregistered task type")
	}
	if d != nil {
		t.Fatalf("expected nil driver, got %v", d)
	}
}
