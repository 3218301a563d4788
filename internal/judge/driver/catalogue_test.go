package driver

import "testing"

func TestShlexCatalogueCompileCommand(t *testing.T) {
	cat := NewShlexCatalogue(nil)
	argv, err := cat.CompileCommand("cpp17", "source", "exe")
	if err != nil {
		t.Fatalf("CompileCommand: %v", err)
	}
	if len(argv) == 0 || argv[0] != "g++" {
		t.Fatalf("unexpected argv: %v", argv)
	}
	foundSrc, foundBin := false, false
	for _, a := range argv {
		if a == "source" {
			foundSrc = true
		}
		if a == "exe" {
			foundBin = true
		}
	}
	if !foundSrc || !foundBin {
		t.Fatalf("expected source/exe substituted, got %v", argv)
	}
}

func TestShlexCatalogueUnknownLanguage(t *testing.T) {
	cat := NewShlexCatalogue(nil)
	if _, err := cat.CompileCommand("cobol", "source", "exe"); err == nil {
		t.Fatalf("expected error for unregistered language")
	}
}

func TestShlexCatalogueOverride(t *testing.T) {
	cat := NewShlexCatalogue(map[LanguageTag]string{"cpp17": "clang++ -o {bin} {src}"})
	argv, err := cat.CompileCommand("cpp17", "source", "exe")
	if err != nil {
		t.Fatalf("CompileCommand: %v", err)
	}
	if argv[0] != "clang++" {
		t.Fatalf("expected override template to take effect, got %v", argv)
	}
}

func TestInferLanguage(t *testing.T) {
	cases := []struct {
		filename string
		want     LanguageTag
		ok       bool
	}{
		{"main.cpp", "cpp17", true},
		{"main.c", "c11", true},
		{"main.go", "go1", true},
		{"main.rs", "", false},
		{"noext", "", false},
	}
	for _, tc := range cases {
		tag, ok := inferLanguage(tc.filename)
		if ok != tc.ok || tag != tc.want {
			t.Fatalf("inferLanguage(%q) = (%q, %v), want (%q, %v)", tc.filename, tag, ok, tc.want, tc.ok)
		}
	}
}
