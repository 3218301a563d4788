package driver

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// ShlexCatalogue is a CompilerCatalogue backed by a fixed table of
// shell-like command templates, one per language tag. {src} and {bin}
// are substituted before the template is tokenised with shlex, so
// templates can carry quoted flags the way a human would type them on a
// command line.
type ShlexCatalogue struct {
	templates map[LanguageTag]string
}

// NewShlexCatalogue builds a catalogue from the given templates,
// overlaying them on a default set covering the languages this judge
// supports out of the box.
func NewShlexCatalogue(overrides map[LanguageTag]string) *ShlexCatalogue {
	templates := defaultCompileTemplates()
	for tag, tmpl := range overrides {
		templates[tag] = tmpl
	}
	return &ShlexCatalogue{templates: templates}
}

func defaultCompileTemplates() map[LanguageTag]string {
	return map[LanguageTag]string{
		"c11":    "gcc -O2 -std=c11 -static -o {bin} {src} -lm",
		"cpp11":  "g++ -O2 -std=c++11 -static -o {bin} {src}",
		"cpp14":  "g++ -O2 -std=c++14 -static -o {bin} {src}",
		"cpp17":  "g++ -O2 -std=c++17 -static -o {bin} {src}",
		"cpp20":  "g++ -O2 -std=c++20 -static -o {bin} {src}",
		"go1":    "go build -o {bin} {src}",
	}
}

// CompileCommand expands the template for language and tokenises it.
// Deterministic and pure.
func (c *ShlexCatalogue) CompileCommand(language LanguageTag, sourceName, executableName string) ([]string, error) {
	tmpl, ok := c.templates[language]
	if !ok {
		return nil, fmt.Errorf("no compile command registered for language %q", language)
	}
	replacer := strings.NewReplacer("{src}", sourceName, "{bin}", executableName)
	argv, err := shlex.Split(replacer.Replace(tmpl))
	if err != nil {
		return nil, fmt.Errorf("tokenise compile command for %q: %w", language, err)
	}
	return argv, nil
}

// extensionLanguages maps a recognised source extension to the language
// tag inferred when a submission doesn't declare one explicitly.
var extensionLanguages = map[string]LanguageTag{
	".c":   "c11",
	".cc":  "cpp17",
	".cpp": "cpp17",
	".cxx": "cpp17",
	".go":  "go1",
}

// inferLanguage guesses a LanguageTag from a filename's extension.
func inferLanguage(filename string) (LanguageTag, bool) {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 {
		return "", false
	}
	tag, ok := extensionLanguages[strings.ToLower(filename[idx:])]
	return tag, ok
}
