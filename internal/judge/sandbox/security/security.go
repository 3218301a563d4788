// Package security defines sandbox isolation and security profiles.
package security

// IsolationProfile describes namespace and seccomp settings.
type IsolationProfile struct {
	RootFS         string
	SeccompProfile string
	DisableNetwork bool

	// ExtraSyscalls are allowed on top of SeccompProfile's own rules for
	// one run; the engine merges a RunSpec's requested extras in here
	// before dispatching to the helper.
	ExtraSyscalls []string
}
