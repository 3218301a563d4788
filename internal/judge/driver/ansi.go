package driver

import "regexp"

// csiEscape matches a CSI (ANSI control sequence introducer) escape
// sequence: ESC '[' followed by parameter/intermediate bytes and a
// single final byte in the 0x40-0x7E range.
var csiEscape = regexp.MustCompile("\x1b\\[[0-9;?]*[ -/]*[@-~]")

// FilterANSI strips CSI escape sequences from text. It is used only on
// grader stderr, which graders sometimes colourise for human terminals.
func FilterANSI(text string) string {
	return csiEscape.ReplaceAllString(text, "")
}
