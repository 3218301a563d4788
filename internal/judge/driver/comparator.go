package driver

import (
	"bufio"
	"io"
	"strings"
)

// maxComparatorLineBytes bounds a single line so an adversarial stream
// without newlines cannot exhaust memory.
const maxComparatorLineBytes = 1 << 20

// WhiteDiff reports whether a and b are equivalent under the
// whitespace-tolerant line comparator: each line is canonicalised by
// collapsing runs of spaces/tabs to a single space and trimming the
// ends, then lines are paired in order. Any unmatched tail in either
// stream must canonicalise to empty lines only.
func WhiteDiff(a, b io.Reader) (bool, error) {
	sa := bufio.NewScanner(a)
	sb := bufio.NewScanner(b)
	sa.Buffer(make([]byte, 0, 64*1024), maxComparatorLineBytes)
	sb.Buffer(make([]byte, 0, 64*1024), maxComparatorLineBytes)

	for {
		aHasLine := sa.Scan()
		bHasLine := sb.Scan()
		if !aHasLine && !bHasLine {
			break
		}
		var la, lb string
		if aHasLine {
			la = canonicalizeLine(sa.Text())
		}
		if bHasLine {
			lb = canonicalizeLine(sb.Text())
		}
		if la != lb {
			return false, nil
		}
	}
	if err := sa.Err(); err != nil {
		return false, err
	}
	if err := sb.Err(); err != nil {
		return false, err
	}
	return true, nil
}

// WhiteDiffStrings is a convenience wrapper over WhiteDiff for callers
// already holding both sides in memory (mainly tests).
func WhiteDiffStrings(a, b string) bool {
	equal, err := WhiteDiff(strings.NewReader(a), strings.NewReader(b))
	if err != nil {
		return false
	}
	return equal
}

func canonicalizeLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
