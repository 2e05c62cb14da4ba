package oracle

import "strings"

// Prefixes written by libFuzzer and the sanitizer runtimes when they report a
// finding.
var crashMarkers = []string{
	"==ERROR",
	"ERROR:",
	"WARNING: ThreadSanitizer:",
	"SUMMARY:",
	"DEADLYSIGNAL",
	"runtime error:",
}

// extractStackTrace cuts the sanitizer report out of a target's combined
// output. It returns the lines from the first crash marker through the
// SUMMARY line, or the whole output if no marker is present.
func extractStackTrace(output string) string {
	lines := strings.Split(output, "\n")

	start := -1
	for i, line := range lines {
		if hasCrashMarker(line) {
			start = i
			break
		}
	}
	if start == -1 {
		return strings.TrimSpace(output)
	}

	end := len(lines)
	for i := start; i < len(lines); i++ {
		if strings.Contains(lines[i], "SUMMARY:") {
			end = i + 1
			break
		}
	}

	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

func hasCrashMarker(line string) bool {
	for _, marker := range crashMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// isCrashInputName reports whether a file name looks like an input written
// by libFuzzer when it found a bug.
func isCrashInputName(name string) bool {
	for _, prefix := range []string{"crash-", "oom-", "timeout-", "leak-"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
