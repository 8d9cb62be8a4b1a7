package monitor

import (
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/tmuxorc/orcd/internal/envelope"
)

// contentHash derives a stable hash of captured pane content, used to
// detect whether an agent has produced any new output since the last
// cycle (spec §4.G step 2).
func contentHash(content string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(content))
	return strconv.FormatUint(h.Sum64(), 16)
}

var idleMarkers = []struct {
	text string
	kind string
}{
	{"Thinking...", "thinking"},
	{"Please wait", "waiting"},
	{"Loading", "loading"},
	{"Press any key to continue", "paused"},
}

func lastNonEmptyLine(content string) string {
	lines := strings.Split(content, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(lines[i]); t != "" {
			return t
		}
	}
	return ""
}

// detectIdlePatterns implements the idle heuristics of spec §4.G step
// 3, excluding the "no_activity" case (unchanged content across
// cycles), which the caller derives from the content hash.
func detectIdlePatterns(content string) (kind string, idle bool) {
	if !strings.Contains(content, "Human:") && !strings.Contains(content, "Assistant:") {
		return "no_claude_interface", true
	}

	last := lastNonEmptyLine(content)
	if last == "" || last == "Human:" || last == "Assistant:" {
		return "waiting_for_input", true
	}

	for _, m := range idleMarkers {
		if strings.Contains(content, m.text) {
			return m.kind, true
		}
	}
	return "", false
}

// crashSignatures are scanned in order; the first match wins (spec
// §4.G step 4).
var crashSignatures = []string{
	"Segmentation fault", "ERROR", "FATAL", "Traceback", "panic:", "core dumped",
}

func detectCrash(content string) (signature string, crashed bool) {
	for _, sig := range crashSignatures {
		if strings.Contains(content, sig) {
			return sig, true
		}
	}
	return "", false
}

const freshAgentMaxLines = 20

var welcomeMarkers = []string{"Welcome", "welcome to", "How can I help"}

// detectFresh implements spec §4.G step 5: present if content
// contains a welcome greeting, or ends at a bare prompt with fewer
// than freshAgentMaxLines lines.
func detectFresh(content string) bool {
	for _, m := range welcomeMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) >= freshAgentMaxLines {
		return false
	}
	last := lastNonEmptyLine(content)
	return last == "" || last == "Human:" || strings.HasSuffix(last, ">")
}

// idlePriority maps an idle duration to a notification priority (spec
// §4.G Notification: idle thresholds).
func idlePriority(d, highAfter, normalAfter time.Duration) envelope.Priority {
	switch {
	case d > highAfter:
		return envelope.PriorityHigh
	case d > normalAfter:
		return envelope.PriorityNormal
	default:
		return envelope.PriorityLow
	}
}
