package approval

import (
	"regexp"
	"strings"
)

var (
	labeledVerdict = regexp.MustCompile(`(?i)^[\s>*#_-]*(?:final\s+)?(?:verdict|status|result|decision|review)[\s*_]*:[\s*_]*(approved|approve|lgtm|pass(?:ed)?|rejected|reject|fail(?:ed)?|needs[ _-]changes|changes[ _-]requested)\b`)
	emojiVerdict   = regexp.MustCompile(`(?i)(✅|❌|🚫)\s*\**\s*(approved|rejected|pass(?:ed)?|fail(?:ed)?|needs[ _-]changes)\b`)
	bareVerdict    = regexp.MustCompile(`^[\s>*#_-]*(APPROVED|REJECTED|NEEDS CHANGES|CHANGES REQUESTED)[\s*_.!]*$`)
)

// DetectVerdict scans a verifier's output for an approval or rejection
// signal. When several appear, the last one wins.
func DetectVerdict(output string) (Status, bool) {
	var (
		found  bool
		status Status
	)
	for _, line := range strings.Split(output, "\n") {
		if s, ok := lineVerdict(line); ok {
			status, found = s, true
		}
	}
	return status, found
}

func lineVerdict(line string) (Status, bool) {
	if m := labeledVerdict.FindStringSubmatch(line); m != nil {
		return verdictStatus(m[1]), true
	}
	if m := emojiVerdict.FindStringSubmatch(line); m != nil {
		if m[1] != "✅" {
			return StatusRejected, true
		}
		return verdictStatus(m[2]), true
	}
	if m := bareVerdict.FindStringSubmatch(line); m != nil {
		return verdictStatus(m[1]), true
	}
	return "", false
}

func verdictStatus(word string) Status {
	switch strings.ToLower(word) {
	case "approved", "approve", "lgtm", "pass", "passed":
		return StatusApproved
	}
	return StatusRejected
}
