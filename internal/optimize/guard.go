package optimize

import "strings"

// metaMarkers flag candidates that talk about producing a prompt instead
// of being one. The model occasionally returns "Here is the improved
// prompt: ..." framing; committing that as the live artifact would poison
// every subsequent trial.
var metaMarkers = []string{
	"here is",
	"here's the",
	"below is",
	"i've updated",
	"i have improved",
	"i have updated",
	"the improved prompt",
	"this prompt should",
	"as an ai",
	"sure,",
	"certainly",
}

// guardWindow is how much leading text the guard inspects.
const guardWindow = 200

// IsDegenerate reports whether a candidate's leading text matches the
// meta-marker denylist. Rejection keeps the previous artifact; this check
// is a hard invariant and runs before any write.
func IsDegenerate(candidate string) bool {
	lead := strings.ToLower(strings.TrimSpace(candidate))
	if lead == "" {
		return true
	}
	if len(lead) > guardWindow {
		lead = lead[:guardWindow]
	}
	for _, marker := range metaMarkers {
		if strings.HasPrefix(lead, marker) {
			return true
		}
	}
	return false
}
