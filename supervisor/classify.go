package supervisor

import (
	"regexp"
	"strings"
)

// startupPattern maps a regex over captured sidecar output to a user-facing
// message. Patterns are evaluated in order; the first match wins.
type startupPattern struct {
	re      *regexp.Regexp
	message string
}

var startupPatterns = []startupPattern{
	{regexp.MustCompile(`(?i)address already in use|EADDRINUSE`),
		"The configured port is already in use by another process"},
	{regexp.MustCompile(`(?i)permission denied|EACCES|access is denied`),
		"Permission denied while starting the sidecar; check file and port permissions"},
	{regexp.MustCompile(`(?i)connection refused|ECONNREFUSED`),
		"The sidecar could not connect to its backing service (connection refused)"},
	{regexp.MustCompile(`(?i)failed to bind|bind(\(\))? failed|cannot bind`),
		"The sidecar failed to bind its network address"},
	{regexp.MustCompile(`(?i)timed? ?out`),
		"The sidecar timed out during startup"},
	{regexp.MustCompile(`(?i)invalid config|configuration error|bad configuration`),
		"The sidecar rejected its configuration"},
	{regexp.MustCompile(`(?i)oauth`),
		"OAuth setup failed; verify the OAuth server settings and credentials"},
	{regexp.MustCompile(`(?i)authenticat(e|ion) fail|unauthorized|401`),
		"The sidecar failed to authenticate"},
}

// genericStartupFailure is returned when no pattern matches, including when
// the sidecar produced no output at all.
const genericStartupFailure = "The sidecar process exited before it could serve requests; check the host logs for details"

// ClassifyOutput maps raw sidecar output to a friendly startup-failure
// message. It never fails: unmatched or empty output yields the generic
// message.
func ClassifyOutput(stdout, stderr string) string {
	combined := strings.TrimSpace(stdout + "\n" + stderr)
	if combined == "" {
		return genericStartupFailure
	}
	for _, p := range startupPatterns {
		if p.re.MatchString(combined) {
			return p.message
		}
	}
	return genericStartupFailure
}
