package task

import (
	"fmt"
	"regexp"
)

// DeniedError reports a command the deny list refused to run.
type DeniedError struct {
	Hint string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("command blocked by policy: %s", e.Hint)
}

// denyRule pairs a pattern with the short hint surfaced to the planner so it
// can avoid generating blocked commands in the first place.
type denyRule struct {
	hint string
	re   *regexp.Regexp
}

// The list is a tripwire for the obvious catastrophes, not a sandbox. Real
// containment comes from the per-session workspace and the sandbox uid.
var denyRules = []denyRule{
	{
		hint: "recursive rm of /, ~ or $HOME",
		re:   regexp.MustCompile(`\brm\s+(?:-{1,2}[\w-]+\s+)*(?:"?\$HOME"?|~|/)\**\s*(?:$|[;&|])`),
	},
	{
		hint: "recursive chmod/chown of /",
		re:   regexp.MustCompile(`\b(?:chmod|chown)\s+(?:-{1,2}[\w-]+\s+)*-R\s+\S+\s+/\s*(?:$|[;&|])`),
	},
	{
		hint: "mkfs on a device",
		re:   regexp.MustCompile(`\bmkfs(?:\.\w+)?\b`),
	},
	{
		hint: "dd writing to a block device",
		re:   regexp.MustCompile(`\bdd\b[^;|&]*\bof=/dev/`),
	},
	{
		hint: "fork bomb",
		re:   regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
	},
	{
		hint: "piping downloaded or decoded content into a shell",
		re:   regexp.MustCompile(`\b(?:base64|curl|wget)\b[^|;&]*\|\s*(?:env\s+)?(?:sh|bash|zsh|dash)\b`),
	},
	{
		hint: "inline interpreter execution (python -c, perl -e, node -e)",
		re:   regexp.MustCompile(`\b(?:python3?|perl|ruby|node)\s+(?:-\w+\s+)*-[ce]\b`),
	},
	{
		hint: "eval of command substitution",
		re:   regexp.MustCompile(`\beval\s+["']?\$\(`),
	},
	{
		hint: "writing to the runtime's own .env or config.toml",
		re:   regexp.MustCompile(`>{1,2}\s*(?:"?\$HOME"?|~|/root|/home/[\w-]+)/\.kiso/(?:\.env|config\.toml)\b`),
	},
}

// CheckCommand returns a DeniedError when the command matches a deny rule.
func CheckCommand(cmd string) error {
	for _, r := range denyRules {
		if r.re.MatchString(cmd) {
			return &DeniedError{Hint: r.hint}
		}
	}
	return nil
}

// DenyHints lists the deny-rule hints, in rule order, for the planner's
// environment section.
func DenyHints() []string {
	out := make([]string, len(denyRules))
	for i, r := range denyRules {
		out[i] = r.hint
	}
	return out
}
