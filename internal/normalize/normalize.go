// Package normalize rewrites volatile substrings in CI log excerpts to
// stable placeholders so that semantically identical failures compare
// equal despite per-run noise (UUIDs, hashes, PIDs, timestamps, ports,
// addresses).
//
// Normalization is pure, deterministic, and idempotent:
// Normalize(Normalize(x)) == Normalize(x). Placeholders contain no
// characters that any rule can re-match.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// rule rewrites one class of volatile substring to a stable placeholder.
type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules is the ordered substitution list. Order matters: UUIDs must be
// rewritten before the shorter hex classes can see their segments, and
// 40-hex hashes before 12-hex container ids. Every pattern is
// word-bounded so it cannot swallow adjacent meaningful tokens.
var rules = []rule{
	// ISO timestamps and bare times come first: they contain digit runs
	// the later counter rules would otherwise chew on.
	{regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?\b`), "<timestamp>"},
	{regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}(?:\.\d+)?\b`), "<time>"},

	// UUIDs before any bare hex rule: the trailing 12-hex segment of a
	// UUID is word-bounded by the preceding dash.
	{regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`), "<uuid>"},

	// Full git SHAs, then short container ids.
	{regexp.MustCompile(`\b[0-9a-f]{40}\b`), "<sha>"},
	{regexp.MustCompile(`\b[0-9a-f]{12}\b`), "<container>"},

	// Process ids: "pid 1234", "pid=1234", "PID: 1234", "process 1234".
	{regexp.MustCompile(`(?i)\b(pid[ :=#]*)\d+\b`), "${1}<pid>"},
	{regexp.MustCompile(`(?i)\b(process )\d+\b`), "${1}<pid>"},

	// Build/job/run/attempt counters: "build #123", "run 42".
	{regexp.MustCompile(`(?i)\b(build|job|run|attempt)[ #:]+\d+\b`), "${1} #<n>"},

	// Temp path segments. The character class excludes '<', so a
	// rewritten "/tmp/<path>" cannot re-match.
	{regexp.MustCompile(`(?:/private/tmp|/var/tmp|/tmp)/[A-Za-z0-9._/-]+`), "/tmp/<path>"},

	// Durations before byte sizes: "1.5s" must not be read as a size
	// suffix fragment.
	{regexp.MustCompile(`\b\d+(?:\.\d+)?\s?(?:ms|µs|ns|s|m|h|sec|secs|seconds?|minutes?)\b`), "<duration>"},

	// Byte sizes: "512 KB", "1.2GiB", "4096 bytes".
	{regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s?(?:B|KB|KiB|MB|MiB|GB|GiB|TB|TiB|bytes)\b`), "<size>"},

	// Port numbers, both labeled and host-suffixed.
	{regexp.MustCompile(`(?i)\b(port[ :=]*)\d{2,5}\b`), "${1}<port>"},
	{regexp.MustCompile(`\b(localhost|127\.0\.0\.1|0\.0\.0\.0):\d{2,5}\b`), "${1}:<port>"},

	// Memory addresses.
	{regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`), "<addr>"},
}

// Normalize rewrites every volatile substring class in text to its
// stable placeholder. Two logs differing only in run-specific values
// normalize to identical text.
func Normalize(text string) string {
	for _, r := range rules {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}

// Digest returns the hex SHA-256 of text. Used both for the raw-content
// exact-match comparison and for the normalized-log digest persisted on
// tracked records.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
