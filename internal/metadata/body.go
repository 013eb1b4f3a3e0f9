package metadata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cisift/cisift/internal/types"
)

// Excerpt section delimiters. This is the one piece of wire format the
// engine depends on across versions: the raw excerpt sits between these
// two markers, fenced as a code block.
const (
	excerptBegin = "<!-- ci-failure:log-begin -->"
	excerptEnd   = "<!-- ci-failure:log-end -->"
)

// RenderBody produces the persisted record body for a tracked failure:
// a field table followed by the raw (unnormalized) log excerpt in a
// delimited section.
func RenderBody(ev types.FailureEvent, normalizedDigest, retryOfID string, attempt int) string {
	var b strings.Builder

	b.WriteString("## Failure Details\n\n")
	b.WriteString("| Field | Value |\n")
	b.WriteString("| --- | --- |\n")
	writeRow(&b, fieldFeature, ev.FeatureID)
	writeRow(&b, fieldJob, ev.JobName)
	writeRow(&b, fieldStep, ev.StepName)
	writeRow(&b, fieldLogLines, ev.LogLineRange)
	writeRow(&b, fieldRun, ev.RunURL)
	writeRow(&b, fieldCommit, ev.CommitSHA)
	writeRow(&b, fieldBranch, ev.BranchName)
	writeRow(&b, fieldRetryOf, retryOfID)
	if attempt > 0 {
		writeRow(&b, fieldAttempt, strconv.Itoa(attempt))
	}
	writeRow(&b, fieldDigest, normalizedDigest)

	b.WriteString("\n## Log Excerpt\n\n")
	b.WriteString(excerptBegin)
	b.WriteString("\n```\n")
	b.WriteString(strings.TrimRight(ev.RawLogExcerpt, "\n"))
	b.WriteString("\n```\n")
	b.WriteString(excerptEnd)
	b.WriteString("\n")

	return b.String()
}

func writeRow(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "| %s | %s |\n", name, value)
}

// ExtractExcerpt pulls the raw log excerpt back out of a record body.
// A body without both delimiters, or with them out of order, is
// ErrMalformed.
func ExtractExcerpt(body string) (string, error) {
	start := strings.Index(body, excerptBegin)
	end := strings.Index(body, excerptEnd)
	if start < 0 || end < 0 || end < start {
		return "", fmt.Errorf("excerpt section: %w", ErrMalformed)
	}

	section := body[start+len(excerptBegin) : end]
	section = strings.TrimSpace(section)
	section = strings.TrimPrefix(section, "```")
	section = strings.TrimSuffix(section, "```")
	return strings.Trim(section, "\n"), nil
}

func hasExcerptSection(body string) bool {
	start := strings.Index(body, excerptBegin)
	end := strings.Index(body, excerptEnd)
	return start >= 0 && end > start
}

// RetryReference parses the retry back-reference and attempt count out
// of a record body, when present.
func RetryReference(body string) (retryOfID string, attempt int) {
	fields, ok := parseFieldTable(body)
	if !ok {
		return "", 0
	}
	retryOfID = fields[fieldRetryOf]
	if raw := fields[fieldAttempt]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			attempt = n
		}
	}
	return retryOfID, attempt
}
