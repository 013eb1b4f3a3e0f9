// Package metadata extracts structured fields from failure events and
// from persisted tracked-record bodies, and renders the record body
// wire format those extractions depend on.
//
// Missing fields are explicit sentinels, never exceptions and never
// wildcards; a malformed body is a distinct error condition so callers
// can tell "field absent" from "record unreadable".
package metadata

import (
	"errors"
	"regexp"
	"strings"

	"github.com/cisift/cisift/internal/types"
)

// ErrMalformed indicates a record body that could not be parsed at all:
// no field table and no excerpt section. Distinct from a well-formed
// body with missing fields.
var ErrMalformed = errors.New("malformed record body")

// Field-table row names. Part of the persisted wire format; do not
// rename without migrating existing records.
const (
	fieldFeature  = "Feature"
	fieldJob      = "Job"
	fieldStep     = "Step"
	fieldLogLines = "Log lines"
	fieldRun      = "Run"
	fieldCommit   = "Commit"
	fieldBranch   = "Branch"
	fieldRetryOf  = "Retry of"
	fieldAttempt  = "Attempt"
	fieldDigest   = "Log digest"
)

// defaultBranchPattern extracts a numeric feature id from branch names
// like "feature/7-fix-login" or "feat-12". Overridable per provider via
// config.
const defaultBranchPattern = `(?i)(?:^|/)(?:feature|feat|issue)[-/](\d+)\b`

var branchRe = regexp.MustCompile(defaultBranchPattern)

// JobNameResolver maps a CI provider's job id to a stable job name.
// Injected so the mapping can change per provider or workflow file
// without code changes.
type JobNameResolver func(jobID string) (string, bool)

// FeatureIDFromBranch parses the feature id out of a branch name using
// the default branch pattern. Returns ("", false) when the branch does
// not encode one.
func FeatureIDFromBranch(branch string) (string, bool) {
	return featureIDFrom(branchRe, branch)
}

// FeatureIDFromBranchPattern is FeatureIDFromBranch with a caller
// supplied pattern. The pattern's first capture group is the id.
func FeatureIDFromBranchPattern(pattern, branch string) (string, bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", false, err
	}
	id, ok := featureIDFrom(re, branch)
	return id, ok, nil
}

func featureIDFrom(re *regexp.Regexp, branch string) (string, bool) {
	m := re.FindStringSubmatch(branch)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// ExtractFromEvent pulls the metadata tuple out of a failure event.
// The event's own FeatureID wins; otherwise it is derived from the
// branch name. The resolver, when given, canonicalizes the job name.
func ExtractFromEvent(ev types.FailureEvent, resolve JobNameResolver) types.Metadata {
	featureID := ev.FeatureID
	if featureID == "" {
		featureID, _ = FeatureIDFromBranch(ev.BranchName)
	}

	jobName := ev.JobName
	if resolve != nil {
		if name, ok := resolve(ev.JobName); ok {
			jobName = name
		}
	}

	return types.Metadata{
		FeatureID:    types.NewField(featureID),
		JobName:      types.NewField(jobName),
		StepName:     types.NewField(ev.StepName),
		LogLineRange: types.NewField(ev.LogLineRange),
	}
}

// ExtractFromBody parses the field table out of a persisted record
// body. Absent fields come back as missing sentinels; a body with
// neither a recognizable field table nor an excerpt section is
// ErrMalformed.
func ExtractFromBody(body string) (types.Metadata, error) {
	fields, ok := parseFieldTable(body)
	if !ok && !hasExcerptSection(body) {
		return types.Metadata{}, ErrMalformed
	}

	return types.Metadata{
		FeatureID:    types.NewField(fields[fieldFeature]),
		JobName:      types.NewField(fields[fieldJob]),
		StepName:     types.NewField(fields[fieldStep]),
		LogLineRange: types.NewField(fields[fieldLogLines]),
	}, nil
}

// parseFieldTable scans for "| Name | Value |" rows. Tolerates leading
// and trailing pipes, uneven spacing, and separator rows. Returns
// ok=false when no data row was found.
func parseFieldTable(body string) (map[string]string, bool) {
	fields := make(map[string]string)
	found := false

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}
		cells := strings.Split(strings.Trim(line, "|"), "|")
		if len(cells) != 2 {
			continue
		}
		name := strings.TrimSpace(cells[0])
		value := strings.TrimSpace(cells[1])
		if name == "" || strings.HasPrefix(name, "---") || name == "Field" {
			continue
		}
		found = true
		if value != "" {
			fields[name] = value
		}
	}

	return fields, found
}
