// Package dedup decides whether a new CI failure duplicates an already
// tracked one, using a staged comparison that runs cheap checks first:
// metadata gate, raw-content hash, normalized head/tail windows, then a
// normalized line-set similarity ratio.
//
// Every stage short-circuits. The detector is pure: candidate fetching
// belongs to the caller, and repeated invocations over the same inputs
// return the same result.
package dedup

import (
	"fmt"
	"math"
	"strings"

	"github.com/cisift/cisift/internal/metadata"
	"github.com/cisift/cisift/internal/normalize"
	"github.com/cisift/cisift/internal/types"
)

// Reason identifies which comparison stage produced the decision.
type Reason string

const (
	// ReasonNoExistingCandidates means no open candidate shared the
	// correlation key. The fast path, and the common case.
	ReasonNoExistingCandidates Reason = "no_existing_candidates"
	// ReasonMetadataMismatch means a candidate's correlation fields
	// differ from the event's.
	ReasonMetadataMismatch Reason = "metadata_mismatch"
	// ReasonExactLogMatch means the raw excerpts are byte-identical.
	ReasonExactLogMatch Reason = "exact_log_match"
	// ReasonHeadTailMatch means both ends of the normalized excerpts
	// are identical.
	ReasonHeadTailMatch Reason = "head_tail_match"
	// ReasonSimilarityMatch means the normalized line-set ratio met the
	// configured threshold.
	ReasonSimilarityMatch Reason = "similarity_match"
	// ReasonLogsDiffer means metadata matched but no log strategy did.
	ReasonLogsDiffer Reason = "logs_differ"
	// ReasonExtractionFailed means the candidate's body could not be
	// parsed; the detector fails open rather than suppress.
	ReasonExtractionFailed Reason = "extraction_failed"
)

// ComparisonResult is the duplicate detector's decision.
type ComparisonResult struct {
	// IsDuplicate is true when some candidate matched
	IsDuplicate bool `json:"is_duplicate"`
	// MatchedID is the matching candidate's id, set only on duplicates
	MatchedID string `json:"matched_id,omitempty"`
	// Reason is the stage that produced the decision
	Reason Reason `json:"reason"`
	// SimilarityPercent is the best line-set ratio seen, 0-100.
	// Informational; populated only when the similarity stage ran.
	SimilarityPercent int `json:"similarity_percent,omitempty"`
	// ComparedCount is how many candidates were examined
	ComparedCount int `json:"compared_count"`
	// Truncated is true when the candidate list exceeded the
	// configured cap and the overflow was never compared.
	Truncated bool `json:"truncated,omitempty"`
	// FixPendingIDs lists open candidates on the same feature whose
	// job/step no longer match the incoming failure. Their signature
	// changed, so the previously tracked failure may now be fixed; the
	// lifecycle manager flags them.
	FixPendingIDs []string `json:"fix_pending_ids,omitempty"`
}

// Validate checks if the comparison result has valid values
func (r *ComparisonResult) Validate() error {
	if r.IsDuplicate && r.MatchedID == "" {
		return fmt.Errorf("matched_id must be set when is_duplicate is true")
	}
	if !r.IsDuplicate && r.MatchedID != "" {
		return fmt.Errorf("matched_id should not be set when is_duplicate is false")
	}
	if r.SimilarityPercent < 0 || r.SimilarityPercent > 100 {
		return fmt.Errorf("similarity_percent must be between 0 and 100 (got %d)", r.SimilarityPercent)
	}
	if r.ComparedCount < 0 {
		return fmt.Errorf("compared_count cannot be negative (got %d)", r.ComparedCount)
	}
	return nil
}

// Detector runs the staged duplicate comparison.
type Detector struct {
	cfg Config
}

// New creates a Detector with the given configuration.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dedup config: %w", err)
	}
	return &Detector{cfg: cfg}, nil
}

// Detect compares an incoming failure against the open candidates that
// share its correlation key. The first matching candidate wins; when
// none match, the reason reports how far the comparison got.
func (d *Detector) Detect(ev types.FailureEvent, candidates []types.TrackedRef) ComparisonResult {
	if len(candidates) == 0 {
		return ComparisonResult{Reason: ReasonNoExistingCandidates}
	}

	truncated := false
	if len(candidates) > d.cfg.MaxCandidates {
		candidates = candidates[:d.cfg.MaxCandidates]
		truncated = true
	}

	eventMeta := metadata.ExtractFromEvent(ev, nil)
	result := ComparisonResult{Reason: ReasonExtractionFailed, Truncated: truncated}

	// The stored excerpt loses its trailing newline on the body round
	// trip, so trim the live one to keep byte comparisons symmetric.
	eventExcerpt := strings.TrimRight(ev.RawLogExcerpt, "\n")

	// Normalized form of the event excerpt, computed at most once.
	var eventNorm string
	var eventNormReady bool

	for _, cand := range candidates {
		result.ComparedCount++

		candMeta, err := metadata.ExtractFromBody(cand.Body)
		if err != nil {
			// Fail open: an unreadable candidate must not suppress a
			// possibly-new failure. Fail-closed deployments prefer the
			// suppression over record spam.
			if !d.cfg.FailOpen {
				result.IsDuplicate = true
				result.MatchedID = cand.ID
				result.Reason = ReasonExtractionFailed
				return result
			}
			continue
		}

		if !metadataMatches(eventMeta, candMeta) {
			promoteReason(&result, ReasonMetadataMismatch)
			if signatureChanged(eventMeta, candMeta) {
				result.FixPendingIDs = append(result.FixPendingIDs, cand.ID)
			}
			continue
		}

		candExcerpt, err := metadata.ExtractExcerpt(cand.Body)
		if err != nil {
			if !d.cfg.FailOpen {
				result.IsDuplicate = true
				result.MatchedID = cand.ID
				result.Reason = ReasonExtractionFailed
				return result
			}
			continue
		}

		// Exact match runs on raw content: a byte-identical rerun needs
		// no normalization.
		if normalize.Digest(eventExcerpt) == normalize.Digest(candExcerpt) {
			result.IsDuplicate = true
			result.MatchedID = cand.ID
			result.Reason = ReasonExactLogMatch
			return result
		}

		if !eventNormReady {
			eventNorm = normalize.Normalize(eventExcerpt)
			eventNormReady = true
		}
		candNorm := normalize.Normalize(candExcerpt)

		if headTailEqual(eventNorm, candNorm, d.cfg.HeadTailLines) {
			result.IsDuplicate = true
			result.MatchedID = cand.ID
			result.Reason = ReasonHeadTailMatch
			return result
		}

		percent := similarityPercent(eventNorm, candNorm)
		if percent > result.SimilarityPercent {
			result.SimilarityPercent = percent
		}
		if percent >= thresholdPercent(d.cfg.SimilarityThreshold) {
			result.IsDuplicate = true
			result.MatchedID = cand.ID
			result.Reason = ReasonSimilarityMatch
			result.SimilarityPercent = percent
			return result
		}

		promoteReason(&result, ReasonLogsDiffer)
	}

	return result
}

// promoteReason upgrades the aggregate not-duplicate reason: a stage
// that got further overrides one that bailed earlier.
func promoteReason(r *ComparisonResult, reason Reason) {
	if reason == ReasonLogsDiffer {
		r.Reason = ReasonLogsDiffer
		return
	}
	if r.Reason == ReasonExtractionFailed {
		r.Reason = reason
	}
}

// metadataMatches is the stage-two gate: all three correlation fields
// must be present on both sides and equal. Missing fields are
// mismatches, never wildcards.
func metadataMatches(event, cand types.Metadata) bool {
	return event.FeatureID.Equals(cand.FeatureID) &&
		event.JobName.Equals(cand.JobName) &&
		event.StepName.Equals(cand.StepName)
}

// signatureChanged reports whether the candidate tracks the same
// feature but under a different job/step signature. That is the
// fix-pending hint: the previously tracked failure may be resolved.
func signatureChanged(event, cand types.Metadata) bool {
	if !event.FeatureID.Equals(cand.FeatureID) {
		return false
	}
	return !event.JobName.Equals(cand.JobName) || !event.StepName.Equals(cand.StepName)
}

// headTailEqual compares the first and last n lines of both normalized
// excerpts. Both windows must match.
func headTailEqual(a, b string, n int) bool {
	aHead, aTail := headTail(a, n)
	bHead, bTail := headTail(b, n)
	return aHead == bHead && aTail == bTail
}

func headTail(text string, n int) (head, tail string) {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		whole := strings.Join(lines, "\n")
		return whole, whole
	}
	return strings.Join(lines[:n], "\n"), strings.Join(lines[len(lines)-n:], "\n")
}

// similarityPercent computes commonLines*100/totalUniqueLines over the
// normalized excerpts: line-set intersection over union, order
// insensitive. Integer floor division keeps the threshold boundary
// deterministic.
func similarityPercent(a, b string) int {
	aSet := lineSet(a)
	bSet := lineSet(b)

	union := make(map[string]struct{}, len(aSet)+len(bSet))
	common := 0
	for line := range aSet {
		union[line] = struct{}{}
	}
	for line := range bSet {
		if _, ok := aSet[line]; ok {
			common++
		}
		union[line] = struct{}{}
	}

	if len(union) == 0 {
		return 0
	}
	return common * 100 / len(union)
}

func lineSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		set[line] = struct{}{}
	}
	return set
}

// thresholdPercent converts the configured ratio to integer percent,
// matching the floor semantics of similarityPercent.
func thresholdPercent(threshold float64) int {
	return int(math.Round(threshold * 100))
}
