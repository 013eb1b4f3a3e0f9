package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cisift/cisift/internal/types"
)

func sampleEvent() types.FailureEvent {
	return types.FailureEvent{
		BranchName:    "feature/7-fix-login",
		JobName:       "lint",
		StepName:      "Run ESLint",
		RawLogExcerpt: "error: something broke\nat line 3",
		LogLineRange:  "120-170",
		RunURL:        "https://ci.example.com/runs/991",
		CommitSHA:     "2fd4e1c67a2d28fced849ee1bb76e7391b93eb12",
	}
}

func TestFeatureIDFromBranch(t *testing.T) {
	tests := []struct {
		branch string
		id     string
		ok     bool
	}{
		{"feature/7-fix-login", "7", true},
		{"feat-12", "12", true},
		{"issue/304", "304", true},
		{"users/bob/feature/9-thing", "9", true},
		{"main", "", false},
		{"feature/no-number", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.branch, func(t *testing.T) {
			id, ok := FeatureIDFromBranch(tt.branch)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestExtractFromEvent(t *testing.T) {
	md := ExtractFromEvent(sampleEvent(), nil)

	assert.Equal(t, "7", md.FeatureID.OrEmpty())
	assert.Equal(t, "lint", md.JobName.OrEmpty())
	assert.Equal(t, "Run ESLint", md.StepName.OrEmpty())
	assert.Equal(t, "120-170", md.LogLineRange.OrEmpty())
	assert.True(t, md.Complete())
}

func TestExtractFromEventExplicitFeatureIDWins(t *testing.T) {
	ev := sampleEvent()
	ev.FeatureID = "42"

	md := ExtractFromEvent(ev, nil)
	assert.Equal(t, "42", md.FeatureID.OrEmpty())
}

func TestExtractFromEventResolvesJobName(t *testing.T) {
	resolve := func(jobID string) (string, bool) {
		if jobID == "job-7781" {
			return "lint", true
		}
		return "", false
	}

	ev := sampleEvent()
	ev.JobName = "job-7781"
	md := ExtractFromEvent(ev, resolve)
	assert.Equal(t, "lint", md.JobName.OrEmpty())

	// Unmapped ids pass through untouched.
	ev.JobName = "build"
	md = ExtractFromEvent(ev, resolve)
	assert.Equal(t, "build", md.JobName.OrEmpty())
}

func TestRenderBodyRoundTrip(t *testing.T) {
	ev := sampleEvent()
	ev.FeatureID = "7"
	body := RenderBody(ev, "digest123", "", 0)

	md, err := ExtractFromBody(body)
	require.NoError(t, err)
	assert.Equal(t, "7", md.FeatureID.OrEmpty())
	assert.Equal(t, "lint", md.JobName.OrEmpty())
	assert.Equal(t, "Run ESLint", md.StepName.OrEmpty())
	assert.Equal(t, "120-170", md.LogLineRange.OrEmpty())

	excerpt, err := ExtractExcerpt(body)
	require.NoError(t, err)
	assert.Equal(t, ev.RawLogExcerpt, excerpt)
}

func TestRenderBodyRetryFields(t *testing.T) {
	ev := sampleEvent()
	ev.FeatureID = "7"
	body := RenderBody(ev, "digest123", "ts-12", 3)

	retryOf, attempt := RetryReference(body)
	assert.Equal(t, "ts-12", retryOf)
	assert.Equal(t, 3, attempt)
}

func TestExtractFromBodyMissingFieldsAreSentinels(t *testing.T) {
	body := `## Failure Details

| Field | Value |
| --- | --- |
| Feature | 5 |
| Job | Build |
`
	md, err := ExtractFromBody(body)
	require.NoError(t, err)

	assert.True(t, md.FeatureID.Set)
	assert.True(t, md.JobName.Set)
	assert.False(t, md.StepName.Set, "absent field must be a missing sentinel")
	assert.False(t, md.LogLineRange.Set)
	assert.False(t, md.Complete())
	assert.Equal(t, []string{"step_name"}, md.MissingFields())
}

func TestExtractFromBodyToleratesSpacing(t *testing.T) {
	body := "|Feature|5|\n|  Job  |  Build  |\n| Step |Build app|\n"

	md, err := ExtractFromBody(body)
	require.NoError(t, err)
	assert.Equal(t, "5", md.FeatureID.OrEmpty())
	assert.Equal(t, "Build", md.JobName.OrEmpty())
	assert.Equal(t, "Build app", md.StepName.OrEmpty())
}

func TestExtractFromBodyMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"prose only", "someone edited this record and deleted the table"},
		{"separator only", "| --- | --- |"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractFromBody(tt.body)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestExtractExcerptMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no markers", "| Feature | 5 |"},
		{"begin only", excerptBegin + "\n```\ntail\n```"},
		{"reversed", excerptEnd + "\n" + excerptBegin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractExcerpt(tt.body)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestExtractFromBodyTableMissingButExcerptPresent(t *testing.T) {
	// A body that lost its table but kept the excerpt section is not
	// malformed; its fields are simply all missing.
	body := excerptBegin + "\n```\nsome log\n```\n" + excerptEnd

	md, err := ExtractFromBody(body)
	require.NoError(t, err)
	assert.False(t, md.Complete())
}
