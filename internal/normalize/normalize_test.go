package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePlaceholderClasses(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "uuid",
			input:    "request 550e8400-e29b-41d4-a716-446655440000 failed",
			expected: "request <uuid> failed",
		},
		{
			name:     "full git sha",
			input:    "checked out 2fd4e1c67a2d28fced849ee1bb76e7391b93eb12",
			expected: "checked out <sha>",
		},
		{
			name:     "container id",
			input:    "container 4e5021d210f6 exited",
			expected: "container <container> exited",
		},
		{
			name:     "pid variants",
			input:    "pid 4312 exited; killed PID: 9987; process 812 gone",
			expected: "pid <pid> exited; killed PID: <pid>; process <pid> gone",
		},
		{
			name:     "build counters",
			input:    "Build #8123 failed during run 42",
			expected: "Build #<n> failed during run #<n>",
		},
		{
			name:     "temp paths",
			input:    "wrote /tmp/go-build2843217315/b001/exe/main",
			expected: "wrote /tmp/<path>",
		},
		{
			name:     "durations",
			input:    "test took 4.21s after waiting 150ms",
			expected: "test took <duration> after waiting <duration>",
		},
		{
			name:     "byte sizes",
			input:    "heap grew to 512 MiB from 4096 bytes",
			expected: "heap grew to <size> from <size>",
		},
		{
			name:     "ports",
			input:    "listening on port 8080, dialed localhost:54321",
			expected: "listening on port <port>, dialed localhost:<port>",
		},
		{
			name:     "memory address",
			input:    "panic at 0x7fff5fbff8a0",
			expected: "panic at <addr>",
		},
		{
			name:     "iso timestamp",
			input:    "2024-03-01T12:04:55Z starting step",
			expected: "<timestamp> starting step",
		},
		{
			name:     "unchanged meaningful text",
			input:    "undefined: foo.Bar in pkg/server/server.go",
			expected: "undefined: foo.Bar in pkg/server/server.go",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalizeCollapsesRunNoise(t *testing.T) {
	// Two runs of the same failure, differing only in per-run entropy,
	// must normalize to identical text.
	runA := `2024-03-01T12:04:55Z ERROR worker pid 4312 crashed
container 4e5021d210f6 (job a1b2c3d4-e5f6-7890-abcd-ef0123456789)
build #812 failed after 3.42s at 0xc000a1b200`
	runB := `2024-03-02T09:17:03Z ERROR worker pid 99 crashed
container 99afde01cc12 (job 00000000-1111-2222-3333-444455556666)
build #813 failed after 11.0s at 0xc000ffee00`

	require.Equal(t, Normalize(runA), Normalize(runB))
}

func TestNormalizeIdempotent(t *testing.T) {
	fixtures := []string{
		"pid 4312 at 0xdeadbeef on port 8080",
		"550e8400-e29b-41d4-a716-446655440000 2fd4e1c67a2d28fced849ee1bb76e7391b93eb12",
		"/tmp/build-9918/out.log took 12.5s (512 KB)",
		"2024-03-01 12:04:55 build #77 run 3",
		"plain text with no volatile tokens at all",
		"",
	}

	for _, fixture := range fixtures {
		once := Normalize(fixture)
		twice := Normalize(once)
		assert.Equal(t, once, twice, "normalize must be idempotent for %q", fixture)
	}
}

func TestNormalizeWordBounded(t *testing.T) {
	// Hex-looking substrings embedded in longer identifiers must be
	// left alone.
	input := "symbol abcdef123456ghij and file deadbeefcafe42.go"
	assert.Equal(t, input, Normalize(input))
}

func TestDigest(t *testing.T) {
	a := Digest("hello")
	b := Digest("hello")
	c := Digest("world")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
