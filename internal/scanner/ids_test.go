package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDSCleanSequence(t *testing.T) {
	s := NewIDS(nil, 100)
	res := s.Scan([]byte(">h1\nACGTACGTACGT\n"), 5)
	assert.True(t, res.Passed)
	assert.Zero(t, res.Detail.Score)
	assert.Zero(t, res.Detail.MatchCount)
}

func TestIDSSQLInjection(t *testing.T) {
	s := NewIDS(nil, 100)
	res := s.Scan([]byte(">h\nACGT\n>evil'; DROP TABLE users;--\nACGT\n"), 5)
	require.False(t, res.Passed)
	assert.Greater(t, res.Detail.Score, 5)

	categories := map[string]int{}
	for _, c := range res.Detail.TopCategories {
		categories[c.Category] = c.Count
	}
	assert.Contains(t, categories, CategorySQL)
}

func TestIDSCaseInsensitive(t *testing.T) {
	s := NewIDS(nil, 100)
	lower := s.Scan([]byte("drop table x"), 0)
	upper := s.Scan([]byte("DrOp TaBlE x"), 0)
	assert.Equal(t, lower.Detail.Score, upper.Detail.Score)
	assert.False(t, upper.Passed)
}

func TestIDSOverlappingMatches(t *testing.T) {
	// ";--" contains both ";" and "--" and itself; all must report.
	s := NewIDS(nil, 100)
	res := s.Scan([]byte(";--"), 100)
	found := map[string]bool{}
	for _, m := range res.Matches {
		found[s.patterns[m.PatternIndex].Literal] = true
	}
	assert.True(t, found[";"])
	assert.True(t, found["--"])
	assert.True(t, found[";--"])
}

func TestIDSThresholdBoundary(t *testing.T) {
	s := NewIDS(nil, 100)
	// Five single quotes: five low-severity hits, score 5.
	atLimit := s.Scan([]byte("'''''"), 5)
	assert.Equal(t, 5, atLimit.Detail.Score)
	assert.True(t, atLimit.Passed)

	over := s.Scan([]byte("''''''"), 5)
	assert.Equal(t, 6, over.Detail.Score)
	assert.False(t, over.Passed)
}

func TestIDSScoreCeiling(t *testing.T) {
	s := NewIDS(nil, 100)
	var payload []byte
	for i := 0; i < 50; i++ {
		payload = append(payload, []byte("drop table ")...)
	}
	res := s.Scan(payload, 5)
	assert.Equal(t, 100, res.Detail.Score)
}

func TestIDSOffsetsInRange(t *testing.T) {
	s := NewIDS(nil, 100)
	input := []byte("xx../etc/passwd<script>yy")
	res := s.Scan(input, 0)
	require.NotEmpty(t, res.Matches)
	for _, m := range res.Matches {
		assert.GreaterOrEqual(t, m.Offset, int64(0))
		assert.Less(t, m.Offset, int64(len(input)))
	}
	for _, off := range res.Detail.SampleOffsets {
		assert.GreaterOrEqual(t, off, int64(0))
		assert.Less(t, off, int64(len(input)))
	}
}

func TestIDSMatchOffsetExact(t *testing.T) {
	s := NewIDS([]Pattern{{Literal: "needle", Category: CategoryShell, Severity: SeverityLow}}, 100)
	res := s.Scan([]byte("hay needle hay needle"), 100)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, int64(4), res.Matches[0].Offset)
	assert.Equal(t, int64(15), res.Matches[1].Offset)
}

func TestIDSPathTraversal(t *testing.T) {
	s := NewIDS(nil, 100)
	res := s.Scan([]byte("../../etc/passwd"), 5)
	assert.False(t, res.Passed)
	categories := map[string]bool{}
	for _, c := range res.Detail.TopCategories {
		categories[c.Category] = true
	}
	assert.True(t, categories[CategoryPath])
}

func TestIDSSampleOffsetsCapped(t *testing.T) {
	s := NewIDS(nil, 100)
	var payload []byte
	for i := 0; i < 20; i++ {
		payload = append(payload, ';')
	}
	res := s.Scan(payload, 100)
	assert.Equal(t, 20, res.Detail.MatchCount)
	assert.Len(t, res.Detail.SampleOffsets, 8)
}
