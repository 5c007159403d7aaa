package scanner

import (
	"sort"

	"genomevault/internal/models"
)

// Threat severities and their score weights.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityWeight = map[string]int{
	SeverityLow:      1,
	SeverityMedium:   3,
	SeverityHigh:     6,
	SeverityCritical: 12,
}

// Threat pattern categories.
const (
	CategorySQL    = "sql"
	CategoryScript = "script"
	CategoryPath   = "path"
	CategoryShell  = "shell"
)

// Pattern is a literal, case-insensitive threat substring.
type Pattern struct {
	Literal  string
	Category string
	Severity string
}

// DefaultPatterns is the built-in threat pattern set, distilled from
// attack vectors observed against genomic intake endpoints.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{"drop table", CategorySQL, SeverityCritical},
		{"union select", CategorySQL, SeverityCritical},
		{"or 1=1", CategorySQL, SeverityHigh},
		{"and 1=1", CategorySQL, SeverityHigh},
		{"--", CategorySQL, SeverityLow},
		{"/*", CategorySQL, SeverityLow},
		{"*/", CategorySQL, SeverityLow},
		{";--", CategorySQL, SeverityHigh},
		{"'", CategorySQL, SeverityLow},
		{`"`, CategorySQL, SeverityLow},
		{";", CategorySQL, SeverityLow},

		{"<script", CategoryScript, SeverityCritical},
		{"javascript:", CategoryScript, SeverityHigh},
		{"onload=", CategoryScript, SeverityMedium},
		{"onerror=", CategoryScript, SeverityMedium},
		{"<iframe", CategoryScript, SeverityHigh},
		{"<embed", CategoryScript, SeverityHigh},

		{"../", CategoryPath, SeverityHigh},
		{`..\`, CategoryPath, SeverityHigh},
		{"/etc/passwd", CategoryPath, SeverityCritical},
		{`c:\windows`, CategoryPath, SeverityCritical},
		{`\\`, CategoryPath, SeverityMedium},

		{"rm -rf", CategoryShell, SeverityCritical},
		{"; rm ", CategoryShell, SeverityCritical},
		{"&& rm ", CategoryShell, SeverityCritical},
		{"| rm ", CategoryShell, SeverityCritical},
		{"`", CategoryShell, SeverityLow},
		{"$(", CategoryShell, SeverityMedium},
	}
}

// IDS is a multi-pattern scanner over byte streams. Matching is a
// single pass of an Aho-Corasick automaton built over the lowercased
// pattern set; overlapping matches are all reported.
type IDS struct {
	patterns []Pattern
	nodes    []acNode
	ceiling  int
}

type acNode struct {
	children map[byte]int
	fail     int
	// output lists pattern indexes ending at this node, including
	// those reachable through failure (dictionary) links.
	output []int
}

// NewIDS builds the automaton over the given patterns. A nil patterns
// slice selects DefaultPatterns. ceiling caps the total score.
func NewIDS(patterns []Pattern, ceiling int) *IDS {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	if ceiling <= 0 {
		ceiling = 100
	}
	s := &IDS{
		patterns: patterns,
		nodes:    []acNode{{children: map[byte]int{}}},
		ceiling:  ceiling,
	}
	for i, p := range patterns {
		s.insert([]byte(p.Literal), i)
	}
	s.buildFailureLinks()
	return s
}

func lowerByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func (s *IDS) insert(literal []byte, patternIndex int) {
	cur := 0
	for _, c := range literal {
		c = lowerByte(c)
		next, ok := s.nodes[cur].children[c]
		if !ok {
			s.nodes = append(s.nodes, acNode{children: map[byte]int{}})
			next = len(s.nodes) - 1
			s.nodes[cur].children[c] = next
		}
		cur = next
	}
	s.nodes[cur].output = append(s.nodes[cur].output, patternIndex)
}

func (s *IDS) buildFailureLinks() {
	queue := make([]int, 0, len(s.nodes))
	for _, child := range s.nodes[0].children {
		s.nodes[child].fail = 0
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for c, child := range s.nodes[cur].children {
			queue = append(queue, child)
			f := s.nodes[cur].fail
			for {
				if next, ok := s.nodes[f].children[c]; ok && next != child {
					s.nodes[child].fail = next
					break
				}
				if f == 0 {
					s.nodes[child].fail = 0
					break
				}
				f = s.nodes[f].fail
			}
			// Merge dictionary outputs so every match surfaces in one pass.
			fail := s.nodes[child].fail
			s.nodes[child].output = append(s.nodes[child].output, s.nodes[fail].output...)
		}
	}
}

// Match is one pattern occurrence. Offset is the zero-based start of
// the match in the scanned buffer.
type Match struct {
	PatternIndex int
	Offset       int64
}

// IDSResult is the verdict of a scan.
type IDSResult struct {
	Passed  bool
	Matches []Match
	Detail  models.IDSDetail
}

// Scan reports every pattern occurrence in data, scores the total by
// severity weight, and passes iff score <= threshold.
func (s *IDS) Scan(data []byte, threshold int) IDSResult {
	var matches []Match
	cur := 0
	for i := 0; i < len(data); i++ {
		c := lowerByte(data[i])
		for cur != 0 {
			if _, ok := s.nodes[cur].children[c]; ok {
				break
			}
			cur = s.nodes[cur].fail
		}
		if next, ok := s.nodes[cur].children[c]; ok {
			cur = next
		}
		for _, pi := range s.nodes[cur].output {
			start := int64(i) - int64(len(s.patterns[pi].Literal)) + 1
			matches = append(matches, Match{PatternIndex: pi, Offset: start})
		}
	}

	score := 0
	byCategory := map[string]int{}
	for _, m := range matches {
		p := s.patterns[m.PatternIndex]
		score += severityWeight[p.Severity]
		byCategory[p.Category]++
	}
	if score > s.ceiling {
		score = s.ceiling
	}

	cats := make([]models.CategoryCount, 0, len(byCategory))
	for cat, n := range byCategory {
		cats = append(cats, models.CategoryCount{Category: cat, Count: n})
	}
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Count != cats[j].Count {
			return cats[i].Count > cats[j].Count
		}
		return cats[i].Category < cats[j].Category
	})

	samples := make([]int64, 0, 8)
	for _, m := range matches {
		if len(samples) == 8 {
			break
		}
		samples = append(samples, m.Offset)
	}

	return IDSResult{
		Passed:  score <= threshold,
		Matches: matches,
		Detail: models.IDSDetail{
			Score:         score,
			Threshold:     threshold,
			MatchCount:    len(matches),
			TopCategories: cats,
			SampleOffsets: samples,
		},
	}
}
