package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"genomevault/internal/models"
)

// Analyzer is the external analysis collaborator: it reads the
// plaintext once and returns a small structured result. Errors are
// non-fatal to the pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte) (*models.AnalysisResult, error)
}

// SequenceStats is the built-in analyzer: per-record length and
// composition statistics over the uploaded sequences.
type SequenceStats struct{}

var _ Analyzer = SequenceStats{}

func (SequenceStats) Analyze(ctx context.Context, data []byte) (*models.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var lengths []int
	var gc, bases int64

	fastq := false
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '@' {
		fastq = true
	}

	cur := -1
	flush := func() {
		if cur >= 0 {
			lengths = append(lengths, cur)
		}
		cur = -1
	}
	lineNo := 0
	for _, l := range bytes.Split(data, []byte{'\n'}) {
		l = bytes.TrimSpace(l)
		if len(l) == 0 {
			continue
		}
		lineNo++
		if fastq {
			// Four-line records: header, sequence, separator, quality.
			switch (lineNo - 1) % 4 {
			case 1:
				lengths = append(lengths, len(l))
				for _, c := range l {
					bases++
					if c == 'G' || c == 'g' || c == 'C' || c == 'c' {
						gc++
					}
				}
			}
			continue
		}
		if l[0] == '>' || l[0] == '#' {
			flush()
			continue
		}
		if cur < 0 {
			cur = 0
		}
		cur += len(l)
		for _, c := range l {
			bases++
			if c == 'G' || c == 'g' || c == 'C' || c == 'c' {
				gc++
			}
		}
	}
	flush()

	if len(lengths) == 0 {
		return nil, fmt.Errorf("no sequence records found")
	}
	res := &models.AnalysisResult{
		Records:    len(lengths),
		TotalBases: bases,
		MinLength:  lengths[0],
		MaxLength:  lengths[0],
	}
	sum := 0
	for _, n := range lengths {
		sum += n
		if n < res.MinLength {
			res.MinLength = n
		}
		if n > res.MaxLength {
			res.MaxLength = n
		}
	}
	res.MeanLength = float64(sum) / float64(len(lengths))
	if bases > 0 {
		res.GCFraction = float64(gc) / float64(bases)
	}
	return res, nil
}
