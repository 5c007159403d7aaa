package scanner

import (
	"bytes"

	"genomevault/internal/models"
)

// Recognized input formats, keyed off the leading non-whitespace byte.
const (
	FormatFASTA   = "fasta"
	FormatFASTQ   = "fastq"
	FormatVCF     = "vcf"
	FormatUnknown = "unknown"
)

// violationCap bounds how many alphabet violations are reported before
// scanning stops.
const violationCap = 32

// FormatResult is the verdict of the structural validator.
type FormatResult struct {
	Passed bool
	Detail models.FormatDetail
}

func validBase(c byte) bool {
	switch c | 0x20 {
	case 'a', 'c', 'g', 't', 'n':
		return true
	}
	return c == '-'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\v' || c == '\f'
}

// ValidateFormat checks a byte buffer against the FASTA, FASTQ, or VCF
// grammar selected by its first non-whitespace byte. Violations carry
// the offending character, its absolute byte offset, and the enclosing
// record header.
func ValidateFormat(data []byte) FormatResult {
	start := 0
	for start < len(data) && isSpace(data[start]) {
		start++
	}
	if start >= len(data) {
		return FormatResult{Detail: models.FormatDetail{Format: FormatUnknown}}
	}
	switch data[start] {
	case '>':
		return validateFASTA(data, start)
	case '@':
		return validateFASTQ(data, start)
	case '#':
		return validateVCF(data, start)
	}
	return FormatResult{Detail: models.FormatDetail{Format: FormatUnknown}}
}

// line walks the buffer from offset and returns the line without its
// terminator plus the offset one past the newline.
func line(data []byte, off int) ([]byte, int) {
	end := off
	for end < len(data) && data[end] != '\n' {
		end++
	}
	next := end
	if next < len(data) {
		next++
	}
	l := data[off:end]
	if len(l) > 0 && l[len(l)-1] == '\r' {
		l = l[:len(l)-1]
	}
	return l, next
}

func checkAlphabet(d *models.FormatDetail, seq []byte, base int64, header string) bool {
	for i, c := range seq {
		if isSpace(c) || validBase(c) {
			continue
		}
		if len(d.Violations) >= violationCap {
			d.Truncated = true
			return false
		}
		d.Violations = append(d.Violations, models.FormatViolation{
			Char:   string(c),
			Offset: base + int64(i),
			Header: header,
		})
	}
	return true
}

func validateFASTA(data []byte, start int) FormatResult {
	d := models.FormatDetail{Format: FormatFASTA}
	header := ""
	sawSequence := false
	off := start
	for off < len(data) {
		lineStart := off
		var l []byte
		l, off = line(data, off)
		if len(bytes.TrimSpace(l)) == 0 {
			continue
		}
		if l[0] == '>' {
			d.Records++
			header = string(l[1:])
			continue
		}
		sawSequence = true
		if !checkAlphabet(&d, l, int64(lineStart), header) {
			break
		}
	}
	passed := d.Records > 0 && sawSequence && len(d.Violations) == 0
	return FormatResult{Passed: passed, Detail: d}
}

func validateFASTQ(data []byte, start int) FormatResult {
	d := models.FormatDetail{Format: FormatFASTQ}
	off := start
	for off < len(data) {
		hdrStart := off
		var hdr []byte
		hdr, off = line(data, off)
		if len(bytes.TrimSpace(hdr)) == 0 {
			continue
		}
		if hdr[0] != '@' {
			d.Violations = append(d.Violations, models.FormatViolation{
				Char:   string(hdr[0]),
				Offset: int64(hdrStart),
				Header: "",
			})
			break
		}
		header := string(hdr[1:])
		seqStart := off
		var seq []byte
		seq, off = line(data, off)
		if !checkAlphabet(&d, seq, int64(seqStart), header) {
			break
		}
		plusStart := off
		var plus []byte
		plus, off = line(data, off)
		if len(plus) == 0 || plus[0] != '+' {
			c := ""
			if len(plus) > 0 {
				c = string(plus[0])
			}
			d.Violations = append(d.Violations, models.FormatViolation{
				Char:   c,
				Offset: int64(plusStart),
				Header: header,
			})
			break
		}
		qualStart := off
		var qual []byte
		qual, off = line(data, off)
		if len(qual) != len(seq) {
			d.Violations = append(d.Violations, models.FormatViolation{
				Char:   "",
				Offset: int64(qualStart),
				Header: header,
			})
			break
		}
		d.Records++
	}
	passed := d.Records > 0 && len(d.Violations) == 0
	return FormatResult{Passed: passed, Detail: d}
}

// validateVCF accepts ##meta and #CHROM header lines followed by
// tab-separated data rows with at least 8 fields. Alphabet rules apply
// to the REF and ALT columns.
func validateVCF(data []byte, start int) FormatResult {
	d := models.FormatDetail{Format: FormatVCF}
	headers := 0
	off := start
	for off < len(data) {
		lineStart := off
		var l []byte
		l, off = line(data, off)
		if len(bytes.TrimSpace(l)) == 0 {
			continue
		}
		if l[0] == '#' {
			headers++
			continue
		}
		fields := bytes.Split(l, []byte{'\t'})
		if len(fields) < 8 {
			d.Violations = append(d.Violations, models.FormatViolation{
				Char:   "",
				Offset: int64(lineStart),
				Header: "",
			})
			if len(d.Violations) >= violationCap {
				d.Truncated = true
				break
			}
			continue
		}
		d.Records++
		// REF is column 4, ALT column 5; ALT may be comma-separated.
		refOff := lineStart + len(fields[0]) + len(fields[1]) + len(fields[2]) + 3
		if !checkVCFAllele(&d, fields[3], int64(refOff), false) {
			break
		}
		altOff := refOff + len(fields[3]) + 1
		if !checkVCFAllele(&d, fields[4], int64(altOff), true) {
			break
		}
	}
	passed := headers > 0 && len(d.Violations) == 0
	return FormatResult{Passed: passed, Detail: d}
}

func checkVCFAllele(d *models.FormatDetail, allele []byte, base int64, alt bool) bool {
	for i, c := range allele {
		if validBase(c) || (alt && (c == ',' || c == '.' || c == '*' || c == '<' || c == '>')) || (!alt && c == '.') {
			continue
		}
		if len(d.Violations) >= violationCap {
			d.Truncated = true
			return false
		}
		d.Violations = append(d.Violations, models.FormatViolation{
			Char:   string(c),
			Offset: base + int64(i),
			Header: "",
		})
	}
	return true
}

// FASTABody concatenates the sequence lines of all FASTA records,
// truncated to max bytes. Feed for the anomaly detector.
func FASTABody(data []byte, max int) []byte {
	body := make([]byte, 0, min(len(data), max))
	off := 0
	for off < len(data) && len(body) < max {
		var l []byte
		l, off = line(data, off)
		trimmed := bytes.TrimSpace(l)
		if len(trimmed) == 0 || trimmed[0] == '>' {
			continue
		}
		room := max - len(body)
		if len(trimmed) > room {
			trimmed = trimmed[:room]
		}
		body = append(body, trimmed...)
	}
	return body
}
