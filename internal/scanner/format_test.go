package scanner

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFormatCleanFASTA(t *testing.T) {
	res := ValidateFormat([]byte(">h1\nACGTACGTACGT\n"))
	assert.True(t, res.Passed)
	assert.Equal(t, FormatFASTA, res.Detail.Format)
	assert.Equal(t, 1, res.Detail.Records)
	assert.Empty(t, res.Detail.Violations)
}

func TestValidateFormatMultiRecordFASTA(t *testing.T) {
	res := ValidateFormat([]byte(">a\nACGT\nacgtn-\n>b\nNNNN\n"))
	assert.True(t, res.Passed)
	assert.Equal(t, 2, res.Detail.Records)
}

func TestValidateFormatFASTAViolation(t *testing.T) {
	res := ValidateFormat([]byte(">h\nACGT!@#\n"))
	require.False(t, res.Passed)
	require.Len(t, res.Detail.Violations, 3)
	v := res.Detail.Violations[0]
	assert.Equal(t, "!", v.Char)
	assert.Equal(t, int64(7), v.Offset)
	assert.Equal(t, "h", v.Header)
}

func TestValidateFormatNoHeader(t *testing.T) {
	// Valid alphabet but no record header.
	res := ValidateFormat([]byte("ACGTACGT\n"))
	assert.False(t, res.Passed)
	assert.Equal(t, FormatUnknown, res.Detail.Format)
}

func TestValidateFormatEmpty(t *testing.T) {
	assert.False(t, ValidateFormat(nil).Passed)
	assert.False(t, ValidateFormat([]byte("  \n\t")).Passed)
}

func TestValidateFormatHeaderOnly(t *testing.T) {
	res := ValidateFormat([]byte(">lonely header\n"))
	assert.False(t, res.Passed)
}

func TestValidateFormatViolationCap(t *testing.T) {
	data := ">h\n" + strings.Repeat("!", 100) + "\n"
	res := ValidateFormat([]byte(data))
	assert.False(t, res.Passed)
	assert.Len(t, res.Detail.Violations, 32)
	assert.True(t, res.Detail.Truncated)
}

func TestValidateFormatFASTQ(t *testing.T) {
	res := ValidateFormat([]byte("@r1\nACGT\n+\nIIII\n"))
	assert.True(t, res.Passed)
	assert.Equal(t, FormatFASTQ, res.Detail.Format)
	assert.Equal(t, 1, res.Detail.Records)
}

func TestValidateFormatFASTQQualityLengthMismatch(t *testing.T) {
	res := ValidateFormat([]byte("@r1\nACGT\n+\nII\n"))
	assert.False(t, res.Passed)
	assert.NotEmpty(t, res.Detail.Violations)
}

func TestValidateFormatFASTQPlusWithHeader(t *testing.T) {
	res := ValidateFormat([]byte("@r1\nACGT\n+r1\nIIII\n"))
	assert.True(t, res.Passed)
}

func TestValidateFormatVCF(t *testing.T) {
	vcf := "##fileformat=VCFv4.2\n" +
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n" +
		"1\t100\trs1\tA\tG\t50\tPASS\t.\n"
	res := ValidateFormat([]byte(vcf))
	assert.True(t, res.Passed)
	assert.Equal(t, FormatVCF, res.Detail.Format)
	assert.Equal(t, 1, res.Detail.Records)
}

func TestValidateFormatVCFBadRow(t *testing.T) {
	vcf := "##fileformat=VCFv4.2\n1\t100\n"
	res := ValidateFormat([]byte(vcf))
	assert.False(t, res.Passed)
}

func TestFASTABody(t *testing.T) {
	body := FASTABody([]byte(">a\nACGT\nTTTT\n>b\nGGGG\n"), 1000)
	assert.Equal(t, "ACGTTTTTGGGG", string(body))
}

func TestFASTABodyTruncates(t *testing.T) {
	data := []byte(">a\n" + strings.Repeat("A", 100) + "\n")
	body := FASTABody(data, 10)
	assert.Equal(t, bytes.Repeat([]byte("A"), 10), body)
}
