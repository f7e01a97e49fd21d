package pdftext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize_FoldsFullWidth(t *testing.T) {
	// Full-width digits and latin letters fold to ASCII.
	in := "계약금 ２０，０００，０００원 ＡＢＣ"
	out := Sanitize(in)
	assert.Equal(t, "계약금 20,000,000원 ABC", out)
}

func TestSanitize_StripsControlChars(t *testing.T) {
	in := "line one\x00\x08\nline two\t end"
	out := Sanitize(in)
	assert.Equal(t, "line one\nline two\t end", out)
}

func TestSanitize_TrimsWhitespace(t *testing.T) {
	assert.Equal(t, "text", Sanitize("  text \n"))
}

func TestFromBytes_InvalidPDF(t *testing.T) {
	_, err := FromBytes([]byte("not a pdf"))
	assert.Error(t, err)
}
