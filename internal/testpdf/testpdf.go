// Package testpdf generates small well-formed PDF files for tests.
package testpdf

import (
	"bytes"
	"fmt"
)

// Minimal returns a one-page PDF showing the text "Hello".
func Minimal() []byte {
	return MultiPage(1, "Hello")
}

// MultiPage returns a PDF with the given number of pages, each showing the
// same text. The file uses a classic cross-reference table.
func MultiPage(pages int, text string) []byte {
	if pages < 1 {
		pages = 1
	}

	// Object numbering: 1 catalog, 2 page tree, 3 resources, 4 font,
	// 5 content stream, 6.. one object per page.
	kids := &bytes.Buffer{}
	for i := 0; i < pages; i++ {
		fmt.Fprintf(kids, "%d 0 R ", 6+i)
	}

	content := fmt.Sprintf("BT /F1 24 Tf 72 720 Td (%s) Tj ET", text)

	bodies := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", bytes.TrimSpace(kids.Bytes()), pages),
		"<< /Font << /F1 4 0 R >> >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
	}
	for i := 0; i < pages; i++ {
		bodies = append(bodies,
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources 3 0 R /Contents 5 0 R >>")
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	offsets := make([]int, len(bodies))
	for i, body := range bodies {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xrefOffset := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(bodies)+1)
	out.WriteString("0000000000 65535 f \n")
	for _, offset := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", offset)
	}

	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(bodies)+1, xrefOffset)

	return out.Bytes()
}
