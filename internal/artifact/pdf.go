package artifact

import (
	"bytes"
	"fmt"
	"strings"
)

const linesPerPage = 44

// buildPDF renders a title and body lines into a minimal but valid PDF
// document. Artifacts are anchored by the hash of these bytes, so layout
// stays deliberately simple: Helvetica, one column, paginated.
func buildPDF(title string, lines []string) []byte {
	pages := paginate(lines, linesPerPage)
	if len(pages) == 0 {
		pages = [][]string{nil}
	}

	// Object numbering: 1 catalog, 2 pages root, 3 font, then for each page
	// a page object followed by its content stream object.
	numObjects := 3 + 2*len(pages)
	offsets := make([]int, numObjects+1)
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>",
		strings.Join(kids, " "), len(pages)))
	writeObj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, pageLines := range pages {
		pageNum := 4 + 2*i
		contentNum := pageNum + 1
		writeObj(pageNum, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentNum))

		var content strings.Builder
		content.WriteString("BT\n/F1 16 Tf\n56 800 Td\n")
		fmt.Fprintf(&content, "(%s) Tj\n", escapePDFText(title))
		content.WriteString("/F1 10 Tf\n0 -28 Td\n")
		for _, line := range pageLines {
			fmt.Fprintf(&content, "(%s) Tj\n0 -16 Td\n", escapePDFText(line))
		}
		content.WriteString("ET")
		stream := content.String()
		writeObj(contentNum, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", numObjects+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= numObjects; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		numObjects+1, xrefStart)
	return buf.Bytes()
}

func paginate(lines []string, perPage int) [][]string {
	var pages [][]string
	for len(lines) > perPage {
		pages = append(pages, lines[:perPage])
		lines = lines[perPage:]
	}
	if len(lines) > 0 || pages == nil {
		pages = append(pages, lines)
	}
	return pages
}

func escapePDFText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "(", `\(`)
	s = strings.ReplaceAll(s, ")", `\)`)
	// Strip control characters that would corrupt the content stream.
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return ' '
		}
		return r
	}, s)
}
