// Package pdf renders letter text into a printable PDF. The writer emits a
// small PDF 1.4 document using the built-in Courier font with WinAnsi
// encoding; no font embedding, so text is limited to what WinAnsi covers.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedText is returned when the letter contains characters the
// WinAnsi encoding cannot represent.
var ErrUnsupportedText = errors.New("text contains unsupported characters")

// A4 page geometry in points, with one-inch margins.
const (
	pageWidth    = 595
	pageHeight   = 842
	margin       = 72
	fontSize     = 11
	lineHeight   = 14
	courierRatio = 0.6 // Courier glyph width relative to font size
)

var (
	glyphWidth = float64(fontSize) * courierRatio
	maxCols    = int(float64(pageWidth-2*margin) / glyphWidth)
	maxLines   = (pageHeight - 2*margin) / lineHeight
)

// winAnsiExtra maps the non-Latin-1 code points of WinAnsi (cp1252) to
// their byte values. Latin-1 code points map to themselves.
var winAnsiExtra = map[rune]byte{
	'€': 0x80, '‚': 0x82, 'ƒ': 0x83, '„': 0x84,
	'…': 0x85, '†': 0x86, '‡': 0x87, 'ˆ': 0x88,
	'‰': 0x89, 'Š': 0x8a, '‹': 0x8b, 'Œ': 0x8c,
	'Ž': 0x8e, '‘': 0x91, '’': 0x92, '“': 0x93,
	'”': 0x94, '•': 0x95, '–': 0x96, '—': 0x97,
	'˜': 0x98, '™': 0x99, 'š': 0x9a, '›': 0x9b,
	'œ': 0x9c, 'ž': 0x9e, 'Ÿ': 0x9f,
}

func encodeWinAnsi(line string) ([]byte, error) {
	out := make([]byte, 0, len(line))
	for _, r := range line {
		switch {
		case r == '\t':
			out = append(out, ' ', ' ', ' ', ' ')
		case r < 0x80:
			out = append(out, byte(r))
		case r >= 0xa0 && r <= 0xff:
			out = append(out, byte(r))
		default:
			b, ok := winAnsiExtra[r]
			if !ok {
				return nil, fmt.Errorf("cannot encode %q: %w", r, ErrUnsupportedText)
			}
			out = append(out, b)
		}
	}
	return out, nil
}

// wrap breaks text into display lines at word boundaries, hard-splitting
// words longer than a line. Columns are counted in runes.
func wrap(text string, cols int) []string {
	var lines []string
	for _, paragraph := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		current := ""
		currentCols := 0
		for _, word := range words {
			runes := []rune(word)
			for len(runes) > cols {
				if current != "" {
					lines = append(lines, current)
					current, currentCols = "", 0
				}
				lines = append(lines, string(runes[:cols]))
				runes = runes[cols:]
			}
			word = string(runes)
			switch {
			case current == "":
				current, currentCols = word, len(runes)
			case currentCols+1+len(runes) <= cols:
				current += " " + word
				currentCols += 1 + len(runes)
			default:
				lines = append(lines, current)
				current, currentCols = word, len(runes)
			}
		}
		lines = append(lines, current)
	}
	return lines
}

func escape(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == '(' || c == ')' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return out
}

// Render produces a PDF document from letter text, paginating as needed.
func Render(text string) ([]byte, error) {
	lines := wrap(text, maxCols)
	encoded := make([][]byte, len(lines))
	for i, line := range lines {
		e, err := encodeWinAnsi(line)
		if err != nil {
			return nil, err
		}
		encoded[i] = e
	}

	var pages [][][]byte
	for start := 0; start < len(encoded); start += maxLines {
		end := start + maxLines
		if end > len(encoded) {
			end = len(encoded)
		}
		pages = append(pages, encoded[start:end])
	}
	if len(pages) == 0 {
		pages = [][][]byte{{}}
	}

	// Object layout: 1 catalog, 2 page tree, 3 font, then a page object and
	// a content stream per page.
	var buf bytes.Buffer
	offsets := []int{0} // object 0 is the free head
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets)-1, body)
	}

	buf.WriteString("%PDF-1.4\n")
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>",
		strings.Join(kids, " "), len(pages)))
	writeObj("<< /Type /Font /Subtype /Type1 /BaseFont /Courier /Encoding /WinAnsiEncoding >>")

	for i, page := range pages {
		pageObj := 4 + 2*i
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			pageWidth, pageHeight, pageObj+1))

		var content bytes.Buffer
		fmt.Fprintf(&content, "BT\n/F1 %d Tf\n%d TL\n%d %d Td\n",
			fontSize, lineHeight, margin, pageHeight-margin-fontSize)
		for j, line := range page {
			if j > 0 {
				content.WriteString("T*\n")
			}
			content.WriteString("(")
			content.Write(escape(line))
			content.WriteString(") Tj\n")
		}
		content.WriteString("ET\n")
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream",
			content.Len(), content.String()))
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets))
	for _, off := range offsets[1:] {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(offsets), xrefStart)
	return buf.Bytes(), nil
}
