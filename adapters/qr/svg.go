// Package qr renders deep links as QR codes in SVG form.
package qr

import (
	"fmt"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the rendered edge length in pixels
const DefaultSize = 256

// Matrix encodes content with medium error correction. The result includes
// the quiet zone; true marks a dark module.
func Matrix(content string) ([][]bool, error) {
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return code.Bitmap(), nil
}

// RenderSVG renders content as a square SVG of size pixels. Horizontal runs of
// dark modules are merged into a single rect.
func RenderSVG(content string, size int) (string, error) {
	if size <= 0 {
		size = DefaultSize
	}
	matrix, err := Matrix(content)
	if err != nil {
		return "", err
	}
	n := len(matrix)

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`, size, size, n, n)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#ffffff"/>`, n, n)
	for y, row := range matrix {
		for x := 0; x < len(row); {
			if !row[x] {
				x++
				continue
			}
			start := x
			for x < len(row) && row[x] {
				x++
			}
			fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="1" fill="#000000"/>`, start, y, x-start)
		}
	}
	b.WriteString(`</svg>`)
	return b.String(), nil
}

// DataURL wraps an SVG document in a data URL usable as an image source
func DataURL(svg string) string {
	return "data:image/svg+xml," + url.PathEscape(svg)
}
