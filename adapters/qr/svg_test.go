package qr

import (
	"encoding/xml"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const link = "p01://auth?payload=eyJ2IjoxLCJwcm90b2NvbCI6InAwMS1hdXRoIn0"

func TestMatrixIsSquareWithQuietZone(t *testing.T) {
	m, err := Matrix(link)
	require.NoError(t, err)
	n := len(m)
	require.Greater(t, n, 21)
	for _, row := range m {
		require.Len(t, row, n)
	}
	for i := 0; i < n; i++ {
		assert.False(t, m[0][i], "top quiet zone")
		assert.False(t, m[i][0], "left quiet zone")
	}
}

func TestRenderSVG(t *testing.T) {
	svg, err := RenderSVG(link, 300)
	require.NoError(t, err)

	var doc struct {
		XMLName xml.Name `xml:"svg"`
		Width   string   `xml:"width,attr"`
		Height  string   `xml:"height,attr"`
		Rects   []struct {
			Width string `xml:"width,attr"`
		} `xml:"rect"`
	}
	require.NoError(t, xml.Unmarshal([]byte(svg), &doc))
	assert.Equal(t, "300", doc.Width)
	assert.Equal(t, "300", doc.Height)
	assert.Greater(t, len(doc.Rects), 1)

	again, err := RenderSVG(link, 300)
	require.NoError(t, err)
	assert.Equal(t, svg, again)

	other, err := RenderSVG(link+"x", 300)
	require.NoError(t, err)
	assert.NotEqual(t, svg, other)
}

func TestRenderSVGDefaultSize(t *testing.T) {
	svg, err := RenderSVG(link, 0)
	require.NoError(t, err)
	assert.Contains(t, svg, `width="256"`)
}

func TestDataURL(t *testing.T) {
	svg, err := RenderSVG(link, 128)
	require.NoError(t, err)

	dataURL := DataURL(svg)
	require.True(t, strings.HasPrefix(dataURL, "data:image/svg+xml,"))

	decoded, err := url.PathUnescape(strings.TrimPrefix(dataURL, "data:image/svg+xml,"))
	require.NoError(t, err)
	assert.Equal(t, svg, decoded)
}
