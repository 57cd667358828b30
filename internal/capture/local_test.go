package capture

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalPDF builds a valid PDF with n blank pages.
func minimalPDF(n int) []byte {
	var buf bytes.Buffer
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := ""
	for i := range n {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))
	for range n {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestSplitPDF(t *testing.T) {
	src := filepath.Join(t.TempDir(), "register.pdf")
	require.NoError(t, os.WriteFile(src, minimalPDF(3), 0o644))
	out := t.TempDir()

	pages, err := SplitPDF(context.Background(), src, out)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, p := range pages {
		assert.Equal(t, i+1, p.PageIndex)
		assert.Equal(t, "file://"+src, p.SourceURL)
		assert.Equal(t, filepath.Join(out, "register", fmt.Sprintf("register_%d.pdf", i+1)), p.DocumentPath)
		assert.FileExists(t, p.DocumentPath)
	}
	assert.NoFileExists(t, filepath.Join(out, "register", "register.pdf"))
}

func TestSplitPDF_Invalid(t *testing.T) {
	src := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(src, []byte("not a pdf"), 0o644))

	_, err := SplitPDF(context.Background(), src, t.TempDir())
	require.Error(t, err)
}

func TestLocal(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "scan.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0o644))

	pages, err := Local(context.Background(), img, t.TempDir())
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, img, pages[0].DocumentPath)
	assert.Equal(t, 1, pages[0].PageIndex)

	pdf := filepath.Join(dir, "two.pdf")
	require.NoError(t, os.WriteFile(pdf, minimalPDF(2), 0o644))
	pages, err = Local(context.Background(), pdf, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, pages, 2)

	_, err = Local(context.Background(), filepath.Join(dir, "missing.pdf"), t.TempDir())
	require.Error(t, err)
}
