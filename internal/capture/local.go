package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Local turns a local file into documents. PDFs are split into one document
// per page under outDir; any other file is used as is.
func Local(ctx context.Context, path, outDir string) ([]Page, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, eris.Wrapf(err, "capture: resolve %s", path)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, eris.Wrapf(err, "capture: stat %s", abs)
	}
	if strings.EqualFold(filepath.Ext(abs), ".pdf") {
		return SplitPDF(ctx, abs, outDir)
	}
	return []Page{{DocumentPath: abs, SourceURL: "file://" + abs, PageIndex: 1}}, nil
}

// SplitPDF writes each page of the PDF at path to its own file under
// outDir/<name>/ and returns them in page order.
func SplitPDF(ctx context.Context, path, outDir string) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "capture: split")
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dir := filepath.Join(outDir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "capture: create directory %s", dir)
	}

	optimized := filepath.Join(dir, base+".pdf")
	if err := optimizePDF(path, optimized); err != nil {
		return nil, eris.Wrapf(err, "capture: validate %s", path)
	}
	defer os.Remove(optimized) //nolint:errcheck

	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return nil, eris.Wrapf(err, "capture: page count %s", path)
	}
	if err := api.SplitFile(optimized, dir, 1, nil); err != nil {
		return nil, eris.Wrapf(err, "capture: split %s", path)
	}

	source := "file://" + path
	pages := make([]Page, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		pagePath := filepath.Join(dir, fmt.Sprintf("%s_%d.pdf", base, i))
		if _, err := os.Stat(pagePath); err != nil {
			return nil, eris.Wrapf(err, "capture: missing split page %d of %s", i, path)
		}
		pages = append(pages, Page{DocumentPath: pagePath, SourceURL: source, PageIndex: i})
	}

	zap.L().Info("capture: pdf split", zap.String("pdf", path), zap.Int("pages", pageCount))
	return pages, nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}
