// Package capture turns source pages into local document files the
// extraction service can read.
package capture

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-trainer/internal/cost"
	"github.com/sells-group/extract-trainer/internal/resilience"
	"github.com/sells-group/extract-trainer/pkg/jina"
)

// PagePlaceholder is replaced by the page number in a site entry URL.
const PagePlaceholder = "{page}"

// Page is a captured document.
type Page struct {
	DocumentPath string
	SourceURL    string
	PageIndex    int
}

// Capturer renders a source URL into a local document. Failures are
// skippable for the page in question.
type Capturer interface {
	Capture(ctx context.Context, sourceURL string, pageIndex int) (*Page, error)
}

// WebCapturer renders pages to markdown through the Jina reader.
type WebCapturer struct {
	client  jina.Client
	dir     string
	tracker *cost.Tracker
	breaker *resilience.CircuitBreaker
}

// NewWebCapturer writes captured pages under dir. tracker may be nil.
func NewWebCapturer(client jina.Client, dir string, tracker *cost.Tracker) *WebCapturer {
	return &WebCapturer{client: client, dir: dir, tracker: tracker}
}

// WithBreaker guards reader calls with cb.
func (c *WebCapturer) WithBreaker(cb *resilience.CircuitBreaker) *WebCapturer {
	c.breaker = cb
	return c
}

// Capture fetches sourceURL and stores its markdown as a document file.
func (c *WebCapturer) Capture(ctx context.Context, sourceURL string, pageIndex int) (*Page, error) {
	log := zap.L().With(zap.String("url", sourceURL), zap.Int("page", pageIndex))

	resp, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) (*jina.ReadResponse, error) {
		resp, err := c.client.Read(ctx, sourceURL)
		if err != nil {
			status := jina.StatusCode(err)
			if resilience.IsTransientHTTPStatus(status) || (status == 0 && resilience.IsTransient(err)) {
				return nil, resilience.NewTransientError("jina", err, status)
			}
			return nil, eris.Wrapf(err, "capture: read %s", sourceURL)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	if c.tracker != nil {
		c.tracker.AddJina(resp.Data.Usage.Tokens)
	}

	content := strings.TrimSpace(resp.Data.Content)
	if content == "" {
		return nil, eris.Errorf("capture: empty page %s", sourceURL)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "capture: create directory %s", c.dir)
	}
	path := filepath.Join(c.dir, DocumentName(sourceURL, pageIndex))
	if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
		return nil, eris.Wrapf(err, "capture: write %s", path)
	}

	log.Info("capture: page saved",
		zap.String("document", path),
		zap.Int("tokens", resp.Data.Usage.Tokens),
	)
	return &Page{DocumentPath: path, SourceURL: sourceURL, PageIndex: pageIndex}, nil
}

// DocumentName derives a stable file name for a captured URL.
func DocumentName(sourceURL string, pageIndex int) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURL)).String()[:8]
	return fmt.Sprintf("page-%04d-%s.md", pageIndex, id)
}

// ExpandEntry returns the URLs of batch consecutive pages starting at first.
// An entry URL without a placeholder is a single page.
func ExpandEntry(entryURL string, first, batch int) []string {
	if entryURL == "" || batch <= 0 {
		return nil
	}
	if !strings.Contains(entryURL, PagePlaceholder) {
		return []string{entryURL}
	}
	out := make([]string, 0, batch)
	for p := first; p < first+batch; p++ {
		out = append(out, strings.ReplaceAll(entryURL, PagePlaceholder, strconv.Itoa(p)))
	}
	return out
}

// IsURL reports whether arg names a remote page rather than a local file.
func IsURL(arg string) bool {
	u, err := url.Parse(arg)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
