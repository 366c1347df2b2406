package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dunamismax/pixelpress/internal/domain"
)

const (
	PrecheckHead = "head"
	PrecheckBody = "body"
)

// HeaderProfile is the browser-mimicking header set sent with every
// upstream request. The Referer is derived from the source URL's origin
// at request time.
type HeaderProfile struct {
	UserAgent string
	Accept    string
}

type Config struct {
	Headers       HeaderProfile
	MaxInputBytes int64
	// Precheck selects oversized-input rejection: "head" issues a HEAD
	// request and rejects on its Content-Length before downloading,
	// "body" rejects after the download crosses the cap. A HEAD without
	// a usable Content-Length falls through to the body check.
	Precheck string
}

type Result struct {
	Body        []byte
	ContentType string
}

type Client struct {
	httpClient    *http.Client
	headers       HeaderProfile
	maxInputBytes int64
	precheck      string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.MaxInputBytes <= 0 {
		return nil, errors.New("max input bytes must be positive")
	}

	precheck := strings.ToLower(strings.TrimSpace(cfg.Precheck))
	switch precheck {
	case "":
		precheck = PrecheckHead
	case PrecheckHead, PrecheckBody:
	default:
		return nil, fmt.Errorf("unsupported fetch precheck: %s", cfg.Precheck)
	}

	return &Client{
		// Deadlines come from the caller's context so an expired fetch
		// cancels the in-flight transfer instead of orphaning it.
		httpClient:    &http.Client{},
		headers:       cfg.Headers,
		maxInputBytes: cfg.MaxInputBytes,
		precheck:      precheck,
	}, nil
}

// Fetch retrieves the source image with a single bounded attempt. Every
// failure is classified; there is no retry.
func (c *Client) Fetch(ctx context.Context, rawURL string) (Result, error) {
	src, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || src.Host == "" || (src.Scheme != "http" && src.Scheme != "https") {
		return Result{}, domain.Failuref(domain.FailureUpstream, "invalid source URL: %s", rawURL)
	}

	if c.precheck == PrecheckHead {
		if err := c.precheckLength(ctx, src); err != nil {
			return Result{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.String(), nil)
	if err != nil {
		return Result{}, domain.NewFailure(domain.FailureUpstream, err)
	}
	c.applyHeaders(req, src)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, domain.Failuref(domain.FailureUpstream, "upstream returned status=%d", resp.StatusCode)
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if !isImageContentType(contentType) {
		return Result{}, domain.Failuref(domain.FailureNotAnImage, "declared content-type %q is not an image", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxInputBytes+1))
	if err != nil {
		return Result{}, classifyTransportError(err)
	}
	if len(body) == 0 {
		return Result{}, domain.Failuref(domain.FailureEmptyBody, "upstream returned an empty body")
	}
	if int64(len(body)) > c.maxInputBytes {
		return Result{}, domain.Failuref(domain.FailureTooLarge, "body exceeds %d bytes", c.maxInputBytes)
	}

	return Result{
		Body:        body,
		ContentType: normalizeContentType(contentType),
	}, nil
}

// precheckLength rejects oversized payloads from the HEAD response's
// declared length before the download starts. Origins that refuse HEAD
// or omit Content-Length fall through to the post-download check.
func (c *Client) precheckLength(ctx context.Context, src *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, src.String(), nil)
	if err != nil {
		return domain.NewFailure(domain.FailureUpstream, err)
	}
	c.applyHeaders(req, src)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}
	if resp.ContentLength > 0 && resp.ContentLength > c.maxInputBytes {
		return domain.Failuref(domain.FailureTooLarge, "declared length %d exceeds %d bytes", resp.ContentLength, c.maxInputBytes)
	}
	return nil
}

func (c *Client) applyHeaders(req *http.Request, src *url.URL) {
	if c.headers.UserAgent != "" {
		req.Header.Set("User-Agent", c.headers.UserAgent)
	}
	if c.headers.Accept != "" {
		req.Header.Set("Accept", c.headers.Accept)
	}
	req.Header.Set("Referer", src.Scheme+"://"+src.Host+"/")
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewFailure(domain.FailureTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewFailure(domain.FailureTimeout, err)
	}
	return domain.NewFailure(domain.FailureUpstream, err)
}

func isImageContentType(contentType string) bool {
	return strings.HasPrefix(normalizeContentType(contentType), "image/")
}

func normalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
