// Package executor performs the gateway's upstream exchanges: WMS
// GetFeatureInfo fetches, WFS-T transaction posts and WFS GetFeature proxying.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/ows-codec/internal/core/model"
	"github.com/mohammed-shakir/ows-codec/internal/core/observability"
	"github.com/mohammed-shakir/ows-codec/internal/core/ogc"
)

const (
	upstreamWMS = "wms"
	upstreamWFS = "wfs"

	// GetFeatureInfo and transaction answers are small; anything bigger is a
	// misbehaving server.
	maxBodyBytes = 8 << 20
	maxErrBytes  = 8 << 10
)

// ErrUpstreamStatus wraps non-2xx upstream answers.
var ErrUpstreamStatus = errors.New("upstream status")

type Interface interface {
	FetchFeatureInfo(ctx context.Context, rawURL string) (Response, error)
	PostTransaction(ctx context.Context, endpoint string, doc []byte) ([]byte, error)
	ForwardGetFeature(w http.ResponseWriter, r *http.Request, q model.QueryRequest, accept string)
}

// Response is a buffered upstream answer.
type Response struct {
	Body        []byte
	ContentType string
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	owsURL   *url.URL
	startNow func() time.Time // for tests
}

// New builds an executor. ows is the default WFS endpoint used for GetFeature
// and for transactions whose layer names no endpoint.
func New(logger *slog.Logger, client *http.Client, ows string) (*Executor, error) {
	u, err := url.Parse(ows)
	if err != nil {
		return nil, fmt.Errorf("parse ows url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		logger:   logger,
		client:   client,
		owsURL:   u,
		startNow: time.Now,
	}, nil
}

// FetchFeatureInfo GETs a GetFeatureInfo URL and buffers the answer.
func (e *Executor) FetchFeatureInfo(ctx context.Context, rawURL string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	body, ct, err := e.do(req, upstreamWMS)
	if err != nil {
		return Response{}, err
	}
	return Response{Body: body, ContentType: ct}, nil
}

// PostTransaction posts a WFS-T document and returns the raw response.
func (e *Executor) PostTransaction(ctx context.Context, endpoint string, doc []byte) ([]byte, error) {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = e.owsURL.String()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	body, _, err := e.do(req, upstreamWFS)
	return body, err
}

func (e *Executor) do(req *http.Request, upstream string) ([]byte, string, error) {
	start := e.startNow()
	resp, err := e.client.Do(req)
	if err != nil {
		observability.IncUpstreamError(upstream)
		return nil, "", fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency(upstream, dur.Seconds())
	e.logger.DebugContext(req.Context(), "upstream done",
		"upstream", upstream,
		"status", resp.StatusCode,
		"duration", dur.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.IncUpstreamError(upstream)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBytes))
		return nil, "", fmt.Errorf("%w %d: %s", ErrUpstreamStatus, resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return b, resp.Header.Get("Content-Type"), nil
}

// ForwardGetFeature proxies a WFS GetFeature to the ows endpoint and streams
// the response back.
func (e *Executor) ForwardGetFeature(w http.ResponseWriter, r *http.Request, q model.QueryRequest, accept string) {
	if strings.TrimSpace(accept) == "" {
		accept = "application/json"
	}
	params := ogc.BuildGetFeatureParamsFormat(q, accept)
	start := e.startNow()

	rt := http.RoundTripper(http.DefaultTransport)
	if e.client != nil && e.client.Transport != nil {
		rt = e.client.Transport
	}

	proxy := &httputil.ReverseProxy{
		Transport: rt,
		Rewrite: func(p *httputil.ProxyRequest) {
			p.Out.URL.Scheme = e.owsURL.Scheme
			p.Out.URL.Host = e.owsURL.Host
			p.Out.URL.Path = e.owsURL.Path
			p.Out.URL.RawPath = e.owsURL.EscapedPath()
			p.Out.URL.RawQuery = params.Encode()
			p.Out.Host = e.owsURL.Host
			p.Out.Header.Set("Accept", accept)
			p.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			dur := time.Since(start)
			e.logger.Debug("forward done", "status", resp.StatusCode, "duration", dur.String())
			observability.ObserveUpstreamLatency(upstreamWFS, dur.Seconds())
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			observability.IncUpstreamError(upstreamWFS)
			e.logger.Error("reverse proxy error", "err", err)
			http.Error(w, "upstream proxy error: "+err.Error(), http.StatusBadGateway)
		},
	}

	e.logger.Debug("forward WFS GetFeature",
		"layer", q.Layer, "accept", accept, "ows", e.owsURL.String())
	proxy.ServeHTTP(w, r)
}
