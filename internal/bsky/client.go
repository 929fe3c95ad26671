// Package bsky talks to a Bluesky PDS and the Bluesky chat service over XRPC.
package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"skyward/internal/model"
)

const (
	DefaultService   = "https://bsky.social"
	defaultUserAgent = "skyward/1.0"
	chatProxy        = "did:web:api.bsky.chat#bsky_chat"
)

// Client is the set of remote operations the engine needs.
type Client interface {
	Login(ctx context.Context) (*Session, error)
	Followers(ctx context.Context, s *Session, actor string) iter.Seq2[model.CandidateUser, error]
	Follow(ctx context.Context, s *Session, did string) error
	LatestPost(ctx context.Context, s *Session, did string) (*model.PostRef, error)
	Like(ctx context.Context, s *Session, post model.PostRef) error
	NewFollowers(ctx context.Context, s *Session) iter.Seq2[model.CandidateUser, error]
	SendDM(ctx context.Context, s *Session, did, text string) error
}

// Session is an authenticated identity. Tokens are replaced in place when
// the client refreshes them.
type Session struct {
	DID        string
	Handle     string
	AccessJwt  string
	RefreshJwt string
}

// Options configures an HTTPClient.
type Options struct {
	Service     string
	Identifier  string
	AppPassword string
	Proxy       string
	UserAgent   string
	Timeout     time.Duration
	Retries     int
	RPS         float64
	Burst       int
	// PageSize is used when listing the operator's own followers.
	PageSize   int
	Classifier *Classifier
	Logger     zerolog.Logger
	// OnRetry is called for every transport-level retry of a query.
	OnRetry func(method string)
}

// HTTPClient implements Client over XRPC.
type HTTPClient struct {
	service    string
	identifier string
	password   string
	userAgent  string
	pageSize   int
	classifier Classifier
	limiter    *rate.Limiter
	query      *http.Client
	procedure  *http.Client
	log        zerolog.Logger
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(opts Options) (*HTTPClient, error) {
	service := strings.TrimRight(opts.Service, "/")
	if service == "" {
		service = DefaultService
	}
	var proxy *url.URL
	if opts.Proxy != "" {
		u, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy url: %w", err)
		}
		proxy = u
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	classifier := DefaultClassifier()
	if opts.Classifier != nil {
		classifier = *opts.Classifier
	}

	t := newTransport(proxy)
	return &HTTPClient{
		service:    service,
		identifier: opts.Identifier,
		password:   opts.AppPassword,
		userAgent:  ua,
		pageSize:   pageSize,
		classifier: classifier,
		limiter:    newLimiter(opts.RPS, opts.Burst),
		query:      newQueryClient(t, opts.Retries, timeout, opts.Logger, opts.OnRetry),
		procedure:  newProcedureClient(t, timeout),
		log:        opts.Logger,
	}, nil
}

type xrpcErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type request struct {
	method  string
	query   bool
	params  url.Values
	body    any
	headers map[string]string
	// bearer overrides the session access token, used for refreshSession.
	bearer string
	chat   bool
}

// call performs one XRPC request, refreshing the session once when the
// access token has expired.
func (c *HTTPClient) call(ctx context.Context, s *Session, r request, out any) error {
	err := c.do(ctx, s, r, out)
	var apiErr *APIError
	if s != nil && r.bearer == "" && errors.As(err, &apiErr) && apiErr.Name == "ExpiredToken" {
		if rerr := c.refresh(ctx, s); rerr != nil {
			return rerr
		}
		return c.do(ctx, s, r, out)
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, s *Session, r request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	m := http.MethodPost
	if r.query {
		m = http.MethodGet
	}
	uri := c.service + "/xrpc/" + r.method
	if len(r.params) > 0 {
		uri += "?" + r.params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, m, uri, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case r.bearer != "":
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	case s != nil && s.AccessJwt != "":
		req.Header.Set("Authorization", "Bearer "+s.AccessJwt)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	hc := c.procedure
	if r.query {
		hc = c.query
	}
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Method: r.method, Class: ClassRetryable, Wrapped: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(r, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding xrpc response: %w", r.method, err)
	}
	return nil
}

func (c *HTTPClient) errorFromResponse(r request, resp *http.Response) error {
	var xe xrpcErrorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&xe)
	e := &APIError{
		Method:  r.method,
		Status:  resp.StatusCode,
		Name:    xe.Error,
		Message: xe.Message,
	}
	if resp.Header.Get("ratelimit-limit") != "" {
		e.Ratelimit = &RatelimitInfo{Policy: resp.Header.Get("ratelimit-policy")}
		if n, err := strconv.ParseInt(resp.Header.Get("ratelimit-reset"), 10, 64); err == nil {
			e.Ratelimit.Reset = time.Unix(n, 0)
		}
		if n, err := strconv.Atoi(resp.Header.Get("ratelimit-limit")); err == nil {
			e.Ratelimit.Limit = n
		}
		if n, err := strconv.Atoi(resp.Header.Get("ratelimit-remaining")); err == nil {
			e.Ratelimit.Remaining = n
		}
	}
	if r.chat {
		if c.classifier.DMUnavailable(e.Status, e.Name) {
			e.Class = ClassFatal
			e.Wrapped = ErrDMUnavailable
			return e
		}
		e.Class = c.classifier.ClassifyChat(e.Status, e.Name)
		return e
	}
	e.Class = c.classifier.Classify(e.Status, e.Name)
	return e
}
