package sandbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/pagepilot/internal/engine"
	"github.com/GriffinCanCode/pagepilot/internal/infrastructure/resilience"
)

// DefaultUserAgent is sent until a page sets the userAgent property.
const DefaultUserAgent = "Mozilla/5.0 (Unknown; Linux x86_64) AppleWebKit/538.1 (KHTML, like Gecko) PagePilot/1.0 Safari/538.1"

// ClientOptions tunes the HTTP side of the engine.
type ClientOptions struct {
	Timeout    time.Duration
	RetryMax   int
	RetryWait  time.Duration
	RateLimit  float64 // requests per second, 0 is unlimited
	MaxBody    int
	Transport  http.RoundTripper
	BreakerTTL time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.RetryMax < 0 {
		o.RetryMax = 0
	} else if o.RetryMax == 0 {
		o.RetryMax = 2
	}
	if o.RetryWait <= 0 {
		o.RetryWait = 200 * time.Millisecond
	}
	if o.MaxBody <= 0 {
		o.MaxBody = 10 << 20
	}
	if o.BreakerTTL <= 0 {
		o.BreakerTTL = 30 * time.Second
	}
	return o
}

// request is one outbound fetch.
type request struct {
	Method  string
	URL     string
	Body    string
	Headers map[string]string
	Referer string
}

// response is a fetched resource.
type response struct {
	Status     int
	StatusText string
	URL        string
	Header     http.Header
	Body       []byte
	MIME       *mimetype.MIME
}

// IsHTML reports whether the body should be parsed as a document.
func (r *response) IsHTML() bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" {
		return strings.Contains(ct, "html")
	}
	return r.MIME != nil && r.MIME.Is("text/html")
}

// fetcher is the engine-wide HTTP client. Every page of one engine shares
// its cookie jar, like tabs of one browser profile.
type fetcher struct {
	client   *resty.Client
	jar      *cookiejar.Jar
	limiter  *rate.Limiter
	breakers *resilience.Group
	log      *zap.Logger

	mu        sync.RWMutex
	userAgent string
}

func newFetcher(opts ClientOptions, flags Flags, log *zap.Logger) (*fetcher, error) {
	opts = opts.withDefaults()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	retry := retryablehttp.NewClient()
	retry.RetryMax = opts.RetryMax
	retry.RetryWaitMin = opts.RetryWait
	retry.RetryWaitMax = 4 * opts.RetryWait
	retry.Logger = nil
	retry.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if opts.Transport != nil {
		retry.HTTPClient.Transport = opts.Transport
	}
	if flags.IgnoreSSLErrors {
		if t, ok := retry.HTTPClient.Transport.(*http.Transport); ok {
			t = t.Clone()
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via --ignore-ssl-errors
			retry.HTTPClient.Transport = t
		}
	}

	client := resty.New().
		SetTransport(&retryablehttp.RoundTripper{Client: retry}).
		SetTimeout(opts.Timeout).
		SetCookieJar(jar).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	breakers := resilience.NewGroup(resilience.Settings{
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     opts.BreakerTTL,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 10 ||
				(c.Requests >= 20 && float64(c.TotalFailures)/float64(c.Requests) > 0.7)
		},
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(host string, from, to resilience.State) {
			log.Info("host breaker changed",
				zap.String("host", host),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	client.SetResponseBodyLimit(opts.MaxBody)

	return &fetcher{
		client:    client,
		jar:       jar,
		limiter:   limiter,
		breakers:  breakers,
		log:       log,
		userAgent: DefaultUserAgent,
	}, nil
}

func (f *fetcher) UserAgent() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.userAgent
}

func (f *fetcher) SetUserAgent(ua string) {
	f.mu.Lock()
	f.userAgent = ua
	f.mu.Unlock()
}

// Do performs req under the host breaker and the rate limiter.
func (f *fetcher) Do(ctx context.Context, req request) (*response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", req.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	r := f.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", f.UserAgent()).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if req.Referer != "" {
		r.SetHeader("Referer", req.Referer)
	}
	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if req.Body != "" {
		if _, ok := req.Headers["Content-Type"]; !ok && method == http.MethodPost {
			r.SetHeader("Content-Type", "application/x-www-form-urlencoded")
		}
		r.SetBody(req.Body)
	}

	start := time.Now()
	resp, err := resilience.Do(f.breakers.Get(u.Host), func() (*resty.Response, error) {
		resp, err := r.Execute(method, u.String())
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 {
			return resp, fmt.Errorf("server error: %s", resp.Status())
		}
		return resp, nil
	})
	if resp == nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Redacted(), err)
	}

	body := resp.Body()
	final := u.String()
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		final = resp.RawResponse.Request.URL.String()
	}
	f.log.Debug("fetched",
		zap.String("method", method),
		zap.String("url", final),
		zap.Int("status", resp.StatusCode()),
		zap.Int("bytes", len(body)),
		zap.Duration("took", time.Since(start)),
	)

	return &response{
		Status:     resp.StatusCode(),
		StatusText: http.StatusText(resp.StatusCode()),
		URL:        final,
		Header:     resp.Header(),
		Body:       body,
		MIME:       mimetype.Detect(body),
	}, nil
}

// Cookies lists the jar's cookies visible to rawURL.
func (f *fetcher) Cookies(rawURL string) []engine.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return []engine.Cookie{}
	}
	jarred := f.jar.Cookies(u)
	out := make([]engine.Cookie, 0, len(jarred))
	for _, c := range jarred {
		out = append(out, engine.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: u.Hostname(),
			Path:   "/",
			Secure: u.Scheme == "https",
		})
	}
	return out
}

// CookieHeader renders document.cookie for rawURL.
func (f *fetcher) CookieHeader(rawURL string) string {
	cookies := f.Cookies(rawURL)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// SetCookie stores a document.cookie assignment for rawURL.
func (f *fetcher) SetCookie(rawURL, line string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return
	}
	c, err := http.ParseSetCookie(line)
	if err != nil {
		return
	}
	f.jar.SetCookies(u, []*http.Cookie{c})
}
