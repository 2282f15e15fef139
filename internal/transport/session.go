// Package transport fetches CLIP pages over an authenticated colly session.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/metrics"
)

// Login form field names.
const (
	userField     = "identificador"
	passwordField = "senha"
)

// ErrSessionExpired is returned when the upstream still asks for credentials after a re-login.
var ErrSessionExpired = errors.New("session expired after re-login")

// Config controls the session.
type Config struct {
	BaseURL   string
	Username  string
	Password  string
	UserAgent string
	Timeout   time.Duration
}

// Session is a clip.Transport backed by colly. Collectors are cloned per
// request and share one cookie jar.
type Session struct {
	cfg     Config
	urls    clip.URLs
	base    *colly.Collector
	limiter *Limiter
	logger  *zap.Logger

	loginMu  sync.Mutex
	loginGen uint64
}

var _ clip.Transport = (*Session)(nil)

// New builds a session. limiter may be nil.
func New(cfg Config, limiter *Limiter, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetCookieJar(jar)
	c.SetRequestTimeout(cfg.Timeout)
	// CLIP serves ISO-8859-1.
	c.DetectCharset = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Session{
		cfg:     cfg,
		urls:    clip.NewURLs(cfg.BaseURL),
		base:    c,
		limiter: limiter,
		logger:  logger.Named("transport"),
	}, nil
}

// Login posts the credentials to the login form.
func (s *Session) Login(ctx context.Context) error {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	return s.loginLocked(ctx)
}

func (s *Session) loginLocked(ctx context.Context) error {
	loginURL := s.urls.Login()
	form := map[string]string{userField: s.cfg.Username, passwordField: s.cfg.Password}
	page, err := s.do(ctx, loginURL, func(c *colly.Collector) error { return c.Post(loginURL, form) })
	if err != nil {
		return clip.TransportError("transport.Login", loginURL, err)
	}
	if LoginRequired(page.Body) {
		return clip.TransportError("transport.Login", loginURL, errors.New("credentials rejected"))
	}
	s.loginGen++
	s.logger.Info("authenticated", zap.String("user", s.cfg.Username))
	return nil
}

// Get fetches url. When the response is the login form the session logs in
// again and retries once.
func (s *Session) Get(ctx context.Context, url string) (clip.Page, error) {
	s.loginMu.Lock()
	gen := s.loginGen
	s.loginMu.Unlock()

	page, err := s.get(ctx, url)
	if err != nil {
		return clip.Page{}, clip.TransportError("transport.Get", url, err)
	}
	if !LoginRequired(page.Body) {
		return page, nil
	}

	s.logger.Info("session expired, re-authenticating", zap.String("url", url))
	if err := s.relogin(ctx, gen); err != nil {
		return clip.Page{}, err
	}
	page, err = s.get(ctx, url)
	if err != nil {
		return clip.Page{}, clip.TransportError("transport.Get", url, err)
	}
	if LoginRequired(page.Body) {
		return clip.Page{}, clip.TransportError("transport.Get", url, ErrSessionExpired)
	}
	return page, nil
}

// relogin logs in unless another worker already did so since gen was read.
func (s *Session) relogin(ctx context.Context, gen uint64) error {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	if s.loginGen != gen {
		return nil
	}
	return s.loginLocked(ctx)
}

func (s *Session) get(ctx context.Context, url string) (clip.Page, error) {
	return s.do(ctx, url, func(c *colly.Collector) error { return c.Visit(url) })
}

func (s *Session) do(ctx context.Context, url string, visit func(*colly.Collector) error) (clip.Page, error) {
	if err := ctx.Err(); err != nil {
		return clip.Page{}, fmt.Errorf("fetch canceled: %w", err)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, url); err != nil {
			return clip.Page{}, err
		}
	}

	var (
		page     clip.Page
		fetchErr error
	)
	collector := s.base.Clone()
	collector.OnResponse(func(r *colly.Response) {
		page = clip.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			FetchedAt:  time.Now(),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- visit(collector) }()

	select {
	case <-ctx.Done():
		metrics.ObserveFetch("canceled", time.Since(start))
		return clip.Page{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			metrics.ObserveFetch("error", time.Since(start))
			return clip.Page{}, fmt.Errorf("fetch %s: %w", url, err)
		}
	}
	metrics.ObserveFetch("ok", time.Since(start))
	s.logger.Debug("fetched", zap.String("url", page.URL), zap.Int("status", page.StatusCode))
	return page, nil
}

// LoginRequired reports whether body is the CLIP login form.
func LoginRequired(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return doc.Find(fmt.Sprintf("form input[name=%q]", passwordField)).Length() > 0
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
