package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const (
	testBasePath      = "/impdsdeduplication"
	testCSRF          = "csrf-7c0e-41aa"
	testSalt          = "a9f3c1d27e"
	testCaptcha       = "X7K2P"
	testSessionID     = "0F3A9C2B77D14E5F8A6B1C2D3E4F5A6B"
	testUsername      = "operator@example.com"
	testPassword      = "hunter2"
	testLoginPageTmpl = `<html><head><script>var USER_SALT = '%s';</script></head>
<body><form><input type="hidden" name="REQ_CSRF_TOKEN" value="%s"></form></body></html>`
)

// fakePortal emulates the three portal endpoints.
type fakePortal struct {
	srv *httptest.Server

	mu            sync.Mutex
	pageStatus    int
	pageBody      string
	captchaStatus int
	captchaBody   string
	loginStatus   int
	loginBody     string // overrides the computed JSON response when set
	rejectFirst   int    // number of logins to reject regardless of input
	setCookie     bool
	lastForm      url.Values
	lastUA        string
	pageCalls     int
	captchaCalls  int
	loginCalls    int
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()

	p := &fakePortal{
		pageStatus:    http.StatusOK,
		pageBody:      fmt.Sprintf(testLoginPageTmpl, testSalt, testCSRF),
		captchaStatus: http.StatusOK,
		captchaBody:   fmt.Sprintf(`{"captchaBase64":%q}`, testCaptchaBase64(t)),
		loginStatus:   http.StatusOK,
		setCookie:     true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(testBasePath+"/LoginPage", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.pageCalls++
		p.lastUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(p.pageStatus)
		_, _ = w.Write([]byte(p.pageBody))
	})
	mux.HandleFunc(testBasePath+"/ReloadCaptcha", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.captchaCalls++
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(p.captchaStatus)
		_, _ = w.Write([]byte(p.captchaBody))
	})
	mux.HandleFunc(testBasePath+"/UserLogin", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.loginCalls++
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p.lastForm = r.PostForm

		if p.loginStatus != http.StatusOK {
			w.WriteHeader(p.loginStatus)
			return
		}
		if p.loginBody != "" {
			_, _ = w.Write([]byte(p.loginBody))
			return
		}

		ok := r.PostForm.Get("captcha") == testCaptcha &&
			r.PostForm.Get("REQ_CSRF_TOKEN") == testCSRF &&
			r.PostForm.Get("userName") == testUsername &&
			r.PostForm.Get("password") == saltedPasswordHash(testSalt, testPassword)
		if p.rejectFirst > 0 {
			p.rejectFirst--
			ok = false
		}
		if !ok {
			_, _ = w.Write([]byte(`{"athenticationError":true}`))
			return
		}
		if p.setCookie {
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: testSessionID, Path: testBasePath, HttpOnly: true})
		}
		_, _ = w.Write([]byte(`{"athenticationError":false,"redirect":"Home"}`))
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePortal) baseURL() string {
	return p.srv.URL + testBasePath
}

func (p *fakePortal) form() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForm
}

func (p *fakePortal) userAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUA
}

func (p *fakePortal) counts() (page, captcha, login int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageCalls, p.captchaCalls, p.loginCalls
}

// testConfig returns a config pointing at the fake portal with files in a
// temp dir and every automatic solver disabled.
func testConfig(t *testing.T, p *fakePortal) appConfig {
	t.Helper()

	dir := t.TempDir()
	cfg := defaultConfig()
	if p != nil {
		cfg.BaseURL = p.baseURL()
	}
	cfg.Username = testUsername
	cfg.Password = testPassword
	cfg.CaptchaFile = filepath.Join(dir, "captcha.png")
	cfg.SessionFile = filepath.Join(dir, "session.txt")
	cfg.RetryDelay = 0
	cfg.Timeout = 5 * time.Second
	cfg.OCR.Enabled = false
	cfg.AI.Enabled = false
	return cfg
}

func newTestClient(t *testing.T, cfg appConfig) *portalClient {
	t.Helper()

	c, err := newPortalClient(cfg, newDiscardLogger())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}

// testCaptchaPNG renders a small colored image.
func testCaptchaPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 40, 12))
	for x := 0; x < 40; x++ {
		for y := 0; y < 12; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: 120, B: uint8(y * 20), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testCaptchaBase64(t *testing.T) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(testCaptchaPNG(t))
}

// stubSolver returns a fixed answer and counts calls.
type stubSolver struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (s *stubSolver) Solve(context.Context, *captchaImage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.text, s.err
}

func (s *stubSolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubEngine is an ocrEngine with a canned result.
type stubEngine struct {
	text  string
	err   error
	calls int
	got   []byte
}

func (e *stubEngine) Recognize(_ context.Context, png []byte) (string, error) {
	e.calls++
	e.got = png
	return e.text, e.err
}
