package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/net/publicsuffix"
)

// Portal endpoints, relative to the base URL.
const (
	pathLoginPage     = "/LoginPage"
	pathReloadCaptcha = "/ReloadCaptcha"
	pathUserLogin     = "/UserLogin"
)

// Login form fields and response keys.
const (
	formUserName   = "userName"
	formPassword   = "password"
	formCaptcha    = "captcha"
	authErrorField = "athenticationError" // sic, as sent by the portal
)

const defaultAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"

var (
	// errNotPrepared means submitLogin ran before the login page tokens were loaded.
	errNotPrepared = errors.New("login page not loaded: csrf token or salt missing")
	// errBadResponse means the login endpoint answered with a body that is not JSON.
	errBadResponse = errors.New("login response is not json")
	// errAuthRejected means the portal flagged the credentials or the captcha as wrong.
	errAuthRejected = errors.New("authentication rejected (possibly wrong captcha)")
)

// portalClient is the per-run session context: cookie jar, default headers
// and the tokens scraped from the login page.
type portalClient struct {
	baseURL        string
	baseURLParsed  *url.URL
	userAgent      string
	acceptLanguage string
	username       string
	password       string
	sessionCookie  string
	jar            http.CookieJar
	http           *http.Client
	log            *logger

	csrfToken string
	salt      string
}

// newPortalClient creates a client with a fresh cookie jar.
func newPortalClient(cfg appConfig, log *logger) (*portalClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base_url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base_url: %q", cfg.BaseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	c := &portalClient{
		baseURL:        u.String(),
		baseURLParsed:  u,
		userAgent:      cfg.UserAgent,
		acceptLanguage: cfg.AcceptLanguage,
		username:       cfg.Username,
		password:       cfg.Password,
		sessionCookie:  cfg.SessionCookie,
		jar:            jar,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		log: log,
	}
	if c.userAgent == "" {
		c.userAgent = defaultUA
	}
	if c.sessionCookie == "" {
		c.sessionCookie = defaultSessionCookie
	}
	return c, nil
}

// apiError represents a non-200 response from the portal.
type apiError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// do performs a request against the portal and returns the response body.
// A form, when non-nil, is sent url-encoded.
func (c *portalClient) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	reqURL := c.baseURL + path

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else if method == http.MethodPost {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", defaultAccept)
	if c.acceptLanguage != "" {
		req.Header.Set("Accept-Language", c.acceptLanguage)
	}
	req.Header.Set("Referer", c.baseURL+pathLoginPage)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.log.debugf("%s %s", method, reqURL)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	const maxResponseSize = 10 * 1024 * 1024 // 10MB limit
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := ""
		var m map[string]any
		if json.Unmarshal(b, &m) == nil {
			if s, ok := m["message"].(string); ok && s != "" {
				msg = s
			} else if s, ok := m["error"].(string); ok && s != "" {
				msg = s
			}
		}
		return nil, &apiError{StatusCode: resp.StatusCode, Message: msg, Body: b}
	}
	return b, nil
}

// loadLoginPage fetches the login page and stores its CSRF token and salt.
// Nothing is stored unless both are found.
func (c *portalClient) loadLoginPage(ctx context.Context) error {
	b, err := c.do(ctx, http.MethodGet, pathLoginPage, nil)
	if err != nil {
		return fmt.Errorf("load login page: %w", err)
	}
	tokens, err := extractLoginTokens(bytes.NewReader(b))
	if err != nil {
		return err
	}
	c.csrfToken = tokens.CSRF
	c.salt = tokens.Salt
	c.log.okf("csrf token: %s", c.csrfToken)
	c.log.okf("user salt: %s", c.salt)
	return nil
}

// fetchCaptcha requests a fresh CAPTCHA image.
func (c *portalClient) fetchCaptcha(ctx context.Context) (*captchaImage, error) {
	b, err := c.do(ctx, http.MethodPost, pathReloadCaptcha, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNoCaptcha, err)
	}
	return parseCaptchaResponse(b)
}

// loginResult is the outcome of an accepted login.
type loginResult struct {
	// Token is the session cookie value; empty when the portal set none.
	Token string
}

// submitLogin posts the credentials with the solved captcha. The cookie jar is
// only consulted once the portal accepted the login.
func (c *portalClient) submitLogin(ctx context.Context, captchaText string) (*loginResult, error) {
	if c.csrfToken == "" || c.salt == "" {
		return nil, errNotPrepared
	}

	form := url.Values{}
	form.Set(formUserName, c.username)
	form.Set(formPassword, saltedPasswordHash(c.salt, c.password))
	form.Set(formCaptcha, captchaText)
	form.Set(csrfFieldName, c.csrfToken)

	b, err := c.do(ctx, http.MethodPost, pathUserLogin, form)
	if err != nil {
		return nil, fmt.Errorf("submit login: %w", err)
	}
	if !gjson.ValidBytes(b) {
		return nil, errBadResponse
	}
	if flagSet(gjson.GetBytes(b, authErrorField)) {
		return nil, errAuthRejected
	}
	return &loginResult{Token: c.sessionToken()}, nil
}

// flagSet reports whether a response flag holds a truthy value. Strings and
// objects count as set unless empty; "false" is treated as unset.
func flagSet(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		return s != "" && !strings.EqualFold(s, "false")
	case gjson.JSON:
		if v.IsArray() {
			return len(v.Array()) > 0
		}
		return len(v.Map()) > 0
	default:
		return false
	}
}

// sessionToken returns the session cookie value held by the jar, if any.
func (c *portalClient) sessionToken() string {
	u := *c.baseURLParsed
	u.Path += pathUserLogin
	for _, ck := range c.jar.Cookies(&u) {
		if ck != nil && ck.Name == c.sessionCookie {
			return ck.Value
		}
	}
	return ""
}
