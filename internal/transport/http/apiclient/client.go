// Package apiclient calls the token and profile endpoints on behalf of a
// session.
package apiclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"socializor-server-go/internal/domain/auth"
	"socializor-server-go/internal/domain/user"
)

const DefaultTimeout = 10 * time.Second

var jsonContentType = regexp.MustCompile(`^application/([-A-Za-z0-9!#$&^_]+\+)?json(;.+)?$`)

type Logger interface {
	Debug(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type Options struct {
	// BaseURL is the API root, e.g. https://localhost:8443/api/.
	BaseURL            string
	Timeout            time.Duration
	InsecureSkipVerify bool
	Logger             Logger
	// Transport replaces the default round tripper, mainly for tests.
	Transport http.RoundTripper
}

// HTTPError reports a non 2xx response.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server responded with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server responded with status %d", e.StatusCode)
}

// Client implements session.API over HTTP.
type Client struct {
	http *resty.Client
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("apiclient: base url is required")
	}
	if !strings.HasPrefix(opts.BaseURL, "http://") && !strings.HasPrefix(opts.BaseURL, "https://") {
		return nil, fmt.Errorf("apiclient: base url %q must be absolute", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	if opts.Transport != nil {
		rc.SetTransport(opts.Transport)
	}
	if opts.InsecureSkipVerify {
		rc.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	if opts.Logger != nil {
		logger := opts.Logger
		rc.SetLogger(restyLogger{logger})
		rc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			logger.Debug("%s %s -> %d (%s)", resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time())
			return nil
		})
	}
	return &Client{http: rc}, nil
}

type newTokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Client) RequestToken(ctx context.Context, email, password string) (auth.Credential, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Cache-Control", "no-store").
		SetBody(newTokenRequest{Email: email, Password: password})
	return c.credential(req.Post("/token/new"))
}

func (c *Client) RefreshToken(ctx context.Context, current auth.Credential) (auth.Credential, error) {
	return c.credential(c.authorized(ctx, current).Get("/token/refresh"))
}

func (c *Client) FetchSelf(ctx context.Context, current auth.Credential) (user.Profile, error) {
	var profile user.Profile
	resp, err := c.authorized(ctx, current).Get("/users/self")
	if err := decode(resp, err, &profile); err != nil {
		return user.Profile{}, err
	}
	if profile.ID == "" {
		return user.Profile{}, fmt.Errorf("profile response has no id")
	}
	return profile, nil
}

func (c *Client) authorized(ctx context.Context, cred auth.Credential) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", auth.BearerHeader(cred.Value()))
}

func (c *Client) credential(resp *resty.Response, err error) (auth.Credential, error) {
	var body auth.TokenResponse
	if err := decode(resp, err, &body); err != nil {
		return auth.Credential{}, err
	}
	return body.Credential()
}

// decode turns transport failures, error statuses and non JSON bodies into
// errors, then unmarshals the body into out.
func decode(resp *resty.Response, err error, out interface{}) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode(), URL: resp.Request.URL}
		var body struct {
			Message string `json:"message"`
		}
		if jsonContentType.MatchString(resp.Header().Get("Content-Type")) && sonic.Unmarshal(resp.Body(), &body) == nil {
			httpErr.Message = body.Message
		}
		return httpErr
	}
	if ct := resp.Header().Get("Content-Type"); !jsonContentType.MatchString(ct) {
		return fmt.Errorf("server responded with data with unexpected content type %q", ct)
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("malformed response from %s: %w", resp.Request.URL, err)
	}
	return nil
}

type restyLogger struct {
	l Logger
}

func (r restyLogger) Errorf(format string, v ...interface{}) { r.l.Error(format, v...) }
func (r restyLogger) Warnf(format string, v ...interface{})  { r.l.Warn(format, v...) }
func (r restyLogger) Debugf(format string, v ...interface{}) { r.l.Debug(format, v...) }
