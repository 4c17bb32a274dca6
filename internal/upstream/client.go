// Package upstream talks to the classroom and calendar REST APIs on behalf of
// the user whose credential travels in the request context.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// MaxPageSize is the largest page the classroom API serves.
const MaxPageSize = 100

const maxCalendarPageSize = 2500

// Recorder observes every upstream call.
type Recorder interface {
	ObserveUpstreamCall(resource, outcome string, duration time.Duration)
}

// Config configures a Client.
type Config struct {
	ClassroomBaseURL string
	CalendarBaseURL  string
	Timeout          time.Duration
	// HTTPClient is the base transport the OAuth client wraps. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
	Recorder   Recorder
	Logger     *zap.Logger
	Now        func() time.Time
}

// Client issues typed upstream calls. It holds no per-user state.
type Client struct {
	classroomBase string
	calendarBase  string
	timeout       time.Duration
	base          *http.Client
	recorder      Recorder
	logger        *zap.Logger
	now           func() time.Time
}

// NewClient constructs a Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		classroomBase: cfg.ClassroomBaseURL,
		calendarBase:  cfg.CalendarBaseURL,
		timeout:       cfg.Timeout,
		base:          cfg.HTTPClient,
		recorder:      cfg.Recorder,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
}

// PageQuery bounds a paginated listing. MaxItems of zero follows pagination
// to exhaustion.
type PageQuery struct {
	PageSize int
	MaxItems int
}

func (q PageQuery) pageSize() int {
	if q.PageSize <= 0 || q.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return q.PageSize
}

// collect walks a paginated listing, decoding the array stored under field on
// every page. A page token seen twice means the listing loops and fails the
// call as unavailable.
func collect[W any](ctx context.Context, c *Client, resource, endpoint, field string, query url.Values, maxItems int) ([]W, error) {
	items := make([]W, 0)
	pageToken := ""
	seen := map[string]struct{}{}
	for {
		q := url.Values{}
		for k, v := range query {
			q[k] = append([]string(nil), v...)
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var envelope map[string]json.RawMessage
		if err := c.getJSON(ctx, resource, endpoint, q, &envelope); err != nil {
			return make([]W, 0), err
		}
		if raw, ok := envelope[field]; ok && len(raw) > 0 {
			var batch []W
			if err := json.Unmarshal(raw, &batch); err != nil {
				return make([]W, 0), newFailure(resource, FailureUnavailable, 0, fmt.Errorf("decode %s: %w", field, err))
			}
			items = append(items, batch...)
		}
		if maxItems > 0 && len(items) >= maxItems {
			return items[:maxItems], nil
		}

		var next string
		if raw, ok := envelope["nextPageToken"]; ok {
			_ = json.Unmarshal(raw, &next)
		}
		if next == "" {
			return items, nil
		}
		if _, dup := seen[next]; dup {
			return make([]W, 0), newFailure(resource, FailureUnavailable, 0, fmt.Errorf("page token %q repeated", next))
		}
		seen[next] = struct{}{}
		pageToken = next
	}
}

func (c *Client) getJSON(ctx context.Context, resource, endpoint string, query url.Values, dest interface{}) (err error) {
	start := c.now()
	status := 0
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
			c.logger.Debug("upstream call failed",
				zap.String("resource", resource),
				zap.Int("status", status),
				zap.Error(err))
		}
		if c.recorder != nil {
			c.recorder.ObserveUpstreamCall(resource, outcome, time.Since(start))
		}
	}()

	cred, ok := CredentialFrom(ctx)
	if !ok || !cred.Valid(c.now()) {
		return newFailure(resource, FailureUnauthenticated, 0, fmt.Errorf("missing or expired credential"))
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	callCtx = context.WithValue(callCtx, oauth2.HTTPClient, c.base)
	httpClient := oauth2.NewClient(callCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
		Expiry:      cred.Expiry,
	}))

	target := endpoint
	if encoded := query.Encode(); encoded != "" {
		target = endpoint + "?" + encoded
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, target, nil)
	if err != nil {
		return newFailure(resource, FailureUnavailable, 0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return newFailure(resource, FailureUnavailable, 0, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return newFailure(resource, classifyStatus(resp.StatusCode, string(body)), resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil && err != io.EOF {
		return newFailure(resource, FailureUnavailable, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) classroomURL(format string, args ...interface{}) string {
	escaped := make([]interface{}, len(args))
	for i, arg := range args {
		escaped[i] = url.PathEscape(fmt.Sprint(arg))
	}
	return c.classroomBase + fmt.Sprintf(format, escaped...)
}

func itoa(n int) string { return strconv.Itoa(n) }
