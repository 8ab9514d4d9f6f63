// Package enroll talks to the cloud activation service that enrolls freshly
// provisioned devices: it creates single-use enrollment configs and polls
// for the device checking in with one.
package enroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the public activation endpoint.
const DefaultBaseURL = "https://api.electricimp.com/v1"

var (
	// ErrInvalidAPIKey is returned for malformed keys and keys the service rejects.
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrUnexpectedResponse is returned when the service answers with a body it cannot decode.
	ErrUnexpectedResponse = errors.New("unexpected response from enrollment service")
	// ErrServiceStatus is returned for non-success HTTP statuses.
	ErrServiceStatus = errors.New("enrollment service error")
)

// Config is a single-use enrollment configuration.
type Config struct {
	Token  string `json:"token"`
	PlanID string `json:"plan_id"`
}

// PollStatus is the outcome of waiting for a device to enroll.
type PollStatus int

const (
	Responded PollStatus = iota
	TimedOut
	Error
)

func (s PollStatus) String() string {
	switch s {
	case Responded:
		return "responded"
	case TimedOut:
		return "timed out"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("poll_status(%d)", int(s))
	}
}

// PollResult carries the device details when Status is Responded and the cause when it is Error.
type PollResult struct {
	Status   PollStatus
	DeviceID string
	AgentURL string
	Err      error
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *logrus.Logger
}

// Client is the HTTP enrollment client.
type Client struct {
	baseURL      string
	pollInterval time.Duration
	http         *http.Client
	logger       *logrus.Logger
}

// NewClient creates a Client, filling unset options with defaults.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.RequestTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		pollInterval: opts.PollInterval,
		http:         opts.HTTPClient,
		logger:       opts.Logger,
	}
}

type setupTokenResponse struct {
	ID        string `json:"id"`
	PlanID    string `json:"plan_id"`
	ImpeeID   string `json:"impee_id"`
	AgentURL  string `json:"agent_url"`
	ClaimedAt string `json:"claimed_at"`
}

// CreateConfig requests a new enrollment config for the account owning apiKey.
func (c *Client) CreateConfig(ctx context.Context, apiKey string) (Config, error) {
	if err := ValidateAPIKey(apiKey); err != nil {
		return Config{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/setup_tokens", http.NoBody)
	if err != nil {
		return Config{}, fmt.Errorf("create enrollment request: %w", err)
	}
	req.SetBasicAuth(apiKey, "")
	req.Header.Set("Accept", "application/json")

	var body setupTokenResponse
	if err := c.do(req, &body, http.StatusOK, http.StatusCreated); err != nil {
		return Config{}, err
	}
	if body.ID == "" || body.PlanID == "" {
		return Config{}, fmt.Errorf("%w: missing token or plan id", ErrUnexpectedResponse)
	}

	c.logger.WithField("plan_id", body.PlanID).Debug("Created enrollment config")
	return Config{Token: body.ID, PlanID: body.PlanID}, nil
}

// Poll waits until the device enrolled with cfg checks in, timeout elapses or
// the service fails in a way retrying cannot fix. Transient failures are retried.
func (c *Client) Poll(ctx context.Context, cfg Config, timeout time.Duration) PollResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := c.logger.WithField("plan_id", cfg.PlanID)
	endpoint := fmt.Sprintf("%s/setup_tokens/%s", c.baseURL, url.PathEscape(cfg.Token))

	attempt := 0
	res, err := backoff.Retry(ctx, func() (setupTokenResponse, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
		if err != nil {
			return setupTokenResponse{}, backoff.Permanent(fmt.Errorf("create poll request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		var body setupTokenResponse
		if err := c.do(req, &body, http.StatusOK); err != nil {
			if retryable(err) {
				log.WithError(err).WithField("attempt", attempt).Debug("Enrollment poll failed, retrying")
				return body, err
			}
			return body, backoff.Permanent(err)
		}
		if body.ImpeeID == "" {
			return body, errNotYet
		}
		return body, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.pollInterval)),
		backoff.WithMaxElapsedTime(0),
	)

	switch {
	case err == nil:
		log.WithField("device_id", res.ImpeeID).Info("Device enrolled")
		return PollResult{Status: Responded, DeviceID: res.ImpeeID, AgentURL: res.AgentURL}
	case ctx.Err() != nil || errors.Is(err, errNotYet):
		return PollResult{Status: TimedOut}
	default:
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return PollResult{Status: Error, Err: err}
	}
}

var errNotYet = errors.New("device has not checked in")

// statusError is a non-success HTTP answer.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", ErrServiceStatus, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", ErrServiceStatus, e.Code, e.Body)
}

func (e *statusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return ErrInvalidAPIKey
	}
	return ErrServiceStatus
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusNotFound || se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	// network errors
	return !errors.Is(err, ErrUnexpectedResponse)
}

func (c *Client) do(req *http.Request, out any, accept ...int) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	ok := false
	for _, code := range accept {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return &statusError{Code: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error struct {
			Message string `json:"message_short"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// ValidateAPIKey checks the shape of an API key before it is sent anywhere.
func ValidateAPIKey(key string) error {
	if len(key) != 32 {
		return fmt.Errorf("%w: expected 32 characters, got %d", ErrInvalidAPIKey, len(key))
	}
	for _, r := range key {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidAPIKey, r)
		}
	}
	return nil
}
