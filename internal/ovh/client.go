// Package ovh implements the signed HTTP client for the OVH REST API and
// the per-account client pool.
package ovh

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/woodchen-ink/OVH/internal/api"
)

// CallTimeout bounds a single OVH API call.
const CallTimeout = 20 * time.Second

var endpointURLs = map[api.EndpointRegion]string{
	api.EndpointEU: "https://eu.api.ovh.com/1.0",
	api.EndpointUS: "https://api.us.ovhcloud.com/1.0",
	api.EndpointCA: "https://ca.api.ovh.com/1.0",
}

// EndpointURL returns the API root for an endpoint region.
func EndpointURL(region api.EndpointRegion) (string, bool) {
	baseURL, ok := endpointURLs[region]
	return baseURL, ok
}

// Client issues signed requests for a single OVH account. A Client is safe
// for concurrent use; the time delta against the OVH server is fetched once
// on first use.
type Client struct {
	account    api.Account
	baseURL    string
	httpClient *http.Client

	timeDeltaMu  sync.Mutex
	timeDelta    time.Duration
	timeDeltaSet bool
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the endpoint root URL. Used by tests to point the
// client at a local fake upstream.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client bound to the given account.
func NewClient(account api.Account, options ...ClientOption) (*Client, error) {
	baseURL, ok := endpointURLs[account.EndpointRegion]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint region %q for account %s", account.EndpointRegion, account.ID)
	}

	c := &Client{
		account:    account,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: CallTimeout},
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// Account returns the account this client is bound to.
func (c *Client) Account() api.Account {
	return c.account
}

// serverTime fetches the delta between local and OVH server clocks. The
// delta keeps signatures valid when the local clock drifts.
func (c *Client) serverTime(ctx context.Context) time.Duration {
	c.timeDeltaMu.Lock()
	defer c.timeDeltaMu.Unlock()

	if c.timeDeltaSet {
		return c.timeDelta
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/time", nil)
	if err != nil {
		return 0
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return 0
	}
	serverEpoch, err := strconv.ParseInt(string(bytes.TrimSpace(body)), 10, 64)
	if err != nil {
		return 0
	}

	c.timeDelta = time.Until(time.Unix(serverEpoch, 0))
	c.timeDeltaSet = true
	return c.timeDelta
}

// sign computes the OVH request signature:
//
//	"$1$" + SHA1_HEX(AS+"+"+CK+"+"+METHOD+"+"+QUERY+"+"+BODY+"+"+TSTAMP)
func (c *Client) sign(method, url, body string, timestamp int64) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s+%s+%s+%s+%s+%d",
		c.account.ApplicationSecret,
		c.account.ConsumerKey,
		method,
		url,
		body,
		timestamp)
	return fmt.Sprintf("$1$%x", h.Sum(nil))
}

// Do issues a signed request against the account's endpoint. The path must
// start with "/" and is appended to the endpoint root. A non-nil body is
// JSON-encoded. Non-2xx responses are returned as *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request body for %s %s: %w", method, path, err)
		}
	}

	url := c.baseURL + path
	timestamp := time.Now().Add(c.serverTime(ctx)).Unix()

	var reader io.Reader
	if encoded != nil {
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}

	req.Header.Set("X-Ovh-Application", c.account.ApplicationKey)
	req.Header.Set("X-Ovh-Consumer", c.account.ConsumerKey)
	req.Header.Set("X-Ovh-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-Ovh-Signature", c.sign(method, url, string(encoded), timestamp))
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, respBody, newAPIError(resp.StatusCode, respBody)
	}

	return resp.StatusCode, respBody, nil
}

// Get issues a signed GET request and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	_, body, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// Post issues a signed POST request and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	if in == nil {
		// OVH rejects POST without a body on some routes.
		in = map[string]any{}
	}
	_, body, err := c.Do(ctx, http.MethodPost, path, in)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func newAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Message:    http.StatusText(statusCode),
	}

	var ovhBody struct {
		Class   string `json:"class"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &ovhBody); err == nil {
		if ovhBody.Message != "" {
			apiErr.Message = ovhBody.Message
		}
		apiErr.Code = ovhBody.Class
	}

	return apiErr
}
