package ovh

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woodchen-ink/OVH/internal/api"
)

func testAccount() api.Account {
	return api.Account{
		ID:                "account-1",
		Alias:             "default",
		Zone:              "FR",
		EndpointRegion:    api.EndpointEU,
		ApplicationKey:    "test-application-key",
		ApplicationSecret: "test-application-secret",
		ConsumerKey:       "test-consumer-key",
	}
}

func TestSign(t *testing.T) {
	client, err := NewClient(testAccount())
	require.NoError(t, err)

	signature := client.sign(
		http.MethodGet,
		"https://eu.api.ovh.com/1.0/dedicated/server",
		"",
		1700000000)

	assert.Equal(t, "$1$6ba3a0429e3a77590066f608bd74e11832bc6026", signature)
}

func TestNewClientUnknownRegion(t *testing.T) {
	account := testAccount()
	account.EndpointRegion = "ovh-mars"

	_, err := NewClient(account)
	assert.Error(t, err)
}

func TestDoSignsRequest(t *testing.T) {
	account := testAccount()

	var received *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/time" {
			fmt.Fprintf(w, "%d", time.Now().Unix())
			return
		}
		received = r.Clone(context.Background())
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	client, err := NewClient(account, WithBaseURL(server.URL))
	require.NoError(t, err)

	statusCode, _, err := client.Do(context.Background(), http.MethodGet, "/dedicated/server", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, statusCode)

	require.NotNil(t, received)
	assert.Equal(t, account.ApplicationKey, received.Header.Get("X-Ovh-Application"))
	assert.Equal(t, account.ConsumerKey, received.Header.Get("X-Ovh-Consumer"))

	timestamp, err := strconv.ParseInt(received.Header.Get("X-Ovh-Timestamp"), 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), timestamp, 5)

	// The signature must match a local recomputation over the same inputs.
	h := sha1.New()
	fmt.Fprintf(h, "%s+%s+%s+%s+%s+%d",
		account.ApplicationSecret,
		account.ConsumerKey,
		http.MethodGet,
		server.URL+"/dedicated/server",
		"",
		timestamp)
	assert.Equal(t, fmt.Sprintf("$1$%x", h.Sum(nil)), received.Header.Get("X-Ovh-Signature"))
}

func TestDoAppliesServerTimeDelta(t *testing.T) {
	const skew = 1000 // seconds the fake server clock runs ahead

	var signedTimestamp int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/time" {
			fmt.Fprintf(w, "%d", time.Now().Unix()+skew)
			return
		}
		signedTimestamp, _ = strconv.ParseInt(r.Header.Get("X-Ovh-Timestamp"), 10, 64)
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client, err := NewClient(testAccount(), WithBaseURL(server.URL))
	require.NoError(t, err)

	_, _, err = client.Do(context.Background(), http.MethodGet, "/anything", nil)
	require.NoError(t, err)

	assert.InDelta(t, time.Now().Unix()+skew, signedTimestamp, 5)
}

func TestDoDecodesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/time" {
			fmt.Fprintf(w, "%d", time.Now().Unix())
			return
		}
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"class":"Client::Forbidden","message":"This credential is not valid"}`)
	}))
	defer server.Close()

	client, err := NewClient(testAccount(), WithBaseURL(server.URL))
	require.NoError(t, err)

	statusCode, _, err := client.Do(context.Background(), http.MethodGet, "/dedicated/server", nil)
	assert.Equal(t, http.StatusForbidden, statusCode)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "Client::Forbidden", apiErr.Code)
	assert.Equal(t, "This credential is not valid", apiErr.Message)
	assert.True(t, IsAuthError(err))
}

func TestPostSendsEmptyObjectForNilBody(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/time" {
			fmt.Fprintf(w, "%d", time.Now().Unix())
			return
		}
		buf := make([]byte, 16)
		n, _ := r.Body.Read(buf)
		body = buf[:n]
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client, err := NewClient(testAccount(), WithBaseURL(server.URL))
	require.NoError(t, err)

	require.NoError(t, client.Post(context.Background(), "/order/cart/abc/assign", nil, nil))
	assert.Equal(t, "{}", string(body))
}
