package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultHTTPTimeout = 10 * time.Second

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// newHTTPClient returns a client with a bounded timeout that authenticates
// with the client-credentials grant when credentials are set.
func newHTTPClient(oauth OAuthConfig, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	base := &http.Client{Timeout: timeout}
	if strings.TrimSpace(oauth.ClientID) == "" || strings.TrimSpace(oauth.TokenURL) == "" {
		return base
	}

	cc := &clientcredentials.Config{
		ClientID:     oauth.ClientID,
		ClientSecret: oauth.ClientSecret,
		TokenURL:     oauth.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = timeout
	return client
}

func doJSON(
	ctx context.Context,
	client *http.Client,
	system System,
	op Operation,
	method, url string,
	headers map[string]string,
	payload interface{},
	out interface{},
) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, &PermanentError{System: system, Operation: op, Err: err}
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &PermanentError{System: system, Operation: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(system, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(system, op, err)
	}
	if err := classifyStatus(system, op, resp.StatusCode, raw); err != nil {
		return raw, err
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, &PermanentError{System: system, Operation: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return raw, nil
}

func formatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func joinURL(base string, parts ...string) string {
	out := strings.TrimRight(strings.TrimSpace(base), "/")
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		out += "/" + p
	}
	return out + "/"
}
