package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"skinarb/internal/errs"
)

// Provider fetches a bulk proxy list for one region.
type Provider interface {
	Fetch(ctx context.Context, region string, count int) ([]string, error)
}

// Credentials authenticate against the upstream proxy provider.
type Credentials struct {
	AuthToken   string
	OrderToken  string
	WhitelistIP []string
}

// HTTPProvider fetches proxies from the upstream provider's REST endpoint.
// Once a rotation source is installed, provider fetches are themselves
// routed through an already-loaded proxy.
type HTTPProvider struct {
	endpoint string
	creds    Credentials

	mu             sync.Mutex
	rotationSource func() string // returns a proxy URL, or ""
}

const defaultProviderEndpoint = "https://api.oculusproxies.com/v1/configure/proxy/getProxies"

// NewHTTPProvider creates a provider client for the given credentials.
// endpoint may be empty to use the default.
func NewHTTPProvider(endpoint string, creds Credentials) *HTTPProvider {
	if endpoint == "" {
		endpoint = defaultProviderEndpoint
	}
	return &HTTPProvider{endpoint: endpoint, creds: creds}
}

// SetRotationSource enables rotation mode: fn supplies a loaded proxy URL to
// route subsequent provider fetches through.
func (p *HTTPProvider) SetRotationSource(fn func() string) {
	p.mu.Lock()
	p.rotationSource = fn
	p.mu.Unlock()
}

type providerRequest struct {
	OrderToken      string   `json:"orderToken"`
	Country         string   `json:"country"`
	NumberOfProxies int      `json:"numberOfProxies"`
	WhiteListIP     []string `json:"whiteListIP"`
	EnableSock5     bool     `json:"enableSock5"`
	PlanType        string   `json:"planType"`
}

// Fetch requests count proxies for region and returns them as proxy URLs.
func (p *HTTPProvider) Fetch(ctx context.Context, region string, count int) ([]string, error) {
	body, err := json.Marshal(providerRequest{
		OrderToken:      p.creds.OrderToken,
		Country:         strings.ToUpper(region),
		NumberOfProxies: count,
		WhiteListIP:     p.creds.WhitelistIP,
		PlanType:        "SHARED_DC",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("authToken", p.creds.AuthToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, &errs.ProxyError{Kind: errs.ProxyConnection, Msg: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &errs.ProxyError{Kind: errs.ProxyAuth, Msg: fmt.Sprintf("provider returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &errs.ProxyError{
			Kind: errs.ProxyConnection,
			Msg:  fmt.Sprintf("provider returned %d: %s", resp.StatusCode, data),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.ProxyError{Kind: errs.ProxyConnection, Msg: err.Error(), Err: err}
	}
	return parseProviderResponse(raw), nil
}

// client builds an HTTP client, routed through the rotation source when one
// is installed.
func (p *HTTPProvider) client() *http.Client {
	p.mu.Lock()
	src := p.rotationSource
	p.mu.Unlock()

	c := &http.Client{Timeout: 30 * time.Second}
	if src != nil {
		if raw := src(); raw != "" {
			if proxyURL, err := url.Parse(raw); err == nil {
				c.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
			}
		}
	}
	return c
}

// parseProviderResponse accepts the provider's list, object, or single-string
// payload shapes and converts each host:port:user:pass line to a proxy URL.
func parseProviderResponse(raw []byte) []string {
	var proxies []string
	add := func(line string) {
		if u := parseProxyLine(line); u != "" {
			proxies = append(proxies, u)
		}
	}

	var obj struct {
		Proxies []string `json:"proxies"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj.Proxies) > 0 {
		for _, line := range obj.Proxies {
			add(line)
		}
		return proxies
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, line := range list {
			add(line)
		}
		return proxies
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		add(single)
	}
	return proxies
}

// parseProxyLine converts "host:port:user:pass" or "host:port" to a proxy
// URL. Lines already shaped like URLs pass through unchanged.
func parseProxyLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if strings.Contains(line, "://") {
		return line
	}
	parts := strings.Split(line, ":")
	switch len(parts) {
	case 2:
		return fmt.Sprintf("http://%s:%s", parts[0], parts[1])
	case 4:
		return fmt.Sprintf("http://%s:%s@%s:%s", parts[2], parts[3], parts[0], parts[1])
	default:
		return ""
	}
}

// FileProvider serves proxies from a newline-delimited file, ignoring the
// requested region. It backs the proxy.txt alternative code path.
type FileProvider struct {
	Path string
}

// Fetch reads the proxy file. count caps the number of entries returned.
func (f *FileProvider) Fetch(_ context.Context, _ string, count int) ([]string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &errs.ProxyError{Kind: errs.ProxyConnection, Msg: err.Error(), Err: err}
	}
	var proxies []string
	for _, line := range strings.Split(string(data), "\n") {
		if u := parseProxyLine(line); u != "" {
			proxies = append(proxies, u)
		}
		if count > 0 && len(proxies) >= count {
			break
		}
	}
	return proxies, nil
}
