package providers

import (
	"net/http"
	"time"
)

// NewHTTPClient builds the upstream client for an HTTP adapter. Configured
// headers and the bearer API key are attached to every request.
func NewHTTPClient(config ProviderConfig) *http.Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	var rt http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if len(config.Headers) > 0 {
		rt = &headerTransport{base: rt, headers: config.Headers}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
	}
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
