package httputil

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"estate_admin/config"
)

type Clients struct {
	API   *http.Client // admin API, optionally proxied
	Media *http.Client // image downloads for backup
}

func NewClients(cfg *config.APIConfig) (*Clients, error) {
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: true,
	}

	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		// Some intercepting proxies choke on h2
		transport.ForceAttemptHTTP2 = false
		transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Clients{
		API:   &http.Client{Timeout: timeout, Transport: transport},
		Media: &http.Client{Timeout: 2 * time.Minute, Transport: transport.Clone()},
	}, nil
}
