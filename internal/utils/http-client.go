package utils

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type HTTPClientConfig struct {
	Timeout       time.Duration
	KATimeout     time.Duration
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	UserAgent     string
	Headers       map[string]string
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type QgetHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewQgetHTTPClient(cfg HTTPClientConfig) *QgetHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	transport := &http.Transport{
		IdleConnTimeout:       cfg.KATimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		DisableCompression:    true,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &QgetHTTPClient{
		client: &http.Client{
			// No overall client timeout: a large body legitimately outlives
			// any fixed deadline. Cancellation rides the request context.
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		config: cfg,
	}
}

func (q *QgetHTTPClient) SetHeader(key, value string) {
	if q.config.Headers == nil {
		q.config.Headers = make(map[string]string)
	}
	q.config.Headers[key] = value
}

func (q *QgetHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if q.config.UserAgent != "" {
		req.Header.Set("User-Agent", q.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", "Qget-CLI")
	}
	for k, v := range q.config.Headers {
		req.Header.Set(k, v)
	}
	return q.client.Do(req)
}
