package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// aeadSuites 仅保留 AEAD 套件，TLS 1.3 套件由标准库固定启用
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// DefaultTLSConfig returns a TLS 1.2+ client configuration.
func DefaultTLSConfig() *tls.Config {
	suites := make([]uint16, len(aeadSuites))
	copy(suites, aeadSuites)
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: suites,
	}
}

// TransportOptions tunes the upstream transport. Zero values pick defaults.
type TransportOptions struct {
	// HeaderTimeout bounds the wait for response headers; 0 disables it.
	HeaderTimeout time.Duration
	// MaxIdleConnsPerHost defaults to 20.
	MaxIdleConnsPerHost int
}

// NewTransport returns a hardened transport. All agents share one upstream
// host, so the per-host idle pool is sized well above net/http's default of 2.
func NewTransport(opts TransportOptions) *http.Transport {
	perHost := opts.MaxIdleConnsPerHost
	if perHost <= 0 {
		perHost = 20
	}
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          5 * perHost,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.HeaderTimeout,
		ExpectContinueTimeout: time.Second,
	}
}

// StreamingHTTPClient returns a client for long-lived event streams. It has
// no overall timeout; callers bound each call with a context deadline.
func StreamingHTTPClient(opts TransportOptions) *http.Client {
	return &http.Client{Transport: NewTransport(opts)}
}
