package download

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Doer is the HTTP transport used by the engine. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type TLSConfig struct {
	// VerifyPeer toggles certificate verification.
	VerifyPeer bool
	// CAFile is an optional PEM bundle that replaces the system roots.
	CAFile  string
	Timeout time.Duration
}

type followKey struct{}

func withFollowLocation(ctx context.Context, limit int) context.Context {
	return context.WithValue(ctx, followKey{}, limit)
}

func followLocation(ctx context.Context) int {
	if n, ok := ctx.Value(followKey{}).(int); ok {
		return n
	}
	return 0
}

// NewHTTPClient builds the client used for tile downloads. The redirect
// limit travels with each request so one client serves every source.
func NewHTTPClient(cfg TLSConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !cfg.VerifyPeer,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	// bodies are stored as served
	transport.DisableCompression = true

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > followLocation(req.Context()) {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, nil
}
