// Package tlsconfig builds the *tls.Config the dialer uses to reach the
// upstream, from the CA-override / client-cert / hostname-check flags
// documented in SPEC_FULL.md §6. It is the one piece of "TLS material
// loading" the original spec treats as an external collaborator; it is
// implemented here so the wrapper is runnable end to end.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Options mirrors the -c/-k/-C/--no-hostname-check flag group.
type Options struct {
	ServerName       string // dst_address, used for the default hostname check
	CAFile           string
	CertFile         string
	KeyFile          string
	DisableHostCheck bool
}

// ErrHostCheckRequiresCAFile is returned when --no-hostname-check is set
// without --cafile. The CLI maps this to exit code 2.
var ErrHostCheckRequiresCAFile = errors.New("tlsconfig: --no-hostname-check requires --cafile")

// Build assembles a client *tls.Config per Options. It never sets
// InsecureSkipVerify without installing a replacement VerifyConnection
// that still checks the certificate chain.
func Build(opts Options) (*tls.Config, error) {
	if opts.DisableHostCheck && opts.CAFile == "" {
		return nil, ErrHostCheckRequiresCAFile
	}

	cfg := &tls.Config{
		ServerName: opts.ServerName,
	}

	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("tlsconfig: reading cafile: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("tlsconfig: no certificates found in %s", opts.CAFile)
		}
		cfg.RootCAs = pool
	}

	if opts.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tlsconfig: loading client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if opts.DisableHostCheck {
		// Skip the stdlib's built-in hostname check, but keep full chain
		// verification against cfg.RootCAs by doing it ourselves.
		cfg.InsecureSkipVerify = true
		roots := cfg.RootCAs
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("tlsconfig: no peer certificates presented")
			}
			opts := x509.VerifyOptions{
				Roots:         roots,
				Intermediates: x509.NewCertPool(),
			}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	}

	return cfg, nil
}
