package natsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
)

// ErrCAParsingFailed is returned when the CA certificate cannot be parsed.
var ErrCAParsingFailed = errors.New("failed to parse CA certificate")

// TLSConfig holds the certificate material for a mutually authenticated
// NATS connection.
type TLSConfig struct {
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`
	CAFile     string `json:"ca_file"`
	ServerName string `json:"server_name,omitempty"`
}

// Build loads the key pair and CA bundle into a tls.Config.
func (c *TLSConfig) Build() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, ErrCAParsingFailed
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		ServerName:   c.ServerName,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// Options converts cfg into NATS connection options. A nil cfg yields
// no options, leaving the connection in plain TCP mode.
func Options(cfg *TLSConfig) ([]nats.Option, error) {
	if cfg == nil {
		return nil, nil
	}

	tlsConf, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return []nats.Option{nats.Secure(tlsConf)}, nil
}
