package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// TLSFiles names the PEM files used for a mutual-TLS broker connection.
// ChainFile optionally holds intermediate certificates appended to the
// client certificate chain.
type TLSFiles struct {
	CAFile    string
	CertFile  string
	KeyFile   string
	ChainFile string
}

// Empty reports whether no TLS material was configured.
func (f TLSFiles) Empty() bool {
	return f.CAFile == "" && f.CertFile == "" && f.KeyFile == "" && f.ChainFile == ""
}

// NewTLSConfig assembles a tls.Config from files. It returns nil when no file
// is configured so plain tcp:// brokers keep working.
func NewTLSConfig(files TLSFiles) (*tls.Config, error) {
	if files.Empty() {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if files.CAFile != "" {
		raw, err := os.ReadFile(files.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(raw) {
			return nil, fmt.Errorf("no certificates found in %s", files.CAFile)
		}
		cfg.RootCAs = pool
	}

	if (files.CertFile == "") != (files.KeyFile == "") {
		return nil, errors.New("client certificate and key must be configured together")
	}
	if files.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client key pair: %w", err)
		}
		if files.ChainFile != "" {
			chain, err := readCertificates(files.ChainFile)
			if err != nil {
				return nil, err
			}
			cert.Certificate = append(cert.Certificate, chain...)
		}
		cfg.Certificates = []tls.Certificate{cert}
	} else if files.ChainFile != "" {
		return nil, errors.New("chain file requires a client certificate")
	}

	return cfg, nil
}

func readCertificates(path string) ([][]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}

	var out [][]byte
	for {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			out = append(out, block.Bytes)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return out, nil
}
