package identity

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoCommonName is returned when the device certificate has an empty
// subject CN.
var ErrNoCommonName = errors.New("certificate subject has no CN")

// FromCertificate returns the subject CN of the first certificate in the PEM
// file at path. Devices are provisioned with their identifier as CN.
func FromCertificate(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read device certificate: %w", err)
	}

	for {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			return "", fmt.Errorf("no certificate found in %s", path)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("parse device certificate: %w", err)
		}
		cn := strings.TrimSpace(cert.Subject.CommonName)
		if cn == "" {
			return "", fmt.Errorf("%s: %w", path, ErrNoCommonName)
		}
		return cn, nil
	}
}

// Resolve prefers an explicit id and falls back to the certificate CN.
func Resolve(explicit, certFile string) (string, error) {
	if id := strings.TrimSpace(explicit); id != "" {
		return id, nil
	}
	return FromCertificate(certFile)
}
