package settings

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/pkcs12"
)

// Identity is the tenant and user scope parsed from an agent certificate.
// Certificates encode the tenant in the Organization field and the user in
// the Organizational Unit field.
type Identity struct {
	// TenantID is the owning tenant (certificate Organization).
	TenantID string
	// UserID is the acting user (certificate Organizational Unit).
	UserID string
	// CommonName is the certificate subject CN, kept for diagnostics.
	CommonName string
}

// CertificateIdentity parses a base64 agent certificate credential into an
// Identity. Results are cached per credential string since parsing PKCS#12
// is not cheap and credentials are immutable for the process lifetime.
func (s *Service) CertificateIdentity(credential string) (Identity, error) {
	s.mu.Lock()
	if id, ok := s.identities[credential]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	id, err := ParseCertificateIdentity(credential)
	if err != nil {
		return Identity{}, err
	}

	s.mu.Lock()
	s.identities[credential] = id
	s.mu.Unlock()
	return id, nil
}

// ParseCertificateIdentity decodes a base64 credential holding a PKCS#12
// bundle or a PEM/DER certificate and extracts the identity fields. Opaque
// API keys must not be passed here; unparseable input is a configuration
// error.
func ParseCertificateIdentity(credential string) (Identity, error) {
	raw, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		return Identity{}, fmt.Errorf("settings: agent certificate is not valid base64: %w", err)
	}
	cert, err := parseCertificate(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("settings: agent certificate is not a PKCS#12 bundle or PEM/DER certificate: %w", err)
	}
	return identityFromCertificate(cert), nil
}

// parseCertificate tries PKCS#12, PEM, then raw DER.
func parseCertificate(raw []byte) (*x509.Certificate, error) {
	if _, cert, err := pkcs12.Decode(raw, ""); err == nil && cert != nil {
		return cert, nil
	}
	// Multi-entry PKCS#12 bundles fail Decode; scan the PEM conversion.
	if blocks, err := pkcs12.ToPEM(raw, ""); err == nil {
		for _, block := range blocks {
			if block.Type != "CERTIFICATE" {
				continue
			}
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				return cert, nil
			}
		}
	}
	for rest := raw; len(rest) > 0; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
			return cert, nil
		}
	}
	return x509.ParseCertificate(raw)
}

func identityFromCertificate(cert *x509.Certificate) Identity {
	id := Identity{CommonName: cert.Subject.CommonName}
	if len(cert.Subject.Organization) > 0 {
		id.TenantID = cert.Subject.Organization[0]
	}
	if len(cert.Subject.OrganizationalUnit) > 0 {
		id.UserID = cert.Subject.OrganizationalUnit[0]
	}
	return id
}
