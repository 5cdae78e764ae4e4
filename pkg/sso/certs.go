package sso

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Certificate types recognized by the store. Filenames are
// "{type}_{timestamp}.pem" under one directory per organization.
const (
	CertTypeIdP        = "idp"
	CertTypeSP         = "sp"
	CertTypeSigning    = "signing"
	CertTypeEncryption = "encryption"
)

const minRSAKeyBits = 2048

// CertificateValidationResult is the outcome of validating an X.509
// certificate. Warnings are advisory; only the validity window affects
// Valid.
type CertificateValidationResult struct {
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	Serial    string    `json:"serial"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	IsCA      bool      `json:"is_ca"`
	KeyUsage  []string  `json:"key_usage"`
	KeySize   int       `json:"key_size"`
	Warnings  []string  `json:"warnings,omitempty"`
	Valid     bool      `json:"valid"`
}

// CertificateManager validates, generates, converts, and stores the
// X.509 material SAML signing and encryption depend on.
type CertificateManager struct {
	baseDir string
	now     func() time.Time
}

// NewCertificateManager creates a manager storing certificates under
// baseDir, one subdirectory per organization.
func NewCertificateManager(baseDir string) *CertificateManager {
	return &CertificateManager{baseDir: baseDir, now: time.Now}
}

// ValidateCertificate parses a PEM certificate and reports its
// identity, validity window, and advisory warnings. The certificate is
// invalid only when outside its validity window (expiry is checked
// when checkExpiry is set); weak keys and signature algorithms warn
// without invalidating.
func (cm *CertificateManager) ValidateCertificate(pemData string, checkExpiry bool, minValidityDays int) (*CertificateValidationResult, error) {
	cert, err := parsePEMCertificate(pemData)
	if err != nil {
		return nil, err
	}

	now := cm.now()
	result := &CertificateValidationResult{
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		Serial:    cert.SerialNumber.String(),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		IsCA:      cert.IsCA,
		KeyUsage:  keyUsageNames(cert.KeyUsage),
		Valid:     true,
	}

	if rsaKey, ok := cert.PublicKey.(*rsa.PublicKey); ok {
		result.KeySize = rsaKey.N.BitLen()
		if result.KeySize < minRSAKeyBits {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("RSA key size %d is below the minimum key size of %d bits", result.KeySize, minRSAKeyBits))
		}
	}

	if now.Before(cert.NotBefore) {
		result.Valid = false
		result.Warnings = append(result.Warnings, "certificate is not yet valid")
	}
	if checkExpiry && now.After(cert.NotAfter) {
		result.Valid = false
		result.Warnings = append(result.Warnings, "certificate has expired")
	} else if minValidityDays > 0 {
		remaining := cert.NotAfter.Sub(now)
		if remaining < time.Duration(minValidityDays)*24*time.Hour {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("certificate expires in %d days, less than the required %d", int(remaining.Hours()/24), minValidityDays))
		}
	}

	switch cert.SignatureAlgorithm {
	case x509.SHA1WithRSA, x509.DSAWithSHA1, x509.ECDSAWithSHA1:
		result.Warnings = append(result.Warnings, "certificate uses a SHA-1 signature algorithm")
	}

	return result, nil
}

// ExtractPublicKey returns the certificate's public key as a PEM
// PUBLIC KEY block.
func (cm *CertificateManager) ExtractPublicKey(pemData string) (string, error) {
	cert, err := parsePEMCertificate(pemData)
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return "", &CertificateError{Message: "failed to marshal public key", Cause: err}
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// ConvertDERToPEM wraps DER certificate bytes in a PEM CERTIFICATE
// block.
func (cm *CertificateManager) ConvertDERToPEM(der []byte) (string, error) {
	if _, err := x509.ParseCertificate(der); err != nil {
		return "", &CertificateError{Message: "invalid DER certificate", Cause: err}
	}
	block := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// ConvertPEMToDER extracts the DER bytes from a PEM CERTIFICATE block.
func (cm *CertificateManager) ConvertPEMToDER(pemData string) ([]byte, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, &CertificateError{Message: "no CERTIFICATE block found in PEM data"}
	}
	return block.Bytes, nil
}

// GenerateSelfSignedCertificate produces a fresh RSA keypair and a
// self-signed certificate suitable for SAML SP signing. Returns the
// certificate and private key, both PEM-encoded.
func (cm *CertificateManager) GenerateSelfSignedCertificate(commonName, organization string, validityDays, keySize int) (certPEM, keyPEM string, err error) {
	if commonName == "" {
		return "", "", NewValidationError("common_name", "common name is required")
	}
	if validityDays <= 0 {
		validityDays = 365
	}
	if keySize < minRSAKeyBits {
		keySize = minRSAKeyBits
	}

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return "", "", &CertificateError{Message: "failed to generate RSA key", Cause: err}
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", &CertificateError{Message: "failed to generate serial number", Cause: err}
	}

	now := cm.now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{organization},
		},
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, validityDays),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		BasicConstraintsValid: true,
		IsCA:                  false,
		DNSNames:              []string{commonName},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return "", "", &CertificateError{Message: "failed to create certificate", Cause: err}
	}

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	return certPEM, keyPEM, nil
}

// StoreCertificate writes a certificate for the organization. The
// certificate is validated first; invalid material is rejected before
// any write.
func (cm *CertificateManager) StoreCertificate(organizationID, certType, pemData string) (string, error) {
	if !validCertType(certType) {
		return "", NewValidationError("cert_type", fmt.Sprintf("unknown certificate type %q", certType))
	}

	result, err := cm.ValidateCertificate(pemData, true, 0)
	if err != nil {
		return "", err
	}
	if !result.Valid {
		return "", &CertificateError{Message: "refusing to store invalid certificate: " + strings.Join(result.Warnings, "; ")}
	}

	dir := filepath.Join(cm.baseDir, organizationID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", &CertificateError{Message: "failed to create certificate directory", Cause: err}
	}

	name := fmt.Sprintf("%s_%s.pem", certType, cm.now().UTC().Format("20060102T150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(pemData), 0o600); err != nil {
		return "", &CertificateError{Message: "failed to write certificate", Cause: err}
	}
	return path, nil
}

// LoadCertificate returns the most recent stored certificate of the
// given type for the organization. Recency follows the timestamped
// filename sort order.
func (cm *CertificateManager) LoadCertificate(organizationID, certType string) (string, error) {
	if !validCertType(certType) {
		return "", NewValidationError("cert_type", fmt.Sprintf("unknown certificate type %q", certType))
	}

	dir := filepath.Join(cm.baseDir, organizationID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &CertificateError{Message: fmt.Sprintf("no certificates stored for organization %s", organizationID), Cause: err}
	}

	var names []string
	prefix := certType + "_"
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) && strings.HasSuffix(entry.Name(), ".pem") {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", &CertificateError{Message: fmt.Sprintf("no %s certificate stored for organization %s", certType, organizationID)}
	}
	sort.Strings(names)

	data, err := os.ReadFile(filepath.Join(dir, names[len(names)-1]))
	if err != nil {
		return "", &CertificateError{Message: "failed to read certificate", Cause: err}
	}
	return string(data), nil
}

func validCertType(certType string) bool {
	switch certType {
	case CertTypeIdP, CertTypeSP, CertTypeSigning, CertTypeEncryption:
		return true
	}
	return false
}

func parsePEMCertificate(pemData string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, &CertificateError{Message: "failed to decode certificate PEM"}
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, &CertificateError{Message: "failed to parse certificate", Cause: err}
	}
	return cert, nil
}

func keyUsageNames(usage x509.KeyUsage) []string {
	var names []string
	usages := []struct {
		bit  x509.KeyUsage
		name string
	}{
		{x509.KeyUsageDigitalSignature, "digital_signature"},
		{x509.KeyUsageContentCommitment, "content_commitment"},
		{x509.KeyUsageKeyEncipherment, "key_encipherment"},
		{x509.KeyUsageDataEncipherment, "data_encipherment"},
		{x509.KeyUsageKeyAgreement, "key_agreement"},
		{x509.KeyUsageCertSign, "cert_sign"},
		{x509.KeyUsageCRLSign, "crl_sign"},
	}
	for _, u := range usages {
		if usage&u.bit != 0 {
			names = append(names, u.name)
		}
	}
	return names
}
