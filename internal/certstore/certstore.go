// Package certstore manages the long-lived self-signed TLS certificate
// each device uses instead of a PKI: generated once at first run, persisted
// to disk, and reused for every future session. Trust between devices is
// established out of band by pinning a peer's leaf-certificate fingerprint
// at pair time (see internal/pairing), not by chain validation.
package certstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// validity is deliberately long: this is a device identity certificate,
// not a short-lived web-server leaf.
const validity = 10 * 365 * 24 * time.Hour

// Store owns a device's certificate and private key on disk.
type Store struct {
	certPath string
	keyPath  string
}

// New points a Store at <dir>/device.crt and <dir>/device.key.
func New(dir string) *Store {
	return &Store{
		certPath: filepath.Join(dir, "device.crt"),
		keyPath:  filepath.Join(dir, "device.key"),
	}
}

// LoadOrGenerate returns the device's tls.Certificate, generating and
// persisting a fresh self-signed one on first run. The key file is always
// written with mode 0600.
func (s *Store) LoadOrGenerate(deviceID string) (tls.Certificate, error) {
	if cert, err := tls.LoadX509KeyPair(s.certPath, s.keyPath); err == nil {
		return cert, nil
	}

	cert, certPEM, keyPEM, err := generate(deviceID)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate device certificate: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.certPath), 0700); err != nil {
		return tls.Certificate{}, fmt.Errorf("create cert directory: %w", err)
	}
	if err := os.WriteFile(s.certPath, certPEM, 0644); err != nil {
		return tls.Certificate{}, fmt.Errorf("write device certificate: %w", err)
	}
	if err := os.WriteFile(s.keyPath, keyPEM, 0600); err != nil {
		return tls.Certificate{}, fmt.Errorf("write device private key: %w", err)
	}
	return cert, nil
}

func generate(deviceID string) (tls.Certificate, []byte, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, nil, nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, nil, nil, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: deviceID},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, nil, nil, fmt.Errorf("create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, nil, nil, fmt.Errorf("marshal key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, nil, nil, fmt.Errorf("load generated key pair: %w", err)
	}
	return cert, certPEM, keyPEM, nil
}

// Fingerprint returns the lowercase hex SHA-256 fingerprint of a leaf
// certificate's DER encoding — the value pinned at pair time and compared
// on every subsequent session.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}
