package sat

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/youmark/pkcs8"
)

// ErrInvalidFiel is returned when the certificate, key or passphrase cannot be used together.
var ErrInvalidFiel = errors.New("invalid FIEL")

// oidUniqueIdentifier carries the holder's RFC in SAT issued certificates.
var oidUniqueIdentifier = asn1.ObjectIdentifier{2, 5, 4, 45}

// Fiel is a loaded e.firma: the X.509 certificate and its decrypted RSA key.
type Fiel struct {
	cert    *x509.Certificate
	certDER []byte
	key     *rsa.PrivateKey
}

// LoadFiel parses a SAT certificate (DER or PEM) and its private key. The key may be
// an encrypted PKCS#8 DER file as issued by SAT, or PEM, and is decrypted with passphrase.
func LoadFiel(certData, keyData []byte, passphrase string) (*Fiel, error) {
	certDER := pemOrDER(certData, "CERTIFICATE")
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("%w: parse certificate: %v", ErrInvalidFiel, err)
	}

	key, err := parsePrivateKey(keyData, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFiel, err)
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: certificate key is not RSA", ErrInvalidFiel)
	}
	if pub.N.Cmp(key.N) != 0 || pub.E != key.E {
		return nil, fmt.Errorf("%w: private key does not match certificate", ErrInvalidFiel)
	}

	return &Fiel{cert: cert, certDER: certDER, key: key}, nil
}

func parsePrivateKey(data []byte, passphrase string) (*rsa.PrivateKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse PKCS#1 key: %w", err)
			}
			return key, nil
		default:
			data = block.Bytes
		}
	}

	var (
		key *rsa.PrivateKey
		err error
	)
	if passphrase == "" {
		key, err = pkcs8.ParsePKCS8PrivateKeyRSA(data)
	} else {
		key, err = pkcs8.ParsePKCS8PrivateKeyRSA(data, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("decrypt private key: %w", err)
	}
	return key, nil
}

func pemOrDER(data []byte, blockType string) []byte {
	if block, _ := pem.Decode(data); block != nil && block.Type == blockType {
		return block.Bytes
	}
	return data
}

// CertificateBase64 is the DER certificate as sent in BinarySecurityToken and X509Certificate.
func (f *Fiel) CertificateBase64() string {
	return base64.StdEncoding.EncodeToString(f.certDER)
}

// IssuerName is the issuer distinguished name used in X509IssuerSerial.
func (f *Fiel) IssuerName() string {
	return f.cert.Issuer.String()
}

// SerialNumber is the decimal certificate serial.
func (f *Fiel) SerialNumber() string {
	return f.cert.SerialNumber.String()
}

// RFC returns the RFC embedded in the certificate subject, or "" when absent.
func (f *Fiel) RFC() string {
	for _, name := range f.cert.Subject.Names {
		if !name.Type.Equal(oidUniqueIdentifier) {
			continue
		}
		v, ok := name.Value.(string)
		if !ok {
			continue
		}
		// legal entities carry "RFC / RFC-of-representative"
		rfc, _, _ := strings.Cut(v, "/")
		return strings.ToUpper(strings.TrimSpace(rfc))
	}
	return ""
}

// ValidAt reports an error when t is outside the certificate validity window.
func (f *Fiel) ValidAt(t time.Time) error {
	if t.Before(f.cert.NotBefore) {
		return fmt.Errorf("certificate not valid before %s", f.cert.NotBefore.Format(time.RFC3339))
	}
	if t.After(f.cert.NotAfter) {
		return fmt.Errorf("certificate expired at %s", f.cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// NotAfter is the certificate expiry.
func (f *Fiel) NotAfter() time.Time {
	return f.cert.NotAfter
}

// Fingerprint is the hex SHA-256 of the DER certificate.
func (f *Fiel) Fingerprint() string {
	return CertificateFingerprint(f.certDER)
}

// CertificateFingerprint fingerprints a DER or PEM certificate the same way as Fiel.Fingerprint.
func CertificateFingerprint(certData []byte) string {
	sum := sha256.Sum256(pemOrDER(certData, "CERTIFICATE"))
	return hex.EncodeToString(sum[:])
}

// GetKeyPair lets the FIEL act as a goxmldsig key store.
func (f *Fiel) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	if f.key == nil {
		return nil, nil, fmt.Errorf("%w: no private key loaded", ErrInvalidFiel)
	}
	return f.key, f.certDER, nil
}
