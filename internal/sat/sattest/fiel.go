// Package sattest provides a synthetic FIEL and an in-process fake of the SAT
// bulk download services for tests.
package sattest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"
)

// Material is a certificate and encrypted PKCS#8 key pair, as SAT hands them out.
type Material struct {
	RFC        string
	Cert       []byte
	Key        []byte
	Passphrase string
}

// GenerateFiel creates a self-signed certificate for rfc and a key encrypted with passphrase.
func GenerateFiel(t testing.TB, rfc, passphrase string) Material {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 100))
	require.NoError(t, err)

	name := pkix.Name{
		CommonName:   "CONTRIBUYENTE DE PRUEBA",
		Organization: []string{"CONTRIBUYENTE DE PRUEBA"},
		ExtraNames: []pkix.AttributeTypeAndValue{
			{Type: asn1.ObjectIdentifier{2, 5, 4, 45}, Value: rfc},
		},
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      name,
		Issuer:       name,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	keyDER, err := pkcs8.MarshalPrivateKey(priv, []byte(passphrase), nil)
	require.NoError(t, err)

	return Material{RFC: rfc, Cert: certDER, Key: keyDER, Passphrase: passphrase}
}
