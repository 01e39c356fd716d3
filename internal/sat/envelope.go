package sat

import (
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	dsig "github.com/russellhaering/goxmldsig"
)

const (
	nsEnvelope  = "http://schemas.xmlsoap.org/soap/envelope/"
	nsUtility   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	nsSecext    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsDescarga  = "http://DescargaMasivaTerceros.sat.gob.mx"
	nsAutentica = "http://DescargaMasivaTerceros.gob.mx"

	tokenValueType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3"
	tokenEncoding  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

type attr struct {
	name  string
	value string
}

// signingContext signs with RSA-SHA1 over exclusive c14n as SAT expects.
func signingContext(f *Fiel, idAttribute string) (*dsig.SigningContext, error) {
	ctx := dsig.NewDefaultSigningContext(f)
	ctx.Prefix = ""
	ctx.IdAttribute = idAttribute
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	if err := ctx.SetSignatureMethod(dsig.RSASHA1SignatureMethod); err != nil {
		return nil, err
	}
	return ctx, nil
}

// authEnvelope builds the WS-Security signed Autentica request.
func authEnvelope(f *Fiel, created time.Time, ttl time.Duration) (string, error) {
	created = created.UTC()
	tokenID := "uuid-" + uuid.NewString() + "-1"

	// Signed elements declare their own namespaces so they canonicalize the
	// same detached as inside the envelope.
	timestamp := etree.NewElement("u:Timestamp")
	timestamp.CreateAttr("xmlns:u", nsUtility)
	timestamp.CreateAttr("u:Id", "_0")
	timestamp.CreateElement("u:Created").SetText(created.Format(timestampLayout))
	timestamp.CreateElement("u:Expires").SetText(created.Add(ttl).Format(timestampLayout))

	ctx, err := signingContext(f, "u:Id")
	if err != nil {
		return "", err
	}
	sig, err := ctx.ConstructSignature(timestamp, false)
	if err != nil {
		return "", fmt.Errorf("sign timestamp: %w", err)
	}
	ref := resetKeyInfo(sig).CreateElement("o:SecurityTokenReference").CreateElement("o:Reference")
	ref.CreateAttr("ValueType", tokenValueType)
	ref.CreateAttr("URI", "#"+tokenID)

	doc := etree.NewDocument()
	env := doc.CreateElement("s:Envelope")
	env.CreateAttr("xmlns:s", nsEnvelope)
	env.CreateAttr("xmlns:u", nsUtility)

	security := env.CreateElement("s:Header").CreateElement("o:Security")
	security.CreateAttr("s:mustUnderstand", "1")
	security.CreateAttr("xmlns:o", nsSecext)
	security.AddChild(timestamp)
	token := security.CreateElement("o:BinarySecurityToken")
	token.CreateAttr("u:Id", tokenID)
	token.CreateAttr("ValueType", tokenValueType)
	token.CreateAttr("EncodingType", tokenEncoding)
	token.SetText(f.CertificateBase64())
	security.AddChild(sig)

	env.CreateElement("s:Body").CreateElement("Autentica").CreateAttr("xmlns", nsAutentica)
	return doc.WriteToString()
}

// signedEnvelope builds a Descarga Masiva request. The signature covers the
// operation element and sits inside its inner element.
func signedEnvelope(f *Fiel, operation, element string, attrs []attr) (string, error) {
	op := etree.NewElement("des:" + operation)
	op.CreateAttr("xmlns:des", nsDescarga)
	inner := op.CreateElement("des:" + element)
	for _, a := range attrs {
		inner.CreateAttr(a.name, a.value)
	}

	ctx, err := signingContext(f, "Id")
	if err != nil {
		return "", err
	}
	sig, err := ctx.ConstructSignature(op, true)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", operation, err)
	}
	data := resetKeyInfo(sig).CreateElement("X509Data")
	serial := data.CreateElement("X509IssuerSerial")
	serial.CreateElement("X509IssuerName").SetText(f.IssuerName())
	serial.CreateElement("X509SerialNumber").SetText(f.SerialNumber())
	data.CreateElement("X509Certificate").SetText(f.CertificateBase64())
	inner.AddChild(sig)

	doc := etree.NewDocument()
	env := doc.CreateElement("s:Envelope")
	env.CreateAttr("xmlns:s", nsEnvelope)
	env.CreateElement("s:Header")
	env.CreateElement("s:Body").AddChild(op)
	return doc.WriteToString()
}

// resetKeyInfo empties the KeyInfo goxmldsig fills with the bare certificate.
// KeyInfo is outside SignedInfo, so the signature stays valid.
func resetKeyInfo(sig *etree.Element) *etree.Element {
	keyInfo := sig.SelectElement("KeyInfo")
	if keyInfo == nil {
		keyInfo = sig.CreateElement("KeyInfo")
	}
	for _, child := range keyInfo.ChildElements() {
		keyInfo.RemoveChild(child)
	}
	return keyInfo
}
