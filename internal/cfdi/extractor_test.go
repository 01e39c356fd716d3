package cfdi

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfdi-descargas/internal/domain"
)

const currentCFDI = `<?xml version="1.0" encoding="UTF-8"?>
<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital"
  Version="4.0" Serie="A" Folio="100" Fecha="2024-01-15T10:00:00" SubTotal="1000.00" Total="1160.00" Moneda="MXN" TipoDeComprobante="I">
  <cfdi:Emisor Rfc="AAA010101AAA" Nombre="EMISORA SA DE CV"/>
  <cfdi:Receptor Rfc="BBB010101BBB" Nombre="RECEPTORA SA DE CV"/>
  <cfdi:Complemento>
    <tfd:TimbreFiscalDigital Version="1.1" UUID="6F1E1D5C-0000-4000-8000-000000000001" FechaTimbrado="2024-01-15T10:01:00"/>
  </cfdi:Complemento>
</cfdi:Comprobante>`

const cancelledCFDI = `<?xml version="1.0" encoding="UTF-8"?>
<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital"
  Version="4.0" Fecha="2024-01-20T09:00:00" SubTotal="500" Total="580">
  <cfdi:Emisor Rfc="AAA010101AAA" Nombre="EMISORA SA DE CV"/>
  <cfdi:Receptor Rfc="CCC010101CCC" Nombre="OTRA"/>
  <cfdi:Complemento>
    <tfd:TimbreFiscalDigital UUID="6F1E1D5C-0000-4000-8000-000000000002" FechaCancelacion="2024-02-01T12:00:00"/>
  </cfdi:Complemento>
</cfdi:Comprobante>`

const legacyCFDI = `<?xml version="1.0" encoding="UTF-8"?>
<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/3" xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital"
  Version="3.3" Folio="7" Fecha="2021-05-01T08:00:00" SubTotal="10" Total="11.6" Moneda="USD" TipoDeComprobante="E">
  <cfdi:Emisor Rfc="DDD010101DDD" Nombre="LEGADO"/>
  <cfdi:Receptor Rfc="EEE010101EEE"/>
  <cfdi:Complemento>
    <tfd:TimbreFiscalDigital UUID="6F1E1D5C-0000-4000-8000-000000000003"/>
  </cfdi:Complemento>
</cfdi:Comprobante>`

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParseDocument_CFDI4(t *testing.T) {
	inv, err := ParseDocument([]byte(currentCFDI))
	require.NoError(t, err)

	assert.Equal(t, "6F1E1D5C-0000-4000-8000-000000000001", inv.UUID)
	assert.Equal(t, "2024-01-15T10:00:00", inv.Date)
	assert.Equal(t, "A", inv.Series)
	assert.Equal(t, "100", inv.Folio)
	assert.Equal(t, "AAA010101AAA", inv.IssuerRFC)
	assert.Equal(t, "EMISORA SA DE CV", inv.IssuerName)
	assert.Equal(t, "BBB010101BBB", inv.ReceiverRFC)
	assert.Equal(t, 1000.0, inv.Subtotal)
	assert.Equal(t, 1160.0, inv.Total)
	assert.Equal(t, domain.InvoiceStateCurrent, inv.State)
	assert.Nil(t, inv.CancellationDate)
}

func TestParseDocument_Defaults(t *testing.T) {
	inv, err := ParseDocument([]byte(cancelledCFDI))
	require.NoError(t, err)

	assert.Equal(t, "N/A", inv.Folio)
	assert.Equal(t, "MXN", inv.Currency)
	assert.Equal(t, "I", inv.DocumentType)
	assert.Equal(t, domain.InvoiceStateCancelled, inv.State)
	require.NotNil(t, inv.CancellationDate)
	assert.Equal(t, "2024-02-01T12:00:00", *inv.CancellationDate)
	assert.True(t, inv.Cancelled())
}

func TestParseDocument_CFDI33Fallback(t *testing.T) {
	inv, err := ParseDocument([]byte(legacyCFDI))
	require.NoError(t, err)

	assert.Equal(t, "DDD010101DDD", inv.IssuerRFC)
	assert.Equal(t, "EEE010101EEE", inv.ReceiverRFC)
	assert.Equal(t, "USD", inv.Currency)
	assert.Equal(t, "E", inv.DocumentType)
	assert.Equal(t, "6F1E1D5C-0000-4000-8000-000000000003", inv.UUID)
}

func TestParseDocument_Latin1(t *testing.T) {
	doc := []byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
		`<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/3" Fecha="2017-05-01T10:00:00" Total="10.00">` +
		"<cfdi:Emisor Rfc=\"FFF010101FFF\" Nombre=\"JOS\xc9 PE\xd1A\"/>" +
		`</cfdi:Comprobante>`)

	inv, err := ParseDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, "JOSÉ PEÑA", inv.IssuerName)
	assert.Equal(t, 10.0, inv.Total)
}

func TestParseDocument_Rejects(t *testing.T) {
	_, err := ParseDocument([]byte("<not-xml"))
	assert.Error(t, err)

	_, err = ParseDocument([]byte(`<Comprobante xmlns="http://example.com/other"/>`))
	assert.Error(t, err)

	_, err = ParseDocument([]byte(`<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Total="abc"/>`))
	assert.Error(t, err)
}

func TestParseArchive_SkipsBadEntries(t *testing.T) {
	logger, hook := test.NewNullLogger()
	data := buildZip(t, map[string]string{
		"a.xml":      currentCFDI,
		"b.XML":      cancelledCFDI,
		"broken.xml": "<cfdi:Comprobante",
		"readme.txt": "ignored",
	})

	invoices, err := ParseArchive(data, logger)
	require.NoError(t, err)
	assert.Len(t, invoices, 2)

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)
}

func TestParseArchive_InvalidZip(t *testing.T) {
	_, err := ParseArchive([]byte("not a zip"), logrus.New())
	assert.Error(t, err)
}

func TestApplyDisplayPolicy(t *testing.T) {
	invoices, err := ParseArchive(buildZip(t, map[string]string{
		"a.xml": currentCFDI,
		"b.xml": cancelledCFDI,
	}), logrus.New())
	require.NoError(t, err)
	require.Len(t, invoices, 2)

	kept, filtered := ApplyDisplayPolicy(invoices, domain.FilterUnspecified)
	require.Len(t, kept, 1)
	assert.Equal(t, domain.InvoiceStateCurrent, kept[0].State)
	assert.Equal(t, 1, filtered)

	kept, filtered = ApplyDisplayPolicy(invoices, domain.FilterCurrent)
	assert.Len(t, kept, 1)
	assert.Equal(t, 1, filtered)

	kept, filtered = ApplyDisplayPolicy(invoices, domain.FilterCancelled)
	assert.Len(t, kept, 2)
	assert.Equal(t, 0, filtered)
}
