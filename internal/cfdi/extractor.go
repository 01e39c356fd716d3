// Package cfdi turns SAT download packages into invoice summaries.
package cfdi

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"cfdi-descargas/internal/domain"
)

const (
	nsCFDI4 = "http://www.sat.gob.mx/cfd/4"
	nsCFDI3 = "http://www.sat.gob.mx/cfd/3"

	maxDocumentBytes = 32 << 20
)

type party struct {
	RFC  string `xml:"Rfc,attr"`
	Name string `xml:"Nombre,attr"`
}

type stamp struct {
	UUID             string  `xml:"UUID,attr"`
	CancellationDate *string `xml:"FechaCancelacion,attr"`
}

type complement struct {
	Stamp *stamp `xml:"http://www.sat.gob.mx/TimbreFiscalDigital TimbreFiscalDigital"`
}

type voucher struct {
	XMLName      xml.Name
	Date         string      `xml:"Fecha,attr"`
	Folio        *string     `xml:"Folio,attr"`
	Series       string      `xml:"Serie,attr"`
	Total        *string     `xml:"Total,attr"`
	Subtotal     *string     `xml:"SubTotal,attr"`
	Currency     *string     `xml:"Moneda,attr"`
	DocumentType *string     `xml:"TipoDeComprobante,attr"`
	Issuer4      *party      `xml:"http://www.sat.gob.mx/cfd/4 Emisor"`
	Issuer3      *party      `xml:"http://www.sat.gob.mx/cfd/3 Emisor"`
	Receiver4    *party      `xml:"http://www.sat.gob.mx/cfd/4 Receptor"`
	Receiver3    *party      `xml:"http://www.sat.gob.mx/cfd/3 Receptor"`
	Complement4  *complement `xml:"http://www.sat.gob.mx/cfd/4 Complemento"`
	Complement3  *complement `xml:"http://www.sat.gob.mx/cfd/3 Complemento"`
}

// ParseArchive reads every .xml entry of a ZIP package. Entries that fail to
// parse are logged and skipped; an unreadable archive is an error.
func ParseArchive(data []byte, logger logrus.FieldLogger) ([]domain.Invoice, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	var invoices []domain.Invoice
	for _, file := range reader.File {
		if file.FileInfo().IsDir() || !strings.EqualFold(path.Ext(file.Name), ".xml") {
			continue
		}
		raw, err := readEntry(file)
		if err != nil {
			logger.WithError(err).WithField("file", file.Name).Warn("skipping unreadable zip entry")
			continue
		}
		invoice, err := ParseDocument(raw)
		if err != nil {
			logger.WithError(err).WithField("file", file.Name).Warn("skipping invalid CFDI")
			continue
		}
		invoices = append(invoices, invoice)
	}

	return invoices, nil
}

func readEntry(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	if len(raw) > maxDocumentBytes {
		return nil, fmt.Errorf("entry exceeds %d bytes", maxDocumentBytes)
	}
	return raw, nil
}

// ParseDocument extracts the summary of a single CFDI 4.0 or 3.3 document.
// Documents declaring a non-UTF-8 encoding are transcoded.
func ParseDocument(raw []byte) (domain.Invoice, error) {
	var v voucher
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&v); err != nil {
		return domain.Invoice{}, fmt.Errorf("decode xml: %w", err)
	}
	if v.XMLName.Local != "Comprobante" {
		return domain.Invoice{}, fmt.Errorf("unexpected root element %q", v.XMLName.Local)
	}
	if v.XMLName.Space != nsCFDI4 && v.XMLName.Space != nsCFDI3 {
		return domain.Invoice{}, fmt.Errorf("unexpected namespace %q", v.XMLName.Space)
	}

	total, err := parseAmount(v.Total)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("Total: %w", err)
	}
	subtotal, err := parseAmount(v.Subtotal)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("SubTotal: %w", err)
	}

	inv := domain.Invoice{
		Date:         v.Date,
		Series:       v.Series,
		Folio:        valueOr(v.Folio, "N/A"),
		Subtotal:     subtotal,
		Total:        total,
		Currency:     valueOr(v.Currency, "MXN"),
		DocumentType: valueOr(v.DocumentType, "I"),
		State:        domain.InvoiceStateCurrent,
	}

	if issuer := firstParty(v.Issuer4, v.Issuer3); issuer != nil {
		inv.IssuerRFC = issuer.RFC
		inv.IssuerName = issuer.Name
	}
	if receiver := firstParty(v.Receiver4, v.Receiver3); receiver != nil {
		inv.ReceiverRFC = receiver.RFC
		inv.ReceiverName = receiver.Name
	}

	for _, c := range []*complement{v.Complement4, v.Complement3} {
		if c == nil || c.Stamp == nil {
			continue
		}
		inv.UUID = c.Stamp.UUID
		if c.Stamp.CancellationDate != nil && *c.Stamp.CancellationDate != "" {
			date := *c.Stamp.CancellationDate
			inv.CancellationDate = &date
			inv.State = domain.InvoiceStateCancelled
		}
		break
	}

	return inv, nil
}

// ApplyDisplayPolicy keeps only current invoices unless the caller explicitly
// asked for cancelled ones, and reports how many were dropped.
func ApplyDisplayPolicy(invoices []domain.Invoice, filter domain.StatusFilter) ([]domain.Invoice, int) {
	if filter == domain.FilterCancelled {
		out := make([]domain.Invoice, len(invoices))
		copy(out, invoices)
		return out, 0
	}

	kept := make([]domain.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.State == domain.InvoiceStateCurrent {
			kept = append(kept, inv)
		}
	}
	return kept, len(invoices) - len(kept)
}

func firstParty(candidates ...*party) *party {
	for _, p := range candidates {
		if p != nil {
			return p
		}
	}
	return nil
}

func valueOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func parseAmount(v *string) (float64, error) {
	raw := strings.TrimSpace(valueOr(v, "0"))
	if raw == "" {
		raw = "0"
	}
	return strconv.ParseFloat(raw, 64)
}
