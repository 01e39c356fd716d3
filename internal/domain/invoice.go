package domain

const (
	InvoiceStateCurrent   = "Vigente"
	InvoiceStateCancelled = "Cancelado"
)

// Invoice is the normalized view of a CFDI document.
type Invoice struct {
	UUID             string  `json:"uuid"`
	Date             string  `json:"fecha"`
	Series           string  `json:"serie"`
	Folio            string  `json:"folio"`
	IssuerRFC        string  `json:"rfcEmisor"`
	IssuerName       string  `json:"nombreEmisor"`
	ReceiverRFC      string  `json:"rfcReceptor"`
	ReceiverName     string  `json:"nombreReceptor"`
	Subtotal         float64 `json:"subtotal"`
	Total            float64 `json:"total"`
	Currency         string  `json:"moneda"`
	DocumentType     string  `json:"tipoComprobante"`
	State            string  `json:"estado"`
	CancellationDate *string `json:"fechaCancelacion"`
}

// Cancelled reports whether SAT stamped a cancellation on the invoice.
func (i Invoice) Cancelled() bool {
	return i.State == InvoiceStateCancelled
}
