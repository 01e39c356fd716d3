package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cfdi-descargas/internal/domain"
	"cfdi-descargas/internal/service"
	"cfdi-descargas/internal/status"
)

const dateLayout = "2006-01-02"

type invoiceQueryRequest struct {
	RFC          string `json:"rfc"`
	Kind         string `json:"tipo"`
	From         string `json:"fechaInicial"`
	To           string `json:"fechaFinal"`
	UseSaved     bool   `json:"usarDatosGuardados"`
	StatusFilter *int   `json:"estadoComprobante"`
}

type verifyRequest struct {
	RFC          string `json:"rfc"`
	RequestID    string `json:"idSolicitud"`
	UseSaved     bool   `json:"usarDatosGuardados"`
	StatusFilter *int   `json:"estadoComprobante"`
}

type RequestRecordResponse struct {
	ID           int64   `json:"id"`
	RFC          string  `json:"rfc"`
	Kind         string  `json:"tipo"`
	From         string  `json:"fecha_inicial"`
	To           string  `json:"fecha_final"`
	StatusFilter string  `json:"estado_comprobante"`
	RequestID    string  `json:"id_solicitud"`
	StatusCode   string  `json:"cod_estatus"`
	Message      string  `json:"mensaje"`
	State        string  `json:"estado"`
	PackageCount int     `json:"paquetes"`
	CreatedAt    string  `json:"created_at"`
	VerifiedAt   *string `json:"verified_at,omitempty"`
}

func (h *Handler) queryInvoices(c *gin.Context) {
	var req invoiceQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Solicitud inválida")
		return
	}

	// SAT rejects empty ranges, so this is checked before anything else.
	if req.From != "" && req.To != "" && req.From >= req.To {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":    false,
			"message":    "La fecha inicial debe ser anterior a la fecha final. El SAT requiere un rango de fechas válido.",
			"sugerencia": "Selecciona una fecha final que sea al menos 1 día después de la fecha inicial",
		})
		return
	}

	var missing []string
	if strings.TrimSpace(req.RFC) == "" {
		missing = append(missing, "RFC")
	}
	if strings.TrimSpace(req.Kind) == "" {
		missing = append(missing, "tipo")
	}
	if req.From == "" {
		missing = append(missing, "fecha inicial")
	}
	if req.To == "" {
		missing = append(missing, "fecha final")
	}
	if len(missing) > 0 {
		badRequest(c, "Faltan datos: "+strings.Join(missing, ", "))
		return
	}

	dr, message := parseDownloadRequest(req)
	if message != "" {
		badRequest(c, message)
		return
	}

	res, err := h.downloads.Query(c.Request.Context(), service.InvoiceQuery{
		Source:  h.credentialSource(c, req.UseSaved),
		Request: dr,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(queryResponse(res))
}

func parseDownloadRequest(req invoiceQueryRequest) (domain.DownloadRequest, string) {
	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		return domain.DownloadRequest{}, "Tipo inválido: usa emitidas o recibidas"
	}
	from, err := time.Parse(dateLayout, req.From)
	if err != nil {
		return domain.DownloadRequest{}, "Fecha inicial inválida, usa el formato AAAA-MM-DD"
	}
	to, err := time.Parse(dateLayout, req.To)
	if err != nil {
		return domain.DownloadRequest{}, "Fecha final inválida, usa el formato AAAA-MM-DD"
	}
	rfc := domain.NormalizeRFC(req.RFC)
	if !domain.ValidRFC(rfc) {
		return domain.DownloadRequest{}, "RFC inválido"
	}
	filter, err := domain.FilterFromCode(req.StatusFilter)
	if err != nil {
		return domain.DownloadRequest{}, "estadoComprobante inválido: usa 0 (canceladas) o 1 (vigentes)"
	}

	return domain.DownloadRequest{
		RFC:    rfc,
		Kind:   kind,
		From:   from,
		To:     to,
		Filter: filter,
	}, ""
}

func (h *Handler) verifyRequest(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Solicitud inválida")
		return
	}

	var missing []string
	if strings.TrimSpace(req.RFC) == "" {
		missing = append(missing, "RFC")
	}
	if strings.TrimSpace(req.RequestID) == "" {
		missing = append(missing, "id de solicitud")
	}
	if len(missing) > 0 {
		badRequest(c, "Faltan datos: "+strings.Join(missing, ", "))
		return
	}

	rfc := domain.NormalizeRFC(req.RFC)
	if !domain.ValidRFC(rfc) {
		badRequest(c, "RFC inválido")
		return
	}
	filter, err := domain.FilterFromCode(req.StatusFilter)
	if err != nil {
		badRequest(c, "estadoComprobante inválido: usa 0 (canceladas) o 1 (vigentes)")
		return
	}

	res, err := h.downloads.Verify(c.Request.Context(), service.VerifyQuery{
		Source:    h.credentialSource(c, req.UseSaved),
		RFC:       rfc,
		RequestID: strings.TrimSpace(req.RequestID),
		Filter:    filter,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(queryResponse(res))
}

func (h *Handler) listRequests(c *gin.Context) {
	claims, _ := h.sessions.current(c)

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		badRequest(c, "limit inválido")
		return
	}

	records, err := h.downloads.History(c.Request.Context(), claims.UserID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := make([]RequestRecordResponse, len(records))
	for i := range records {
		resp[i] = recordToResponse(records[i])
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "solicitudes": resp})
}

// credentialSource uses saved credentials only for a logged in caller that asked for them.
func (h *Handler) credentialSource(c *gin.Context, useSaved bool) service.CredentialSource {
	if !useSaved {
		return service.CredentialSource{}
	}
	claims, ok := h.sessions.current(c)
	if !ok {
		return service.CredentialSource{}
	}
	userID := claims.UserID
	return service.CredentialSource{UserID: &userID, UseSaved: true}
}

// queryResponse renders a query result with the keys the web client expects.
func queryResponse(res *service.QueryResult) (int, gin.H) {
	in := res.Interpretation
	body := gin.H{
		"success":   in.Success,
		"solicitud": res.Submission,
	}
	if res.RequestID != "" {
		body["id_solicitud"] = res.RequestID
	} else {
		body["id_solicitud"] = nil
	}
	if in.Message != "" {
		body["message"] = in.Message
	}
	if in.Suggestion != "" {
		body["sugerencia"] = in.Suggestion
	}
	if in.Detail != "" {
		body["detalle"] = in.Detail
	}
	if res.Submission != nil && in.Outcome != status.OutcomeAccepted {
		body["cod_estatus"] = res.Submission.StatusCode
	}
	if res.Verification != nil {
		body["verificacion"] = res.Verification
	}

	switch {
	case in.NoInvoices:
		body["sin_facturas"] = true
		body["facturas"] = []domain.Invoice{}
	case in.Poll:
		invoices := res.Invoices
		if invoices == nil {
			invoices = []domain.Invoice{}
		}
		stats := res.Stats
		if stats == nil {
			stats = &service.Stats{}
		}
		body["facturas"] = invoices
		body["stats"] = stats
	}
	if in.Range301 {
		body["error_301_recibidas"] = true
	}
	if in.RateLimited {
		body["error_limite"] = true
	}

	code := http.StatusOK
	if !in.Success {
		code = http.StatusBadRequest
	}
	return code, body
}

func recordToResponse(rec domain.RequestRecord) RequestRecordResponse {
	resp := RequestRecordResponse{
		ID:           rec.ID,
		RFC:          rec.RFC,
		Kind:         string(rec.Kind),
		From:         rec.From.Format(dateLayout),
		To:           rec.To.Format(dateLayout),
		StatusFilter: string(rec.Filter),
		RequestID:    rec.RequestID,
		StatusCode:   rec.StatusCode,
		Message:      rec.Message,
		State:        string(rec.State),
		PackageCount: rec.PackageCount,
		CreatedAt:    rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.VerifiedAt != nil {
		v := rec.VerifiedAt.Format(time.RFC3339)
		resp.VerifiedAt = &v
	}
	return resp
}
