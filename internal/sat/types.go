package sat

import (
	"time"

	"cfdi-descargas/internal/domain"
)

// RequestStateFinished is the EstadoSolicitud value for a request whose packages are ready.
const RequestStateFinished = "3"

// SolicitudParams are the attributes of a SolicitaDescarga request.
// Empty strings are omitted from the request.
type SolicitudParams struct {
	Kind           domain.Kind
	RequesterRFC   string
	IssuerRFC      string
	ReceiverRFC    string
	From           time.Time
	To             time.Time
	RequestType    string
	DocumentStatus string
}

// Submission is SAT's answer to a download request.
type Submission struct {
	RequestID  string `json:"id_solicitud"`
	StatusCode string `json:"cod_estatus"`
	Message    string `json:"mensaje"`
}

// Verification is SAT's answer to VerificaSolicitudDescarga.
type Verification struct {
	StatusCode       string   `json:"cod_estatus"`
	RequestState     string   `json:"estado_solicitud"`
	RequestStateCode string   `json:"codigo_estado_solicitud"`
	CFDICount        int      `json:"numero_cfdis"`
	Message          string   `json:"mensaje"`
	PackageIDs       []string `json:"paquetes"`
}

// Ready reports whether the packages can be downloaded.
func (v *Verification) Ready() bool {
	return v != nil && v.RequestState == RequestStateFinished
}

// PackageResponse carries one base64 encoded ZIP package.
type PackageResponse struct {
	StatusCode string
	Message    string
	Payload    string
}
