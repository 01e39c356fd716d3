// Package status translates SAT CodEstatus values into outcomes the API can report.
package status

import (
	"strings"

	"cfdi-descargas/internal/domain"
)

// Outcome classifies a SAT response.
type Outcome string

const (
	// OutcomeAccepted means SAT queued the request (5000).
	OutcomeAccepted Outcome = "accepted"
	// OutcomeEmpty means there is nothing to download.
	OutcomeEmpty Outcome = "empty"
	// OutcomeDuplicate means the same request was already submitted (305).
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeRangeRejected is SAT's 301 for received invoices.
	OutcomeRangeRejected Outcome = "range_rejected"
	// OutcomeRateLimited means the request quota was exhausted (5002).
	OutcomeRateLimited Outcome = "rate_limited"
	// OutcomeFailed is any other provider failure.
	OutcomeFailed Outcome = "failed"
)

// SAT CodEstatus values with a fixed meaning.
const (
	CodeAccepted    = "5000"
	CodeRateLimited = "5002"
	CodeNoInvoices  = "5004"
	CodeNotFound    = "404"
	CodeInvalid     = "301"
	CodeDuplicate   = "305"
)

const (
	genericFailure  = "Error al procesar la solicitud"
	messageNoData   = "No se encontraron facturas para el período especificado"
	message301      = "El SAT no permite descargar facturas recibidas cuando hay facturas canceladas en el rango de fechas"
	suggestion301   = "Intenta reducir el rango de fechas a períodos más pequeños (por ejemplo, un mes a la vez)"
	messageQuota    = "Has excedido el límite de solicitudes permitidas por el SAT"
	suggestionQuota = "El SAT limita la cantidad de solicitudes por RFC. Este límite puede ser diario, mensual o de por vida dependiendo del tipo de cuenta."
)

var emptyHints = []string{
	"no se encontr",
	"no existe",
	"no hay",
	"not found",
	"does not exist",
	"none",
}

// Options tunes behaviour that differs between deployments.
type Options struct {
	// Issued301AsEmpty reports a 301 on issued invoices as an empty result instead of a failure.
	Issued301AsEmpty bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{Issued301AsEmpty: true}
}

// Interpretation is the decision taken for one SAT status.
type Interpretation struct {
	Outcome Outcome
	Success bool
	// Poll is set when a request id is available and the caller should verify it.
	Poll       bool
	Message    string
	Suggestion string
	Detail     string
	// NoInvoices marks a successful answer with nothing to return.
	NoInvoices bool
	// Range301 marks SAT's 301 for received invoices.
	Range301 bool
	// RateLimited marks SAT's daily quota error.
	RateLimited bool
	// Heuristic is set when the outcome came from matching the message text.
	Heuristic bool
}

// Interpret maps a SAT CodEstatus and message to an outcome. Known codes are
// resolved from a fixed table; anything else falls back to message matching.
func Interpret(code, message string, kind domain.Kind, hasRequestID bool, opts Options) Interpretation {
	code = strings.TrimSpace(code)

	switch code {
	case CodeAccepted:
		if hasRequestID {
			return Interpretation{Outcome: OutcomeAccepted, Success: true, Poll: true, Message: message}
		}
		return Interpretation{
			Outcome: OutcomeAccepted,
			Success: true,
			Message: "Solicitud aceptada pero sin ID",
		}
	case CodeNoInvoices, CodeNotFound:
		return Interpretation{
			Outcome:    OutcomeEmpty,
			Success:    true,
			NoInvoices: true,
			Message:    messageNoData,
		}
	case CodeDuplicate:
		if hasRequestID {
			return Interpretation{Outcome: OutcomeDuplicate, Success: true, Poll: true, Message: "Solicitud duplicada encontrada"}
		}
		return Interpretation{Outcome: OutcomeDuplicate, Message: "Solicitud duplicada: " + message, Detail: message}
	case CodeInvalid:
		if kind == domain.KindReceived {
			return Interpretation{
				Outcome:    OutcomeRangeRejected,
				Range301:   true,
				Message:    message301,
				Suggestion: suggestion301,
				Detail:     message,
			}
		}
		if opts.Issued301AsEmpty {
			return emptyFor(kind, message, false)
		}
		return Interpretation{Outcome: OutcomeFailed, Message: orGeneric(message), Detail: message}
	case CodeRateLimited:
		return Interpretation{
			Outcome:     OutcomeRateLimited,
			RateLimited: true,
			Message:     messageQuota,
			Suggestion:  suggestionQuota,
			Detail:      message,
		}
	}

	lower := strings.ToLower(message)
	for _, hint := range emptyHints {
		if strings.Contains(lower, hint) {
			return emptyFor(kind, message, true)
		}
	}

	return Interpretation{Outcome: OutcomeFailed, Message: orGeneric(message), Detail: message}
}

// emptyFor builds the "no invoices" answer worded for the requested kind.
func emptyFor(kind domain.Kind, detail string, heuristic bool) Interpretation {
	return Interpretation{
		Outcome:    OutcomeEmpty,
		Success:    true,
		NoInvoices: true,
		Heuristic:  heuristic,
		Message:    "No tienes facturas " + string(kind) + " en estas fechas",
		Detail:     detail,
	}
}

func orGeneric(message string) string {
	if strings.TrimSpace(message) == "" {
		return genericFailure
	}
	return message
}
