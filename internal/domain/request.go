package domain

import "time"

// RequestState mirrors SAT's EstadoSolicitud values for a download request.
type RequestState string

const (
	RequestStateSubmitted  RequestState = "submitted"
	RequestStateAccepted   RequestState = "1"
	RequestStateInProgress RequestState = "2"
	RequestStateFinished   RequestState = "3"
	RequestStateError      RequestState = "4"
	RequestStateRejected   RequestState = "5"
	RequestStateExpired    RequestState = "6"
)

// RequestRecord tracks a download request submitted to SAT.
type RequestRecord struct {
	ID           int64
	UserID       *int64
	RFC          string
	Kind         Kind
	From         time.Time
	To           time.Time
	Filter       StatusFilter
	RequestID    string
	StatusCode   string
	Message      string
	State        RequestState
	PackageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	VerifiedAt   *time.Time
}
