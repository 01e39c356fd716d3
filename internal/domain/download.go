package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Kind selects which side of the invoice the RFC is on.
type Kind string

const (
	KindIssued   Kind = "emitidas"
	KindReceived Kind = "recibidas"
)

// ParseKind validates the wire value of a download kind.
func ParseKind(v string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(v))) {
	case KindIssued:
		return KindIssued, nil
	case KindReceived:
		return KindReceived, nil
	}
	return "", fmt.Errorf("invalid kind %q", v)
}

// StatusFilter restricts a download request by invoice state.
type StatusFilter string

const (
	FilterUnspecified StatusFilter = ""
	FilterCurrent     StatusFilter = "1"
	FilterCancelled   StatusFilter = "0"
)

// FilterFromCode maps the API's estadoComprobante (nil, 0 or 1) to a filter.
func FilterFromCode(code *int) (StatusFilter, error) {
	if code == nil {
		return FilterUnspecified, nil
	}
	switch *code {
	case 0:
		return FilterCancelled, nil
	case 1:
		return FilterCurrent, nil
	}
	return FilterUnspecified, fmt.Errorf("invalid estadoComprobante %d", *code)
}

// DownloadRequest describes a CFDI download submitted to SAT.
type DownloadRequest struct {
	RFC    string
	Kind   Kind
	From   time.Time
	To     time.Time
	Filter StatusFilter
}

var rfcPattern = regexp.MustCompile(`^[A-ZÑ&]{3,4}[0-9]{6}[A-Z0-9]{3}$`)

// NormalizeRFC upper-cases and trims an RFC.
func NormalizeRFC(rfc string) string {
	return strings.ToUpper(strings.TrimSpace(rfc))
}

// ValidRFC reports whether rfc is a 12 (moral) or 13 (física) character RFC.
func ValidRFC(rfc string) bool {
	n := len([]rune(rfc))
	if n < 12 || n > 13 {
		return false
	}
	return rfcPattern.MatchString(rfc)
}
