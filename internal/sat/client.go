package sat

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cfdi-descargas/internal/domain"
)

const (
	actionAutentica         = "http://DescargaMasivaTerceros.gob.mx/IAutenticacion/Autentica"
	actionSolicitaEmitidos  = "http://DescargaMasivaTerceros.sat.gob.mx/ISolicitaDescargaService/SolicitaDescargaEmitidos"
	actionSolicitaRecibidos = "http://DescargaMasivaTerceros.sat.gob.mx/ISolicitaDescargaService/SolicitaDescargaRecibidos"
	actionVerifica          = "http://DescargaMasivaTerceros.sat.gob.mx/IVerificaSolicitudDescargaService/VerificaSolicitudDescarga"
	actionDescarga          = "http://DescargaMasivaTerceros.sat.gob.mx/IDescargaMasivaTercerosService/Descargar"

	// DateLayout is the format of FechaInicial and FechaFinal.
	DateLayout = "2006-01-02T15:04:05"

	authTimestampTTL = 5 * time.Minute
	maxResponseBytes = 256 << 20
)

// Endpoints are the service URLs of the SAT bulk download web services.
type Endpoints struct {
	Auth      string
	Solicitud string
	Verifica  string
	Descarga  string
}

// FaultError is a SOAP fault returned by SAT.
type FaultError struct {
	Code    string
	Message string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("soap fault %s: %s", e.Code, e.Message)
}

// Client speaks the SAT Descarga Masiva SOAP protocol.
type Client struct {
	http      *http.Client
	endpoints Endpoints
	now       func() time.Time
}

func NewClient(endpoints Endpoints, timeout time.Duration) *Client {
	return &Client{
		http:      &http.Client{Timeout: timeout},
		endpoints: endpoints,
		now:       time.Now,
	}
}

// Authenticate exchanges a FIEL signed timestamp for a bearer token.
func (c *Client) Authenticate(ctx context.Context, f *Fiel) (string, error) {
	body, err := authEnvelope(f, c.now(), authTimestampTTL)
	if err != nil {
		return "", err
	}

	env, err := c.call(ctx, c.endpoints.Auth, actionAutentica, "", body)
	if err != nil {
		return "", fmt.Errorf("autentica: %w", err)
	}
	if env.Body.Autentica == nil || strings.TrimSpace(env.Body.Autentica.Result) == "" {
		return "", errors.New("autentica: empty token")
	}
	return strings.TrimSpace(env.Body.Autentica.Result), nil
}

// RequestDownload submits SolicitaDescargaEmitidos or SolicitaDescargaRecibidos.
func (c *Client) RequestDownload(ctx context.Context, token string, f *Fiel, p SolicitudParams) (*Submission, error) {
	attrs := []attr{
		{"RfcSolicitante", p.RequesterRFC},
		{"FechaInicial", p.From.Format(DateLayout)},
		{"FechaFinal", p.To.Format(DateLayout)},
	}
	requestType := p.RequestType
	if requestType == "" {
		requestType = "CFDI"
	}
	attrs = append(attrs, attr{"TipoSolicitud", requestType})
	if p.IssuerRFC != "" {
		attrs = append(attrs, attr{"RfcEmisor", p.IssuerRFC})
	}
	if p.ReceiverRFC != "" {
		attrs = append(attrs, attr{"RfcReceptor", p.ReceiverRFC})
	}
	if p.DocumentStatus != "" {
		attrs = append(attrs, attr{"EstadoComprobante", p.DocumentStatus})
	}

	operation, action := "SolicitaDescargaEmitidos", actionSolicitaEmitidos
	if p.Kind == domain.KindReceived {
		operation, action = "SolicitaDescargaRecibidos", actionSolicitaRecibidos
	}

	body, err := signedEnvelope(f, operation, "solicitud", attrs)
	if err != nil {
		return nil, err
	}

	env, err := c.call(ctx, c.endpoints.Solicitud, action, token, body)
	if err != nil {
		return nil, fmt.Errorf("solicita descarga: %w", err)
	}

	var result *solicitaResult
	switch {
	case env.Body.SolicitaEmitidos != nil:
		result = &env.Body.SolicitaEmitidos.Result
	case env.Body.SolicitaRecibidos != nil:
		result = &env.Body.SolicitaRecibidos.Result
	default:
		return nil, errors.New("solicita descarga: missing result")
	}

	return &Submission{
		RequestID:  result.IDSolicitud,
		StatusCode: result.CodEstatus,
		Message:    result.Mensaje,
	}, nil
}

// Verify asks for the state of a previously accepted request.
func (c *Client) Verify(ctx context.Context, token string, f *Fiel, rfc, requestID string) (*Verification, error) {
	body, err := signedEnvelope(f, "VerificaSolicitudDescarga", "solicitud", []attr{
		{"IdSolicitud", requestID},
		{"RfcSolicitante", rfc},
	})
	if err != nil {
		return nil, err
	}

	env, err := c.call(ctx, c.endpoints.Verifica, actionVerifica, token, body)
	if err != nil {
		return nil, fmt.Errorf("verifica solicitud: %w", err)
	}
	if env.Body.Verifica == nil {
		return nil, errors.New("verifica solicitud: missing result")
	}

	r := env.Body.Verifica.Result
	count := 0
	if strings.TrimSpace(r.NumeroCFDIs) != "" {
		if count, err = strconv.Atoi(strings.TrimSpace(r.NumeroCFDIs)); err != nil {
			return nil, fmt.Errorf("verifica solicitud: NumeroCFDIs %q: %w", r.NumeroCFDIs, err)
		}
	}

	ids := make([]string, 0, len(r.IdsPaquetes))
	for _, id := range r.IdsPaquetes {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	return &Verification{
		StatusCode:       r.CodEstatus,
		RequestState:     r.EstadoSolicitud,
		RequestStateCode: r.CodigoEstadoSolicitud,
		CFDICount:        count,
		Message:          r.Mensaje,
		PackageIDs:       ids,
	}, nil
}

// Download fetches one package. The payload is left base64 encoded.
func (c *Client) Download(ctx context.Context, token string, f *Fiel, rfc, packageID string) (*PackageResponse, error) {
	body, err := signedEnvelope(f, "PeticionDescargaMasivaTercerosEntrada", "peticionDescarga", []attr{
		{"IdPaquete", packageID},
		{"RfcSolicitante", rfc},
	})
	if err != nil {
		return nil, err
	}

	env, err := c.call(ctx, c.endpoints.Descarga, actionDescarga, token, body)
	if err != nil {
		return nil, fmt.Errorf("descarga paquete %s: %w", packageID, err)
	}

	resp := &PackageResponse{}
	if env.Header.Respuesta != nil {
		resp.StatusCode = env.Header.Respuesta.CodEstatus
		resp.Message = env.Header.Respuesta.Mensaje
	}
	if env.Body.Descarga != nil {
		resp.Payload = strings.TrimSpace(env.Body.Descarga.Paquete)
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, url, action, token, body string) (*soapEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("Accept", "text/xml")
	req.Header.Set("SOAPAction", action)
	if token != "" {
		req.Header.Set("Authorization", `WRAP access_token="`+token+`"`)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env soapEnvelope
	parseErr := xml.Unmarshal(raw, &env)
	if parseErr == nil && env.Body.Fault != nil {
		return nil, &FaultError{Code: env.Body.Fault.Code, Message: env.Body.Fault.String}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if parseErr != nil {
		return nil, fmt.Errorf("decode response: %w", parseErr)
	}
	return &env, nil
}

type soapEnvelope struct {
	Header struct {
		Respuesta *descargaHeader `xml:"respuesta"`
	} `xml:"Header"`
	Body struct {
		Fault     *soapFault `xml:"Fault"`
		Autentica *struct {
			Result string `xml:"AutenticaResult"`
		} `xml:"AutenticaResponse"`
		SolicitaEmitidos *struct {
			Result solicitaResult `xml:"SolicitaDescargaEmitidosResult"`
		} `xml:"SolicitaDescargaEmitidosResponse"`
		SolicitaRecibidos *struct {
			Result solicitaResult `xml:"SolicitaDescargaRecibidosResult"`
		} `xml:"SolicitaDescargaRecibidosResponse"`
		Verifica *struct {
			Result verificaResult `xml:"VerificaSolicitudDescargaResult"`
		} `xml:"VerificaSolicitudDescargaResponse"`
		Descarga *struct {
			Paquete string `xml:"Paquete"`
		} `xml:"RespuestaDescargaMasivaTercerosSalida"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type descargaHeader struct {
	CodEstatus string `xml:"CodEstatus,attr"`
	Mensaje    string `xml:"Mensaje,attr"`
}

type solicitaResult struct {
	IDSolicitud string `xml:"IdSolicitud,attr"`
	CodEstatus  string `xml:"CodEstatus,attr"`
	Mensaje     string `xml:"Mensaje,attr"`
}

type verificaResult struct {
	CodEstatus            string   `xml:"CodEstatus,attr"`
	EstadoSolicitud       string   `xml:"EstadoSolicitud,attr"`
	CodigoEstadoSolicitud string   `xml:"CodigoEstadoSolicitud,attr"`
	NumeroCFDIs           string   `xml:"NumeroCFDIs,attr"`
	Mensaje               string   `xml:"Mensaje,attr"`
	IdsPaquetes           []string `xml:"IdsPaquetes"`
}
