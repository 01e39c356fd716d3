package sattest

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cfdi-descargas/internal/sat"
)

// Call is one request received by the fake server.
type Call struct {
	Action        string
	Authorization string
	Body          string
}

// Server fakes the four SAT endpoints on a single httptest server.
// Configure the exported fields before issuing requests.
type Server struct {
	*httptest.Server

	mu    sync.Mutex
	calls []Call

	Token string

	RequestID     string
	SubmitCode    string
	SubmitMessage string

	VerifyCode   string
	RequestState string
	CFDICount    int
	PackageIDs   []string

	// Packages maps package ids to raw ZIP bytes. Unknown ids answer with a SOAP fault.
	Packages map[string][]byte

	AuthFault bool
}

func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		Token:         "test-token",
		RequestID:     "11111111-2222-3333-4444-555555555555",
		SubmitCode:    "5000",
		SubmitMessage: "Solicitud Aceptada",
		VerifyCode:    "5000",
		RequestState:  sat.RequestStateFinished,
		Packages:      map[string][]byte{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Endpoints points every SAT service at this server.
func (s *Server) Endpoints() sat.Endpoints {
	return sat.Endpoints{
		Auth:      s.URL + "/Autenticacion/Autenticacion.svc",
		Solicitud: s.URL + "/SolicitaDescargaService.svc",
		Verifica:  s.URL + "/VerificaSolicitudDescargaService.svc",
		Descarga:  s.URL + "/DescargaMasivaService.svc",
	}
}

// Calls returns the requests received so far whose SOAPAction ends with suffix.
func (s *Server) Calls(suffix string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Call
	for _, c := range s.calls {
		if strings.HasSuffix(c.Action, suffix) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	action := r.Header.Get("SOAPAction")

	s.mu.Lock()
	s.calls = append(s.calls, Call{Action: action, Authorization: r.Header.Get("Authorization"), Body: string(body)})
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")

	switch {
	case strings.HasSuffix(action, "/Autentica"):
		if s.AuthFault {
			writeFault(w, "a:InvalidSecurity", "An error occurred when verifying security for the message.")
			return
		}
		writeEnvelope(w, "", `<AutenticaResponse xmlns="http://DescargaMasivaTerceros.gob.mx"><AutenticaResult>`+
			s.Token+`</AutenticaResult></AutenticaResponse>`)
	case strings.HasSuffix(action, "/SolicitaDescargaEmitidos"), strings.HasSuffix(action, "/SolicitaDescargaRecibidos"):
		op := action[strings.LastIndex(action, "/")+1:]
		writeEnvelope(w, "", fmt.Sprintf(
			`<%sResponse xmlns="http://DescargaMasivaTerceros.sat.gob.mx"><%sResult IdSolicitud="%s" CodEstatus="%s" Mensaje="%s"/></%sResponse>`,
			op, op, s.RequestID, s.SubmitCode, escape(s.SubmitMessage), op,
		))
	case strings.HasSuffix(action, "/VerificaSolicitudDescarga"):
		var ids strings.Builder
		for _, id := range s.PackageIDs {
			ids.WriteString("<IdsPaquetes>" + id + "</IdsPaquetes>")
		}
		writeEnvelope(w, "", fmt.Sprintf(
			`<VerificaSolicitudDescargaResponse xmlns="http://DescargaMasivaTerceros.sat.gob.mx"><VerificaSolicitudDescargaResult CodEstatus="%s" EstadoSolicitud="%s" CodigoEstadoSolicitud="5000" NumeroCFDIs="%d" Mensaje="Solicitud Aceptada">%s</VerificaSolicitudDescargaResult></VerificaSolicitudDescargaResponse>`,
			s.VerifyCode, s.RequestState, s.CFDICount, ids.String(),
		))
	case strings.HasSuffix(action, "/Descargar"):
		id := AttrValue(string(body), "IdPaquete")
		data, ok := s.Packages[id]
		if !ok {
			writeFault(w, "s:Client", "paquete no encontrado")
			return
		}
		writeEnvelope(w,
			`<h:respuesta xmlns:h="http://DescargaMasivaTerceros.sat.gob.mx" CodEstatus="5000" Mensaje="Solicitud Aceptada"/>`,
			`<RespuestaDescargaMasivaTercerosSalida xmlns="http://DescargaMasivaTerceros.sat.gob.mx"><Paquete>`+
				base64.StdEncoding.EncodeToString(data)+`</Paquete></RespuestaDescargaMasivaTercerosSalida>`)
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
	}
}

func writeEnvelope(w http.ResponseWriter, header, body string) {
	_, _ = io.WriteString(w, `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Header>`+
		header+`</s:Header><s:Body>`+body+`</s:Body></s:Envelope>`)
}

func writeFault(w http.ResponseWriter, code, message string) {
	w.WriteHeader(http.StatusInternalServerError)
	writeEnvelope(w, "", `<s:Fault><faultcode>`+code+`</faultcode><faultstring>`+escape(message)+`</faultstring></s:Fault>`)
}

func escape(v string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(v))
	return b.String()
}

// AttrValue extracts the first occurrence of name="value" from raw XML.
func AttrValue(raw, name string) string {
	marker := name + `="`
	i := strings.Index(raw, marker)
	if i < 0 {
		return ""
	}
	rest := raw[i+len(marker):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return ""
	}
	return rest[:j]
}
