package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cfdi-descargas/internal/domain"
	"cfdi-descargas/internal/sat"
	"cfdi-descargas/internal/secrets"
)

// maxCertificateBytes bounds each uploaded .cer/.key file.
const maxCertificateBytes = 1 << 20

var errFileTooLarge = errors.New("file too large")

type FiscalResponse struct {
	RFC             string `json:"rfc"`
	CertificatePath string `json:"certificado_path"`
	KeyPath         string `json:"llave_path"`
	UploadedAt      string `json:"fecha_subida"`
}

// fielForm is the multipart payload shared by both certificate endpoints.
type fielForm struct {
	RFC      string
	Password string
	Cert     []byte
	Key      []byte
}

// missing lists the absent fields in the order they are reported to the user.
func (f fielForm) missing() []string {
	var out []string
	if f.RFC == "" {
		out = append(out, "RFC")
	}
	if f.Password == "" {
		out = append(out, "contraseña")
	}
	if f.Cert == nil {
		out = append(out, "certificado")
	}
	if f.Key == nil {
		out = append(out, "llave")
	}
	return out
}

func readFielForm(c *gin.Context) (fielForm, error) {
	form := fielForm{
		RFC:      domain.NormalizeRFC(c.PostForm("rfc")),
		Password: c.PostForm("password"),
	}
	var err error
	if form.Cert, err = readFormFile(c, "certificado"); err != nil {
		return form, err
	}
	if form.Key, err = readFormFile(c, "llave"); err != nil {
		return form, err
	}
	return form, nil
}

// readFormFile returns nil when the field is absent.
func readFormFile(c *gin.Context, field string) ([]byte, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	if header.Size > maxCertificateBytes {
		return nil, errFileTooLarge
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxCertificateBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	if len(data) > maxCertificateBytes {
		return nil, errFileTooLarge
	}
	return data, nil
}

func (h *Handler) saveFiscal(c *gin.Context) {
	claims, _ := h.sessions.current(c)

	form, err := readFielForm(c)
	if err != nil {
		h.formError(c, err)
		return
	}
	if len(form.missing()) > 0 {
		badRequest(c, "Faltan datos fiscales")
		return
	}
	if !domain.ValidRFC(form.RFC) {
		badRequest(c, "RFC inválido")
		return
	}

	if _, err := h.credentials.Save(c.Request.Context(), claims.UserID, form.RFC, form.Cert, form.Key, form.Password); err != nil {
		if errors.Is(err, secrets.ErrMasterKeyNotSet) {
			h.logger.WithError(err).Error("cannot store fiscal credential without master key")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error al guardar datos fiscales"})
			return
		}
		if errors.Is(err, sat.ErrInvalidFiel) {
			badRequest(c, "Certificados o contraseña inválidos")
			return
		}
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Datos fiscales guardados correctamente"})
}

func (h *Handler) listFiscal(c *gin.Context) {
	claims, _ := h.sessions.current(c)

	creds, err := h.credentials.List(c.Request.Context(), claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := make([]FiscalResponse, len(creds))
	for i := range creds {
		resp[i] = FiscalResponse{
			RFC:             creds[i].RFC,
			CertificatePath: creds[i].CertificatePath,
			KeyPath:         creds[i].KeyPath,
			UploadedAt:      creds[i].UploadedAt.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "datos_fiscales": resp})
}

func (h *Handler) uploadCertificates(c *gin.Context) {
	form, err := readFielForm(c)
	if err != nil {
		h.formError(c, err)
		return
	}
	if missing := form.missing(); len(missing) > 0 {
		badRequest(c, "Faltan: "+strings.Join(missing, ", "))
		return
	}
	if !domain.ValidRFC(form.RFC) {
		badRequest(c, "RFC inválido")
		return
	}

	if err := h.downloads.RegisterUpload(c.Request.Context(), form.RFC, form.Cert, form.Key, form.Password); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Certificados subidos correctamente"})
}

func (h *Handler) formError(c *gin.Context, err error) {
	if errors.Is(err, errFileTooLarge) {
		badRequest(c, "El archivo excede el tamaño permitido")
		return
	}
	h.fail(c, err)
}
