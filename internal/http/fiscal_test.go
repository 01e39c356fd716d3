package http

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfdi-descargas/internal/domain"
	"cfdi-descargas/internal/sat"
	"cfdi-descargas/internal/secrets"
	"cfdi-descargas/internal/service"
)

var fielFiles = map[string][]byte{
	"certificado": []byte("cert"),
	"llave":       []byte("key"),
}

func TestSaveFiscal(t *testing.T) {
	t.Run("requires session", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(multipartRequest(t, "/api/guardar-fiscales", map[string]string{"rfc": "AAA010101AAA"}, fielFiles))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Debes iniciar sesión", decode(t, rec)["message"])
	})

	tests := []struct {
		name       string
		fields     map[string]string
		files      map[string][]byte
		saveErr    error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "missing data",
			fields:     map[string]string{"rfc": "AAA010101AAA"},
			files:      fielFiles,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Faltan datos fiscales",
		},
		{
			name:       "short rfc",
			fields:     map[string]string{"rfc": "AAA0101", "password": "p"},
			files:      fielFiles,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "RFC inválido",
		},
		{
			name:       "no master key",
			fields:     map[string]string{"rfc": "AAA010101AAA", "password": "p"},
			files:      fielFiles,
			saveErr:    secrets.ErrMasterKeyNotSet,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "Error al guardar datos fiscales",
		},
		{
			name:       "invalid fiel",
			fields:     map[string]string{"rfc": "AAA010101AAA", "password": "p"},
			files:      fielFiles,
			saveErr:    fmt.Errorf("%w: parse certificate", sat.ErrInvalidFiel),
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Certificados o contraseña inválidos",
		},
		{
			name:       "saved",
			fields:     map[string]string{"rfc": "aaa010101aaa", "password": "p"},
			files:      fielFiles,
			wantStatus: http.StatusOK,
			wantMsg:    "Datos fiscales guardados correctamente",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			var gotUser int64
			var gotRFC string
			ts.creds.SaveFunc = func(_ context.Context, userID int64, rfc string, cert, key []byte, _ string) (*domain.FiscalCredential, error) {
				gotUser, gotRFC = userID, rfc
				assert.Equal(t, []byte("cert"), cert)
				assert.Equal(t, []byte("key"), key)
				if tt.saveErr != nil {
					return nil, tt.saveErr
				}
				return &domain.FiscalCredential{ID: 1, UserID: userID, RFC: rfc}, nil
			}

			rec := ts.do(withSession(t, multipartRequest(t, "/api/guardar-fiscales", tt.fields, tt.files), 9))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, decode(t, rec)["message"])
			if tt.wantStatus == http.StatusOK {
				assert.EqualValues(t, 9, gotUser)
				assert.Equal(t, "AAA010101AAA", gotRFC)
			}
		})
	}
}

func TestListFiscal(t *testing.T) {
	ts := newTestServer(t)
	uploaded := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ts.creds.ListFunc = func(_ context.Context, userID int64) ([]domain.FiscalCredential, error) {
		assert.EqualValues(t, 4, userID)
		return []domain.FiscalCredential{{
			RFC:                  "AAA010101AAA",
			CertificatePath:      "4/AAA010101AAA.cer",
			KeyPath:              "4/AAA010101AAA.key",
			PassphraseCiphertext: "secret",
			UploadedAt:           uploaded,
		}}, nil
	}

	rec := ts.do(withSession(t, jsonRequest(t, http.MethodGet, "/api/obtener-fiscales", nil), 4))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	items := decode(t, rec)["datos_fiscales"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "AAA010101AAA", item["rfc"])
	assert.Equal(t, "4/AAA010101AAA.cer", item["certificado_path"])
	assert.Equal(t, "4/AAA010101AAA.key", item["llave_path"])
	assert.Equal(t, "2024-05-01T12:00:00Z", item["fecha_subida"])
}

func TestUploadCertificates(t *testing.T) {
	tests := []struct {
		name       string
		fields     map[string]string
		files      map[string][]byte
		uploadErr  error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "itemized missing fields",
			fields:     map[string]string{"rfc": "AAA010101AAA"},
			files:      map[string][]byte{"certificado": []byte("cert")},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Faltan: contraseña, llave",
		},
		{
			name:       "everything missing",
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Faltan: RFC, contraseña, certificado, llave",
		},
		{
			name:       "invalid fiel",
			fields:     map[string]string{"rfc": "AAA010101AAA", "password": "p"},
			files:      fielFiles,
			uploadErr:  &service.RequestError{Message: "Certificados o contraseña inválidos"},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Certificados o contraseña inválidos",
		},
		{
			name:       "uploaded",
			fields:     map[string]string{"rfc": "AAA010101AAA", "password": "p"},
			files:      fielFiles,
			wantStatus: http.StatusOK,
			wantMsg:    "Certificados subidos correctamente",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.downloads.RegisterUploadFunc = func(_ context.Context, rfc string, _, _ []byte, passphrase string) error {
				assert.Equal(t, "AAA010101AAA", rfc)
				assert.Equal(t, "p", passphrase)
				return tt.uploadErr
			}

			rec := ts.do(multipartRequest(t, "/api/subir-certificados", tt.fields, tt.files))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, decode(t, rec)["message"])
		})
	}
}
