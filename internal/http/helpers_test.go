package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-session-secret")

type testServer struct {
	router    *gin.Engine
	users     *fakeUsers
	creds     *fakeCredentials
	downloads *fakeDownloads
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, _ := test.NewNullLogger()
	ts := &testServer{
		users:     &fakeUsers{},
		creds:     &fakeCredentials{},
		downloads: &fakeDownloads{},
	}
	h := NewHandler(Options{
		Users:       ts.users,
		Credentials: ts.creds,
		Downloads:   ts.downloads,
		Session: SessionConfig{
			Secret:     testSecret,
			TTL:        time.Hour,
			CookieName: "sat_session",
			Secure:     true,
			SameSite:   "none",
		},
		AllowedOrigins: []string{"http://localhost"},
		Logger:         logger,
	})
	ts.router = gin.New()
	h.RegisterRoutes(ts.router)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for k, data := range files {
		part, err := w.CreateFormFile(k, k+".bin")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

// withSession attaches a valid session cookie for userID.
func withSession(t *testing.T, req *http.Request, userID int64) *http.Request {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: userID,
		Email:  "ana@example.com",
		Name:   "Ana",
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "sat_session", Value: signed})
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
