package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"cfdi-descargas/internal/domain"
)

const claimsKey = "session_claims"

var errInvalidSession = errors.New("invalid session token")

// SessionConfig controls the login cookie.
type SessionConfig struct {
	Secret     []byte
	TTL        time.Duration
	CookieName string
	Secure     bool
	// SameSite is one of none, lax or strict.
	SameSite string
}

// Claims is the payload of the session cookie.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"usuario_id"`
	Email  string `json:"email"`
	Name   string `json:"nombre"`
}

type sessions struct {
	cfg SessionConfig
}

func newSessions(cfg SessionConfig) *sessions {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "sat_session"
	}
	return &sessions{cfg: cfg}
}

func (s *sessions) issue(c *gin.Context, user *domain.User) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
		},
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})

	signed, err := token.SignedString(s.cfg.Secret)
	if err != nil {
		return err
	}
	s.setCookie(c, signed, int(s.cfg.TTL.Seconds()))
	return nil
}

func (s *sessions) clear(c *gin.Context) {
	s.setCookie(c, "", -1)
}

func (s *sessions) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(sameSiteMode(s.cfg.SameSite))
	c.SetCookie(s.cfg.CookieName, value, maxAge, "/", "", s.cfg.Secure, true)
}

func (s *sessions) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID <= 0 {
		return nil, errInvalidSession
	}
	return claims, nil
}

// current returns the claims of a valid session cookie, if any.
func (s *sessions) current(c *gin.Context) (*Claims, bool) {
	if v, ok := c.Get(claimsKey); ok {
		claims, ok := v.(*Claims)
		return claims, ok
	}

	raw, err := c.Cookie(s.cfg.CookieName)
	if err != nil || raw == "" {
		return nil, false
	}
	claims, err := s.parse(raw)
	if err != nil {
		return nil, false
	}
	c.Set(claimsKey, claims)
	return claims, true
}

// require rejects requests without a valid session.
func (s *sessions) require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := s.current(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Debes iniciar sesión"})
			return
		}
		c.Next()
	}
}

func sameSiteMode(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	}
	return http.SameSiteDefaultMode
}
