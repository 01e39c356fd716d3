package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cfdi-descargas/internal/service"
)

const (
	messageInternal       = "Error interno del servidor"
	messageProviderFailed = "Error al solicitar descarga"
	requestIDHeader       = "X-Request-ID"
)

// Options carries the dependencies of Handler.
type Options struct {
	Users          service.UserService
	Credentials    service.CredentialService
	Downloads      service.DownloadService
	Session        SessionConfig
	AllowedOrigins []string
	Logger         *logrus.Logger
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users       service.UserService
	credentials service.CredentialService
	downloads   service.DownloadService
	sessions    *sessions
	origins     map[string]struct{}
	logger      *logrus.Logger
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	origins := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		origins[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	return &Handler{
		users:       opts.Users,
		credentials: opts.Credentials,
		downloads:   opts.Downloads,
		sessions:    newSessions(opts.Session),
		origins:     origins,
		logger:      opts.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(recoveryMiddleware(h.logger), requestLogger(h.logger), corsMiddleware(h.origins))

	api := router.Group("/api")
	{
		api.POST("/register", h.register)
		api.POST("/login", h.login)
		api.POST("/logout", h.logout)
		api.GET("/session", h.session)

		api.POST("/subir-certificados", h.uploadCertificates)
		api.POST("/consultar-facturas", h.queryInvoices)
		api.POST("/verificar-solicitud", h.verifyRequest)

		authed := api.Group("", h.sessions.require())
		authed.POST("/guardar-fiscales", h.saveFiscal)
		authed.GET("/obtener-fiscales", h.listFiscal)
		authed.GET("/solicitudes", h.listRequests)

		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
		})
	}
}

func corsMiddleware(origins map[string]struct{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if _, ok := origins[origin]; ok {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Writer.Header().Set("Access-Control-Expose-Headers", "Set-Cookie")
			c.Writer.Header().Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"origin":     c.GetHeader("Origin"),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request failed")
			return
		}
		entry.Info("request handled")
	}
}

func recoveryMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.WithFields(logrus.Fields{
			"path":  c.Request.URL.Path,
			"panic": recovered,
		}).Error("panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": messageInternal})
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": message})
}

// fail maps service errors to the JSON error shape. Unexpected errors are
// logged and reported with a generic message.
func (h *Handler) fail(c *gin.Context, err error) {
	var reqErr *service.RequestError
	switch {
	case errors.As(err, &reqErr):
		badRequest(c, reqErr.Message)
	case errors.Is(err, service.ErrProviderUnavailable):
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": messageProviderFailed})
	default:
		_ = c.Error(err)
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("unexpected error")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": messageInternal})
	}
}
