package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/crypto/x509roots/fallback"

	"cfdi-descargas/internal/config"
	"cfdi-descargas/internal/downloader"
	apphttp "cfdi-descargas/internal/http"
	"cfdi-descargas/internal/repository/sqlite"
	"cfdi-descargas/internal/sat"
	"cfdi-descargas/internal/secrets"
	"cfdi-descargas/internal/service"
	"cfdi-descargas/internal/status"
	"cfdi-descargas/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	if strings.TrimSpace(cfg.Session.Secret) == "" {
		logger.Fatalf("session secret is required")
	}
	masterKey, err := cfg.MasterKey()
	if err != nil {
		logger.Fatalf("security master key: %v", err)
	}
	keyring, err := secrets.NewKeyring(masterKey)
	if err != nil {
		logger.Fatalf("security master key: %v", err)
	}
	if !keyring.Enabled() {
		logger.Warn("security master key not set, saving fiscal credentials is disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.OpenAndMigrate(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	credentialRepo := sqlite.NewCredentialRepository(db)
	requestRepo := sqlite.NewRequestRepository(db)

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}
	uploads, err := storage.NewLocalService(cfg.Upload.Dir)
	if err != nil {
		logger.Fatalf("setup upload dir: %v", err)
	}

	satClient := sat.NewClient(sat.Endpoints{
		Auth:      cfg.SAT.AuthURL,
		Solicitud: cfg.SAT.SolicitudURL,
		Verifica:  cfg.SAT.VerificaURL,
		Descarga:  cfg.SAT.DescargaURL,
	}, cfg.SATTimeout())

	manager := downloader.NewManager(downloader.Config{
		TokenTTL:    cfg.TokenTTL(),
		IdleTimeout: cfg.SessionIdle(),
		Logger:      logger,
	}, satClient)
	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start session manager: %v", err)
	}

	userService := service.NewUserService(userRepo)
	credentialService := service.NewCredentialService(credentialRepo, storageSvc, keyring, manager, logger)
	downloadService := service.NewDownloadService(service.DownloadConfig{
		Uploads: uploads,
		Archive: cfg.Download.Archive,
		Status:  status.Options{Issued301AsEmpty: cfg.SAT.Issued301AsEmpty},
		Logger:  logger,
	}, credentialService, requestRepo, manager, storageSvc)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.MaxMultipartMemory = 4 << 20
	handler := apphttp.NewHandler(apphttp.Options{
		Users:       userService,
		Credentials: credentialService,
		Downloads:   downloadService,
		Session: apphttp.SessionConfig{
			Secret:     []byte(cfg.Session.Secret),
			TTL:        cfg.SessionTTL(),
			CookieName: cfg.Session.CookieName,
			Secure:     cfg.Session.Secure,
			SameSite:   cfg.Session.SameSite,
		},
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logger,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	manager.Shutdown()

	logger.Info("bye")
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "", "local":
		local, err := storage.NewLocalService(cfg.Storage.LocalDir)
		if err != nil {
			return nil, err
		}
		logger.Infof("using local storage at %s", cfg.Storage.LocalDir)
		return local, nil
	case "s3":
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	remote, err := storage.NewS3Service(client, storage.S3Options{
		Bucket:           cfg.Storage.Bucket,
		KeyPrefix:        cfg.Storage.KeyPrefix,
		ProgressCallback: storage.NewProgressLogger(logger),
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return remote, nil
}
