package config

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Storage struct {
		Backend   string
		LocalDir  string
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Upload struct {
		Dir string
	}
	Download struct {
		Archive bool
	}
	Session struct {
		Secret     string
		TTLMinutes int
		CookieName string
		Secure     bool
		SameSite   string
	}
	CORS struct {
		AllowedOrigins []string
	}
	Security struct {
		MasterKey string
	}
	SAT struct {
		AuthURL            string
		SolicitudURL       string
		VerificaURL        string
		DescargaURL        string
		TimeoutSeconds     int
		TokenTTLSeconds    int
		SessionIdleMinutes int
		Issued301AsEmpty   bool
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("CFDI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.CORS.AllowedOrigins = splitList(strings.Join(cfg.CORS.AllowedOrigins, ","))

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:5001")
	v.SetDefault("database.path", "data/sat_users.db")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.localdir", "data/certificados_usuarios")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "cfdi-descargas")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("upload.dir", "data/certificados")
	v.SetDefault("download.archive", false)
	v.SetDefault("session.secret", "")
	v.SetDefault("session.ttlminutes", 24*60)
	v.SetDefault("session.cookiename", "sat_session")
	v.SetDefault("session.secure", true)
	v.SetDefault("session.samesite", "none")
	v.SetDefault("cors.allowedorigins", []string{"http://localhost", "http://127.0.0.1"})
	v.SetDefault("security.masterkey", "")
	v.SetDefault("sat.authurl", "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/Autenticacion/Autenticacion.svc")
	v.SetDefault("sat.solicitudurl", "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/SolicitaDescargaService.svc")
	v.SetDefault("sat.verificaurl", "https://cfdidescargamasivasolicitud.clouda.sat.gob.mx/VerificaSolicitudDescargaService.svc")
	v.SetDefault("sat.descargaurl", "https://cfdidescargamasiva.clouda.sat.gob.mx/DescargaMasivaService.svc")
	v.SetDefault("sat.timeoutseconds", 60)
	v.SetDefault("sat.tokenttlseconds", 270)
	v.SetDefault("sat.sessionidleminutes", 60)
	v.SetDefault("sat.issued301asempty", true)
	v.SetDefault("log.level", "info")
}

// MasterKey decodes the base64 envelope master key. An empty setting yields nil.
func (c Config) MasterKey() ([]byte, error) {
	raw := strings.TrimSpace(c.Security.MasterKey)
	if raw == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SessionTTL is the lifetime of a login session.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

// SATTimeout bounds every call to the SAT web services.
func (c Config) SATTimeout() time.Duration {
	return time.Duration(c.SAT.TimeoutSeconds) * time.Second
}

// TokenTTL is how long a SAT token is reused before re-authenticating.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.SAT.TokenTTLSeconds) * time.Second
}

// SessionIdle is how long an unused RFC session stays cached.
func (c Config) SessionIdle() time.Duration {
	return time.Duration(c.SAT.SessionIdleMinutes) * time.Minute
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
