package main

import (
	"context"
	"encoding/base64"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"velarr/internal/cascade"
	"velarr/internal/crypto"
	"velarr/internal/lifecycle"
	"velarr/internal/media"
	"velarr/internal/orchestrator"
	"velarr/internal/requestintake"
	"velarr/internal/store"
	"velarr/internal/sync"
)

var Version = "dev"

func main() {
	dbPath := envOr("DB_PATH", "./data/velarr.db")
	migrationsDir := envOr("MIGRATIONS_DIR", "./internal/store/migrations")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatal(err)
	}

	var storeOpts []store.Option
	if secret := os.Getenv("TOKEN_ENCRYPTION_KEY"); secret != "" {
		enc, err := newEncryptor(secret)
		if err != nil {
			log.Fatalf("invalid TOKEN_ENCRYPTION_KEY: %v", err)
		}
		storeOpts = append(storeOpts, store.WithEncryptor(enc))
		log.Println("API key encryption enabled")
	} else {
		log.Println("TOKEN_ENCRYPTION_KEY not set — adapter API keys stored in plain text")
	}

	s, err := store.New(dbPath, storeOpts...)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(migrationsDir); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	seedIntegrationConfigs(s)

	msCfg, err := s.GetMediaServerConfig()
	if err != nil {
		log.Fatalf("loading media server config: %v", err)
	}
	if msCfg.URL == "" || msCfg.APIKey == "" {
		log.Fatal("media server not configured: set MEDIA_SERVER_URL and MEDIA_SERVER_TOKEN")
	}
	ms, err := media.NewServer(envOr("MEDIA_SERVER_TYPE", media.ServerTypePlex), msCfg.URL, msCfg.APIKey)
	if err != nil {
		log.Fatalf("creating media server adapter: %v", err)
	}

	syncOpts := []sync.Option{}
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= time.Second {
			syncOpts = append(syncOpts, sync.WithInterval(d))
		}
	}
	if intakeCfg, err := s.GetRequestIntakeConfig(); err == nil && intakeCfg.URL != "" && intakeCfg.APIKey != "" && intakeCfg.Enabled {
		intake, err := requestintake.NewClient(intakeCfg.URL, intakeCfg.APIKey)
		if err != nil {
			log.Printf("request intake disabled: %v", err)
		} else {
			syncOpts = append(syncOpts, sync.WithIntake(intake))
			log.Println("Request intake integration enabled")
		}
	}
	syncer := sync.New(s, ms, syncOpts...)

	analyzer := lifecycle.NewService(s)
	deleter := cascade.NewDeleter(s, ms)

	cfg := orchestrator.DefaultConfig()
	cfg.Timezone = os.Getenv("TZ")
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= time.Second {
			cfg.SyncEvery = d
		}
	}
	orch := orchestrator.New(s, syncer, analyzer, deleter, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		log.Fatalf("starting orchestrator: %v", err)
	}
	defer orch.Stop()

	log.Printf("velarr %s running (db %s)", Version, dbPath)
	<-ctx.Done()
	log.Println("Shutting down...")
}

// newEncryptor accepts either a base64-encoded 32-byte key or an arbitrary
// passphrase to stretch.
func newEncryptor(secret string) (*crypto.Encryptor, error) {
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == 32 {
		return crypto.NewEncryptor(secret)
	}
	return crypto.NewEncryptorFromPassphrase(secret)
}

// seedIntegrationConfigs copies endpoint settings from the environment into
// the settings table on first boot, so a container can be configured purely
// through env vars. Values already in the table win.
func seedIntegrationConfigs(s *store.Store) {
	seed := func(name string, get func() (store.IntegrationConfig, error), set func(store.IntegrationConfig) error, urlEnv, keyEnv string) {
		url, key := os.Getenv(urlEnv), os.Getenv(keyEnv)
		if url == "" && key == "" {
			return
		}
		existing, err := get()
		if err != nil {
			log.Printf("reading %s config: %v", name, err)
			return
		}
		if existing.URL != "" {
			return
		}
		if err := set(store.IntegrationConfig{URL: url, APIKey: key, Enabled: true}); err != nil {
			log.Printf("seeding %s config: %v", name, err)
			return
		}
		log.Printf("%s configured from environment", name)
	}

	seed("media server", s.GetMediaServerConfig, s.SetMediaServerConfig, "MEDIA_SERVER_URL", "MEDIA_SERVER_TOKEN")
	seed("sonarr", s.GetSonarrConfig, s.SetSonarrConfig, "SONARR_URL", "SONARR_API_KEY")
	seed("radarr", s.GetRadarrConfig, s.SetRadarrConfig, "RADARR_URL", "RADARR_API_KEY")
	seed("request intake", s.GetRequestIntakeConfig, s.SetRequestIntakeConfig, "INTAKE_URL", "INTAKE_API_KEY")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
