package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	_ "github.com/jackc/pgx/v5/stdlib"

	"inkwell.pub/internal/auth"
	"inkwell.pub/internal/httpapi"
	"inkwell.pub/internal/oauth"
	"inkwell.pub/internal/obs"
	"inkwell.pub/internal/token"
)

var version = "0.3.1"

// Config is read from the environment. An .env file, when present, is
// loaded first without overriding already-set variables.
type Config struct {
	Addr  string `env:"INKWELL_ADDR" envDefault:":8080"`
	PGDSN string `env:"INKWELL_PG_DSN"`

	JWTPrivateKeyFile string        `env:"INKWELL_JWT_PRIVATE_KEY_FILE,required"`
	JWTPublicKeyFile  string        `env:"INKWELL_JWT_PUBLIC_KEY_FILE,required"`
	JWTIssuer         string        `env:"INKWELL_JWT_ISSUER" envDefault:"inkwell"`
	AccessTTL         time.Duration `env:"INKWELL_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL        time.Duration `env:"INKWELL_REFRESH_TTL" envDefault:"336h"`
	PendingTTL        time.Duration `env:"INKWELL_PENDING_TTL" envDefault:"1h"`

	GoogleClientID     string `env:"INKWELL_GOOGLE_CLIENT_ID,required"`
	GoogleClientSecret string `env:"INKWELL_GOOGLE_CLIENT_SECRET,required"`
	GoogleRedirectURL  string `env:"INKWELL_GOOGLE_REDIRECT_URL,required"`

	CookieDomain string `env:"INKWELL_COOKIE_DOMAIN"`
	CookieSecure bool   `env:"INKWELL_COOKIE_SECURE" envDefault:"true"`

	AppURL      string `env:"INKWELL_APP_URL" envDefault:"/"`
	RegisterURL string `env:"INKWELL_REGISTER_URL" envDefault:"/register"`
	LoginURL    string `env:"INKWELL_LOGIN_URL" envDefault:"/login"`
}

func main() {
	log.SetFlags(0)

	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("INKWELL_COMMIT"))

	// Signing keys are a hard startup requirement: a service that cannot
	// mint or verify tokens must not come up.
	privPEM, err := os.ReadFile(cfg.JWTPrivateKeyFile)
	if err != nil {
		log.Fatalf("read private key: %v", err)
	}
	pubPEM, err := os.ReadFile(cfg.JWTPublicKeyFile)
	if err != nil {
		log.Fatalf("read public key: %v", err)
	}
	codec, err := token.NewCodec(privPEM, pubPEM,
		token.WithIssuer(cfg.JWTIssuer),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithPendingTTL(cfg.PendingTTL),
	)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	var db *sql.DB
	var store auth.Store
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		log.Println("INKWELL_PG_DSN not set, using in-memory store; sessions do not survive restarts")
		store = auth.NewMemoryStore()
	}

	svc, err := auth.NewService(store, codec, auth.WithRefreshTTL(cfg.RefreshTTL))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	provider, err := oauth.NewGoogleProvider(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	cancel()
	if err != nil {
		log.Fatalf("google provider: %v", err)
	}
	flow, err := oauth.NewFlow(provider, svc)
	if err != nil {
		log.Fatalf("oauth flow: %v", err)
	}

	api := httpapi.New(httpapi.Options{
		Auth:        svc,
		Flow:        flow,
		Cookies:     httpapi.CookieConfig{Domain: cfg.CookieDomain, Secure: cfg.CookieSecure},
		Ready:       httpapi.ReadyProbe{DB: db},
		Version:     version,
		AppURL:      cfg.AppURL,
		RegisterURL: cfg.RegisterURL,
		LoginURL:    cfg.LoginURL,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting inkwell-auth %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
