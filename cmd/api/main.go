package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/mail"
	"gatehouse.org/internal/obs"
)

var (
	version = "0.4.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("GATEHOUSE_PG_DSN")
	if dsn == "" {
		log.Fatal("GATEHOUSE_PG_DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	var dispatcher mail.Dispatcher = mail.LogDispatcher{}
	if smtpAddr := os.Getenv("GATEHOUSE_SMTP_ADDR"); smtpAddr != "" {
		dispatcher = mail.NewSMTPDispatcher(
			smtpAddr,
			envOr("GATEHOUSE_SMTP_FROM", "no-reply@gatehouse.org"),
			os.Getenv("GATEHOUSE_SMTP_USER"),
			os.Getenv("GATEHOUSE_SMTP_PASSWORD"),
		)
	}

	limiter := auth.NewLoginLimiter(
		envInt("GATEHOUSE_LOGIN_MAX_ATTEMPTS", auth.DefaultMaxAttempts),
		envDuration("GATEHOUSE_LOGIN_WINDOW", auth.DefaultAttemptWindow),
		envDuration("GATEHOUSE_LOGIN_LOCKOUT", auth.DefaultLockoutDuration),
	)

	svc := auth.NewService(auth.NewPGStore(db),
		auth.WithLoginLimiter(limiter),
		auth.WithMailer(dispatcher),
		auth.WithSessionTTL(envDuration("GATEHOUSE_SESSION_TTL", 0)),
		auth.WithResetTTL(envDuration("GATEHOUSE_RESET_TTL", 0)),
		auth.WithVerificationTTL(envDuration("GATEHOUSE_VERIFICATION_TTL", 0)),
		auth.WithRefreshThreshold(envDuration("GATEHOUSE_REFRESH_THRESHOLD", 0)),
		auth.WithMaxSessions(envInt("GATEHOUSE_MAX_SESSIONS", -1)),
		auth.WithBcryptCost(envInt("GATEHOUSE_BCRYPT_COST", 0)),
		auth.WithAutoVerify(os.Getenv("GATEHOUSE_AUTO_VERIFY") == "true"),
	)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc)

	addr := envOr("GATEHOUSE_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Hourly storage reclamation plus limiter sweep. Best effort only;
	// validity never depends on it.
	cleanupStop := make(chan struct{})
	go func() {
		interval := envDuration("GATEHOUSE_CLEANUP_INTERVAL", time.Hour)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCleanup(svc)
			case <-cleanupStop:
				return
			}
		}
	}()

	log.Printf("Starting gatehouse-api %s on %s", version, addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	close(cleanupStop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}

func runCleanup(svc *auth.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if n, err := svc.CleanupSessions(ctx); err != nil {
		log.Printf("cleanup sessions: %v", err)
	} else if n > 0 {
		log.Printf("cleanup sessions: removed %d", n)
	}
	if n, err := svc.CleanupResetTokens(ctx); err != nil {
		log.Printf("cleanup reset tokens: %v", err)
	} else if n > 0 {
		log.Printf("cleanup reset tokens: removed %d", n)
	}
	if n, err := svc.CleanupVerificationTokens(ctx); err != nil {
		log.Printf("cleanup verification tokens: %v", err)
	} else if n > 0 {
		log.Printf("cleanup verification tokens: removed %d", n)
	}
	svc.Limiter().Sweep()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("invalid %s=%q, using default", key, os.Getenv(key))
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("invalid %s=%q, using default", key, os.Getenv(key))
	}
	return fallback
}
