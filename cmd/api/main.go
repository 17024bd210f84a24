package main

import (
	"context"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"clinvault.org/internal/audit"
	"clinvault.org/internal/auth"
	"clinvault.org/internal/authz"
	"clinvault.org/internal/httpapi"
	"clinvault.org/internal/notify"
	"clinvault.org/internal/obs"
	"clinvault.org/internal/records"
	"clinvault.org/internal/store/memory"
	"clinvault.org/internal/store/pg"
)

var version = "0.3.1"

// stores is the slice of the backing store the services consume. Both the
// Postgres and the in-memory store satisfy it.
type stores interface {
	Accounts() auth.AccountStore
	Roles() auth.RoleStore
	Results() records.Store
	Audit() audit.Store
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("CLINVAULT_COMMIT"))

	secret := os.Getenv("CLINVAULT_AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing CLINVAULT_AUTH_SECRET")
	}
	auditKey, err := hex.DecodeString(os.Getenv("CLINVAULT_AUDIT_KEY"))
	if err != nil || len(auditKey) == 0 {
		log.Fatal("CLINVAULT_AUDIT_KEY must be a hex-encoded 16, 24 or 32 byte key")
	}

	var (
		st    stores
		ready httpapi.Pinger
	)
	if dsn := os.Getenv("CLINVAULT_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		st = pgStore
		ready = pgStore
	} else {
		log.Print("CLINVAULT_PG_DSN not set, using in-memory store")
		st = memory.New()
	}

	authSvc, err := auth.NewService(st.Accounts(), st.Roles(), notify.LogNotifier{}, []byte(secret),
		auth.WithIssuer("clinvault"),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := authSvc.EnsureBuiltinRoles(ctx); err != nil {
		cancel()
		log.Fatalf("ensure roles: %v", err)
	}
	cancel()

	cipher, err := audit.NewCipher(auditKey)
	if err != nil {
		log.Fatalf("audit cipher: %v", err)
	}
	trail := audit.NewTrail(cipher, st.Audit())

	loc, err := time.LoadLocation(envOr("CLINVAULT_RUBAC_TZ", "UTC"))
	if err != nil {
		log.Fatalf("load timezone: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Auth:    authSvc,
		Records: records.NewService(st.Results()),
		Trail:   trail,
		ReadChain: authz.Chain{
			authz.Clearance{},
			authz.Ownership{},
			authz.Attribute{},
		},
		UploadChain: authz.Chain{
			authz.RolePermission{Mode: authz.AllPermissions, Required: []string{auth.PermUploadResults}},
			authz.TimeWindow{
				RestrictedRole: auth.RoleLabTech,
				StartHour:      envInt("CLINVAULT_RUBAC_START_HOUR", 6),
				EndHour:        envInt("CLINVAULT_RUBAC_END_HOUR", 22),
				Location:       loc,
			},
		},
		Ready:   ready,
		Version: version,
	})

	srv := &http.Server{
		Addr: envOr("CLINVAULT_ADDR", ":8080"),
		Handler: api.Handler(
			envInt("CLINVAULT_RATE_PER_SECOND", 10),
			envInt("CLINVAULT_RATE_BURST", 20),
			int64(envInt("CLINVAULT_MAX_BODY_BYTES", 1<<20)),
		),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting clinvault-api %s on %s", version, srv.Addr)

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
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s must be an integer, got %q", key, v)
	}
	return n
}
