package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tannerhall/worldvault/pkg/api"
	authproviders "github.com/tannerhall/worldvault/pkg/auth/providers"
	"github.com/tannerhall/worldvault/pkg/gateway"
	"github.com/tannerhall/worldvault/pkg/lease"
	"github.com/tannerhall/worldvault/pkg/log"
	"github.com/tannerhall/worldvault/pkg/notifications"
	"github.com/tannerhall/worldvault/pkg/objects"
	"github.com/tannerhall/worldvault/pkg/queue"
	"github.com/tannerhall/worldvault/pkg/repositories"
	"github.com/tannerhall/worldvault/pkg/version"
	"github.com/tannerhall/worldvault/pkg/workers"
)

func main() {
	apiPort := flag.Int("api-port", 9090, "Port for the API server")
	logLevel := flag.String("log-level", "info", "Log level")
	sqlitePath := flag.String("sqlite-path", "worldvault.db", "Path to the SQLite database (used when DATABASE_URL is not set)")
	leaseTTL := flag.Duration("lease-ttl", lease.DefaultTTL, "Lease time-to-live")
	reapInterval := flag.Duration("reap-interval", 30*time.Second, "Interval between expired lease sweeps")
	certFile := flag.String("cert-file", "", "Path to the TLS certificate file")
	keyFile := flag.String("key-file", "", "Path to the TLS key file")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting server version %s", version.Get())
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repository repositories.Repository
	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		repository = repositories.NewPostgresRepository(ctx, connStr)
	} else {
		log.Warn("DATABASE_URL is not set, using SQLite database at %s", *sqlitePath)
		repository, err = repositories.NewSQLiteRepository(ctx, *sqlitePath)
		if err != nil {
			panic(fmt.Sprintf("Failed to open SQLite repository: %v", err))
		}
	}
	defer repository.Close(ctx)

	registry := objects.NewRegistry()
	defaultClasses := map[string]objects.Policy{
		"forge": objects.PolicyLeaseGated,
		"chest": objects.PolicyOwnerVersioned,
		"chunk": objects.PolicyVersionedOnly,
	}
	for class, policy := range defaultClasses {
		if err := registry.Register(class, policy); err != nil {
			panic(fmt.Sprintf("Failed to register object class: %v", err))
		}
	}

	leaseManager := lease.NewManager(lease.NewManagerOptions{
		Repository: repository,
		TTL:        *leaseTTL,
	})

	notificationQueue := queue.NewInMemoryQueue(1024)
	hub := notifications.NewHub()

	gw := gateway.NewGateway(gateway.NewGatewayOptions{
		Registry:   registry,
		Repository: repository,
		Leases:     leaseManager,
		Notifier:   notifications.NewQueueNotifier(notificationQueue),
	})

	leaseReaperWorker := workers.NewLeaseReaperWorker(workers.NewLeaseReaperWorkerOptions{
		Repository: repository,
		Interval:   *reapInterval,
	})
	go leaseReaperWorker.Start(ctx)

	notificationWorker := workers.NewNotificationWorker(workers.NewNotificationWorkerOptions{
		Queue: notificationQueue,
		Hub:   hub,
	})
	go notificationWorker.Start(ctx)

	var authProvider authproviders.AuthProvider
	if projectID := os.Getenv("FIREBASE_PROJECT_ID"); projectID != "" {
		authProvider, err = authproviders.NewFirebaseAuthProvider(ctx, projectID, os.Getenv("FIREBASE_API_KEY"))
		if err != nil {
			panic(fmt.Sprintf("Failed to create Firebase auth provider: %v", err))
		}
	} else {
		log.Warn("FIREBASE_PROJECT_ID is not set, using guest auth provider")
		authProvider = &authproviders.GuestAuthProvider{}
	}

	var tlsConfig *api.TLSConfig
	if *certFile != "" && *keyFile != "" {
		tlsConfig = &api.TLSConfig{
			CertFile: *certFile,
			KeyFile:  *keyFile,
		}
	}

	apiServer := api.NewAPIServer(api.NewAPIServerOptions{
		Port:         *apiPort,
		TLS:          tlsConfig,
		AuthProvider: authProvider,
		Gateway:      gw,
		Hub:          hub,
	})
	go apiServer.Start()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server: %v", err)
	}
}
