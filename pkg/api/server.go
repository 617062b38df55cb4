package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tannerhall/worldvault/pkg/api/handlers"
	"github.com/tannerhall/worldvault/pkg/api/middleware"
	authproviders "github.com/tannerhall/worldvault/pkg/auth/providers"
	"github.com/tannerhall/worldvault/pkg/gateway"
	"github.com/tannerhall/worldvault/pkg/log"
	"github.com/tannerhall/worldvault/pkg/notifications"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port         int
	TLS          *TLSConfig
	AuthProvider authproviders.AuthProvider
	Gateway      *gateway.Gateway
	Hub          *notifications.Hub
}

// NewAPIServer creates a new http.Server for handling API requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts.AuthProvider, opts.Gateway, opts.Hub),
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// NewRouter builds the API routes. State and lock routes require a bearer
// token; the notifications socket is an unauthenticated read-only feed.
func NewRouter(authProvider authproviders.AuthProvider, gw *gateway.Gateway, hub *notifications.Hub) *mux.Router {
	authMiddleware := middleware.NewAuthMiddleware(authProvider)

	router := mux.NewRouter()
	authed := router.NewRoute().Subrouter()
	authed.Use(authMiddleware)
	authed.HandleFunc("/state", handlers.HandleLoadState(gw)).Methods(http.MethodGet)
	authed.HandleFunc("/state", handlers.HandleSaveState(gw)).Methods(http.MethodPut)
	authed.HandleFunc("/lock/status", handlers.HandleLockStatus(gw)).Methods(http.MethodGet)
	authed.HandleFunc("/lock/renew", handlers.HandleRenewLock(gw)).Methods(http.MethodPost)
	authed.HandleFunc("/lock/release", handlers.HandleReleaseLock(gw)).Methods(http.MethodPost)

	if hub != nil {
		router.HandleFunc("/notifications", hub.HandleSubscribe).Methods(http.MethodGet)
	}

	return router
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
