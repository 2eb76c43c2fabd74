// Copyright 2025 OmniFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"omniflow/platform/connectors/base"
	"omniflow/platform/connectors/breaker"
	"omniflow/platform/connectors/config"
	"omniflow/platform/connectors/manager"
	"omniflow/platform/connectors/oauth"
	"omniflow/platform/connectors/oauthstate"
	"omniflow/platform/connectors/providers"
	"omniflow/platform/connectors/storage"
	"omniflow/platform/connectors/vault"
)

// Server owns the HTTP surface and the wired-up connector stack.
type Server struct {
	cfg     *config.Config
	manager *manager.Manager
	router  *mux.Router
	store   storage.Store
	logger  *log.Logger
}

// NewServer wires storage, vault, OAuth, breaker, and adapters per the
// configuration and mounts the HTTP routes.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := log.New(log.Writer(), "[ConnectorAPI] ", log.LstdFlags)

	v, err := buildVault(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	states, err := buildStateStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	adapters := providers.NewRegistry()
	adapters.Register(providers.NewGBPAdapter())
	adapters.Register(providers.NewMetaAdapter())
	adapters.Register(providers.NewLinkedInAdapter())

	broker := oauth.NewMockBroker()
	if cfg.Mode == base.ModeLive {
		broker = oauth.NewBroker(cfg.OAuthApps)
	}

	retry := cfg.Retry
	m := manager.New(manager.Options{
		Store:             store,
		Vault:             v,
		Breakers:          breaker.NewRegistry(cfg.Breaker),
		Adapters:          adapters,
		Broker:            broker,
		States:            states,
		Retry:             &retry,
		LiveTimeout:       cfg.LiveTimeout,
		ServerMode:        cfg.Mode,
		RedirectAllowList: cfg.RedirectAllowList,
	})

	s := &Server{
		cfg:     cfg,
		manager: m,
		router:  mux.NewRouter(),
		store:   store,
		logger:  logger,
	}
	s.routes()
	return s, nil
}

func buildVault(ctx context.Context, cfg *config.Config) (*vault.Vault, error) {
	var source vault.KeySource
	if cfg.TokenKeySecretARN != "" {
		source = &vault.AWSKeySource{SecretARN: cfg.TokenKeySecretARN, Region: cfg.AWSRegion}
	} else {
		source = vault.EnvKeySource{}
	}

	key, err := source.Key(ctx)
	if err != nil {
		return nil, fmt.Errorf("load token encryption key: %w", err)
	}

	retired := make(map[string][]byte, len(cfg.RetiredKeys))
	for version, hexKey := range cfg.RetiredKeys {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, &base.ConfigError{Field: "retired_keys." + version, Message: "must be hex"}
		}
		retired[version] = raw
	}

	return vault.New(key, retired)
}

func buildStore(cfg *config.Config) (storage.Store, error) {
	if cfg.DatabaseURL == "" {
		// Mock-mode development runs without PostgreSQL.
		return storage.NewMemoryStore(), nil
	}
	return storage.NewPostgresStore(cfg.DatabaseURL)
}

func buildStateStore(ctx context.Context, cfg *config.Config) (oauthstate.Store, error) {
	if cfg.RedisURL == "" {
		return oauthstate.NewMemoryStore(cfg.StateTTL), nil
	}
	addr := strings.TrimPrefix(cfg.RedisURL, "redis://")
	return oauthstate.NewRedisStore(ctx, oauthstate.RedisOptions{
		Addr: addr,
		TTL:  cfg.StateTTL,
	})
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.Handle("/prometheus", promhttp.Handler()).Methods("GET")
	NewHandler(s.manager).RegisterRoutes(s.router)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"service":   "omniflow-connectors",
		"mode":      string(s.cfg.Mode),
		"timestamp": time.Now().UTC(),
	})
}

// Handler returns the fully-mounted HTTP handler, CORS included.
func (s *Server) Handler() http.Handler {
	corsOptions := cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Org-ID"},
		AllowCredentials: true,
	}
	if len(corsOptions.AllowedOrigins) == 0 {
		corsOptions.AllowedOrigins = []string{"*"}
		corsOptions.AllowCredentials = false
	}
	return cors.New(corsOptions).Handler(s.router)
}

// Run blocks serving HTTP until the listener fails.
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Printf("Connector service listening on %s (mode: %s)", addr, s.cfg.Mode)
	return http.ListenAndServe(addr, s.Handler())
}

// Close releases the server's storage resources.
func (s *Server) Close() error {
	return s.store.Close()
}

// Run loads configuration, builds the server, and serves until exit.
// This is the entry point used by cmd/connectord.
func Run() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	server, err := NewServer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Startup error: %v", err)
	}
	defer server.Close()

	if err := server.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
