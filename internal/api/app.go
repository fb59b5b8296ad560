package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"dmchat/internal/config"
	"dmchat/internal/database"
	"dmchat/internal/server"
	"dmchat/internal/stats"
)

type DmChatApp struct {
	log             *log.Logger
	db              database.DmChatRepository
	mux             *http.Server
	registry        *server.Registry
	dispatcher      *server.Dispatcher
	stats           stats.StatsProvider
	signingKey      []byte
	allowedOrigins  []string
	generateShortId func() (string, error)
}

func NewDmChatApp(mux *http.ServeMux, logger *log.Logger, registry *server.Registry,
	dispatcher *server.Dispatcher, db database.DmChatRepository, su stats.StatsProvider,
	cfg *config.Config) *DmChatApp {
	s := &DmChatApp{
		log:             logger,
		db:              db,
		registry:        registry,
		dispatcher:      dispatcher,
		stats:           su,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	su.RegisterMetric(stats.MessagesSent)
	su.RegisterMetric(stats.ContactsAdded)

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/users/search", s.authMiddleware(s.searchUsers))
	mux.HandleFunc("POST /api/contacts", s.authMiddleware(s.addContact))
	mux.HandleFunc("GET /api/contacts", s.authMiddleware(s.listContacts))
	mux.HandleFunc("DELETE /api/contacts", s.authMiddleware(s.removeContact))
	mux.HandleFunc("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.HandleFunc("GET /api/messages", s.authMiddleware(s.getConversation))
	mux.HandleFunc("GET /api/unread", s.authMiddleware(s.unreadCounts))
	mux.HandleFunc("GET /api/stream", s.authMiddleware(s.serveStream))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *DmChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *DmChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
