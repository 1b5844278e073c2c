package server

import (
	"context"
	"embed"
	"html/template"
	"kniffel/internal/broadcast"
	"kniffel/internal/node"
	"kniffel/internal/wshub"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templatesFS embed.FS

type Server struct {
	node      *node.Node
	hub       *wshub.Hub
	events    *broadcast.Broadcaster
	publicURL string
	tmpl      *template.Template
	log       zerolog.Logger
	// ctx outlives requests; connects started from a share link run on it.
	ctx context.Context
}

func New(ctx context.Context, n *node.Node, publicURL string, log zerolog.Logger) *Server {
	funcMap := template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}
	return &Server{
		node:      n,
		hub:       wshub.NewHub(log),
		events:    broadcast.NewBroadcaster(),
		publicURL: publicURL,
		tmpl:      template.Must(template.New("").Funcs(funcMap).ParseFS(templatesFS, "templates/*.html")),
		log:       log.With().Str("component", "server").Logger(),
		ctx:       ctx,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimid.RequestID)
	r.Use(chimid.Recoverer)
	r.Use(accessLog(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.node.Registry, promhttp.HandlerOpts{}))
	r.Get("/ws", s.handleWS)
	r.Get("/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(compression)

		r.Get("/", s.handleHome)

		r.Route("/api", func(r chi.Router) {
			r.Get("/state", s.handleState)
			r.Post("/players", s.handleAddPlayer)
			r.Delete("/players/{id}", s.handleRemovePlayer)
			r.Put("/players/{id}/name", s.handleRenamePlayer)
			r.Patch("/players/{id}/cells/{section}/{field}", s.handleUpdateCell)
			r.Post("/game/reset", s.handleReset)
			r.Post("/game/revanche", s.handleRevanche)

			r.Get("/peers", s.handlePeers)
			r.Post("/peers", s.handleConnect)
			r.Post("/peers/reset", s.handleResetPeerID)
			r.Delete("/peers/{id}", s.handleRemovePeer)

			r.Get("/share/settings", s.handleShareSettings)
			r.Put("/share/settings", s.handleUpdateShareSettings)
			r.Get("/share/link", s.handleShareLink)
			r.Get("/share/qr", s.handleShareQR)
			r.Get("/export", s.handleExport)
		})
	})
	return r
}
