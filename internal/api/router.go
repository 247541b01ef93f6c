package api

import (
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/go-chi/chi/v5"

	"github.com/daap14/teamsync/internal/api/handler"
	"github.com/daap14/teamsync/internal/api/middleware"
)

// Service is everything the router needs from the team service.
type Service interface {
	handler.TeamService
	handler.TeamBrowser
	handler.StatsSource
}

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Service     Service
	Directory   handler.Directory
	Auth        middleware.Authenticator
	Feed        *handler.FeedHub
	Store       handler.Pinger
	Broker      handler.Pinger
	Bus         handler.DropCounter
	ServerID    string
	Version     string
	OpenAPISpec []byte
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)

	health := handler.HealthDeps{
		Store:    deps.Store,
		Broker:   deps.Broker,
		Bus:      deps.Bus,
		ServerID: deps.ServerID,
		Version:  deps.Version,
	}
	if deps.Service != nil {
		health.Stats = deps.Service
	}
	healthHandler := handler.NewHealthHandler(health)
	r.Get("/health", healthHandler.ServeHTTP)

	if len(deps.OpenAPISpec) > 0 {
		openapiHandler := handler.NewOpenAPIHandler(deps.OpenAPISpec)
		r.Get("/openapi.json", openapiHandler.ServeHTTP)
	}

	if deps.Service == nil || deps.Auth == nil {
		return r
	}

	teamHandler := handler.NewTeamHandler(deps.Service, deps.Directory)
	playerHandler := handler.NewPlayerHandler(deps.Service, deps.Directory)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(deps.Auth))

		r.Route("/teams", func(r chi.Router) {
			r.Get("/", teamHandler.List)
			r.Get("/{id}", teamHandler.Get)
		})

		r.Route("/players/{id}", func(r chi.Router) {
			r.Post("/join", playerHandler.Join)
			r.Post("/quit", playerHandler.Quit)

			r.Get("/team", playerHandler.GetTeam)
			r.Post("/team", playerHandler.CreateTeam)
			r.Patch("/team", playerHandler.UpdateTeam)
			r.Delete("/team", playerHandler.DisbandTeam)
			r.Post("/leave", playerHandler.Leave)
			r.Post("/kick", playerHandler.Kick)
			r.Post("/transfer", playerHandler.Transfer)
			r.Post("/chat", playerHandler.Chat)
			r.Get("/can-damage/{victim}", playerHandler.CanDamage)

			r.Get("/invites", playerHandler.ListInvites)
			r.Post("/invites", playerHandler.SendInvite)
			r.Post("/invites/{teamId}/accept", playerHandler.AcceptInvite)
			r.Post("/invites/{teamId}/deny", playerHandler.DenyInvite)
			r.Get("/outgoing-invites", playerHandler.ListOutgoingInvites)
			r.Delete("/outgoing-invites/{target}", playerHandler.CancelInvite)

			r.Get("/homes", playerHandler.ListHomes)
			r.Put("/homes/{name}", playerHandler.SetHome)
			r.Delete("/homes/{name}", playerHandler.DeleteHome)
			r.Post("/homes/{name}/teleport", playerHandler.TeleportHome)
		})

		if deps.Feed != nil {
			r.Get("/events/ws", deps.Feed.ServeHTTP)
		}
	})

	return r
}
