package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/custos/internal/api/v1"
	"github.com/gosuda/custos/internal/api/ws"
)

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterActionRoutes(api, deps.Store, deps.Agents)
	if deps.Records != nil {
		v1.RegisterProtectedRoute(api, deps.Store, deps.Records)
	}
	v1.RegisterNoteRoutes(api, deps.Notes)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/actions", hub.ServeActions)
}
