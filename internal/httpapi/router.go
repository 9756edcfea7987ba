// Package httpapi exposes the tool frontier over REST: one POST route per
// tool with a JSON body, plus health and the websocket upgrade path.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter wires the tool routes, the websocket gateway, and the auth
// middleware. Aliases get their own routes so legacy callers keep
// working; they dispatch to the canonical tool.
func NewRouter(svc *Service, wsHandler http.HandlerFunc, authMW func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	if authMW != nil {
		r.Use(authMW)
	}

	r.Get("/healthz", svc.handleHealth)

	r.Route("/api", func(api chi.Router) {
		for _, name := range svc.reg.Names() {
			api.Post("/"+name, svc.toolHandler(name))
		}
		for _, alias := range svc.reg.AliasNames() {
			api.Post("/"+alias, svc.toolHandler(alias))
		}
		// generic dispatch for callers that address tools by name
		api.Post("/tools/{tool}", svc.handleToolByPath)
	})

	if wsHandler != nil {
		r.HandleFunc("/ws/agents/{agent}", wsHandler)
	}
	return r
}
