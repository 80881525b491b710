package api

import (
	"net/http"
	"os"

	"botflow/internal/auth"
	"botflow/internal/db"
	"botflow/internal/engine"
	"botflow/internal/flowreg"
	"botflow/internal/pubsub"
	"botflow/internal/ws"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Dependencies struct {
	DB     *db.Pool
	Bus    *pubsub.Bus
	Hub    *ws.Hub
	Log    *zap.Logger
	Engine *engine.Dispatcher
	Flows  *flowreg.Registry
}

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	// Add request logging middleware
	r.Use(RequestLogger(d.Log))

	jwtConfig := auth.NewJWTConfig(os.Getenv("JWT_SECRET"), os.Getenv("WEBHOOK_TOKEN"))

	r.Get("/healthz", d.healthz)

	// Gateway callback: authenticated with the shared webhook token
	r.Group(func(r chi.Router) {
		r.Use(jwtConfig.WebhookMiddleware)
		r.Post("/v1/messages/inbound", d.inboundMessage)
	})

	// Agent/dashboard endpoints
	r.Group(func(r chi.Router) {
		r.Use(jwtConfig.Middleware)

		r.Post("/v1/flows", d.createFlow)
		r.Put("/v1/flows/{id}", d.putFlow)
		r.Get("/v1/flows/{id}", d.getFlow)
		r.Get("/v1/flows", d.listFlows)

		r.Get("/v1/executions/{id}", d.getExecution)
		r.Post("/v1/tickets/{id}/reset", d.resetTicket)
	})

	// WebSocket endpoint
	r.Get("/v1/ws", d.wsHandler)

	return r
}

func (d Dependencies) healthz(w http.ResponseWriter, r *http.Request) {
	if err := d.DB.Ping(r.Context()); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "db_unavailable", err.Error(), d.Log)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
