// Package service assembles the tracker's components into an HTTP server
// that accepts device sessions and serves the administrative REST API.
package service

import (
	"net/http"
	"time"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/rest/route"
	"github.com/distrain/tracker/session"
	"github.com/evergreen-ci/gimlet"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

const (
	// SessionPath is where devices open their websocket sessions.
	SessionPath = "/ws"
	// RESTPrefix is the prefix of every administrative route.
	RESTPrefix = "/rest"
)

// GetServer returns an HTTP server for the handler. Device sessions are
// long lived, so no write timeout is set.
func GetServer(addr string, n http.Handler) *http.Server {
	grip.Notice(message.Fields{
		"action":  "starting service",
		"service": addr,
		"build":   tracker.BuildRevision,
		"process": grip.Name(),
	})

	return &http.Server{
		Addr:              addr,
		Handler:           n,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 30 * time.Second,
	}
}

// GetRouter routes device sessions and the REST API of the coordinator.
func GetRouter(c *Coordinator) (http.Handler, error) {
	app := gimlet.NewApp()
	app.SetPrefix(RESTPrefix)
	route.AttachHandler(app, route.HandlerOpts{
		Tasks:   c.Queue,
		Devices: c.Registry,
		Edges:   c.env.Store(),
		Objects: c.env.ObjectStore(),
		Trigger: c.Runner,
	})
	rest, err := app.Handler()
	if err != nil {
		return nil, errors.Wrap(err, "resolving REST application")
	}

	conf := c.env.Settings().Service
	sessions := session.NewHandler(c.Registry, c.Runner, session.Options{
		SendBuffer:   conf.SendBuffer,
		PingInterval: conf.PingInterval(),
	})

	router := mux.NewRouter()
	router.Handle(SessionPath, sessions)
	router.PathPrefix(RESTPrefix + "/").Handler(otelmux.Middleware(tracker.ServiceName)(rest))

	return handlers.ProxyHeaders(router), nil
}
