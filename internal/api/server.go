// Package api serves the reader's HTTP interface over the engine.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/jdholdren/skim/internal/engine"
	"github.com/jdholdren/skim/internal/serverutil"
	"github.com/jdholdren/skim/internal/skim"
)

type (
	// Engine is what the handlers drive.
	Engine interface {
		Snapshot(ctx context.Context) (engine.Snapshot, error)
		Forward(ctx context.Context) (bool, error)
		Backward(ctx context.Context) (bool, error)
		DeleteItem(ctx context.Context) (bool, error)
		RefreshItem(ctx context.Context) error
		UpdateItemText(ctx context.Context, id int64, html string) error
		Feeds(ctx context.Context) ([]skim.Feed, error)
		Subscribe(ctx context.Context, feedURL string) error
		Unsubscribe(ctx context.Context, id int64) error
		ImportFeeds(ctx context.Context, feeds []skim.Feed) (int, error)
		SaveFeeds(ctx context.Context) (string, error)
		RestoreFeeds(ctx context.Context, handle string) (int, error)
		Reauthorize(ctx context.Context) error
		Shutdown(ctx context.Context, level skim.Level, text string) error
		ClearData(ctx context.Context) error
	}

	// Server is the HTTP portion of the reader.
	Server struct {
		*http.Server

		engine Engine
		broker *Broker
		now    func() time.Time
	}

	ServerConfig struct {
		Port       int
		CorsOrigin string
	}
)

func NewServer(config ServerConfig, eng Engine, broker *Broker) *Server {
	r := serverutil.ErrRouter{Router: mux.NewRouter()}

	srvr := Server{
		engine: eng,
		broker: broker,
		now:    time.Now,
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", config.Port),
			ReadTimeout: 5 * time.Second,
			// The event stream lifts its own deadline.
			WriteTimeout: 10 * time.Second,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsOrigin}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(serverutil.AccessLogMiddleware) // Log everything

	// Reading
	r.HandleFuncE("/api/state", srvr.getState).Methods(http.MethodGet)
	r.HandleFuncE("/api/events", srvr.getEvents).Methods(http.MethodGet)
	r.HandleFuncE("/api/cursor:forward", srvr.postForward).Methods(http.MethodPost)
	r.HandleFuncE("/api/cursor:backward", srvr.postBackward).Methods(http.MethodPost)
	r.HandleFuncE("/api/items/current", srvr.deleteCurrentItem).Methods(http.MethodDelete)
	r.HandleFuncE("/api/items/current:refresh", srvr.postRefresh).Methods(http.MethodPost)
	r.HandleFuncE("/api/items/{itemID:[0-9]+}/content", srvr.putItemContent).Methods(http.MethodPut)

	// Subscriptions
	r.HandleFuncE("/api/feeds", srvr.getFeeds).Methods(http.MethodGet)
	r.HandleFuncE("/api/feeds", srvr.postFeeds).Methods(http.MethodPost)
	r.HandleFuncE("/api/feeds/{feedID:[0-9]+}", srvr.deleteFeed).Methods(http.MethodDelete)
	r.HandleFuncE("/api/stash", srvr.postStash).Methods(http.MethodPost)
	r.HandleFuncE("/api/stash/{handle}", srvr.postUnstash).Methods(http.MethodPost)
	r.HandleFuncE("/api/opml", srvr.getOPML).Methods(http.MethodGet)
	r.HandleFuncE("/api/opml", srvr.postOPML).Methods(http.MethodPost)

	// Lifecycle
	r.HandleFuncE("/api/alerts:ack", srvr.postAck).Methods(http.MethodPost)
	r.HandleFuncE("/api/shutdown", srvr.postShutdown).Methods(http.MethodPost)
	r.HandleFuncE("/api/clear", srvr.postClear).Methods(http.MethodPost)

	slog.Debug("configured api server", "port", config.Port)

	return &srvr
}
