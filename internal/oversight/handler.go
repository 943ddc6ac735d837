/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package oversight

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/acronis/watchtower/httpclient"
	"github.com/acronis/watchtower/httpserver/middleware"
	"github.com/acronis/watchtower/inflight"
	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/restapi"
)

// Resources are the collections served by the data collaborator.
var Resources = []string{"politicians", "contracts", "cases", "posts"}

const (
	identityLoginPath        = "/login"
	requestTypeIdentityLogin = "identity-login"
	requestTypeDataPrefix    = "data-"
	headerForwardedFor       = "X-Forwarded-For"
	headerContentType        = "Content-Type"
)

// Handler serves the oversight API.
type Handler struct {
	cfg      *Config
	client   *http.Client
	tracker  *inflight.Tracker
	logger   log.FieldLogger
	upgrader websocket.Upgrader
}

// RouteOpts represents options for Handler.Register.
type RouteOpts struct {
	// AuthMiddlewares guard the authentication routes in addition to the middlewares of the whole API.
	AuthMiddlewares []func(http.Handler) http.Handler
}

// NewHandler creates a new Handler. The client is used for all calls to the collaborators.
func NewHandler(cfg *Config, client *http.Client, tracker *inflight.Tracker, logger log.FieldLogger) *Handler {
	h := &Handler{cfg: cfg, client: client, tracker: tracker, logger: logger}
	h.upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if len(cfg.WebSocket.AllowedOrigins) != 0 {
		h.upgrader.CheckOrigin = h.checkOrigin
	}
	return h
}

// Register registers the routes of API v1 in the router.
// Served requests (except the activity ones, which would otherwise report themselves) are accounted in the tracker.
func (h *Handler) Register(router chi.Router, opts RouteOpts) {
	router.Group(func(r chi.Router) {
		r.Use(middleware.InFlightTracking(h.tracker))
		r.With(opts.AuthMiddlewares...).Post("/auth/login", h.login)
		for _, res := range Resources {
			r.Get("/"+res, h.readThrough(res))
			r.Get("/"+res+"/{id}", h.readThrough(res))
		}
	})
	router.Get("/activity", h.activity)
	router.Get("/activity/ws", h.activityStream)
}

func (h *Handler) login(rw http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	var credentials json.RawMessage
	if err := restapi.DecodeRequestJSON(r, &credentials); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, err, logger)
		return
	}
	if trimmed := bytes.TrimSpace(credentials); len(trimmed) == 0 || trimmed[0] != '{' {
		restapi.RespondMalformedRequestError(rw, &restapi.MalformedRequestError{
			HTTPStatusCode: http.StatusBadRequest,
			Message:        "Request body must be a JSON object.",
		}, logger)
		return
	}

	ctx := httpclient.NewContextWithRequestType(r.Context(), requestTypeIdentityLogin)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.IdentityURL+identityLoginPath, bytes.NewReader(credentials))
	if err != nil {
		logger.Error("failed to create identity request", log.Error(err))
		restapi.RespondInternalError(rw, logger)
		return
	}
	req.Header.Set(headerContentType, restapi.ContentTypeAppJSON)
	req.Header.Set(headerForwardedFor, middleware.GetClientIP(r))
	h.relay(rw, req, logger)
}

func (h *Handler) readThrough(resource string) http.HandlerFunc {
	requestType := requestTypeDataPrefix + resource
	return func(rw http.ResponseWriter, r *http.Request) {
		logger := h.requestLogger(r)

		upstreamURL := h.cfg.DataURL + "/" + resource
		if id := urlParam(r, "id"); id != "" {
			upstreamURL += "/" + url.PathEscape(id)
		}
		if r.URL.RawQuery != "" {
			upstreamURL += "?" + r.URL.RawQuery
		}

		ctx := httpclient.NewContextWithRequestType(r.Context(), requestType)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL, http.NoBody)
		if err != nil {
			logger.Error("failed to create data request", log.Error(err))
			restapi.RespondInternalError(rw, logger)
			return
		}
		req.Header.Set("Accept", restapi.ContentTypeAppJSON)
		h.relay(rw, req, logger)
	}
}

// relay sends the request to the collaborator and copies its response.
// Transport failures and 5xx responses are reported as 502.
func (h *Handler) relay(rw http.ResponseWriter, req *http.Request, logger log.FieldLogger) {
	resp, err := h.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			logger.Warn("upstream request canceled", log.String("upstream_url", req.URL.Redacted()), log.Error(err))
		} else {
			logger.Error("upstream request failed", log.String("upstream_url", req.URL.Redacted()), log.Error(err))
		}
		respondBadGateway(rw, logger)
		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Warn("failed to close upstream response body", log.Error(closeErr))
		}
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		logger.Error("upstream responded with server error",
			log.String("upstream_url", req.URL.Redacted()), log.Int("upstream_status", resp.StatusCode))
		respondBadGateway(rw, logger)
		return
	}

	if contentType := resp.Header.Get(headerContentType); contentType != "" {
		rw.Header().Set(headerContentType, contentType)
	}
	rw.WriteHeader(resp.StatusCode)
	if _, err = io.Copy(rw, resp.Body); err != nil {
		logger.Warn("failed to relay upstream response body", log.Error(err))
	}
}

type activityState struct {
	Busy     bool `json:"busy"`
	InFlight int  `json:"inFlight"`
}

func (h *Handler) activity(rw http.ResponseWriter, r *http.Request) {
	count := h.tracker.Count()
	restapi.RespondJSON(rw, activityState{Busy: count > 0, InFlight: count}, h.requestLogger(r))
}

func (h *Handler) requestLogger(r *http.Request) log.FieldLogger {
	if logger := middleware.GetLoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return h.logger
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.WebSocket.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// urlParam returns the decoded value of the URL parameter.
// chi matches against the escaped path when it differs from the default encoding (e.g. for "%2F").
func urlParam(r *http.Request, key string) string {
	val := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return val
	}
	if unescaped, err := url.PathUnescape(val); err == nil {
		return unescaped
	}
	return val
}

func respondBadGateway(rw http.ResponseWriter, logger log.FieldLogger) {
	restapi.RespondError(rw, http.StatusBadGateway,
		restapi.NewError(restapi.ErrCodeBadGateway, restapi.ErrMessageBadGateway), logger)
}
