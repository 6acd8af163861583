// Package admin serves the host control API over HTTP: server
// lifecycle, tool/resource/prompt invocation, permission management,
// and a server-sent event stream of host events.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/steward-dev/steward/pkg/api"
	"github.com/steward-dev/steward/pkg/config"
	"github.com/steward-dev/steward/pkg/conn"
	"github.com/steward-dev/steward/pkg/events"
	"github.com/steward-dev/steward/pkg/observability"
	"github.com/steward-dev/steward/pkg/permission"
)

// Adapter routes admin API requests to the manager and the permission
// engine.
type Adapter struct {
	manager *conn.Manager
	engine  *permission.Engine
	bus     *events.Bus
	mux     *http.ServeMux
}

// NewAdapter wires the admin routes.
func NewAdapter(manager *conn.Manager, engine *permission.Engine, bus *events.Bus) *Adapter {
	a := &Adapter{
		manager: manager,
		engine:  engine,
		bus:     bus,
		mux:     http.NewServeMux(),
	}

	a.mux.HandleFunc("GET /api/servers", a.handleListServers)
	a.mux.HandleFunc("POST /api/servers", a.handleAddServer)
	a.mux.HandleFunc("GET /api/servers/{id}", a.handleGetServer)
	a.mux.HandleFunc("DELETE /api/servers/{id}", a.handleRemoveServer)
	a.mux.HandleFunc("POST /api/servers/{id}/start", a.handleStartServer)
	a.mux.HandleFunc("POST /api/servers/{id}/stop", a.handleStopServer)
	a.mux.HandleFunc("POST /api/servers/{id}/tools/{tool}", a.handleExecuteTool)
	a.mux.HandleFunc("POST /api/servers/{id}/resources/read", a.handleReadResource)
	a.mux.HandleFunc("POST /api/servers/{id}/prompts/{name}", a.handleExecutePrompt)
	a.mux.HandleFunc("POST /api/servers/{id}/subscriptions", a.handleSubscribe)
	a.mux.HandleFunc("DELETE /api/servers/{id}/subscriptions", a.handleUnsubscribe)

	a.mux.HandleFunc("GET /api/permissions", a.handleListPermissions)
	a.mux.HandleFunc("GET /api/permissions/pending", a.handlePendingApprovals)
	a.mux.HandleFunc("POST /api/permissions/pending/{id}", a.handleRespond)
	a.mux.HandleFunc("GET /api/permissions/stats", a.handlePermissionStats)
	a.mux.HandleFunc("POST /api/permissions/clear", a.handleClearPermissions)
	a.mux.HandleFunc("DELETE /api/permissions/{server}/{tool}", a.handleRevoke)

	a.mux.HandleFunc("GET /api/settings", a.handleGetSettings)
	a.mux.HandleFunc("PATCH /api/settings", a.handleUpdateSettings)

	a.mux.HandleFunc("POST /api/trusted-servers/{id}", a.handleAddTrusted)
	a.mux.HandleFunc("DELETE /api/trusted-servers/{id}", a.handleRemoveTrusted)

	a.mux.HandleFunc("GET /api/events", a.handleEventStream)

	return a
}

// Handler returns the http.Handler for this adapter, including the
// metrics middleware.
func (a *Adapter) Handler() http.Handler {
	return observability.MetricsMiddleware(a.mux)
}

func (a *Adapter) handleListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.ListServers())
}

func (a *Adapter) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var cfg config.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, api.NewConfigError("", "malformed server configuration: "+err.Error()))
		return
	}
	if err := a.manager.AddServer(cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": cfg.ID})
}

func (a *Adapter) handleGetServer(w http.ResponseWriter, r *http.Request) {
	sc, ok := a.manager.GetServerState(r.PathValue("id"))
	if !ok {
		writeError(w, api.NewNotFoundError(r.PathValue("id"), "server not configured"))
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (a *Adapter) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	a.manager.RemoveServer(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleStartServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.manager.StartServer(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	sc, _ := a.manager.GetServerState(id)
	writeJSON(w, http.StatusOK, sc)
}

func (a *Adapter) handleStopServer(w http.ResponseWriter, r *http.Request) {
	a.manager.StopServer(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Arguments map[string]any `json:"arguments"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	res, err := a.manager.ExecuteTool(r.Context(), r.PathValue("id"), r.PathValue("tool"), body.Arguments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *Adapter) handleReadResource(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URI string `json:"uri"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.URI == "" {
		writeError(w, api.NewConfigError(r.PathValue("id"), "missing resource uri"))
		return
	}
	res, err := a.manager.ReadResource(r.Context(), r.PathValue("id"), body.URI)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *Adapter) handleExecutePrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Arguments map[string]string `json:"arguments"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	res, err := a.manager.ExecutePrompt(r.Context(), r.PathValue("id"), r.PathValue("name"), body.Arguments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *Adapter) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URI string `json:"uri"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := a.manager.SubscribeResource(r.Context(), r.PathValue("id"), body.URI); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URI string `json:"uri"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := a.manager.UnsubscribeResource(r.Context(), r.PathValue("id"), body.URI); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.GetAllPermissions())
}

func (a *Adapter) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.GetPendingApprovals())
}

func (a *Adapter) handleRespond(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateApprovalID(id) {
		writeError(w, api.NewConfigError("", "malformed approval ID"))
		return
	}
	var resp permission.Response
	if err := decodeBody(r, &resp); err != nil {
		writeError(w, err)
		return
	}
	if !a.engine.Respond(id, resp) {
		writeError(w, api.NewNotFoundError("", fmt.Sprintf("approval %s not pending", id)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handlePermissionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.GetPermissionStats())
}

func (a *Adapter) handleClearPermissions(w http.ResponseWriter, r *http.Request) {
	switch scope := r.URL.Query().Get("scope"); scope {
	case "session":
		a.engine.ClearSessionPermissions()
		w.WriteHeader(http.StatusNoContent)
	case "expired":
		removed := a.engine.ClearExpiredPermissions()
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	case "all":
		a.engine.ClearAllPermissions()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, api.NewConfigError("", fmt.Sprintf("unknown clear scope %q", scope)))
	}
}

func (a *Adapter) handleRevoke(w http.ResponseWriter, r *http.Request) {
	server, tool := r.PathValue("server"), r.PathValue("tool")
	if !a.engine.RevokePermission(server, tool) {
		writeError(w, api.NewNotFoundError(server, fmt.Sprintf("no grant for tool %q", tool)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settingsPayloadFrom(a.engine.GetSettings()))
}

func (a *Adapter) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsPatch
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	a.engine.UpdateSettings(body.toUpdate())
	writeJSON(w, http.StatusOK, settingsPayloadFrom(a.engine.GetSettings()))
}

func (a *Adapter) handleAddTrusted(w http.ResponseWriter, r *http.Request) {
	a.engine.AddTrustedServer(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleRemoveTrusted(w http.ResponseWriter, r *http.Request) {
	a.engine.RemoveTrustedServer(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleEventStream streams host events as server-sent events until the
// client disconnects.
func (a *Adapter) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, api.NewConfigError("", "streaming not supported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Events are forwarded through a buffered channel so the bus never
	// blocks on a slow client; overflow drops the event.
	ch := make(chan events.Event, 64)
	unsubscribe := a.bus.Subscribe(func(e events.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	defer unsubscribe()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			fmt.Fprintf(w, "event: %s\ndata: ", e.Type)
			if err := enc.Encode(e); err != nil {
				return
			}
			fmt.Fprint(w, "\n")
			flusher.Flush()
		}
	}
}

// settingsPayload is the JSON form of the engine settings. Durations
// are exposed in the units the YAML config uses.
type settingsPayload struct {
	AutoApproveLevel          string   `json:"autoApproveLevel"`
	RequestTimeoutSeconds     int      `json:"requestTimeoutSeconds"`
	RequireApprovalForFile    bool     `json:"requireApprovalForFile"`
	RequireApprovalForNetwork bool     `json:"requireApprovalForNetwork"`
	RequireApprovalForSystem  bool     `json:"requireApprovalForSystem"`
	AlwaysPermissionDays      int      `json:"alwaysPermissionDays"`
	EnableArgumentValidation  bool     `json:"enableArgumentValidation"`
	MaxSessionPermissions     int      `json:"maxSessionPermissions"`
	NotifyBeforeExpiry        bool     `json:"notifyBeforeExpiry"`
	TrustedServers            []string `json:"trustedServers"`
}

func settingsPayloadFrom(s permission.Settings) settingsPayload {
	return settingsPayload{
		AutoApproveLevel:          s.AutoApproveLevel.String(),
		RequestTimeoutSeconds:     int(s.RequestTimeout / time.Second),
		RequireApprovalForFile:    s.RequireApprovalForFile,
		RequireApprovalForNetwork: s.RequireApprovalForNetwork,
		RequireApprovalForSystem:  s.RequireApprovalForSystem,
		AlwaysPermissionDays:      int(s.AlwaysPermissionDuration / (24 * time.Hour)),
		EnableArgumentValidation:  s.EnableArgumentValidation,
		MaxSessionPermissions:     s.MaxSessionPermissions,
		NotifyBeforeExpiry:        s.NotifyBeforeExpiry,
		TrustedServers:            s.TrustedServers,
	}
}

// settingsPatch carries a partial settings update; absent fields keep
// their current value.
type settingsPatch struct {
	AutoApproveLevel          *string   `json:"autoApproveLevel"`
	RequestTimeoutSeconds     *int      `json:"requestTimeoutSeconds"`
	RequireApprovalForFile    *bool     `json:"requireApprovalForFile"`
	RequireApprovalForNetwork *bool     `json:"requireApprovalForNetwork"`
	RequireApprovalForSystem  *bool     `json:"requireApprovalForSystem"`
	AlwaysPermissionDays      *int      `json:"alwaysPermissionDays"`
	EnableArgumentValidation  *bool     `json:"enableArgumentValidation"`
	MaxSessionPermissions     *int      `json:"maxSessionPermissions"`
	NotifyBeforeExpiry        *bool     `json:"notifyBeforeExpiry"`
	TrustedServers            *[]string `json:"trustedServers"`
}

func (p settingsPatch) toUpdate() permission.SettingsUpdate {
	u := permission.SettingsUpdate{
		RequireApprovalForFile:    p.RequireApprovalForFile,
		RequireApprovalForNetwork: p.RequireApprovalForNetwork,
		RequireApprovalForSystem:  p.RequireApprovalForSystem,
		EnableArgumentValidation:  p.EnableArgumentValidation,
		MaxSessionPermissions:     p.MaxSessionPermissions,
		NotifyBeforeExpiry:        p.NotifyBeforeExpiry,
		TrustedServers:            p.TrustedServers,
	}
	if p.AutoApproveLevel != nil {
		level := permission.ParseRiskLevel(*p.AutoApproveLevel)
		u.AutoApproveLevel = &level
	}
	if p.RequestTimeoutSeconds != nil {
		d := time.Duration(*p.RequestTimeoutSeconds) * time.Second
		u.RequestTimeout = &d
	}
	if p.AlwaysPermissionDays != nil {
		d := time.Duration(*p.AlwaysPermissionDays) * 24 * time.Hour
		u.AlwaysPermissionDuration = &d
	}
	return u
}

// decodeBody decodes a JSON request body. An empty body yields the
// zero value.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return api.NewConfigError("", "malformed request body: "+err.Error())
	}
	return nil
}

// writeJSON serializes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error to its HTTP status and serializes it.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := api.ErrorKind("internal_error")
	server := ""

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		kind = apiErr.Kind
		server = apiErr.Server
		switch apiErr.Kind {
		case api.ErrorKindConfig:
			status = http.StatusBadRequest
		case api.ErrorKindNotFound:
			status = http.StatusNotFound
		case api.ErrorKindPermissionDenied:
			status = http.StatusForbidden
		case api.ErrorKindConnection, api.ErrorKindToolExecution:
			status = http.StatusBadGateway
		}
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"kind":    string(kind),
			"server":  server,
			"message": api.MessageOf(err),
		},
	})
}
