package permission

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/steward-dev/steward/pkg/api"
	"github.com/steward-dev/steward/pkg/config"
	"github.com/steward-dev/steward/pkg/debug"
	"github.com/steward-dev/steward/pkg/events"
	"github.com/steward-dev/steward/pkg/observability"
	"github.com/steward-dev/steward/pkg/storage"
)

// expiryNoticeWindow is how far ahead of a grant's expiry the engine
// emits a permissionExpiringSoon event, and how Stats counts a grant as
// expiring soon.
const expiryNoticeWindow = 24 * time.Hour

// pending is one unresolved approval prompt. Concurrent identical calls
// attach to the same pending entry and all observe its single outcome.
type pending struct {
	approval PendingApproval
	key      string
	timer    *time.Timer

	// done is closed exactly once, after approved/response are set
	// under the engine mutex.
	done     chan struct{}
	approved bool
	response Response
}

// Engine decides whether tool calls may proceed. All state is owned by
// a single mutex; the engine never calls out to the store or the event
// bus while a caller is blocked on a prompt.
type Engine struct {
	mu sync.Mutex

	settings Settings

	// grants holds always-scoped decisions, session holds
	// session-scoped ones. sessionOrder tracks insertion order for
	// FIFO eviction at MaxSessionPermissions.
	grants       map[api.GrantKey]*Grant
	session      map[api.GrantKey]*Grant
	sessionOrder []api.GrantKey

	trusted map[string]bool

	pending      map[string]*pending
	pendingByKey map[string]*pending

	expiryTimers map[api.GrantKey]*time.Timer

	store  GrantStore
	bus    *events.Bus
	logger *slog.Logger

	nowFunc func() time.Time

	closed bool
}

// New builds an engine from configuration, restoring persisted
// always-scoped grants from the store. A nil store disables
// persistence.
func New(cfg config.PermissionConfig, store GrantStore, bus *events.Bus) (*Engine, error) {
	e := &Engine{
		settings:     SettingsFromConfig(cfg),
		grants:       make(map[api.GrantKey]*Grant),
		session:      make(map[api.GrantKey]*Grant),
		trusted:      make(map[string]bool),
		pending:      make(map[string]*pending),
		pendingByKey: make(map[string]*pending),
		expiryTimers: make(map[api.GrantKey]*time.Timer),
		store:        store,
		bus:          bus,
		logger:       slog.Default().With("component", "permission"),
		nowFunc:      time.Now,
	}
	for _, s := range cfg.TrustedServers {
		e.trusted[s] = true
	}

	if store != nil {
		stored, err := store.LoadGrants(context.Background())
		if err != nil {
			return nil, err
		}
		now := e.nowFunc()
		for _, g := range stored {
			if g.Expired(now) {
				continue
			}
			key := api.GrantKey{Server: g.Server, Tool: g.Tool}
			e.grants[key] = g
			e.scheduleExpiryNotice(key, g)
		}
		debug.Log(debug.Permission, "restored grants", "count", len(e.grants))
	}
	return e, nil
}

// RequestPermission authorizes one tool call. It consults trusted
// servers, stored decisions, and the auto-approve level before falling
// back to an interactive prompt; the prompt blocks until Respond is
// called, the request timeout fires, or ctx is cancelled. Timeout and
// cancellation both deny.
func (e *Engine) RequestPermission(ctx context.Context, server string, tool ToolRef, args map[string]any) (bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, api.NewPermissionDeniedError(server, "permission engine is shut down")
	}

	if e.trusted[server] {
		e.mu.Unlock()
		observability.PermissionDecisions.WithLabelValues("trusted", "allow").Inc()
		debug.Log(debug.Permission, "trusted server bypass", "server", server, "tool", tool.Name)
		return true, nil
	}

	key := api.GrantKey{Server: server, Tool: tool.Name}
	now := e.nowFunc()

	fenceMiss := false
	if g, source, ok := e.lookupGrantLocked(key, now); ok {
		if g.Decision == DecisionDeny {
			e.mu.Unlock()
			observability.PermissionDecisions.WithLabelValues(source, "deny").Inc()
			return false, nil
		}
		if !e.settings.EnableArgumentValidation || argsSatisfy(g, args) {
			g.UsageCount++
			g.LastUsed = now
			e.mu.Unlock()
			observability.PermissionDecisions.WithLabelValues(source, "allow").Inc()
			return true, nil
		}
		// Arguments fall outside the grant's fences: the call must be
		// prompted, not reconsidered under the auto-approve policy.
		fenceMiss = true
		debug.Log(debug.Permission, "fence mismatch", "server", server, "tool", tool.Name)
	}

	assessment := Assess(tool, args)
	if !fenceMiss && e.autoApprovedLocked(assessment) {
		e.mu.Unlock()
		observability.PermissionDecisions.WithLabelValues("auto", "allow").Inc()
		debug.Log(debug.Permission, "auto-approved", "server", server, "tool", tool.Name, "risk", assessment.Level.String())
		return true, nil
	}

	p, created := e.enqueueLocked(server, tool, args, assessment, now)
	e.mu.Unlock()

	if created {
		e.bus.Publish(events.Event{
			Type:    events.TypePermissionRequest,
			Server:  server,
			Tool:    tool.Name,
			Payload: p.approval,
			At:      now,
		})
	}

	select {
	case <-p.done:
		outcome := "deny"
		if p.approved {
			outcome = "allow"
		}
		observability.PermissionDecisions.WithLabelValues("prompt", outcome).Inc()
		observability.ApprovalWait.Observe(e.nowFunc().Sub(now).Seconds())
		return p.approved, nil
	case <-ctx.Done():
		observability.PermissionDecisions.WithLabelValues("prompt", "deny").Inc()
		return false, ctx.Err()
	}
}

// lookupGrantLocked finds a live stored decision for the key, pruning
// an expired always-grant on the way. The returned source labels the
// decision origin for metrics.
func (e *Engine) lookupGrantLocked(key api.GrantKey, now time.Time) (*Grant, string, bool) {
	if g, ok := e.session[key]; ok {
		return g, "session", true
	}
	g, ok := e.grants[key]
	if !ok {
		return nil, "", false
	}
	if g.Expired(now) {
		e.removeAlwaysLocked(key)
		return nil, "", false
	}
	return g, "always", true
}

func (e *Engine) autoApprovedLocked(a Assessment) bool {
	if e.settings.AutoApproveLevel == AutoApproveNone {
		return false
	}
	if a.Level > e.settings.AutoApproveLevel {
		return false
	}
	if e.settings.RequireApprovalForFile && a.HasCategory(CategoryFile) {
		return false
	}
	if e.settings.RequireApprovalForNetwork && a.HasCategory(CategoryNetwork) {
		return false
	}
	if e.settings.RequireApprovalForSystem && a.HasCategory(CategorySystem) {
		return false
	}
	return true
}

// enqueueLocked returns the pending entry for this call, creating one
// unless an identical call (same server, tool, and argument hash) is
// already waiting. The creating caller arms the timeout; coalesced
// callers share it.
func (e *Engine) enqueueLocked(server string, tool ToolRef, args map[string]any, a Assessment, now time.Time) (*pending, bool) {
	coalesceKey := server + "\x00" + tool.Name + "\x00" + hashArgs(args)
	if p, ok := e.pendingByKey[coalesceKey]; ok {
		return p, false
	}
	p := &pending{
		approval: PendingApproval{
			ID:          api.NewApprovalID(),
			Server:      server,
			Tool:        tool.Name,
			Args:        args,
			Risk:        a.Level,
			RiskLabel:   a.Level.String(),
			RiskReasons: a.Reasons,
			RequestedAt: now,
		},
		key:  coalesceKey,
		done: make(chan struct{}),
	}
	id := p.approval.ID
	p.timer = time.AfterFunc(e.settings.RequestTimeout, func() {
		e.resolve(id, false, Response{Approved: false, Reason: "Request timed out"})
	})
	e.pending[id] = p
	e.pendingByKey[coalesceKey] = p
	observability.PendingApprovals.Set(float64(len(e.pending)))
	return p, true
}

// Respond resolves a pending approval. It reports false when the ID is
// unknown or already resolved.
func (e *Engine) Respond(id string, resp Response) bool {
	return e.resolve(id, resp.Approved, resp)
}

func (e *Engine) resolve(id string, approved bool, resp Response) bool {
	e.mu.Lock()
	p, ok := e.pending[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.pending, id)
	delete(e.pendingByKey, p.key)
	observability.PendingApprovals.Set(float64(len(e.pending)))
	if p.timer != nil {
		p.timer.Stop()
	}

	var persisted *Grant
	if approved || resp.Scope == ScopeAlways {
		persisted = e.recordDecisionLocked(p, approved, resp)
	}

	p.approved = approved
	p.response = resp
	close(p.done)
	e.mu.Unlock()

	if persisted != nil && e.store != nil && persisted.Scope == ScopeAlways {
		if err := e.store.SaveGrant(context.Background(), persisted); err != nil {
			e.logger.Error("failed to persist grant",
				"server", persisted.Server, "tool", persisted.Tool, "error", err)
		}
	}
	// Timeouts and once-scoped responses record nothing, so there is
	// no permission change to announce.
	if persisted != nil {
		e.bus.Publish(events.Event{
			Type:   events.TypePermissionsChanged,
			Server: p.approval.Server,
			Tool:   p.approval.Tool,
			At:     e.nowFunc(),
		})
	}
	return true
}

// recordDecisionLocked stores the grant implied by a response. Once
// decisions leave no trace; denials are remembered only at always
// scope.
func (e *Engine) recordDecisionLocked(p *pending, approved bool, resp Response) *Grant {
	scope := resp.Scope
	if scope == "" {
		scope = ScopeOnce
	}
	if scope == ScopeOnce {
		return nil
	}
	if !approved && scope != ScopeAlways {
		return nil
	}

	now := e.nowFunc()
	g := &Grant{
		Server:    p.approval.Server,
		Tool:      p.approval.Tool,
		Decision:  DecisionAllow,
		Scope:     scope,
		Risk:      p.approval.Risk,
		GrantedAt: now,
		ArgsHash:  hashArgs(p.approval.Args),
	}
	if !approved {
		g.Decision = DecisionDeny
	}
	if e.settings.EnableArgumentValidation && approved {
		g.AllowedPaths, g.AllowedDomains = deriveFences(p.approval.Args)
	}

	key := api.GrantKey{Server: g.Server, Tool: g.Tool}
	switch scope {
	case ScopeSession:
		e.addSessionLocked(key, g)
	case ScopeAlways:
		if d := e.settings.AlwaysPermissionDuration; d > 0 {
			g.ExpiresAt = now.Add(d)
		}
		e.grants[key] = g
		e.scheduleExpiryNotice(key, g)
	}
	return g
}

// addSessionLocked inserts a session grant, evicting the oldest entry
// when the session cap is reached.
func (e *Engine) addSessionLocked(key api.GrantKey, g *Grant) {
	if _, exists := e.session[key]; !exists {
		max := e.settings.MaxSessionPermissions
		for max > 0 && len(e.session) >= max {
			oldest := e.sessionOrder[0]
			e.sessionOrder = e.sessionOrder[1:]
			delete(e.session, oldest)
			debug.Log(debug.Permission, "session grant evicted", "server", oldest.Server, "tool", oldest.Tool)
		}
		e.sessionOrder = append(e.sessionOrder, key)
	}
	e.session[key] = g
}

// scheduleExpiryNotice arms a one-shot notification ahead of the
// grant's expiry. Grants that never expire get no timer.
func (e *Engine) scheduleExpiryNotice(key api.GrantKey, g *Grant) {
	if !e.settings.NotifyBeforeExpiry || g.ExpiresAt.IsZero() {
		return
	}
	if t, ok := e.expiryTimers[key]; ok {
		t.Stop()
	}
	delay := g.ExpiresAt.Add(-expiryNoticeWindow).Sub(e.nowFunc())
	if delay < 0 {
		delay = 0
	}
	e.expiryTimers[key] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		cur, ok := e.grants[key]
		e.mu.Unlock()
		if !ok || cur.ExpiresAt.IsZero() {
			return
		}
		e.bus.Publish(events.Event{
			Type:    events.TypePermissionExpiringSoon,
			Server:  key.Server,
			Tool:    key.Tool,
			Payload: cur.ExpiresAt,
			At:      e.nowFunc(),
		})
	})
}

// GetPendingApprovals lists unresolved prompts, oldest first.
func (e *Engine) GetPendingApprovals() []PendingApproval {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingApproval, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p.approval)
	}
	slices.SortFunc(out, func(a, b PendingApproval) int {
		return a.RequestedAt.Compare(b.RequestedAt)
	})
	return out
}

// GetAllPermissions returns copies of every stored grant, session
// grants included.
func (e *Engine) GetAllPermissions() []*Grant {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Grant, 0, len(e.grants)+len(e.session))
	for _, g := range e.grants {
		out = append(out, g.clone())
	}
	for _, g := range e.session {
		out = append(out, g.clone())
	}
	slices.SortFunc(out, func(a, b *Grant) int {
		if a.Server != b.Server {
			return strings.Compare(a.Server, b.Server)
		}
		return strings.Compare(a.Tool, b.Tool)
	})
	return out
}

// GetPermissionStats summarizes stored grants at the current time.
func (e *Engine) GetPermissionStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.nowFunc()
	s := Stats{Session: len(e.session), Total: len(e.grants) + len(e.session)}
	for _, g := range e.grants {
		switch {
		case g.Expired(now):
			s.Expired++
		case !g.ExpiresAt.IsZero() && g.ExpiresAt.Sub(now) <= expiryNoticeWindow:
			s.ExpiringSoon++
		}
	}
	return s
}

// RevokePermission removes a stored grant at either scope. It reports
// whether anything was removed.
func (e *Engine) RevokePermission(server, tool string) bool {
	key := api.GrantKey{Server: server, Tool: tool}
	e.mu.Lock()
	_, inSession := e.session[key]
	if inSession {
		delete(e.session, key)
		e.sessionOrder = slices.DeleteFunc(e.sessionOrder, func(k api.GrantKey) bool { return k == key })
	}
	_, inAlways := e.grants[key]
	if inAlways {
		e.removeAlwaysLocked(key)
	}
	e.mu.Unlock()

	if !inSession && !inAlways {
		return false
	}
	if inAlways && e.store != nil {
		if err := e.store.DeleteGrant(context.Background(), server, tool); err != nil && !errors.Is(err, storage.ErrNotFound) {
			e.logger.Error("failed to delete persisted grant", "server", server, "tool", tool, "error", err)
		}
	}
	e.bus.Publish(events.Event{
		Type:   events.TypePermissionRevoked,
		Server: server,
		Tool:   tool,
		At:     e.nowFunc(),
	})
	return true
}

func (e *Engine) removeAlwaysLocked(key api.GrantKey) {
	delete(e.grants, key)
	if t, ok := e.expiryTimers[key]; ok {
		t.Stop()
		delete(e.expiryTimers, key)
	}
}

// ClearSessionPermissions drops every session-scoped grant.
func (e *Engine) ClearSessionPermissions() {
	e.mu.Lock()
	n := len(e.session)
	e.session = make(map[api.GrantKey]*Grant)
	e.sessionOrder = nil
	e.mu.Unlock()

	debug.Log(debug.Permission, "session permissions cleared", "count", n)
	e.bus.Publish(events.Event{Type: events.TypeSessionPermissionsCleared, At: e.nowFunc()})
}

// ClearAllPermissions drops every grant at every scope, including
// persisted ones.
func (e *Engine) ClearAllPermissions() {
	e.mu.Lock()
	e.session = make(map[api.GrantKey]*Grant)
	e.sessionOrder = nil
	for key := range e.grants {
		e.removeAlwaysLocked(key)
	}
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.Clear(context.Background()); err != nil {
			e.logger.Error("failed to clear persisted grants", "error", err)
		}
	}
	e.bus.Publish(events.Event{Type: events.TypePermissionsChanged, At: e.nowFunc()})
}

// ClearExpiredPermissions removes always-scoped grants whose expiry is
// strictly in the past and returns how many were removed.
func (e *Engine) ClearExpiredPermissions() int {
	e.mu.Lock()
	now := e.nowFunc()
	var removed []api.GrantKey
	for key, g := range e.grants {
		if g.Expired(now) {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		e.removeAlwaysLocked(key)
	}
	e.mu.Unlock()

	if e.store != nil {
		for _, key := range removed {
			if err := e.store.DeleteGrant(context.Background(), key.Server, key.Tool); err != nil && !errors.Is(err, storage.ErrNotFound) {
				e.logger.Error("failed to delete expired grant", "server", key.Server, "tool", key.Tool, "error", err)
			}
		}
	}
	if len(removed) > 0 {
		e.bus.Publish(events.Event{Type: events.TypePermissionsChanged, At: e.nowFunc()})
	}
	return len(removed)
}

// AddTrustedServer marks a server as trusted; its calls bypass all
// permission checks. Adding an already-trusted server is a no-op.
func (e *Engine) AddTrustedServer(server string) {
	e.mu.Lock()
	already := e.trusted[server]
	e.trusted[server] = true
	if !already {
		e.settings.TrustedServers = append(e.settings.TrustedServers, server)
	}
	e.mu.Unlock()

	if !already {
		e.bus.Publish(events.Event{Type: events.TypeTrustedServerAdded, Server: server, At: e.nowFunc()})
	}
}

// RemoveTrustedServer removes trusted status. Removing an untrusted
// server is a no-op.
func (e *Engine) RemoveTrustedServer(server string) {
	e.mu.Lock()
	was := e.trusted[server]
	delete(e.trusted, server)
	if was {
		e.settings.TrustedServers = slices.DeleteFunc(e.settings.TrustedServers, func(s string) bool { return s == server })
	}
	e.mu.Unlock()

	if was {
		e.bus.Publish(events.Event{Type: events.TypeTrustedServerRemoved, Server: server, At: e.nowFunc()})
	}
}

// GetSettings returns a snapshot of the current settings.
func (e *Engine) GetSettings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.settings
	s.TrustedServers = slices.Clone(s.TrustedServers)
	return s
}

// UpdateSettings applies the non-nil fields of the update. Changes take
// effect for subsequent requests; already-blocked prompts keep their
// original timeout.
func (e *Engine) UpdateSettings(u SettingsUpdate) {
	e.mu.Lock()
	if u.AutoApproveLevel != nil {
		e.settings.AutoApproveLevel = *u.AutoApproveLevel
	}
	if u.RequestTimeout != nil {
		e.settings.RequestTimeout = *u.RequestTimeout
	}
	if u.RequireApprovalForFile != nil {
		e.settings.RequireApprovalForFile = *u.RequireApprovalForFile
	}
	if u.RequireApprovalForNetwork != nil {
		e.settings.RequireApprovalForNetwork = *u.RequireApprovalForNetwork
	}
	if u.RequireApprovalForSystem != nil {
		e.settings.RequireApprovalForSystem = *u.RequireApprovalForSystem
	}
	if u.AlwaysPermissionDuration != nil {
		e.settings.AlwaysPermissionDuration = *u.AlwaysPermissionDuration
	}
	if u.EnableArgumentValidation != nil {
		e.settings.EnableArgumentValidation = *u.EnableArgumentValidation
	}
	if u.MaxSessionPermissions != nil {
		e.settings.MaxSessionPermissions = *u.MaxSessionPermissions
	}
	if u.NotifyBeforeExpiry != nil {
		e.settings.NotifyBeforeExpiry = *u.NotifyBeforeExpiry
	}
	if u.TrustedServers != nil {
		e.settings.TrustedServers = slices.Clone(*u.TrustedServers)
		e.trusted = make(map[string]bool, len(e.settings.TrustedServers))
		for _, s := range e.settings.TrustedServers {
			e.trusted[s] = true
		}
	}
	e.mu.Unlock()

	e.bus.Publish(events.Event{Type: events.TypeSettingsUpdated, At: e.nowFunc()})
}

// AssessRisk exposes the classifier for callers that want the
// assessment without requesting authorization.
func (e *Engine) AssessRisk(tool ToolRef, args map[string]any) Assessment {
	return Assess(tool, args)
}

// Shutdown denies every pending prompt, stops timers, and clears all
// in-memory state. Persisted grants survive for the next start. The
// engine rejects further requests once shut down.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true

	for id, p := range e.pending {
		delete(e.pending, id)
		delete(e.pendingByKey, p.key)
		if p.timer != nil {
			p.timer.Stop()
		}
		p.approved = false
		p.response = Response{Approved: false, Reason: "Application shutdown"}
		close(p.done)
	}
	observability.PendingApprovals.Set(0)

	e.session = make(map[api.GrantKey]*Grant)
	e.sessionOrder = nil
	for key := range e.grants {
		e.removeAlwaysLocked(key)
	}
	e.mu.Unlock()
}
