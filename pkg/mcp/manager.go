package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quillhq/quill/pkg/auth"
	"github.com/quillhq/quill/pkg/logger"
	"github.com/quillhq/quill/pkg/telemetry"
	tooltypes "github.com/quillhq/quill/pkg/types/tools"
)

// toolsListChangedMethod is the server push that invalidates a tool list.
const toolsListChangedMethod = "notifications/tools/list_changed"

// InvocationRecorder receives an audit record for every tool execution.
type InvocationRecorder interface {
	RecordInvocation(ctx context.Context, server, toolID string, duration time.Duration, execErr error)
}

// Summary aggregates an initialization round.
type Summary struct {
	Connected int
	Total     int
	ToolCount int
}

// Manager owns the server sessions, connection states, health records, and
// the live tool catalog. All catalog and state mutation funnels through its
// connect, discover, and disconnect paths; accessors return copies.
type Manager struct {
	cfg      Config
	dial     dialFunc
	health   *healthMonitor
	recorder InvocationRecorder

	mu       sync.Mutex
	sessions map[string]session
	states   map[string]ConnectionState
	catalog  map[string]*RemoteTool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithAuthorizer supplies the token source used for authenticated servers.
func WithAuthorizer(a *auth.Authorizer) ManagerOption {
	return func(m *Manager) { m.dial = (&connector{tokens: a}).dial }
}

// WithDialer overrides how sessions are established. Used by tests.
func WithDialer(dial dialFunc) ManagerOption {
	return func(m *Manager) { m.dial = dial }
}

// WithHealthInterval overrides the health probe cadence.
func WithHealthInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) { m.health = newHealthMonitor(interval) }
}

// WithRecorder wires an audit recorder for tool executions.
func WithRecorder(r InvocationRecorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates a Manager for the configured servers. Servers requiring
// OAuth are reported as needs_auth unless an authorizer is supplied via
// WithAuthorizer.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:      cfg,
		health:   newHealthMonitor(defaultHealthInterval),
		sessions: make(map[string]session),
		states:   make(map[string]ConnectionState),
		catalog:  make(map[string]*RemoteTool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dial == nil {
		m.dial = (&connector{tokens: noTokens{}}).dial
	}
	return m
}

// noTokens is the token source used when no authorizer is configured.
type noTokens struct{}

func (noTokens) GetValidToken(context.Context, string) (string, error) { return "", nil }
func (noTokens) HasClient(string, auth.ClientConfig) bool              { return false }

// Initialize connects every enabled server concurrently, waiting for all
// attempts to settle before reporting the aggregate outcome. One server's
// failure never blocks or aborts another's attempt.
func (m *Manager) Initialize(ctx context.Context) Summary {
	var wg sync.WaitGroup
	for name, cfg := range m.cfg.Servers {
		if !cfg.IsEnabled() {
			m.setState(name, disabledState())
			continue
		}
		m.setState(name, connectingState())

		wg.Add(1)
		go func(name string, cfg ServerConfig) {
			defer wg.Done()
			m.connect(ctx, name, cfg)
		}(name, cfg)
	}
	wg.Wait()

	m.health.start(ctx, m.probe)
	return m.summary()
}

// connect settles one server's connection attempt and, on success, installs
// the session and its tools.
func (m *Manager) connect(ctx context.Context, name string, cfg ServerConfig) {
	log := logger.G(ctx).WithField("server", name)

	var res connectResult
	_ = telemetry.WithSpan(ctx, "mcp.connect", func(ctx context.Context) error {
		res = m.dial(ctx, name, cfg)
		if res.state.Kind == StateFailed {
			return errors.New(res.state.Err)
		}
		return nil
	}, attribute.String("mcp.server", name))

	if res.session == nil {
		log.WithField("state", res.state.String()).Warn("server did not connect")
		m.setState(name, res.state)
		if res.state.Kind == StateFailed {
			m.health.markFailure(name, errors.New(res.state.Err))
		}
		return
	}

	res.session.OnNotification(func(n mcp.JSONRPCNotification) {
		m.handleNotification(name, n)
	})

	count := m.installServer(name, cfg, res.session, res.tools)
	m.health.markSuccess(name)
	log.WithField("tools", count).Info("server connected")
}

// installServer stores the session and replaces the server's catalog slice
// in one critical section so no reader observes a half-updated catalog.
func (m *Manager) installServer(name string, cfg ServerConfig, sess session, listed []mcp.Tool) int {
	matchers := cfg.compileFilter()
	timeout := cfg.toolTimeout()

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[name]; ok && old != sess {
		_ = old.Close()
	}
	m.sessions[name] = sess

	m.removeToolsLocked(name)
	count := 0
	for _, t := range listed {
		if !toolAllowed(t.GetName(), matchers) {
			continue
		}
		tool, err := newRemoteTool(name, t, sess, timeout)
		if err != nil {
			logger.L.WithField("server", name).WithError(err).Warn("skipping invalid tool descriptor")
			continue
		}
		m.catalog[tool.Name()] = tool
		count++
	}
	m.states[name] = connectedState(count)
	return count
}

// DiscoverTools re-lists one server's tools and atomically replaces its
// catalog slice. Other servers' entries are untouched.
func (m *Manager) DiscoverTools(ctx context.Context, name string) (int, error) {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	cfg := m.cfg.Servers[name]
	m.mu.Unlock()
	if !ok {
		return 0, errors.Errorf("server %s is not connected", name)
	}

	listed, err := sess.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		m.health.markFailure(name, err)
		return 0, errors.Wrapf(err, "failed to list tools for %s", name)
	}

	count := m.installServer(name, cfg, sess, listed.Tools)
	m.health.markSuccess(name)
	return count, nil
}

func (m *Manager) handleNotification(name string, n mcp.JSONRPCNotification) {
	if n.Method != toolsListChangedMethod {
		return
	}
	ctx := context.Background()
	log := logger.G(ctx).WithField("server", name)
	log.Debug("tool list changed, re-discovering")
	if _, err := m.DiscoverTools(ctx, name); err != nil {
		log.WithError(err).Warn("re-discovery after tool list change failed")
	}
}

// Refresh tears down and re-establishes one server without disturbing
// others.
func (m *Manager) Refresh(ctx context.Context, name string) error {
	cfg, ok := m.cfg.Servers[name]
	if !ok {
		return errors.Errorf("unknown server %s", name)
	}
	if !cfg.IsEnabled() {
		return errors.Errorf("server %s is disabled", name)
	}
	if err := m.DisconnectServer(name); err != nil {
		return err
	}
	m.setState(name, connectingState())
	m.connect(ctx, name, cfg)

	if state := m.state(name); state.Kind != StateConnected {
		return errors.Errorf("refresh of %s settled in state %s", name, state.String())
	}
	return nil
}

// DisconnectServer closes the session, drops every catalog entry owned by
// the server, and removes its health record. Idempotent.
func (m *Manager) DisconnectServer(name string) error {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	delete(m.sessions, name)
	m.removeToolsLocked(name)
	if _, configured := m.cfg.Servers[name]; configured {
		m.states[name] = disabledState()
	} else {
		delete(m.states, name)
	}
	m.mu.Unlock()

	m.health.remove(name)
	if !ok {
		return nil
	}
	if err := sess.Close(); err != nil {
		return errors.Wrapf(err, "failed to close session for %s", name)
	}
	return nil
}

// removeToolsLocked drops every catalog entry whose owner matches. Callers
// hold m.mu.
func (m *Manager) removeToolsLocked(name string) {
	for id, tool := range m.catalog {
		if tool.Server() == name {
			delete(m.catalog, id)
		}
	}
}

// Cleanup disconnects every server concurrently, tolerating individual
// failures, then stops the health monitor.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	m.mu.Unlock()

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		result *multierror.Error
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := m.DisconnectServer(name); err != nil {
				logger.G(ctx).WithField("server", name).WithError(err).Error("failed to disconnect server")
				errMu.Lock()
				result = multierror.Append(result, err)
				errMu.Unlock()
			}
		}(name)
	}
	wg.Wait()

	m.health.Stop()
	return result.ErrorOrNil()
}

// probe pings every live session to keep health records current.
func (m *Manager) probe(ctx context.Context) {
	m.mu.Lock()
	live := make(map[string]session, len(m.sessions))
	for name, sess := range m.sessions {
		live[name] = sess
	}
	m.mu.Unlock()

	for name, sess := range live {
		if err := sess.Ping(ctx); err != nil {
			m.health.markFailure(name, err)
		} else {
			m.health.markSuccess(name)
		}
	}
}

// Status returns a copy of every configured server's current state,
// including servers that never attempted a connection.
func (m *Manager) Status() map[string]ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ConnectionState, len(m.cfg.Servers))
	for name := range m.cfg.Servers {
		if state, ok := m.states[name]; ok {
			out[name] = state
		} else {
			out[name] = disabledState()
		}
	}
	return out
}

// Health returns a copy of the per-server health records.
func (m *Manager) Health() map[string]HealthRecord {
	return m.health.Snapshot()
}

// Tools returns a point-in-time copy of the catalog, sorted by tool id.
func (m *Manager) Tools() []tooltypes.Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tooltypes.Tool, 0, len(m.catalog))
	for _, tool := range m.catalog {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ToolIDs returns the sorted catalog ids.
func (m *Manager) ToolIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.catalog))
	for id := range m.catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tool looks up a catalog entry by id.
func (m *Manager) Tool(id string) (tooltypes.Tool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tool, ok := m.catalog[id]
	if !ok {
		return nil, false
	}
	return tool, true
}

// Execute runs a catalog tool by id, returning its textual result or a
// descriptive error naming the tool.
func (m *Manager) Execute(ctx context.Context, id, parameters string) (string, error) {
	m.mu.Lock()
	tool, ok := m.catalog[id]
	m.mu.Unlock()
	if !ok {
		return "", errors.Errorf("unknown tool %s", id)
	}

	var result tooltypes.ToolResult
	start := time.Now()
	kvs, _ := tool.TracingKVs(parameters)
	_ = telemetry.WithSpan(ctx, "mcp.tool.execute", func(ctx context.Context) error {
		result = tool.Execute(ctx, parameters)
		if result.IsError() {
			return errors.New(result.Error)
		}
		return nil
	}, kvs...)

	var execErr error
	if result.IsError() {
		execErr = errors.New(result.Error)
	}
	if m.recorder != nil {
		m.recorder.RecordInvocation(ctx, tool.Server(), id, time.Since(start), execErr)
	}
	if execErr != nil {
		return "", execErr
	}
	return result.Result, nil
}

func (m *Manager) setState(name string, state ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[name] = state
}

func (m *Manager) state(name string) ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[name]
}

func (m *Manager) summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Summary{Total: len(m.cfg.Servers), ToolCount: len(m.catalog)}
	for _, state := range m.states {
		if state.Kind == StateConnected {
			s.Connected++
		}
	}
	return s
}
