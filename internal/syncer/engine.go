package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiborg-ai/boardsync/internal/models"
	"github.com/aiborg-ai/boardsync/internal/queue"
)

const (
	DefaultDebounceWindow = 300 * time.Millisecond
	DefaultChannelPrefix  = "boardsync"
)

var (
	ErrStoreNotRegistered     = errors.New("store is not registered")
	ErrStoreAlreadyRegistered = errors.New("store is already registered")
)

// registration is one named store under synchronization.
type registration struct {
	name          string
	store         Store
	strategy      models.Strategy
	merge         MergeFunc
	crossTab      bool
	realtime      bool
	persistFields []string
	lastSync      time.Time
	deb           *debouncer
	unsubRealtime func()
}

// Engine is the sync coordinator: it owns the store registry, the
// broadcast channel lifecycle, conflict resolution, and offline replay.
// All shared state is guarded by one mutex so mutations serialize the way
// the browser event loop serialized them in the original client.
type Engine struct {
	mu        sync.Mutex
	sessionID uuid.UUID
	local     int64
	remote    int64
	stores    map[string]*registration
	unsubTabs func()
	online    bool

	transport Transport
	resolver  *Resolver
	queue     *queue.Queue
	log       *slog.Logger
	now       func() time.Time

	prefix         string
	debounceWindow time.Duration
	strategy       models.Strategy
	autoCrossTab   bool
	autoRealtime   bool
}

type EngineOption func(*Engine)

func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

func WithDebounceWindow(window time.Duration) EngineOption {
	return func(e *Engine) { e.debounceWindow = window }
}

func WithDefaultStrategy(s models.Strategy) EngineOption {
	return func(e *Engine) { e.strategy = s }
}

func WithChannelPrefix(prefix string) EngineOption {
	return func(e *Engine) { e.prefix = prefix }
}

// WithAutoSync controls whether RegisterStore enables cross-tab and
// realtime sync by default.
func WithAutoSync(crossTab, realtime bool) EngineOption {
	return func(e *Engine) {
		e.autoCrossTab = crossTab
		e.autoRealtime = realtime
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(transport Transport, q *queue.Queue, opts ...EngineOption) *Engine {
	e := &Engine{
		sessionID:      uuid.New(),
		stores:         make(map[string]*registration),
		online:         true,
		transport:      transport,
		resolver:       NewResolver(),
		queue:          q,
		log:            slog.Default(),
		now:            time.Now,
		prefix:         DefaultChannelPrefix,
		debounceWindow: DefaultDebounceWindow,
		strategy:       models.StrategyRemoteWins,
		autoCrossTab:   true,
		autoRealtime:   false,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Session returns a copy of the session counters.
func (e *Engine) Session() models.SyncSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.SyncSession{ID: e.sessionID, LocalVersion: e.local, RemoteVersion: e.remote}
}

func (e *Engine) tabsChannel() string {
	return e.prefix + ":tabs"
}

func (e *Engine) eventsChannel(storeName string) string {
	return e.prefix + ":events:" + storeName
}

type RegisterOption func(*registration)

func WithMerge(m MergeFunc) RegisterOption {
	return func(r *registration) { r.merge = m }
}

func WithStrategy(s models.Strategy) RegisterOption {
	return func(r *registration) { r.strategy = s }
}

// WithPersistFields sets the allow-list of top-level fields written to the
// snapshot sink. Fields outside the list are never persisted.
func WithPersistFields(fields ...string) RegisterOption {
	return func(r *registration) { r.persistFields = fields }
}

func WithCrossTab(enabled bool) RegisterOption {
	return func(r *registration) { r.crossTab = enabled }
}

func WithRealtime(enabled bool) RegisterOption {
	return func(r *registration) { r.realtime = enabled }
}

// RegisterStore places a named store under synchronization. Registering a
// name twice replaces the previous entry (upsert), tearing down its
// subscriptions first. The shared tabs channel is opened lazily on the
// first registration that wants cross-tab sync.
func (e *Engine) RegisterStore(ctx context.Context, name string, store Store, opts ...RegisterOption) error {
	reg := &registration{
		name:     name,
		store:    store,
		strategy: e.strategy,
		crossTab: e.autoCrossTab,
		realtime: e.autoRealtime,
		deb:      newDebouncer(e.debounceWindow),
	}
	for _, opt := range opts {
		opt(reg)
	}

	e.mu.Lock()
	if old, ok := e.stores[name]; ok {
		e.teardownLocked(old)
	}
	e.stores[name] = reg

	needTabs := reg.crossTab && e.unsubTabs == nil
	e.mu.Unlock()

	if needTabs {
		unsub, err := e.transport.Subscribe(ctx, e.tabsChannel(), e.onTabMessage)
		if err != nil {
			return fmt.Errorf("failed to open tab channel: %w", err)
		}
		e.mu.Lock()
		e.unsubTabs = unsub
		e.mu.Unlock()
	}

	if reg.realtime {
		if err := e.EnableRealtimeSync(ctx, name); err != nil {
			return err
		}
	}

	e.log.Debug("store registered", "store", name,
		"cross_tab", reg.crossTab, "realtime", reg.realtime)
	return nil
}

// UnregisterStore removes a store from the registry and closes the shared
// tab channel once no remaining store wants cross-tab sync.
func (e *Engine) UnregisterStore(ctx context.Context, name string) error {
	e.mu.Lock()
	reg, ok := e.stores[name]
	if !ok {
		e.mu.Unlock()
		return ErrStoreNotRegistered
	}
	e.teardownLocked(reg)
	delete(e.stores, name)

	stillNeeded := false
	for _, r := range e.stores {
		if r.crossTab {
			stillNeeded = true
			break
		}
	}
	var unsubTabs func()
	if !stillNeeded && e.unsubTabs != nil {
		unsubTabs = e.unsubTabs
		e.unsubTabs = nil
	}
	e.mu.Unlock()

	if unsubTabs != nil {
		unsubTabs()
	}
	e.log.Debug("store unregistered", "store", name)
	return nil
}

func (e *Engine) teardownLocked(reg *registration) {
	reg.deb.stop()
	if reg.unsubRealtime != nil {
		reg.unsubRealtime()
		reg.unsubRealtime = nil
	}
}

// EnableRealtimeSync subscribes the store to its push-update event
// channel. Updates arriving there route through the same conflict path as
// cross-tab messages.
func (e *Engine) EnableRealtimeSync(ctx context.Context, name string) error {
	e.mu.Lock()
	reg, ok := e.stores[name]
	if !ok {
		e.mu.Unlock()
		return ErrStoreNotRegistered
	}
	if reg.unsubRealtime != nil {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	unsub, err := e.transport.Subscribe(ctx, e.eventsChannel(name), func(payload []byte) {
		var event models.RealtimeEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			e.log.Warn("dropping malformed realtime event", "store", name, "error", err)
			return
		}
		e.HandleRealtimeUpdate(ctx, name, event)
	})
	if err != nil {
		return fmt.Errorf("failed to enable realtime sync for %s: %w", name, err)
	}

	e.mu.Lock()
	reg.realtime = true
	reg.unsubRealtime = unsub
	e.mu.Unlock()
	return nil
}

// DisableRealtimeSync drops the store's event subscription. The handle is
// tracked per store, so unlike the original client this is a real
// per-channel unsubscribe rather than a wildcard no-op.
func (e *Engine) DisableRealtimeSync(_ context.Context, name string) error {
	e.mu.Lock()
	reg, ok := e.stores[name]
	if !ok {
		e.mu.Unlock()
		return ErrStoreNotRegistered
	}
	unsub := reg.unsubRealtime
	reg.unsubRealtime = nil
	reg.realtime = false
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	return nil
}

// Broadcast publishes a store's new state to the other sessions. Bursts
// within the debounce window collapse to the last value. Each envelope
// carries a version reserved from localVersion before the post, so posts
// racing from different stores never share a number. When the channel is
// unavailable the change is not lost: it falls back into the offline
// queue.
func (e *Engine) Broadcast(ctx context.Context, name string, state json.RawMessage, action string) error {
	e.mu.Lock()
	reg, ok := e.stores[name]
	if !ok {
		e.mu.Unlock()
		return ErrStoreNotRegistered
	}
	if !reg.crossTab {
		e.mu.Unlock()
		return nil
	}
	deb := reg.deb
	e.mu.Unlock()

	deb.schedule(state, action, func(state json.RawMessage, action string) {
		e.flush(ctx, name, state, action)
	})
	return nil
}

func (e *Engine) flush(ctx context.Context, name string, state json.RawMessage, action string) {
	msgType := models.MessageStateSync
	if action != "" {
		msgType = models.MessageActionSync
	}

	// The version is reserved under the lock before publishing, so two
	// flushes in flight at once can never post the same number. A failed
	// post releases the reservation unless a later flush already claimed
	// past it; the resulting gap is invisible to the monotonic filter on
	// the receiving side.
	e.mu.Lock()
	e.local++
	version := e.local
	env := models.Envelope{
		Type:      msgType,
		StoreName: name,
		Data:      state,
		Action:    action,
		Timestamp: e.now(),
		SessionID: e.sessionID,
		Version:   version,
	}
	e.mu.Unlock()

	payload, err := json.Marshal(env)
	if err != nil {
		e.releaseVersion(version)
		e.log.Error("failed to encode broadcast", "store", name, "error", err)
		return
	}

	err = e.transport.Publish(ctx, e.tabsChannel(), payload)
	if err == nil {
		return
	}

	e.releaseVersion(version)
	e.log.Warn("broadcast failed, queueing change for replay",
		"store", name, "error", err)
	qerr := e.queue.Enqueue(ctx, models.QueueItem{
		Type:     models.OpUpdate,
		Entity:   "store_state",
		EntityID: name,
		Data:     state,
	})
	if qerr != nil {
		e.log.Error("failed to queue undelivered broadcast", "store", name, "error", qerr)
	}
}

// onTabMessage ingests one cross-tab envelope. Own echoes and stale
// versions are discarded before any state is touched.
func (e *Engine) onTabMessage(payload []byte) {
	var env models.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		e.log.Warn("dropping malformed tab message", "error", err)
		return
	}
	if env.SessionID == e.sessionID {
		return
	}

	e.mu.Lock()
	if env.Version <= e.remote {
		e.mu.Unlock()
		return
	}
	reg, ok := e.stores[env.StoreName]
	if !ok || env.Type == models.MessageConflictNotification {
		// Version still advances so replays of this message stay stale.
		e.remote = env.Version
		e.mu.Unlock()
		return
	}

	local := reg.store.Snapshot()
	res := e.resolver.Resolve(env.StoreName, local, env.Data, env.Version, reg.strategy, reg.merge)
	if res.Strategy == models.StrategyManual {
		e.remote = env.Version
		e.mu.Unlock()
		e.log.Info("manual conflict recorded", "store", env.StoreName, "conflict_id", res.ID)
		e.notifyConflict(context.Background(), res)
		return
	}

	// Atomic application: state, remoteVersion and lastSync move together.
	reg.store.Replace(res.Resolved)
	e.remote = env.Version
	reg.lastSync = e.now()
	e.mu.Unlock()
}

// notifyConflict broadcasts a conflict_notification so other sessions can
// surface the pending conflict. Best effort.
func (e *Engine) notifyConflict(ctx context.Context, res models.ConflictResolution) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}

	e.mu.Lock()
	e.local++
	version := e.local
	env := models.Envelope{
		Type:      models.MessageConflictNotification,
		StoreName: res.StoreName,
		Data:      data,
		Timestamp: e.now(),
		SessionID: e.sessionID,
		Version:   version,
	}
	e.mu.Unlock()

	payload, _ := json.Marshal(env)
	if err := e.transport.Publish(ctx, e.tabsChannel(), payload); err != nil {
		e.releaseVersion(version)
		e.log.Warn("failed to publish conflict notification", "error", err)
	}
}

// releaseVersion gives back a reserved version after a failed post. Only
// the newest reservation can be released; an older one leaves a gap in
// the sequence instead.
func (e *Engine) releaseVersion(version int64) {
	e.mu.Lock()
	if e.local == version {
		e.local--
	}
	e.mu.Unlock()
}

// HandleRealtimeUpdate applies an external push update through the same
// conflict path as cross-tab messages.
func (e *Engine) HandleRealtimeUpdate(_ context.Context, name string, event models.RealtimeEvent) {
	e.mu.Lock()
	reg, ok := e.stores[name]
	if !ok {
		e.mu.Unlock()
		return
	}

	local := reg.store.Snapshot()
	res := e.resolver.Resolve(name, local, event.Data, e.remote, reg.strategy, reg.merge)
	if res.Strategy == models.StrategyManual {
		e.mu.Unlock()
		e.log.Info("manual conflict recorded from realtime update",
			"store", name, "conflict_id", res.ID, "event_type", event.EventType)
		return
	}

	reg.store.Replace(res.Resolved)
	reg.lastSync = e.now()
	e.mu.Unlock()
}

// PendingConflicts lists manual conflicts awaiting explicit resolution.
func (e *Engine) PendingConflicts() []models.ConflictResolution {
	return e.resolver.Pending()
}

// ResolveConflict applies the chosen state for a pending manual conflict.
// The store write, remoteVersion bump and lastSync update happen under one
// lock. Resolving twice with the same state is idempotent.
func (e *Engine) ResolveConflict(_ context.Context, id uuid.UUID, resolution json.RawMessage) error {
	resolved, applied, err := e.resolver.MarkResolved(id, resolution)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	reg, ok := e.stores[resolved.StoreName]
	if !ok {
		return ErrStoreNotRegistered
	}
	reg.store.Replace(resolution)
	if resolved.RemoteVersion > e.remote {
		e.remote = resolved.RemoteVersion
	}
	reg.lastSync = e.now()
	return nil
}

// ForceSync re-broadcasts current state for one store (or all when name is
// empty), bypassing the debounce window, then drains the offline queue.
func (e *Engine) ForceSync(ctx context.Context, name string) (queue.DrainReport, error) {
	type target struct {
		name  string
		state json.RawMessage
	}

	e.mu.Lock()
	var targets []target
	if name != "" {
		reg, ok := e.stores[name]
		if !ok {
			e.mu.Unlock()
			return queue.DrainReport{}, ErrStoreNotRegistered
		}
		if reg.crossTab {
			targets = append(targets, target{reg.name, reg.store.Snapshot()})
		}
	} else {
		for _, reg := range e.stores {
			if reg.crossTab {
				targets = append(targets, target{reg.name, reg.store.Snapshot()})
			}
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i].name < targets[j].name })
	}
	e.mu.Unlock()

	for _, tg := range targets {
		e.flush(ctx, tg.name, tg.state, "")
	}

	return e.queue.Drain(ctx)
}

// SetOnline records connectivity. The offline-to-online edge triggers an
// automatic queue drain.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	e.mu.Lock()
	wasOnline := e.online
	e.online = online
	e.mu.Unlock()

	if online && !wasOnline {
		report, err := e.queue.Drain(ctx)
		if err != nil {
			e.log.Error("automatic drain after reconnect failed", "error", err)
			return
		}
		e.log.Info("replayed offline queue after reconnect",
			"delivered", report.Delivered, "retained", report.Retained,
			"failed", len(report.Failed))
	}
}

// Online reports current connectivity.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// LastSync returns the time the store last applied an external update.
func (e *Engine) LastSync(name string) (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, ok := e.stores[name]
	if !ok {
		return time.Time{}, ErrStoreNotRegistered
	}
	return reg.lastSync, nil
}

// PersistSnapshots writes each registered store's allow-listed snapshot to
// the sink. Stores with no allow-list are skipped entirely.
func (e *Engine) PersistSnapshots(ctx context.Context, sink SnapshotSink) error {
	e.mu.Lock()
	type target struct {
		name   string
		state  json.RawMessage
		fields []string
	}
	targets := make([]target, 0, len(e.stores))
	for _, reg := range e.stores {
		if len(reg.persistFields) == 0 {
			continue
		}
		targets = append(targets, target{reg.name, reg.store.Snapshot(), reg.persistFields})
	}
	e.mu.Unlock()

	for _, tg := range targets {
		filtered, err := FilterSnapshot(tg.state, tg.fields)
		if err != nil {
			return fmt.Errorf("failed to filter snapshot for %s: %w", tg.name, err)
		}
		if err := sink.Write(ctx, tg.name, filtered); err != nil {
			return err
		}
	}
	return nil
}

// Close tears down every registration and the tab channel.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	for name, reg := range e.stores {
		e.teardownLocked(reg)
		delete(e.stores, name)
	}
	unsubTabs := e.unsubTabs
	e.unsubTabs = nil
	e.mu.Unlock()

	if unsubTabs != nil {
		unsubTabs()
	}
	return nil
}
