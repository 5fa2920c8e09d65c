package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/panelsync/internal/infrastructure/config"
	"github.com/nerrad567/panelsync/internal/infrastructure/mqtt"
)

// Conn is a live connection to one broker. *mqtt.Client satisfies it.
type Conn interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	SetOnConnect(callback func())
	Close() error
}

// Dialer opens a connection to a broker.
type Dialer func(cfg Config) (Conn, error)

// MQTTDialer returns a Dialer backed by the paho client. The embedded
// broker is always dialled over loopback whatever host it advertises.
func MQTTDialer(cfg config.MQTTConfig, logger mqtt.Logger) Dialer {
	return func(b Config) (Conn, error) {
		host := b.URL
		if b.ID == LocalID {
			host = "127.0.0.1"
		}
		ep, err := mqtt.ParseEndpoint(b.ID, host, b.Port, b.Username, b.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, b.ID, err)
		}
		c, err := mqtt.Connect(cfg, ep)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, b.ID, err)
		}
		if logger != nil {
			c.SetLogger(logger)
			id := b.ID
			c.SetOnDisconnect(func(err error) {
				logger.Warn("broker connection lost", "broker", id, "error", err)
			})
		}
		return c, nil
	}
}

// Logger defines the logging interface used by the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type subscriptionSpec struct {
	brokerID string // empty means every broker
	topic    string
	handler  Handler
}

const (
	defaultRetryInitial = 2 * time.Second
	defaultRetryMax     = time.Minute
)

// Registry holds broker definitions and one connection per enabled broker.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Change listeners are called without any registry lock held.
type Registry struct {
	dial   Dialer
	repo   Repository
	logger Logger

	retryInitial time.Duration
	retryMax     time.Duration

	mu        sync.RWMutex
	brokers   map[string]Config
	conns     map[string]Conn
	retries   map[string]*time.Timer
	defaultID string
	subs      []subscriptionSpec
	listeners []func()
	closed    bool

	cacheMu  sync.Mutex
	lastSent map[string]*retainedTopic
}

// retainedTopic is the last payload retained on one broker topic. mu is
// held across the send so the cache follows the order payloads reach the
// broker.
type retainedTopic struct {
	mu      sync.Mutex
	payload string
	sent    bool
}

// NewRegistry creates an empty registry. repo may be nil for a registry
// that does not persist its broker set.
func NewRegistry(dial Dialer, repo Repository) *Registry {
	return &Registry{
		dial:         dial,
		repo:         repo,
		logger:       noopLogger{},
		retryInitial: defaultRetryInitial,
		retryMax:     defaultRetryMax,
		brokers:      make(map[string]Config),
		conns:        make(map[string]Conn),
		retries:      make(map[string]*time.Timer),
		lastSent:     make(map[string]*retainedTopic),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetRetryDelays sets the reconnect backoff used after a failed first connect.
func (r *Registry) SetRetryDelays(initial, maxDelay time.Duration) {
	if initial > 0 {
		r.retryInitial = initial
	}
	if maxDelay >= r.retryInitial {
		r.retryMax = maxDelay
	}
}

// Load restores the persisted broker set and default broker, then connects.
// fallbackDefault is used when no default has been stored yet.
func (r *Registry) Load(ctx context.Context, fallbackDefault string) error {
	if r.repo == nil {
		return nil
	}
	brokers, err := r.repo.ListBrokers(ctx)
	if err != nil {
		return err
	}
	def, err := r.repo.DefaultBroker(ctx)
	if err != nil {
		return err
	}
	if def == "" {
		def = fallbackDefault
	}

	r.mu.Lock()
	r.defaultID = def
	r.mu.Unlock()

	r.apply(brokers)
	return nil
}

// SetBrokers replaces the broker set. Newly enabled brokers are connected,
// disabled or removed ones are closed. Protected brokers cannot be removed
// and keep their connection settings; only their enabled flag may change.
func (r *Registry) SetBrokers(ctx context.Context, brokers []Config) error {
	seen := make(map[string]bool, len(brokers))
	for _, b := range brokers {
		if err := b.Validate(); err != nil {
			return err
		}
		if seen[b.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidBroker, b.ID)
		}
		seen[b.ID] = true
	}

	r.mu.RLock()
	next := make([]Config, 0, len(brokers)+1)
	for _, b := range brokers {
		if cur, ok := r.brokers[b.ID]; ok && cur.Protected {
			if !sameEndpoint(cur, b) {
				r.mu.RUnlock()
				return fmt.Errorf("%w: %s", ErrProtected, b.ID)
			}
			b.Protected = true
		}
		next = append(next, b)
	}
	for id, cur := range r.brokers {
		if cur.Protected && !seen[id] {
			next = append(next, cur)
		}
	}
	r.mu.RUnlock()

	if r.repo != nil {
		if err := r.repo.ReplaceBrokers(ctx, next); err != nil {
			return err
		}
	}
	r.apply(next)
	r.notify()
	return nil
}

// Register adds or replaces a single broker without touching the others.
// It is used at startup for the embedded broker.
func (r *Registry) Register(ctx context.Context, b Config) error {
	if err := b.Validate(); err != nil {
		return err
	}
	list := r.Brokers()
	replaced := false
	for i := range list {
		if list[i].ID == b.ID {
			list[i] = b
			replaced = true
		}
	}
	if !replaced {
		list = append(list, b)
	}
	if r.repo != nil {
		if err := r.repo.ReplaceBrokers(ctx, list); err != nil {
			return err
		}
	}
	r.apply(list)
	return nil
}

// apply installs list as the broker set and reconciles connections.
func (r *Registry) apply(list []Config) {
	var toClose []Conn
	var closedIDs []string
	var toOpen []Config

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	prev := r.brokers
	r.brokers = make(map[string]Config, len(list))
	for _, b := range list {
		r.brokers[b.ID] = b
	}
	for id, conn := range r.conns {
		b, ok := r.brokers[id]
		if !ok || !b.Enabled || !sameEndpoint(prev[id], b) {
			toClose = append(toClose, conn)
			closedIDs = append(closedIDs, id)
			delete(r.conns, id)
			r.logger.Info("broker connection closing", "broker", id)
		}
	}
	for id, t := range r.retries {
		if b, ok := r.brokers[id]; !ok || !b.Enabled || !sameEndpoint(prev[id], b) {
			t.Stop()
			delete(r.retries, id)
		}
	}
	for id, b := range r.brokers {
		_, connected := r.conns[id]
		_, retrying := r.retries[id]
		if b.Enabled && !connected && !retrying {
			toOpen = append(toOpen, b)
		}
	}
	r.mu.Unlock()

	for _, c := range toClose {
		c.Close() //nolint:errcheck // best effort
	}
	for _, id := range closedIDs {
		r.forgetBroker(id)
	}

	var wg sync.WaitGroup
	for _, b := range toOpen {
		wg.Add(1)
		go func(b Config) {
			defer wg.Done()
			r.connect(b, 0)
		}(b)
	}
	wg.Wait()
}

func (r *Registry) connect(b Config, attempt int) {
	conn, err := r.dial(b)
	if err != nil {
		r.logger.Warn("broker connect failed", "broker", b.ID, "attempt", attempt+1, "error", err)
		r.scheduleRetry(b, attempt+1)
		return
	}

	r.mu.Lock()
	cur, ok := r.brokers[b.ID]
	_, exists := r.conns[b.ID]
	if r.closed || !ok || !cur.Enabled || !sameEndpoint(cur, b) || exists {
		r.mu.Unlock()
		conn.Close() //nolint:errcheck // superseded
		return
	}
	delete(r.retries, b.ID)
	r.conns[b.ID] = conn
	specs := r.specsFor(b.ID)
	r.mu.Unlock()

	conn.SetOnConnect(func() { r.resubscribe(b.ID) })
	for _, s := range specs {
		r.subscribeConn(b.ID, conn, s)
	}
	r.logger.Info("broker connected", "broker", b.ID, "url", b.URL, "port", b.Port)
}

func (r *Registry) scheduleRetry(b Config, attempt int) {
	delay := r.retryInitial
	for i := 1; i < attempt && delay < r.retryMax; i++ {
		delay *= 2
	}
	if delay > r.retryMax {
		delay = r.retryMax
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if t, ok := r.retries[b.ID]; ok {
		t.Stop()
	}
	r.retries[b.ID] = time.AfterFunc(delay, func() {
		r.mu.RLock()
		cur, ok := r.brokers[b.ID]
		_, exists := r.conns[b.ID]
		closed := r.closed
		r.mu.RUnlock()
		if closed || !ok || !cur.Enabled || exists || !sameEndpoint(cur, b) {
			return
		}
		r.connect(cur, attempt)
	})
}

// specsFor returns subscriptions that apply to brokerID. Caller holds r.mu.
func (r *Registry) specsFor(brokerID string) []subscriptionSpec {
	var out []subscriptionSpec
	for _, s := range r.subs {
		if s.brokerID == "" || s.brokerID == brokerID {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) resubscribe(brokerID string) {
	r.mu.RLock()
	conn, ok := r.conns[brokerID]
	specs := r.specsFor(brokerID)
	r.mu.RUnlock()
	if !ok {
		return
	}
	for _, s := range specs {
		r.subscribeConn(brokerID, conn, s)
	}
}

func (r *Registry) subscribeConn(brokerID string, conn Conn, s subscriptionSpec) {
	h := s.handler
	err := conn.Subscribe(s.topic, QoSAtLeastOnce, func(topic string, payload []byte) error {
		return h(brokerID, topic, payload)
	})
	if err != nil {
		r.logger.Warn("broker subscribe failed", "broker", brokerID, "topic", s.topic, "error", err)
	}
}

// Subscribe registers handler for topic on one broker ("Default" allowed).
// The subscription is kept and re-applied whenever the broker (re)connects.
func (r *Registry) Subscribe(brokerID, topic string, handler Handler) {
	id := r.ResolveDefault(brokerID)
	r.addSpec(subscriptionSpec{brokerID: id, topic: topic, handler: handler})
}

// SubscribeAll registers handler for topic on every current and future broker.
func (r *Registry) SubscribeAll(topic string, handler Handler) {
	r.addSpec(subscriptionSpec{topic: topic, handler: handler})
}

func (r *Registry) addSpec(s subscriptionSpec) {
	r.mu.Lock()
	replaced := false
	for i := range r.subs {
		if r.subs[i].brokerID == s.brokerID && r.subs[i].topic == s.topic {
			r.subs[i] = s
			replaced = true
		}
	}
	if !replaced {
		r.subs = append(r.subs, s)
	}
	targets := make(map[string]Conn)
	for id, c := range r.conns {
		if s.brokerID == "" || s.brokerID == id {
			targets[id] = c
		}
	}
	r.mu.Unlock()

	for id, c := range targets {
		r.subscribeConn(id, c, s)
	}
}

// Unsubscribe removes a subscription made with Subscribe.
func (r *Registry) Unsubscribe(brokerID, topic string) {
	id := r.ResolveDefault(brokerID)
	r.mu.Lock()
	kept := r.subs[:0]
	for _, s := range r.subs {
		if !(s.brokerID == id && s.topic == topic) {
			kept = append(kept, s)
		}
	}
	r.subs = kept
	conn := r.conns[id]
	r.mu.Unlock()

	if conn != nil {
		if err := conn.Unsubscribe(topic); err != nil {
			r.logger.Debug("broker unsubscribe failed", "broker", id, "topic", topic, "error", err)
		}
	}
}

// Brokers returns all broker definitions ordered by id.
func (r *Registry) Brokers() []Config {
	r.mu.RLock()
	out := make([]Config, 0, len(r.brokers))
	for _, b := range r.brokers {
		out = append(out, b)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Broker returns one broker definition after resolving the default alias.
func (r *Registry) Broker(id string) (Config, bool) {
	id = r.ResolveDefault(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.brokers[id]
	return b, ok
}

// Connected reports whether the broker has a live connection.
func (r *Registry) Connected(id string) bool {
	id = r.ResolveDefault(id)
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	return ok && c.IsConnected()
}

// DefaultBroker returns the id the "Default" alias resolves to.
func (r *Registry) DefaultBroker() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

// SetDefaultBroker changes the broker the "Default" alias resolves to.
func (r *Registry) SetDefaultBroker(ctx context.Context, id string) error {
	r.mu.RLock()
	_, ok := r.brokers[id]
	same := r.defaultID == id
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBroker, id)
	}
	if same {
		return nil
	}
	if r.repo != nil {
		if err := r.repo.SetDefaultBroker(ctx, id); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.defaultID = id
	// Default-bound subscriptions follow the alias only when made after this
	// point; existing ones were resolved at subscribe time.
	r.mu.Unlock()

	r.logger.Info("default broker changed", "broker", id)
	r.notify()
	return nil
}

// ResolveDefault substitutes the default broker id for the "Default" alias.
func (r *Registry) ResolveDefault(id string) string {
	if id != DefaultAlias && id != "" {
		return id
	}
	return r.DefaultBroker()
}

// OnChange registers fn to be called after the broker set or the default
// broker changes.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) notify() {
	r.mu.RLock()
	fns := append([]func(){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// Publish sends payload to topic on a broker. Strings and byte slices are
// sent as-is, anything else as JSON. Retained publishes identical to the
// last payload sent to the same broker and topic are skipped. Failures are
// logged and dropped.
func (r *Registry) Publish(brokerID, topic string, payload any, opts PublishOptions) {
	id := r.ResolveDefault(brokerID)
	data, err := encodePayload(payload)
	if err != nil {
		r.logger.Warn("publish payload not encodable", "broker", id, "topic", topic, "error", err)
		return
	}

	r.mu.RLock()
	conn := r.conns[id]
	r.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		r.logger.Debug("publish dropped, broker not connected", "broker", id, "topic", topic)
		return
	}

	if !opts.Retain {
		if err := conn.Publish(topic, data, opts.QoS, false); err != nil {
			r.logger.Warn("publish failed", "broker", id, "topic", topic, "error", err)
		}
		return
	}

	rt := r.retained(id + "\x00" + topic)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.sent && rt.payload == string(data) {
		return
	}
	if err := conn.Publish(topic, data, opts.QoS, true); err != nil {
		rt.sent = false
		r.logger.Warn("publish failed", "broker", id, "topic", topic, "error", err)
		return
	}
	rt.payload, rt.sent = string(data), true
}

func (r *Registry) retained(key string) *retainedTopic {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	rt, ok := r.lastSent[key]
	if !ok {
		rt = &retainedTopic{}
		r.lastSent[key] = rt
	}
	return rt
}

// Forget drops de-duplication entries for topics under prefix on a broker,
// so the next publish is sent even if unchanged.
func (r *Registry) Forget(brokerID, prefix string) {
	keyPrefix := r.ResolveDefault(brokerID) + "\x00" + prefix
	var stale []*retainedTopic
	r.cacheMu.Lock()
	for k, rt := range r.lastSent {
		if strings.HasPrefix(k, keyPrefix) {
			stale = append(stale, rt)
		}
	}
	r.cacheMu.Unlock()
	for _, rt := range stale {
		rt.mu.Lock()
		rt.sent = false
		rt.mu.Unlock()
	}
}

func (r *Registry) forgetBroker(id string) {
	r.Forget(id, "")
}

func encodePayload(v any) ([]byte, error) {
	switch p := v.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	case nil:
		return []byte{}, nil
	}
	return json.Marshal(v)
}

// Close disconnects every broker and stops pending reconnects.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	conns := r.conns
	r.conns = make(map[string]Conn)
	for id, t := range r.retries {
		t.Stop()
		delete(r.retries, id)
	}
	r.mu.Unlock()

	for id, c := range conns {
		if err := c.Close(); err != nil {
			r.logger.Warn("closing broker connection", "broker", id, "error", err)
		}
	}
	return nil
}
