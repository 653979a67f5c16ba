package rabbitmq

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultReconnectDelay = 2 * time.Second
	maxReconnectDelay     = time.Minute
	dialTimeout           = 30 * time.Second
)

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// DialFunc opens an AMQP connection
type DialFunc func(url string, config amqp.Config) (*amqp.Connection, error)

// ConnectionManager manages the RabbitMQ connection with automatic reconnection
type ConnectionManager struct {
	url            string
	name           string
	dial           DialFunc
	conn           *amqp.Connection
	mu             sync.RWMutex
	reconnectDelay time.Duration
	maxRetries     int
	logger         *slog.Logger
	isConnected    bool
	closed         bool
	done           chan struct{}
	stateListeners []ConnectionStateListener
	listenersMu    sync.RWMutex
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the base reconnection delay
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithMaxRetries sets the maximum number of reconnection attempts; -1 retries forever
func WithMaxRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxRetries = retries
	}
}

// WithConnectionName sets the connection_name client property shown in the management UI
func WithConnectionName(name string) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.name = name
	}
}

// WithDialer replaces amqp.DialConfig
func WithDialer(dial DialFunc) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		name:           "http-mqtt-bridge",
		dial:           amqp.DialConfig,
		reconnectDelay: defaultReconnectDelay,
		maxRetries:     -1,
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the initial connection
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return ErrConnectionClosed
	}
	if cm.isConnected {
		return nil
	}

	conn, err := cm.dialContext(ctx)
	if err != nil {
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}

	notifyClose := cm.attach(conn)
	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
	cm.notifyConnected()

	go cm.handleReconnect(notifyClose)

	return nil
}

// dialContext runs the blocking dial in a goroutine so ctx can abandon it
func (cm *ConnectionManager) dialContext(ctx context.Context) (*amqp.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		conn, err := cm.dial(cm.url, amqp.Config{
			Heartbeat:  10 * time.Second,
			Properties: amqp.Table{"connection_name": cm.name},
		})
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.conn, r.err
	case <-dialCtx.Done():
		// close a connection that shows up after we gave up on it
		go func() {
			if r := <-resultCh; r.conn != nil {
				r.conn.Close()
			}
		}()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrConnectionTimeout
	}
}

// attach must be called with mu held
func (cm *ConnectionManager) attach(conn *amqp.Connection) chan *amqp.Error {
	cm.conn = conn
	cm.isConnected = true
	notifyClose := make(chan *amqp.Error, 1)
	conn.NotifyClose(notifyClose)
	return notifyClose
}

// GetConnection returns the current connection
func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	return cm.conn, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected
}

// Close closes the connection and stops reconnecting
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil
	}
	cm.closed = true
	close(cm.done)
	cm.isConnected = false

	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		return err
	}

	return nil
}

func (cm *ConnectionManager) handleReconnect(notifyClose chan *amqp.Error) {
	for {
		select {
		case err, ok := <-notifyClose:
			if !ok && err == nil {
				// graceful close through Close
				select {
				case <-cm.done:
					return
				default:
				}
			}
			cm.logger.Error("connection to RabbitMQ lost", "error", err)

			cm.mu.Lock()
			cm.isConnected = false
			cm.conn = nil
			cm.mu.Unlock()

			var cause error
			if err != nil {
				cause = err
			}
			cm.notifyDisconnected(cause)

			next, ok := cm.reconnect()
			if !ok {
				return
			}
			notifyClose = next

		case <-cm.done:
			return
		}
	}
}

// reconnect dials until it succeeds, the retries run out or Close is called
func (cm *ConnectionManager) reconnect() (chan *amqp.Error, bool) {
	startTime := time.Now()

	for attempt := 0; ; attempt++ {
		if cm.maxRetries >= 0 && attempt >= cm.maxRetries {
			cm.logger.Error("max reconnection attempts reached",
				"attempts", attempt,
				"duration", time.Since(startTime))
			cm.notifyDisconnected(&ConnectionError{
				Op:        "reconnect",
				URL:       SanitizeURL(cm.url),
				Err:       ErrMaxRetriesExceeded,
				Timestamp: time.Now(),
				Attempts:  attempt,
			})
			return nil, false
		}

		if attempt > 0 {
			select {
			case <-time.After(cm.calculateBackoff(attempt - 1)):
			case <-cm.done:
				return nil, false
			}
		}

		cm.logger.Info("attempting to reconnect", "attempt", attempt+1, "maxRetries", cm.maxRetries)
		cm.notifyReconnecting(attempt + 1)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-cm.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		conn, err := cm.dialContext(ctx)
		cancel()

		if err != nil {
			cm.logger.Error("reconnection failed", "error", err, "attempt", attempt+1)
			continue
		}

		cm.mu.Lock()
		if cm.closed {
			cm.mu.Unlock()
			conn.Close()
			return nil, false
		}
		notifyClose := cm.attach(conn)
		cm.mu.Unlock()

		cm.logger.Info("reconnected to RabbitMQ",
			"attempts", attempt+1,
			"duration", time.Since(startTime))
		cm.notifyConnected()

		return notifyClose, true
	}
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

// RemoveStateListener removes a connection state listener
func (cm *ConnectionManager) RemoveStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()

	for i, l := range cm.stateListeners {
		if l == listener {
			cm.stateListeners = append(cm.stateListeners[:i], cm.stateListeners[i+1:]...)
			break
		}
	}
}

func (cm *ConnectionManager) listeners() []ConnectionStateListener {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	return append([]ConnectionStateListener(nil), cm.stateListeners...)
}

func (cm *ConnectionManager) notifyConnected() {
	for _, listener := range cm.listeners() {
		go listener.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	for _, listener := range cm.listeners() {
		go listener.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	for _, listener := range cm.listeners() {
		go listener.OnReconnecting(attempt)
	}
}

// calculateBackoff doubles the base delay per attempt, capped, with ±25% jitter
func (cm *ConnectionManager) calculateBackoff(attempt int) time.Duration {
	base := cm.reconnectDelay
	if base <= 0 {
		base = defaultReconnectDelay
	}

	delay := maxReconnectDelay
	if attempt < 16 {
		if d := base << uint(attempt); d > 0 && d < maxReconnectDelay {
			delay = d
		}
	}

	jitter := int64(delay) / 4
	if jitter > 0 {
		delay += time.Duration(rand.Int64N(2*jitter) - jitter)
	}

	return delay
}
