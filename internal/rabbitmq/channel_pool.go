package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelPool hands out AMQP channels to concurrent publishers and consumers.
// Channels are put in confirm mode when created so publishes can be confirmed.
type ChannelPool struct {
	manager     *ConnectionManager
	channels    chan *PooledChannel
	maxSize     int
	waitTimeout time.Duration
	mu          sync.Mutex
	closed      bool
	activeCount int
}

// PooledChannel wraps an AMQP channel with pool metadata
type PooledChannel struct {
	*amqp.Channel
	id       string
	lastUsed time.Time
}

// ID identifies the channel in logs and consumer tags
func (pc *PooledChannel) ID() string {
	return pc.id
}

// ChannelPoolOption configures the channel pool
type ChannelPoolOption func(*ChannelPool)

// WithMaxSize sets the maximum pool size
func WithMaxSize(size int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.maxSize = size
	}
}

// WithWaitTimeout bounds how long Get waits for a channel when the pool is exhausted
func WithWaitTimeout(timeout time.Duration) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.waitTimeout = timeout
	}
}

// NewChannelPool creates a new channel pool. Channels are opened lazily.
func NewChannelPool(manager *ConnectionManager, options ...ChannelPoolOption) (*ChannelPool, error) {
	if manager == nil {
		return nil, fmt.Errorf("%w: connection manager is required", ErrInvalidConfiguration)
	}

	pool := &ChannelPool{
		manager:     manager,
		maxSize:     16,
		waitTimeout: 5 * time.Second,
	}

	for _, opt := range options {
		opt(pool)
	}

	if pool.maxSize < 1 {
		return nil, fmt.Errorf("%w: max size must be at least 1", ErrInvalidConfiguration)
	}

	pool.channels = make(chan *PooledChannel, pool.maxSize)

	return pool, nil
}

// Get retrieves a channel from the pool, opening one while under the limit
func (cp *ChannelPool) Get(ctx context.Context) (*PooledChannel, error) {
	if cp.isClosed() {
		return nil, ErrChannelPoolClosed
	}

	for {
		select {
		case ch := <-cp.channels:
			if ch.IsClosed() {
				cp.release()
				continue
			}
			ch.lastUsed = time.Now()
			return ch, nil
		default:
		}

		if cp.reserve() {
			ch, err := cp.createChannel(ctx)
			if err != nil {
				cp.release()
				return nil, err
			}
			return ch, nil
		}

		select {
		case ch := <-cp.channels:
			if ch.IsClosed() {
				cp.release()
				continue
			}
			ch.lastUsed = time.Now()
			return ch, nil

		case <-ctx.Done():
			return nil, &ChannelError{Op: "get channel", ChannelID: "pool", Err: ctx.Err(), Timestamp: time.Now()}

		case <-time.After(cp.waitTimeout):
			return nil, &ChannelError{Op: "get channel", ChannelID: "pool", Err: ErrChannelPoolExhausted, Timestamp: time.Now()}
		}
	}
}

// Put returns a channel to the pool; closed channels are dropped
func (cp *ChannelPool) Put(ch *PooledChannel) {
	if ch == nil {
		return
	}

	if cp.isClosed() {
		ch.Close()
		cp.release()
		return
	}

	if ch.IsClosed() {
		cp.release()
		return
	}

	ch.lastUsed = time.Now()

	select {
	case cp.channels <- ch:
	default:
		ch.Close()
		cp.release()
	}
}

// Discard closes a channel that must not be reused, such as one that carried a consumer
func (cp *ChannelPool) Discard(ch *PooledChannel) {
	if ch == nil {
		return
	}
	ch.Close()
	cp.release()
}

// Close closes all idle channels; channels handed out are closed when put back
func (cp *ChannelPool) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil
	}
	cp.closed = true
	cp.mu.Unlock()

	for {
		select {
		case ch := <-cp.channels:
			ch.Close()
			cp.release()
		default:
			return nil
		}
	}
}

// Size returns the number of open channels, idle or in use
func (cp *ChannelPool) Size() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.activeCount
}

// Execute runs fn with a channel from the pool
func (cp *ChannelPool) Execute(ctx context.Context, fn func(*amqp.Channel) error) (execErr error) {
	ch, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	defer cp.Put(ch)

	defer func() {
		if r := recover(); r != nil {
			execErr = fmt.Errorf("panic in channel execution: %v", r)
		}
	}()

	return fn(ch.Channel)
}

func (cp *ChannelPool) isClosed() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.closed
}

func (cp *ChannelPool) reserve() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.activeCount >= cp.maxSize {
		return false
	}
	cp.activeCount++
	return true
}

func (cp *ChannelPool) release() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.activeCount > 0 {
		cp.activeCount--
	}
}

func (cp *ChannelPool) createChannel(ctx context.Context) (*PooledChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ChannelError{Op: "create channel", ChannelID: "new", Err: err, Timestamp: time.Now()}
	}

	conn, err := cp.manager.GetConnection()
	if err != nil {
		return nil, &ChannelError{Op: "create channel", ChannelID: "new", Err: err, Timestamp: time.Now()}
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{
			Op:        "create channel",
			ChannelID: "new",
			Err:       fmt.Errorf("%w: %v", ErrChannelCreationFailed, err),
			Timestamp: time.Now(),
		}
	}

	id := uuid.NewString()
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, &ChannelError{Op: "enable confirms", ChannelID: id, Err: err, Timestamp: time.Now()}
	}

	return &PooledChannel{Channel: ch, id: id, lastUsed: time.Now()}, nil
}
