package postgres

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"go.uber.org/zap"
)

// OutboxNotifier listens for outbox insert notifications so the publisher
// can deliver without waiting for its next poll.
type OutboxNotifier struct {
	listener *pq.Listener
	wakeups  chan struct{}
	done     chan struct{}
	logger   *zap.Logger
}

// NewOutboxNotifier opens a dedicated LISTEN connection using dsn.
func NewOutboxNotifier(dsn string, logger *zap.Logger) (*OutboxNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("outbox_notifier")

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(OutboxNotifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", OutboxNotifyChannel, err)
	}

	n := &OutboxNotifier{
		listener: listener,
		wakeups:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go n.run()
	return n, nil
}

func (n *OutboxNotifier) run() {
	for {
		select {
		case <-n.done:
			return
		case _, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect; notifications may have
			// been missed, so wake up either way.
			n.signal()
		case <-time.After(90 * time.Second):
			go func() {
				if err := n.listener.Ping(); err != nil {
					n.logger.Warn("listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

func (n *OutboxNotifier) signal() {
	select {
	case n.wakeups <- struct{}{}:
	default:
	}
}

// Wakeups returns the wake-up channel. Bursts of notifications coalesce
// into one pending signal.
func (n *OutboxNotifier) Wakeups() <-chan struct{} {
	return n.wakeups
}

// Close stops listening and closes the connection.
func (n *OutboxNotifier) Close() error {
	close(n.done)
	return n.listener.Close()
}

// Compile-time check
var _ outbound.OutboxWakeupPort = (*OutboxNotifier)(nil)
