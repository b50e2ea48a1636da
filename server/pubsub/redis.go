package pubsub

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"
)

// RedisPubsub fans room events out through redis PUBLISH/SUBSCRIBE. A single
// subscription connection is shared by every listener of the instance.
type RedisPubsub struct {
	logger slog.Logger
	client *redis.Client
	sub    *redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mut       sync.Mutex
	listeners map[string]map[uuid.UUID]Listener
}

func NewRedis(ctx context.Context, logger slog.Logger, client *redis.Client) (*RedisPubsub, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, xerrors.Errorf("ping redis: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &RedisPubsub{
		logger:    logger,
		client:    client,
		sub:       client.Subscribe(ctx),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		listeners: make(map[string]map[uuid.UUID]Listener),
	}
	go p.listen()
	return p, nil
}

func (p *RedisPubsub) Subscribe(event string, listener Listener) (cancel func(), err error) {
	p.mut.Lock()
	defer p.mut.Unlock()

	listeners, ok := p.listeners[event]
	if !ok {
		if err := p.sub.Subscribe(p.ctx, event); err != nil {
			return nil, xerrors.Errorf("subscribe %q: %w", event, err)
		}
		listeners = map[uuid.UUID]Listener{}
		p.listeners[event] = listeners
	}
	var id uuid.UUID
	for {
		id = uuid.New()
		if _, ok = listeners[id]; !ok {
			break
		}
	}
	listeners[id] = listener
	return func() {
		p.mut.Lock()
		defer p.mut.Unlock()
		listeners := p.listeners[event]
		delete(listeners, id)
		if len(listeners) == 0 {
			delete(p.listeners, event)
			if err := p.sub.Unsubscribe(p.ctx, event); err != nil && p.ctx.Err() == nil {
				p.logger.Warn(p.ctx, "unsubscribe", slog.F("event", event), slog.Error(err))
			}
		}
	}, nil
}

func (p *RedisPubsub) Publish(event string, message []byte) error {
	if err := p.client.Publish(p.ctx, event, message).Err(); err != nil {
		return xerrors.Errorf("publish %q: %w", event, err)
	}
	return nil
}

func (p *RedisPubsub) Close() error {
	p.cancel()
	err := p.sub.Close()
	<-p.done
	if err != nil {
		return xerrors.Errorf("close subscription: %w", err)
	}
	return nil
}

func (p *RedisPubsub) listen() {
	defer close(p.done)
	ch := p.sub.Channel()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			p.listenReceive(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (p *RedisPubsub) listenReceive(event string, message []byte) {
	p.mut.Lock()
	listeners := make([]Listener, 0, len(p.listeners[event]))
	for _, l := range p.listeners[event] {
		listeners = append(listeners, l)
	}
	p.mut.Unlock()
	// Listeners run inline so events of one channel keep their order.
	for _, listener := range listeners {
		listener(p.ctx, message)
	}
}
