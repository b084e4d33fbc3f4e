// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"sync"
)

var ErrBusClosed = errors.New("psrpc: bus closed")

// MemoryBus is an in-process PubSub. Subscriptions may use "+" and "#"
// wildcards. Each delivery runs on its own goroutine, so handlers never
// block publishers and may observe messages out of order.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
}

type memorySub struct {
	handler MessageHandler
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySub)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	var targets []MessageHandler
	for pattern, subs := range b.subs {
		if MatchTopic(pattern, topic) {
			for _, sub := range subs {
				targets = append(targets, sub.handler)
			}
		}
	}
	b.mu.RUnlock()

	msg := bytes.Clone(payload)
	dctx := context.WithoutCancel(ctx)
	for _, h := range targets {
		go h(dctx, msg, topic)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, topic string, handler MessageHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	sub := &memorySub{handler: handler}
	b.subs[topic] = append(b.subs[topic], sub)
	return NewSubscription(topic, func(context.Context) error {
		b.remove(topic, sub)
		return nil
	}), nil
}

func (b *MemoryBus) remove(topic string, sub *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, topic)
		return
	}
	b.subs[topic] = subs
}

func (b *MemoryBus) Unsubscribe(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, topic)
	return nil
}

// Close drops every subscription. Later operations fail with ErrBusClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]*memorySub)
	return nil
}

// Subscriptions returns the number of subscribed topics.
func (b *MemoryBus) Subscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Named buses let independent Open calls within one process share a bus.
var (
	namedBusesMu sync.Mutex
	namedBuses   = map[string]*namedBus{}
)

type namedBus struct {
	bus  *MemoryBus
	refs int
}

// memoryConn is a reference to a named bus. The bus closes when its last
// reference does.
type memoryConn struct {
	*MemoryBus
	name string
	once sync.Once
}

func openMemory(_ context.Context, u *url.URL) (Conn, error) {
	name := u.Host + u.Path
	namedBusesMu.Lock()
	defer namedBusesMu.Unlock()
	nb, ok := namedBuses[name]
	if !ok {
		nb = &namedBus{bus: NewMemoryBus()}
		namedBuses[name] = nb
	}
	nb.refs++
	return &memoryConn{MemoryBus: nb.bus, name: name}, nil
}

func (c *memoryConn) Close() error {
	c.once.Do(func() {
		namedBusesMu.Lock()
		defer namedBusesMu.Unlock()
		nb, ok := namedBuses[c.name]
		if !ok {
			return
		}
		nb.refs--
		if nb.refs <= 0 {
			delete(namedBuses, c.name)
			nb.bus.Close()
		}
	})
	return nil
}
