// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package redisps implements psrpc.Conn on Redis pub/sub. Importing it
// registers the "redis" and "rediss" transport schemes.
package redisps

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/luxfi/psrpc"
	"github.com/redis/go-redis/v9"
)

func init() {
	psrpc.RegisterTransport(psrpc.TransportRedis, openRedis)
	psrpc.RegisterTransport("rediss", openRedis)
}

func openRedis(ctx context.Context, u *url.URL) (psrpc.Conn, error) {
	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	c := New(client)
	c.own = true
	return c, nil
}

// Conn publishes with PUBLISH and subscribes with SUBSCRIBE, or PSUBSCRIBE
// for wildcard patterns. Redis glob patterns are wider than "+" and "#",
// so pattern deliveries are filtered with psrpc.MatchTopic.
type Conn struct {
	client *redis.Client
	own    bool

	mu   sync.Mutex
	subs map[string][]*redis.PubSub
}

// New wraps client. Close does not close it.
func New(client *redis.Client) *Conn {
	return &Conn{client: client, subs: make(map[string][]*redis.PubSub)}
}

func (c *Conn) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.client.Publish(ctx, topic, payload).Err()
}

// Subscribe returns once Redis confirmed the subscription. Every call holds
// its own Redis subscription, so the returned handle closes only that one.
func (c *Conn) Subscribe(ctx context.Context, topic string, handler psrpc.MessageHandler) (psrpc.Subscription, error) {
	pattern := psrpc.IsPattern(topic)
	var sub *redis.PubSub
	if pattern {
		sub = c.client.PSubscribe(ctx, Glob(topic))
	} else {
		sub = c.client.Subscribe(ctx, topic)
	}
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	c.mu.Lock()
	c.subs[topic] = append(c.subs[topic], sub)
	c.mu.Unlock()

	go func() {
		for msg := range sub.Channel() {
			if pattern && !psrpc.MatchTopic(topic, msg.Channel) {
				continue
			}
			handler(context.Background(), []byte(msg.Payload), msg.Channel)
		}
	}()
	return psrpc.NewSubscription(topic, func(context.Context) error {
		if !c.remove(topic, sub) {
			return nil // already closed by Unsubscribe or Close
		}
		return sub.Close()
	}), nil
}

// remove drops sub from the topic's list and reports whether it was there.
func (c *Conn) remove(topic string, sub *redis.PubSub) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subs[topic]
	for i, s := range subs {
		if s != sub {
			continue
		}
		if subs = append(subs[:i:i], subs[i+1:]...); len(subs) == 0 {
			delete(c.subs, topic)
		} else {
			c.subs[topic] = subs
		}
		return true
	}
	return false
}

func (c *Conn) Unsubscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	subs := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close ends every subscription and, for connections opened by URL, the
// client.
func (c *Conn) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string][]*redis.PubSub)
	c.mu.Unlock()
	for _, list := range subs {
		for _, sub := range list {
			sub.Close()
		}
	}
	if c.own {
		return c.client.Close()
	}
	return nil
}

// Glob converts a "+"/"#" topic pattern to a Redis glob. Glob metacharacters
// in literal segments are escaped.
func Glob(pattern string) string {
	segs := strings.Split(pattern, "/")
	for i, seg := range segs {
		switch seg {
		case "+", "#":
			segs[i] = "*"
		default:
			segs[i] = globEscaper.Replace(seg)
		}
	}
	return strings.Join(segs, "/")
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
