// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package amqpps implements psrpc.Conn on an AMQP topic exchange. Importing
// it registers the "amqp" and "amqps" transport schemes.
//
// Topics map to routing keys by replacing "/" with "."; topic segments must
// therefore not contain ".". Pattern wildcards map as "+" to "*" and "#" to
// "#". Every subscription consumes from its own exclusive, auto-deleted
// queue.
package amqpps

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/luxfi/psrpc"
	"github.com/streadway/amqp"
)

// DefaultExchange is used when the URL has no exchange query parameter.
const DefaultExchange = "psrpc"

func init() {
	psrpc.RegisterTransport(psrpc.TransportAMQP, openAMQP)
	psrpc.RegisterTransport("amqps", openAMQP)
}

// openAMQP dials u. The "exchange" query parameter names the topic exchange
// and is stripped before dialing.
func openAMQP(_ context.Context, u *url.URL) (psrpc.Conn, error) {
	dialURL := *u
	q := dialURL.Query()
	exchange := q.Get("exchange")
	q.Del("exchange")
	dialURL.RawQuery = q.Encode()

	conn, err := amqp.Dial(dialURL.String())
	if err != nil {
		return nil, err
	}
	c, err := New(conn, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.own = true
	return c, nil
}

type subscription struct {
	queue string
	tag   string
}

// Conn is a psrpc.Conn over one AMQP channel.
type Conn struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	own      bool

	mu   sync.Mutex // serializes channel use
	subs map[string][]*subscription
}

// New opens a channel on conn and declares exchange as a non-durable topic
// exchange. Close closes the channel, and conn only when opened by URL.
func New(conn *amqp.Connection, exchange string) (*Conn, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		false,    // durable
		false,    // delete when unused
		false,    // internal
		false,    // noWait
		nil,      // arguments
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Conn{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		subs:     make(map[string][]*subscription),
	}, nil
}

func (c *Conn) Publish(_ context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel.Publish(
		c.exchange,        // exchange
		RoutingKey(topic), // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType: "application/octet-stream",
			Body:        payload,
		})
}

// Subscribe binds a fresh queue to the pattern and starts consuming. The
// binding is confirmed by the broker before Subscribe returns. The returned
// handle cancels this consumer and deletes its queue only.
func (c *Conn) Subscribe(_ context.Context, topic string, handler psrpc.MessageHandler) (psrpc.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, err := c.channel.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := c.channel.QueueBind(q.Name, BindingKey(topic), c.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind %s: %w", topic, err)
	}

	tag := "psrpc-" + uuid.NewString()
	msgs, err := c.channel.Consume(
		q.Name, // queue
		tag,    // consumer
		true,   // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}
	sub := &subscription{queue: q.Name, tag: tag}
	c.subs[topic] = append(c.subs[topic], sub)

	go func() {
		for d := range msgs {
			handler(context.Background(), d.Body, TopicFromRoutingKey(d.RoutingKey))
		}
	}()
	return psrpc.NewSubscription(topic, func(context.Context) error {
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
			return c.cancelLocked(sub)
		}
		return nil
	}), nil
}

func (c *Conn) Unsubscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subs[topic]
	delete(c.subs, topic)

	var firstErr error
	for _, s := range subs {
		if err := c.cancelLocked(s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// cancelLocked stops the consumer and deletes its queue. c.mu must be held.
func (c *Conn) cancelLocked(s *subscription) error {
	if err := c.channel.Cancel(s.tag, false); err != nil {
		return err
	}
	_, err := c.channel.QueueDelete(s.queue, false, false, false)
	return err
}

func (c *Conn) Close() error {
	c.mu.Lock()
	err := c.channel.Close()
	c.subs = make(map[string][]*subscription)
	c.mu.Unlock()
	if c.own {
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// RoutingKey converts a topic to an AMQP routing key.
func RoutingKey(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// BindingKey converts a topic pattern to an AMQP binding key.
func BindingKey(pattern string) string {
	segs := strings.Split(pattern, "/")
	for i, seg := range segs {
		if seg == "+" {
			segs[i] = "*"
		}
	}
	return strings.Join(segs, ".")
}

// TopicFromRoutingKey recovers the topic a message was published on.
func TopicFromRoutingKey(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}
