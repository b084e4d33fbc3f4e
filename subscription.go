// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"context"
	"sync"
)

// NewSubscription returns a Subscription on topic whose Unsubscribe runs
// cancel at most once. Transports use it to build their handles.
func NewSubscription(topic string, cancel func(ctx context.Context) error) Subscription {
	return &subscription{topic: topic, cancel: cancel}
}

type subscription struct {
	topic  string
	cancel func(ctx context.Context) error
	once   sync.Once
}

func (s *subscription) Topic() string { return s.topic }

func (s *subscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.once.Do(func() { err = s.cancel(ctx) })
	return err
}
