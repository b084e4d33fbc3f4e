// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"context"
	"net/url"
	"sort"
	"sync"
)

// Transport schemes
const (
	TransportMemory = "mem"   // In-process bus, always available
	TransportRedis  = "redis" // Redis pub/sub, transport/redisps
	TransportAMQP   = "amqp"  // AMQP topic exchange, transport/amqpps
	TransportGRPC   = "grpc"  // gRPC gateway link, transport/grpcps
)

// OpenFunc opens a transport connection for a parsed URL.
type OpenFunc func(ctx context.Context, u *url.URL) (Conn, error)

var (
	transportsMu sync.RWMutex
	transports   = map[string]OpenFunc{
		TransportMemory: openMemory,
	}
)

// RegisterTransport makes a transport available to Open under scheme.
// Transport packages call it from init.
func RegisterTransport(scheme string, open OpenFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[scheme] = open
}

// AvailableTransports returns the sorted list of registered schemes
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(scheme string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[scheme]
	return ok
}

func lookupTransport(scheme string) (OpenFunc, bool) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	open, ok := transports[scheme]
	return open, ok
}
