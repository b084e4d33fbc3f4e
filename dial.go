// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"context"
	"fmt"
	"net/url"
)

// Open connects to the transport named by rawURL's scheme, for example
// "mem://local", "redis://localhost:6379/0" or "grpc://localhost:7070".
// Schemes other than mem require importing their transport package.
func Open(ctx context.Context, rawURL string) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse transport url: %w", err)
	}
	open, ok := lookupTransport(u.Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, u.Scheme)
	}
	conn, err := open(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("open %s transport: %w", u.Scheme, err)
	}
	return conn, nil
}
