// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	"crypto/rand"
	"encoding/base64"
	"io"
	"log/slog"
	mrand "math/rand/v2"
	"strings"
)

// randReader is the strong identifier source. Tests swap it to exercise the
// degraded path.
var randReader io.Reader = rand.Reader

// NewID returns size random bytes from the system CSPRNG. If that source
// fails, the identifier comes from a non-cryptographic generator and a
// warning is logged: such identifiers are guessable and must not be relied
// on for anything beyond correlation.
func NewID(size int) []byte {
	if size <= 0 {
		size = DefaultIDSize
	}
	id := make([]byte, size)
	if _, err := io.ReadFull(randReader, id); err != nil {
		slog.Warn("psrpc: strong random source unavailable, using degraded identifier",
			"error", err)
		for i := range id {
			id[i] = byte(mrand.UintN(256))
		}
	}
	return id
}

// EncodeID returns the canonical textual form of id: URL-safe base64
// without padding.
func EncodeID(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

// ResponseTopic derives the topic a reply for id is published on.
func ResponseTopic(topic string, id []byte) string {
	return topic + "/" + EncodeID(id)
}

// IsPattern reports whether topic contains wildcard segments.
func IsPattern(topic string) bool {
	for _, seg := range strings.Split(topic, "/") {
		if seg == "+" || seg == "#" {
			return true
		}
	}
	return false
}

// MatchTopic reports whether topic matches pattern. A "+" segment matches
// exactly one segment; a trailing "#" matches the remaining segments, at
// least one.
func MatchTopic(pattern, topic string) bool {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")
	for i, p := range ps {
		if p == "#" {
			return i == len(ps)-1 && len(ts) > i
		}
		if i >= len(ts) {
			return false
		}
		if p != "+" && p != ts[i] {
			return false
		}
	}
	return len(ps) == len(ts)
}
