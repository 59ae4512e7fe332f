// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport adapts the MQTT broker into the two channel kinds the
// look-at service needs: publish/subscribe topics and request/response
// calls layered on top of them.
package transport

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrTransport is returned when a channel is unavailable or a request
	// could not be delivered or answered.
	ErrTransport = errors.New("transport error")
	// ErrTimeout is returned when a call is not answered in time.
	ErrTimeout = errors.Wrap(ErrTransport, "timed out")
	// ErrClosed is returned by a bus that has been closed.
	ErrClosed = errors.Wrap(ErrTransport, "bus closed")
)

// MessageHandler receives every payload published on a subscribed topic.
// Handlers must not block for long; they may be called concurrently.
type MessageHandler func(topic string, payload []byte)

// Bus is a publish/subscribe channel.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler MessageHandler) error
	Unsubscribe(topic string) error
	Close() error
}

// topicMatches reports whether topic matches the MQTT filter, honouring
// the + (single level) and # (remaining levels) wildcards.
func topicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
