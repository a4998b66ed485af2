/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_tsn/internal/events"
)

// OriginKey marks payloads that arrived from another node. Bridges set
// it on inbound delivery; the mirror refuses to republish such
// payloads, so two instances mirroring the same stream do not loop.
const OriginKey = "origin_node"

// RunMirror subscribes to every event type on the local bus and
// republishes locally-originated payloads through publish until ctx is
// canceled. Blocks; run it on its own goroutine.
func RunMirror(ctx context.Context, local *events.Bus, logger zerolog.Logger, publish func(events.EventType, events.Payload)) {
	types := events.Types()
	subs := make([]events.Subscriber, len(types))
	for i, eventType := range types {
		subs[i] = local.Subscribe(eventType)
	}
	defer func() {
		for i, eventType := range types {
			local.Unsubscribe(eventType, subs[i])
		}
	}()

	logger.Info().Msg("event mirror started")

	for {
		idle := true
		for i, eventType := range types {
			select {
			case payload := <-subs[i]:
				idle = false
				if _, remote := payload[OriginKey]; !remote {
					publish(eventType, payload)
				}
			default:
			}
		}
		if idle {
			select {
			case <-ctx.Done():
				logger.Info().Msg("event mirror stopped")
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
}
