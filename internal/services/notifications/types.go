// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"fmt"
	"strings"
)

// EventType names what happened to a queued download. Targets filter on it.
type EventType string

const (
	EventStrike             EventType = "strike"
	EventRecurringItem      EventType = "recurring_item"
	EventQueueItemDeleted   EventType = "queue_item_deleted"
	EventSearchNotTriggered EventType = "search_not_triggered"
	EventSearchTriggered    EventType = "search_triggered"
	EventPassFailed         EventType = "pass_failed"
)

// eventOrder is the order filters are reported in after normalization.
var eventOrder = []EventType{
	EventStrike,
	EventRecurringItem,
	EventQueueItemDeleted,
	EventSearchNotTriggered,
	EventSearchTriggered,
	EventPassFailed,
}

var eventTitles = map[EventType]string{
	EventStrike:             "Strike recorded",
	EventRecurringItem:      "Recurring item",
	EventQueueItemDeleted:   "Queue item deleted",
	EventSearchNotTriggered: "Search not triggered",
	EventSearchTriggered:    "Search triggered",
	EventPassFailed:         "Cleaning pass failed",
}

// Title is the default notification title for the event, empty when unknown.
func (t EventType) Title() string {
	return eventTitles[t]
}

func (t EventType) Valid() bool {
	_, ok := eventTitles[t]
	return ok
}

// KnownEventTypes lists every event a target can subscribe to.
func KnownEventTypes() []EventType {
	return append([]EventType(nil), eventOrder...)
}

// NormalizeEventTypes cleans up a target's event filter. Blank entries and
// duplicates are dropped and the result follows eventOrder. An empty filter
// stays nil, which allows every event.
func NormalizeEventTypes(input []string) ([]string, error) {
	if len(input) == 0 {
		return nil, nil
	}

	wanted := make(map[EventType]bool, len(input))
	for _, raw := range input {
		t := EventType(strings.TrimSpace(raw))
		if t == "" {
			continue
		}
		if !t.Valid() {
			return nil, fmt.Errorf("unknown event type: %s", t)
		}
		wanted[t] = true
	}

	var out []string
	for _, t := range eventOrder {
		if wanted[t] {
			out = append(out, string(t))
		}
	}
	return out, nil
}
