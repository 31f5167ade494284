// Package car folds a car stream into its live aggregate snapshot.
package car

import (
	"fmt"

	"github.com/louisbranch/motorpool/internal/services/fleet/domain/event"
)

// Position is a reported coordinate pair.
type Position struct {
	Latitude  int `json:"latitude"`
	Longitude int `json:"longitude"`
}

// State is the car aggregate snapshot. It is never stored; every read folds it
// from the stream.
type State struct {
	ID string `json:"id"`
	// InitialPosition is set by the first LocationUpdated and never changes.
	InitialPosition *Position `json:"initial_position,omitempty"`
	CurrentPosition Position  `json:"current_position"`
	// Traveled accumulates each update's longitude. It is a placeholder metric
	// kept for compatibility, not a distance.
	Traveled int `json:"traveled"`
	// Version is the stream-local sequence of the last folded event.
	Version uint64 `json:"version"`
}

// Fold replays events in stream order onto a zero state.
func Fold(events []event.Event) (State, error) {
	var state State
	for _, evt := range events {
		next, err := Apply(state, evt)
		if err != nil {
			return State{}, err
		}
		state = next
	}
	return state, nil
}

// Apply returns the state after one event. It does not mutate its input.
func Apply(state State, evt event.Event) (State, error) {
	if state.ID == "" {
		state.ID = evt.StreamID
	} else if evt.StreamID != state.ID {
		return state, fmt.Errorf("event %d belongs to stream %s, not %s", evt.StreamSeq, evt.StreamID, state.ID)
	}
	if evt.StreamSeq != state.Version+1 {
		return state, fmt.Errorf("stream %s: expected seq %d, got %d", state.ID, state.Version+1, evt.StreamSeq)
	}

	switch payload := evt.Payload.(type) {
	case event.LocationUpdated:
		position := Position{Latitude: payload.Latitude, Longitude: payload.Longitude}
		if state.InitialPosition == nil {
			initial := position
			state.InitialPosition = &initial
		}
		state.CurrentPosition = position
		state.Traveled += payload.Longitude
	case event.MaintenanceItemUpserted, event.MaintenanceItemRemoved:
		// Maintenance lives in its read model only.
	default:
		return state, fmt.Errorf("car fold: unhandled payload %T at seq %d", evt.Payload, evt.StreamSeq)
	}
	state.Version = evt.StreamSeq
	return state, nil
}
