package event

import "time"

// Type is the persisted tag of a payload variant.
type Type string

const (
	// TypeLocationUpdated records a reported car position.
	TypeLocationUpdated Type = "car.location_updated"
	// TypeMaintenanceItemUpserted adds a maintenance item or updates its checked flag.
	TypeMaintenanceItemUpserted Type = "car.maintenance_item_upserted"
	// TypeMaintenanceItemRemoved removes a maintenance item by id.
	TypeMaintenanceItemRemoved Type = "car.maintenance_item_removed"
)

// Types returns every payload type in declaration order.
func Types() []Type {
	return []Type{
		TypeLocationUpdated,
		TypeMaintenanceItemUpserted,
		TypeMaintenanceItemRemoved,
	}
}

// Payload is one of the closed set of event variants.
type Payload interface {
	EventType() Type
	isPayload()
}

// LocationUpdated reports a car's position in integer coordinates.
type LocationUpdated struct {
	Latitude  int `json:"latitude"`
	Longitude int `json:"longitude"`
}

// EventType implements Payload.
func (LocationUpdated) EventType() Type { return TypeLocationUpdated }
func (LocationUpdated) isPayload()      {}

// MaintenanceItemUpserted adds an item to a car's maintenance plan, or flips
// the checked flag of an item already on it.
type MaintenanceItemUpserted struct {
	ItemID      int    `json:"item_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Checked     bool   `json:"checked"`
}

// EventType implements Payload.
func (MaintenanceItemUpserted) EventType() Type { return TypeMaintenanceItemUpserted }
func (MaintenanceItemUpserted) isPayload()      {}

// MaintenanceItemRemoved drops an item from a car's maintenance plan.
type MaintenanceItemRemoved struct {
	ItemID int `json:"item_id"`
}

// EventType implements Payload.
func (MaintenanceItemRemoved) EventType() Type { return TypeMaintenanceItemRemoved }
func (MaintenanceItemRemoved) isPayload()      {}

// Event is a persisted payload with its stream and global positions.
type Event struct {
	ID       string
	StreamID string
	// StreamSeq is the 1-based contiguous position within the stream.
	StreamSeq uint64
	// GlobalSeq is the strictly increasing position across all streams.
	GlobalSeq  uint64
	Type       Type
	Payload    Payload
	RecordedAt time.Time
}
