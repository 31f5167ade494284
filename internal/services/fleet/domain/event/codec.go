package event

import (
	"encoding/json"
	"fmt"
	"strconv"

	apperrors "github.com/louisbranch/motorpool/internal/platform/errors"
)

// ErrUnknownType indicates a type tag outside the closed payload set.
var ErrUnknownType = apperrors.New(apperrors.CodeUnknownEventType, "unknown event type")

// Encode serializes a payload for storage.
func Encode(payload Payload) ([]byte, error) {
	if payload == nil {
		return nil, fmt.Errorf("payload is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", payload.EventType(), err)
	}
	return data, nil
}

// Decode rebuilds the payload variant identified by eventType.
func Decode(eventType Type, data []byte) (Payload, error) {
	switch eventType {
	case TypeLocationUpdated:
		return decodeAs[LocationUpdated](eventType, data)
	case TypeMaintenanceItemUpserted:
		return decodeAs[MaintenanceItemUpserted](eventType, data)
	case TypeMaintenanceItemRemoved:
		return decodeAs[MaintenanceItemRemoved](eventType, data)
	default:
		return nil, apperrors.WrapWithMetadata(
			apperrors.CodeUnknownEventType,
			fmt.Sprintf("unknown event type %q", eventType),
			map[string]string{"EventType": string(eventType)},
			ErrUnknownType,
		)
	}
}

func decodeAs[P Payload](eventType Type, data []byte) (Payload, error) {
	var payload P
	if len(data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return payload, nil
}

// Validate checks payload fields before the payload is appended.
func Validate(payload Payload) error {
	switch p := payload.(type) {
	case nil:
		return invalid("payload", "payload is required")
	case LocationUpdated:
		return nil
	case MaintenanceItemUpserted:
		if p.ItemID <= 0 {
			return invalid("item_id", "maintenance item id must be positive, got "+strconv.Itoa(p.ItemID))
		}
		return nil
	case MaintenanceItemRemoved:
		if p.ItemID <= 0 {
			return invalid("item_id", "maintenance item id must be positive, got "+strconv.Itoa(p.ItemID))
		}
		return nil
	default:
		return apperrors.WithMetadata(
			apperrors.CodeUnknownEventType,
			fmt.Sprintf("unknown payload %T", payload),
			map[string]string{"EventType": string(payload.EventType())},
		)
	}
}

func invalid(field, message string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, message, map[string]string{"Field": field})
}
