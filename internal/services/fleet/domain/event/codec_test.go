package event

import (
	"errors"
	"testing"

	apperrors "github.com/louisbranch/motorpool/internal/platform/errors"
)

func TestDecodeEveryType(t *testing.T) {
	for _, eventType := range Types() {
		payload, err := Decode(eventType, []byte(`{}`))
		if err != nil {
			t.Fatalf("Decode(%s): %v", eventType, err)
		}
		if payload.EventType() != eventType {
			t.Fatalf("Decode(%s) returned %s payload", eventType, payload.EventType())
		}
	}
}

func TestEncodeDecodeMaintenanceUpsert(t *testing.T) {
	in := MaintenanceItemUpserted{ItemID: 1, Name: "Oil change", Description: "5W-30", Checked: true}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got, want := string(data), `{"item_id":1,"name":"Oil change","description":"5W-30","checked":true}`; got != want {
		t.Fatalf("Encode = %s, want %s", got, want)
	}
	out, err := Decode(TypeMaintenanceItemUpserted, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("Decode = %+v, want %+v", out, in)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode(Type("car.teleported"), []byte(`{}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Decode error = %v, want ErrUnknownType", err)
	}
	domainErr, ok := apperrors.As(err)
	if !ok || domainErr.Metadata["EventType"] != "car.teleported" {
		t.Fatalf("expected event type metadata, got %#v", domainErr)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	if _, err := Decode(TypeLocationUpdated, []byte(`{"latitude":"north"}`)); err == nil {
		t.Fatal("expected malformed payload to fail")
	}
}

func TestEncodeRejectsNil(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Fatal("expected nil payload to be rejected")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		code    apperrors.Code
	}{
		{name: "location", payload: LocationUpdated{Latitude: -5, Longitude: 7}},
		{name: "upsert", payload: MaintenanceItemUpserted{ItemID: 1}},
		{name: "upsert zero id", payload: MaintenanceItemUpserted{}, code: apperrors.CodeInvalidArgument},
		{name: "remove", payload: MaintenanceItemRemoved{ItemID: 3}},
		{name: "remove negative id", payload: MaintenanceItemRemoved{ItemID: -1}, code: apperrors.CodeInvalidArgument},
		{name: "nil", payload: nil, code: apperrors.CodeInvalidArgument},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.payload)
			if tc.code == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if got := apperrors.CodeOf(err); got != tc.code {
				t.Fatalf("Validate code = %s, want %s", got, tc.code)
			}
		})
	}
}
