package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"service-dispatch/internal/booking/app"
	"service-dispatch/internal/shared/apperrors"
)

// Tracker is the part of the location tracker fed by inbound telemetry.
type Tracker interface {
	UpdateLocation(ctx context.Context, in app.LocationUpdate) (*app.TrackingAck, error)
	UpdateStatus(ctx context.Context, in app.StatusUpdate) (*app.TrackingAck, error)
}

type kind int

const (
	kindLocation kind = iota
	kindStatus
)

func (k kind) String() string {
	if k == kindStatus {
		return "status"
	}
	return "location"
}

// apply decodes one telemetry body and hands it to the tracker. A non-empty
// providerID overrides the body; a conflicting id in the body is rejected.
func apply(ctx context.Context, t Tracker, k kind, providerID string, body []byte) (*app.TrackingAck, error) {
	switch k {
	case kindLocation:
		var in app.LocationUpdate
		if err := json.Unmarshal(body, &in); err != nil {
			return nil, apperrors.Validation("body", "invalid JSON: "+err.Error())
		}
		if err := bindProvider(&in.ProviderID, providerID); err != nil {
			return nil, err
		}
		return t.UpdateLocation(ctx, in)
	case kindStatus:
		var in app.StatusUpdate
		if err := json.Unmarshal(body, &in); err != nil {
			return nil, apperrors.Validation("body", "invalid JSON: "+err.Error())
		}
		if err := bindProvider(&in.ProviderID, providerID); err != nil {
			return nil, err
		}
		return t.UpdateStatus(ctx, in)
	}
	return nil, fmt.Errorf("unknown telemetry kind %d", k)
}

func bindProvider(field *string, providerID string) error {
	if providerID == "" {
		return nil
	}
	if *field != "" && *field != providerID {
		return apperrors.Validation("providerId", "does not match topic")
	}
	*field = providerID
	return nil
}
