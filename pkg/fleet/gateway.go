package fleet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-gateway-fleet/pkg/eventstore"
)

// AggregateType is the event-store type tag for gateway aggregates.
const AggregateType = "gateway"

// Event types in a gateway's lifecycle.
const (
	EventGatewayCreated       = "gateway_created"
	EventConnected            = "connected"
	EventHeartbeat            = "heartbeat"
	EventDisconnected         = "disconnected"
	EventConfigRequested      = "config_requested"
	EventConfigDelivered      = "config_delivered"
	EventCertificateInstalled = "certificate_installed"
	EventDeleted              = "deleted"
)

// Status is a gateway's lifecycle state.
type Status string

const (
	StatusCreated      Status = "created"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	// StatusDeleted is terminal: no event may transition a deleted gateway.
	StatusDeleted Status = "deleted"
)

// CertificateInfo describes the client certificate installed on a gateway.
type CertificateInfo struct {
	SerialNumber string    `json:"serialNumber" firestore:"serialNumber"`
	Issuer       string    `json:"issuer" firestore:"issuer"`
	NotAfter     time.Time `json:"notAfter" firestore:"notAfter"`
}

// Gateway is the derived aggregate state of one fleet gateway. It is never
// stored directly: it is reconstructed by folding the gateway's event history
// in version order, and the projection is a rebuildable cache of that fold.
type Gateway struct {
	ID              string           `json:"id"`
	Name            string           `json:"name,omitempty"`
	Location        string           `json:"location,omitempty"`
	Status          Status           `json:"status"`
	Version         int64            `json:"version"`
	LastUpdated     time.Time        `json:"lastUpdated"`
	LastHeartbeat   time.Time        `json:"lastHeartbeat,omitempty"`
	UptimeSeconds   int64            `json:"uptimeSeconds,omitempty"`
	Health          string           `json:"health,omitempty"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	ConnectedAt     time.Time        `json:"connectedAt,omitempty"`
	DisconnectedAt  time.Time        `json:"disconnectedAt,omitempty"`
	DeletedAt       time.Time        `json:"deletedAt,omitempty"`
	CertificateInfo *CertificateInfo `json:"certificateInfo,omitempty"`
}

// CreatedData is the payload of a gateway_created event.
type CreatedData struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// HeartbeatData is the payload of heartbeat and connected events.
type HeartbeatData struct {
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Health        string `json:"health"`
	Error         string `json:"error"`
}

// TransitionError reports an event the state machine cannot legally apply
// from the aggregate's current state. The event stays stored for audit; the
// projection logs and ignores it rather than corrupting derived state.
type TransitionError struct {
	AggregateID string
	From        Status
	EventType   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("gateway %q: cannot apply %q from status %q", e.AggregateID, e.EventType, e.From)
}

// Apply folds one event into the aggregate state. It is a pure function of
// (state, event): timestamps come from the event, never the clock, so any
// replay of the same history yields the same projection. g must be nil only
// for a gateway_created event. Unknown event types are applied as version
// bumps with no state change (forward compatibility).
func Apply(g *Gateway, event eventstore.DomainEvent) (*Gateway, error) {
	if g == nil {
		if event.EventType != EventGatewayCreated {
			return nil, &TransitionError{AggregateID: event.AggregateID, From: "", EventType: event.EventType}
		}
		var data CreatedData
		_ = json.Unmarshal(event.EventData, &data)
		name := data.Name
		if name == "" {
			name = event.AggregateID
		}
		return &Gateway{
			ID:          event.AggregateID,
			Name:        name,
			Location:    data.Location,
			Status:      StatusCreated,
			Version:     event.Version,
			CreatedAt:   event.Timestamp,
			LastUpdated: event.Timestamp,
		}, nil
	}

	if g.Status == StatusDeleted {
		return g, &TransitionError{AggregateID: g.ID, From: StatusDeleted, EventType: event.EventType}
	}

	next := *g
	switch event.EventType {
	case EventGatewayCreated:
		return g, &TransitionError{AggregateID: g.ID, From: g.Status, EventType: event.EventType}

	case EventHeartbeat, EventConnected:
		var data HeartbeatData
		_ = json.Unmarshal(event.EventData, &data)
		next.Status = StatusConnected
		next.LastHeartbeat = event.Timestamp
		next.UptimeSeconds = data.UptimeSeconds
		next.Health = data.Health
		next.Error = data.Error
		if g.Status != StatusConnected {
			next.ConnectedAt = event.Timestamp
		}

	case EventDisconnected:
		if g.Status != StatusConnected {
			return g, &TransitionError{AggregateID: g.ID, From: g.Status, EventType: event.EventType}
		}
		next.Status = StatusDisconnected
		next.DisconnectedAt = event.Timestamp

	case EventConfigDelivered, EventConfigRequested:
		// Config traffic refreshes activity but does not move the lifecycle.

	case EventCertificateInstalled:
		var info CertificateInfo
		if err := json.Unmarshal(event.EventData, &info); err == nil {
			next.CertificateInfo = &info
		}

	case EventDeleted:
		next.Status = StatusDeleted
		next.DeletedAt = event.Timestamp

	default:
		// Unknown event type: stored for audit, invisible to the projection.
	}

	next.Version = event.Version
	next.LastUpdated = event.Timestamp
	return &next, nil
}
