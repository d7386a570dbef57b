// README: Shipment lifecycle events published after a change commits.
package events

import (
	"context"
	"time"
)

type Type string

const (
	ShipmentCreated   Type = "shipment.created"
	ShipmentRepriced  Type = "shipment.repriced"
	ShipmentCombined  Type = "shipment.combined"
	ShipmentAssigned  Type = "shipment.assigned"
	ShipmentCancelled Type = "shipment.cancelled"
	ShipmentCompleted Type = "shipment.completed"
	ShipmentExpired   Type = "shipment.expired"
)

type Event struct {
	Type       Type      `json:"type"`
	ShipmentID string    `json:"shipment_id"`
	Status     string    `json:"status,omitempty"`
	Price      float64   `json:"price,omitempty"`
	DriverID   string    `json:"driver_id,omitempty"`
	RelatedIDs []string  `json:"related_ids,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// Noop drops every event. Used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, ...Event) error { return nil }
func (Noop) Close() error                            { return nil }
