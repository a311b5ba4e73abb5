package models

import (
	"encoding/json"
	"time"
)

// MessageType is the discriminant of an upstream feed message
type MessageType string

const (
	MessageDriverUpdate   MessageType = "driver_update"
	MessageDeliveryUpdate MessageType = "delivery_update"
	MessageStatusChange   MessageType = "status_change"
)

// Envelope is one message read from the upstream update feed
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"` // ISO-8601
}

// SentAt parses the envelope timestamp. A missing timestamp yields ok=false.
func (e Envelope) SentAt() (t time.Time, ok bool, err error) {
	if e.Timestamp == "" {
		return time.Time{}, false, nil
	}
	t, err = time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// DriverUpdatePayload is the payload of a driver_update message
type DriverUpdatePayload struct {
	DriverID string          `json:"driverId"`
	Updates  json.RawMessage `json:"updates"`
}

// DeliveryUpdatePayload is the payload of a delivery_update message
type DeliveryUpdatePayload struct {
	DeliveryID string          `json:"deliveryId"`
	Updates    json.RawMessage `json:"updates"`
}

// StatusChangePayload is the payload of a status_change message
type StatusChangePayload struct {
	DriverID string       `json:"driverId"`
	Status   DriverStatus `json:"status"`
}
