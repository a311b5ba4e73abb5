package models

import "time"

// NotificationKind classifies a user-facing notice
type NotificationKind string

const (
	NotificationSuccess NotificationKind = "success"
	NotificationError   NotificationKind = "error"
	NotificationInfo    NotificationKind = "info"
)

// Notification is a message the dashboard surfaces to dispatchers
type Notification struct {
	Message string           `json:"message"`
	Kind    NotificationKind `json:"kind"`
	At      time.Time        `json:"at"`
}
