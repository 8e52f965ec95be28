package model

import "time"

type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// NotificationHistory is persisted as a single document.
type NotificationHistory struct {
	Notifications []Notification `json:"notifications"`
	LastUpdate    time.Time      `json:"lastUpdate"`
}

// Unread counts notifications not yet marked read.
func (h NotificationHistory) Unread() int {
	n := 0
	for _, item := range h.Notifications {
		if !item.Read {
			n++
		}
	}
	return n
}

// Permission mirrors the browser notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)
