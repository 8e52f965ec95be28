package model

import "time"

// ScheduleEvent is the canonical calendar entry. Backend field-name variants
// are resolved by the api package before a value of this type exists.
type ScheduleEvent struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AuthorID    int64     `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`

	// Derived on the client side.
	Color   string `json:"color"`
	IsOwner bool   `json:"is_owner"`
}

// Author returns the best available author identifier for display and colour lookup.
func (e ScheduleEvent) Author() string {
	if e.AuthorName != "" {
		return e.AuthorName
	}
	return e.AuthorEmail
}
