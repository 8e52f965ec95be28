package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/cohabit/internal/model"
)

// flexID accepts a JSON number or a numeric string.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("parse id %s: %w", b, err)
		}
		n = int64(fl)
	}
	*f = flexID(n)
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// flexTime accepts RFC 3339 and a few zone-less layouts, read as UTC.
type flexTime struct {
	time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		f.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.Time = t
			return nil
		}
	}
	return fmt.Errorf("parse time %q", s)
}

type wireUser struct {
	ID    flexID `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (u wireUser) model() model.User {
	return model.User{ID: int64(u.ID), Email: u.Email, Name: u.Name}
}

// firstNonEmpty returns the first raw message that is neither absent nor null.
func firstNonEmpty(msgs ...json.RawMessage) json.RawMessage {
	for _, m := range msgs {
		if len(m) > 0 && string(m) != "null" {
			return m
		}
	}
	return nil
}
