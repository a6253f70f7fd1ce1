package models

import (
	"time"

	"github.com/lib/pq"
)

// Engineer is the responder-side profile for a user. CurrentLoad counts the
// tickets the engineer actively holds and must stay within [0, Capacity].
type Engineer struct {
	ID              uint           `json:"id" db:"id"`
	UserID          uint           `json:"user_id" db:"user_id"`
	Name            string         `json:"name" db:"name"`
	Capacity        int            `json:"capacity" db:"capacity"`
	CurrentLoad     int            `json:"current_load" db:"current_load"`
	IsAvailable     bool           `json:"is_available" db:"is_available"`
	Specializations pq.StringArray `json:"specializations" db:"specializations"`
	CreateTime      time.Time      `json:"create_time" db:"create_time"`
	ChangeTime      time.Time      `json:"change_time" db:"change_time"`
}

// HasCapacity reports whether the engineer can take another ticket.
func (e *Engineer) HasCapacity() bool {
	return e.IsAvailable && e.CurrentLoad < e.Capacity
}
