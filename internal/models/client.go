package models

import "time"

// Client is the requester-side profile for a user. QueuePosition is 0 when
// the client is not waiting; AssignedEngineerID is nil when no engineer
// currently holds the client.
type Client struct {
	ID                 uint      `json:"id" db:"id"`
	UserID             uint      `json:"user_id" db:"user_id"`
	Name               string    `json:"name" db:"name"`
	QueuePosition      int       `json:"queue_position" db:"queue_position"`
	AssignedEngineerID *uint     `json:"assigned_engineer_id,omitempty" db:"assigned_engineer_id"`
	InQueue            bool      `json:"in_queue" db:"in_queue"`
	CreateTime         time.Time `json:"create_time" db:"create_time"`
	ChangeTime         time.Time `json:"change_time" db:"change_time"`
}
