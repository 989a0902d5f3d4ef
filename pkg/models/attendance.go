package models

import "time"

// AttendanceRecord marks a verified identity at a point in time.
type AttendanceRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Similarity float64   `json:"similarity"`
	Timestamp  time.Time `json:"timestamp"`
	Synced     bool      `json:"synced"`
}

// AttendanceQueryOpts specifies filters for listing attendance records.
type AttendanceQueryOpts struct {
	UserID string
	Since  time.Time
	Limit  int
}
