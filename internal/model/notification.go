package model

import "time"

// Notification is an entry in a user's notification center.
type Notification struct {
    ID        uint64    `json:"id"`
    UserID    uint64    `json:"user_id"`
    Kind      string    `json:"kind"`
    Title     string    `json:"title"`
    Body      string    `json:"body"`
    IsRead    bool      `json:"is_read"`
    CreatedAt time.Time `json:"created_at"`
}
