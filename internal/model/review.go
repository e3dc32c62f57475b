package model

import "time"

// Review is a student's rating of a study hall, tied to one booking.
type Review struct {
    ID          uint64    `json:"id"`
    BookingID   uint64    `json:"booking_id"`
    UserID      uint64    `json:"user_id"`
    StudyHallID uint64    `json:"study_hall_id"`
    Rating      int       `json:"rating"`
    Comment     string    `json:"comment"`
    IsHidden    bool      `json:"is_hidden,omitempty"`
    AuthorName  string    `json:"author_name,omitempty"`
    CreatedAt   time.Time `json:"created_at"`
}
