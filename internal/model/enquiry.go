package model

import "time"

// Enquiry states handled by the telemarketing team.
const (
    EnquiryNew       = "NEW"
    EnquiryContacted = "CONTACTED"
    EnquiryConverted = "CONVERTED"
    EnquiryClosed    = "CLOSED"
)

// Enquiry is a lead captured from the public site.
type Enquiry struct {
    ID          uint64    `json:"id"`
    Name        string    `json:"name"`
    Phone       string    `json:"phone"`
    Email       string    `json:"email,omitempty"`
    StudyHallID *uint64   `json:"study_hall_id,omitempty"`
    Message     string    `json:"message"`
    Status      string    `json:"status"`
    Notes       string    `json:"notes"`
    AssignedTo  *uint64   `json:"assigned_to,omitempty"`
    CreatedAt   time.Time `json:"created_at"`
    UpdatedAt   time.Time `json:"updated_at"`
}
