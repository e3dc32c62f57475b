package model

// Seat describes a physical seat in a study hall.  Labels are unique per
// hall and are composed of the row label and column number (e.g. "B7").
type Seat struct {
    ID          uint64 `json:"id"`            // seats.id
    StudyHallID uint64 `json:"study_hall_id"` // seats.study_hall_id
    Label       string `json:"label"`         // seats.label
    RowLabel    string `json:"row_label"`     // seats.row_label
    ColNumber   uint32 `json:"col_number"`    // seats.col_number
    IsActive    bool   `json:"is_active"`     // seats.is_active
}

// SeatAvailability pairs a seat with whether it is free for a date range.
type SeatAvailability struct {
    Seat
    Available bool `json:"available"`
}
