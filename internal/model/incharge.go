package model

import "time"

// InchargeAssignment grants an incharge access to one study hall of the
// merchant who invited them.
type InchargeAssignment struct {
    ID          uint64    `json:"id"`
    InchargeID  uint64    `json:"incharge_id"`
    StudyHallID uint64    `json:"study_hall_id"`
    MerchantID  uint64    `json:"merchant_id"`
    CreatedAt   time.Time `json:"created_at"`
}

// Incharge is an incharge user together with the halls assigned to them.
type Incharge struct {
    User
    StudyHallIDs []uint64 `json:"study_hall_ids"`
}
