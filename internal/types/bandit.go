package types

import "time"

// ArmKey identifies one schedulable slot. ContentType keys an independent
// bandit instance per coarse content classification; an empty ContentType
// is the shared default instance.
type ArmKey struct {
	Platform    string       `json:"platform"`
	ContentType string       `json:"content_type,omitempty"`
	Day         time.Weekday `json:"day"`
	Hour        int          `json:"hour"`
}

// BanditArm holds the Beta belief parameters and counters for one slot.
// Arms live forever: they are persisted, updated incrementally, and never
// deleted, only reset explicitly.
type BanditArm struct {
	Key     ArmKey  `json:"key"`
	Alpha   float64 `json:"alpha"`
	Beta    float64 `json:"beta"`
	Trials  int64   `json:"trials"`
	Rewards float64 `json:"rewards"`
}

// Mean returns the posterior mean alpha/(alpha+beta).
func (a BanditArm) Mean() float64 {
	return a.Alpha / (a.Alpha + a.Beta)
}

// Slot is one selected publishing slot for a content item.
type Slot struct {
	Platform    string       `json:"platform"`
	ContentType string       `json:"content_type,omitempty"`
	Day         time.Weekday `json:"day"`
	Hour        int          `json:"hour"`
	Mean        float64      `json:"posterior_mean,omitempty"`
	ClipID      string       `json:"clip_id,omitempty"`
}
