package models

import "time"

// Student represents a learner identified by their student number (NIM).
type Student struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	NIM       string    `gorm:"size:20;uniqueIndex;not null" json:"nim"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
