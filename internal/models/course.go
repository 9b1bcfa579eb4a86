package models

import "time"

// Course is an entry in the course catalog.
type Course struct {
	ID         string `json:"id" yaml:"id"`
	Title      string `json:"title" yaml:"title"`
	Slug       string `json:"slug,omitempty" yaml:"slug,omitempty"`
	Summary    string `json:"summary,omitempty" yaml:"summary,omitempty"`
	PriceCents int64  `json:"priceCents" yaml:"price_cents"`
	Currency   string `json:"currency" yaml:"currency"`
	Published  bool   `json:"published" yaml:"published"`
}

// Enrollment records that a user bought (or was granted) a course.
type Enrollment struct {
	UserID    string
	CourseID  string
	OrderID   string // payment order that produced the enrollment, empty for grants
	CreatedAt time.Time
}
