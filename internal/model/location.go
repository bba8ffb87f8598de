package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationCandidate is a partially filled record produced by scraping or a manual submission.
// Only Name is guaranteed to be set.
type LocationCandidate struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Address     string       `json:"address"`
	Phone       string       `json:"phone,omitempty"`
	Website     string       `json:"website,omitempty"`
	Rating      *float64     `json:"rating,omitempty"`
	Reviews     string       `json:"reviews,omitempty"`
	PriceRange  string       `json:"price_range,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	SourceURL   string       `json:"source_url,omitempty"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
}

func NewCandidate(name, address string) LocationCandidate {
	return LocationCandidate{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Address:   strings.TrimSpace(address),
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Location is a record already known to the backing store (approved or pending).
type Location struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Address     string       `json:"address"`
	Phone       string       `json:"phone,omitempty"`
	Website     string       `json:"website,omitempty"`
	Rating      *float64     `json:"rating,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	SourceURL   string       `json:"source_url,omitempty"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (c LocationCandidate) ToLocation() Location {
	return Location{
		ID:          c.ID,
		Name:        c.Name,
		Address:     c.Address,
		Phone:       c.Phone,
		Website:     c.Website,
		Rating:      c.Rating,
		Coordinates: c.Coordinates,
		SourceURL:   c.SourceURL,
		Status:      c.Status,
		CreatedAt:   c.CreatedAt,
	}
}
