package models

import (
	"fmt"
	"strings"
	"time"
)

// ResourceKind distinguishes the two bookable resource types.
type ResourceKind string

const (
	ResourceRoom  ResourceKind = "room"
	ResourceVenue ResourceKind = "venue"
)

// ParseResourceKind accepts "room"/"rooms" and "venue"/"venues".
func ParseResourceKind(s string) (ResourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "room", "rooms":
		return ResourceRoom, nil
	case "venue", "venues", "external_venue":
		return ResourceVenue, nil
	default:
		return "", fmt.Errorf("unknown resource kind %q", s)
	}
}

// ResourceRef identifies exactly one room or venue.
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`
	ID   int64        `json:"id"`
}

func (r ResourceRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

type Room struct {
	ID          int64     `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Capacity    int       `yaml:"capacity" json:"capacity"`
	Description string    `yaml:"description" json:"description,omitempty"`
	IsActive    bool      `yaml:"is_active" json:"is_active"`
	CreatedAt   time.Time `yaml:"-" json:"created_at"`
}

type ExternalVenue struct {
	ID          int64     `yaml:"id" json:"id"`
	Campus      string    `yaml:"campus" json:"campus"`
	Building    string    `yaml:"building" json:"building"`
	RoomName    string    `yaml:"room_name" json:"room_name"`
	Description string    `yaml:"description" json:"description,omitempty"`
	CreatedAt   time.Time `yaml:"-" json:"created_at"`
}

// Resource is the kind-agnostic view of a room or venue used by scans.
type Resource struct {
	Ref      ResourceRef `json:"ref"`
	Name     string      `json:"name"`
	IsActive bool        `json:"is_active"`
	Capacity int         `json:"capacity,omitempty"`
}

func (r *Room) AsResource() Resource {
	return Resource{
		Ref:      ResourceRef{Kind: ResourceRoom, ID: r.ID},
		Name:     r.Name,
		IsActive: r.IsActive,
		Capacity: r.Capacity,
	}
}

func (v *ExternalVenue) AsResource() Resource {
	return Resource{
		Ref:      ResourceRef{Kind: ResourceVenue, ID: v.ID},
		Name:     v.DisplayName(),
		IsActive: true,
	}
}

// DisplayName renders "campus / building / room".
func (v *ExternalVenue) DisplayName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{v.Campus, v.Building, v.RoomName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " / ")
}
