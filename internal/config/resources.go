package config

import (
	"fmt"
	"os"
	"strings"

	"venuebook/internal/models"

	"gopkg.in/yaml.v3"
)

// Resources is the seed file upserted into the store at startup.
type Resources struct {
	Rooms  []models.Room          `yaml:"rooms"`
	Venues []models.ExternalVenue `yaml:"venues"`
	Users  []UserSeed             `yaml:"users"`
}

type UserSeed struct {
	ID             int64       `yaml:"id"`
	Name           string      `yaml:"name"`
	Email          string      `yaml:"email"`
	TelegramChatID int64       `yaml:"telegram_chat_id"`
	Role           models.Role `yaml:"role"`
	Channels       []string    `yaml:"channels"`
	// MutedKinds lists notification kinds the user opted out of:
	// "updates", "cancellations", "reminders".
	MutedKinds []string `yaml:"muted"`
}

// User converts the seed into a model with channel and preference sets applied.
func (s UserSeed) User() *models.User {
	prefs := models.DefaultPreferences
	for _, m := range s.MutedKinds {
		switch strings.ToLower(strings.TrimSpace(m)) {
		case "updates":
			prefs &^= models.PreferenceSet(models.PreferenceBookingUpdates)
		case "cancellations":
			prefs &^= models.PreferenceSet(models.PreferenceBookingCancellations)
		case "reminders":
			prefs &^= models.PreferenceSet(models.PreferenceReminders)
		}
	}
	role := s.Role
	if role == "" {
		role = models.RoleStandard
	}
	return &models.User{
		ID:             s.ID,
		Name:           s.Name,
		Email:          s.Email,
		TelegramChatID: s.TelegramChatID,
		Role:           role,
		Channels:       models.ParseChannelSet(s.Channels),
		Preferences:    prefs,
	}
}

func LoadResources(path string) (*Resources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var res Resources
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &res); err != nil {
		return nil, err
	}

	if err := ValidateResources(&res); err != nil {
		return nil, fmt.Errorf("resources validation failed: %w", err)
	}
	return &res, nil
}

func ValidateResources(res *Resources) error {
	names := make(map[string]bool, len(res.Rooms))
	for _, r := range res.Rooms {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("room with empty name")
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate room name found: %s", r.Name)
		}
		names[r.Name] = true
	}

	venues := make(map[string]bool, len(res.Venues))
	for _, v := range res.Venues {
		if v.Campus == "" || v.Building == "" || v.RoomName == "" {
			return fmt.Errorf("venue '%s' needs campus, building and room_name", v.DisplayName())
		}
		key := v.DisplayName()
		if venues[key] {
			return fmt.Errorf("duplicate venue found: %s", key)
		}
		venues[key] = true
	}

	users := make(map[int64]bool, len(res.Users))
	for _, u := range res.Users {
		if u.ID == 0 {
			return fmt.Errorf("user '%s' has invalid ID 0", u.Name)
		}
		if users[u.ID] {
			return fmt.Errorf("duplicate user ID found: %d", u.ID)
		}
		users[u.ID] = true
	}
	return nil
}
