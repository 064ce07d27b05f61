package models

import (
	"strings"
	"time"
)

// Role is supplied by the identity collaborator.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleStandard Role = "STANDARD"
)

// Identity is the acting user as resolved by the caller's auth layer.
type Identity struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Channel is a notification delivery channel.
type Channel uint8

const (
	ChannelEmail Channel = 1 << iota
	ChannelTelegram
	ChannelPush
)

var channelNames = map[Channel]string{
	ChannelEmail:    "email",
	ChannelTelegram: "telegram",
	ChannelPush:     "push",
}

func (c Channel) String() string {
	if n, ok := channelNames[c]; ok {
		return n
	}
	return "unknown"
}

// AllChannels lists channels in a stable order.
var AllChannels = []Channel{ChannelEmail, ChannelTelegram, ChannelPush}

// ChannelSet is a small set of channels, persisted as a bitmask.
type ChannelSet uint8

func NewChannelSet(channels ...Channel) ChannelSet {
	var s ChannelSet
	for _, c := range channels {
		s |= ChannelSet(c)
	}
	return s
}

func (s ChannelSet) Has(c Channel) bool { return s&ChannelSet(c) != 0 }

func (s ChannelSet) Channels() []Channel {
	out := make([]Channel, 0, len(AllChannels))
	for _, c := range AllChannels {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// ParseChannelSet accepts names such as "email" or "telegram"; unknown names are ignored.
func ParseChannelSet(names []string) ChannelSet {
	var s ChannelSet
	for _, n := range names {
		for c, name := range channelNames {
			if strings.EqualFold(strings.TrimSpace(n), name) {
				s |= ChannelSet(c)
			}
		}
	}
	return s
}

// Preference gates which notification kinds a user receives.
type Preference uint8

const (
	PreferenceBookingUpdates Preference = 1 << iota
	PreferenceBookingCancellations
	PreferenceReminders
)

// PreferenceSet is persisted as a bitmask, like ChannelSet.
type PreferenceSet uint8

// DefaultPreferences enables every notification kind.
const DefaultPreferences = PreferenceSet(PreferenceBookingUpdates | PreferenceBookingCancellations | PreferenceReminders)

func NewPreferenceSet(prefs ...Preference) PreferenceSet {
	var s PreferenceSet
	for _, p := range prefs {
		s |= PreferenceSet(p)
	}
	return s
}

func (s PreferenceSet) Has(p Preference) bool { return s&PreferenceSet(p) != 0 }

type User struct {
	ID             int64         `yaml:"id" json:"id"`
	Name           string        `yaml:"name" json:"name"`
	Email          string        `yaml:"email" json:"email"`
	TelegramChatID int64         `yaml:"telegram_chat_id" json:"telegram_chat_id,omitempty"`
	Role           Role          `yaml:"role" json:"role"`
	Channels       ChannelSet    `yaml:"-" json:"channels"`
	Preferences    PreferenceSet `yaml:"-" json:"preferences"`
	CreatedAt      time.Time     `yaml:"-" json:"created_at"`
}
