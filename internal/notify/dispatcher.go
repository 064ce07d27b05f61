package notify

import (
	"context"
	"errors"

	"venuebook/internal/models"

	"github.com/rs/zerolog"
)

// Sender delivers a message over one channel.
type Sender interface {
	Channel() models.Channel
	Send(ctx context.Context, user *models.User, subject, body string) error
}

// ErrNoRecipient is returned by senders when the user has no address for the channel.
var ErrNoRecipient = errors.New("user has no address for channel")

// Dispatcher routes messages to the senders of the channels a user enabled.
type Dispatcher struct {
	senders map[models.Channel]Sender
	logger  *zerolog.Logger
}

func NewDispatcher(logger *zerolog.Logger, senders ...Sender) *Dispatcher {
	d := &Dispatcher{
		senders: make(map[models.Channel]Sender, len(senders)),
		logger:  logger,
	}
	for _, s := range senders {
		if s != nil {
			d.senders[s.Channel()] = s
		}
	}
	return d
}

// Route returns the senders for the user's enabled channels in channel order.
// Channels without a configured sender are skipped.
func (d *Dispatcher) Route(user *models.User) []Sender {
	if user == nil {
		return nil
	}
	var out []Sender
	for _, ch := range user.Channels.Channels() {
		if s, ok := d.senders[ch]; ok {
			out = append(out, s)
			continue
		}
		d.logger.Debug().Int64("user_id", user.ID).Str("channel", ch.String()).Msg("no sender configured for channel")
	}
	return out
}
