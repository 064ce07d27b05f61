package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"venuebook/internal/domain"
	"venuebook/internal/logging"
	"venuebook/internal/metrics"
	"venuebook/internal/models"
	"venuebook/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultDeadLetterKey = "venuebook:notifications:deadletter"

// Notification is one queued message.
type Notification struct {
	User       *models.User `json:"user"`
	Subject    string       `json:"subject"`
	Body       string       `json:"body"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
}

// deadLetter is what lands in the Redis dead letter list.
type deadLetter struct {
	Notification
	Channel  string    `json:"channel"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Router picks the senders for a user.
type Router interface {
	Route(user *models.User) []notify.Sender
}

// NotificationWorker delivers notifications asynchronously. Enqueue never
// blocks: a full queue drops the message. Failures are retried per channel,
// then logged, counted and pushed to the dead letter list when Redis is set.
type NotificationWorker struct {
	router        Router
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan Notification
	deadLetterKey string
	logger        *zerolog.Logger
}

var _ domain.Notifier = (*NotificationWorker)(nil)

// NewNotificationWorker builds a worker with sane defaults. redisClient may be nil.
func NewNotificationWorker(router Router, redisClient *redis.Client, retry RetryPolicy, queueSize int, deadLetterKey string, logger *zerolog.Logger) *NotificationWorker {
	if retry.MaxRetries <= 0 {
		retry.MaxRetries = 3
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 30 * time.Second
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if queueSize <= 0 {
		queueSize = models.NotificationQueueSize
	}
	if deadLetterKey == "" {
		deadLetterKey = defaultDeadLetterKey
	}

	return &NotificationWorker{
		router:        router,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan Notification, queueSize),
		deadLetterKey: deadLetterKey,
		logger:        logging.Component(logger, "notification_worker"),
	}
}

// Enqueue implements domain.Notifier.
func (w *NotificationWorker) Enqueue(_ context.Context, user *models.User, subject, body string) {
	if user == nil {
		return
	}
	n := Notification{User: user, Subject: subject, Body: body, EnqueuedAt: time.Now()}

	select {
	case w.queue <- n:
	default:
		metrics.IncNotification("queue", metrics.ResultDropped)
		w.logger.Warn().Int64("user_id", user.ID).Str("subject", subject).Msg("notification queue full, message dropped")
	}
}

// Start consumes the queue until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("started")
	defer w.logger.Info().Msg("stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-w.queue:
			w.deliver(ctx, n)
		}
	}
}

// Pending reports how many notifications are waiting.
func (w *NotificationWorker) Pending() int {
	return len(w.queue)
}

func (w *NotificationWorker) deliver(ctx context.Context, n Notification) {
	for _, sender := range w.router.Route(n.User) {
		channel := sender.Channel().String()
		err := w.sendWithRetry(ctx, sender, n)
		if err == nil {
			metrics.IncNotification(channel, metrics.ResultSent)
			continue
		}

		metrics.IncNotification(channel, metrics.ResultFailed)
		w.logger.Error().Err(err).
			Int64("user_id", n.User.ID).
			Str("channel", channel).
			Msg("notification delivery failed")
		if !errors.Is(err, notify.ErrNoRecipient) {
			w.pushDeadLetter(ctx, n, channel, err)
		}
	}
}

func (w *NotificationWorker) sendWithRetry(ctx context.Context, sender notify.Sender, n Notification) error {
	var err error
	for attempt := 1; attempt <= w.retryPolicy.MaxRetries; attempt++ {
		if err = sender.Send(ctx, n.User, n.Subject, n.Body); err == nil {
			return nil
		}
		if errors.Is(err, notify.ErrNoRecipient) || attempt == w.retryPolicy.MaxRetries {
			break
		}

		delay := w.retryPolicy.NextDelay(attempt)
		w.logger.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying notification")
		if !wait(ctx, delay) {
			return fmt.Errorf("%w (gave up: %v)", err, ctx.Err())
		}
	}
	return err
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, n Notification, channel string, cause error) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(deadLetter{Notification: n, Channel: channel, Error: cause.Error(), FailedAt: time.Now()})
	if err != nil {
		w.logger.Error().Err(err).Msg("encode dead letter")
		return
	}

	// The delivery context may already be cancelled on shutdown.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := w.redis.LPush(pushCtx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Str("key", w.deadLetterKey).Msg("dead letter push failed")
	}
}
