package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/credstack/credstack/internal/models"
)

// Notifier delivers a code or token to the user over the given channel.
// Delivery is fire-and-forget: callers swallow failures so that an issued
// credential survives a missed notification and can be resent.
type Notifier interface {
	SendToChannel(ctx context.Context, user *models.User, channel models.Channel, payload string) error
}

// LogNotifier logs the payload instead of delivering it. Development only;
// production wires an SMS/email gateway behind the same interface.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendToChannel(ctx context.Context, user *models.User, channel models.Channel, payload string) error {
	n.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"channel": channel,
		"payload": payload,
	}).Info("Notification dispatched (logged for development)")
	return nil
}
