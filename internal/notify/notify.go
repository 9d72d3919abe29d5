// Package notify defines the email/SMS collaborator surface. Delivery is
// fire-and-forget relative to the owning transaction: senders run after
// commit and their failures are logged, never propagated.
package notify

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Message kinds sent by the engine.
const (
	KindSoftCollectionDay1  = "soft_collection_day_1"
	KindSoftCollectionDay7  = "soft_collection_day_7"
	KindSoftCollectionDay14 = "soft_collection_day_14"
	KindPlanDefaulted       = "plan_defaulted"
	KindPlanCompleted       = "plan_completed"
)

// Sender delivers owner-facing notifications. Implemented by external
// email/SMS providers; the engine never depends on their APIs directly.
type Sender interface {
	SendEmail(ctx context.Context, kind, recipient string, data map[string]any) error
	SendSMS(ctx context.Context, recipient, body string) error
}

// LogSender logs notifications instead of delivering them. Used in tests
// and in environments without a configured provider.
type LogSender struct{}

// SendEmail logs the email that would have been sent.
func (LogSender) SendEmail(_ context.Context, kind, recipient string, data map[string]any) error {
	log.WithFields(log.Fields{"kind": kind, "recipient": recipient, "data": data}).Info("notify: email")
	return nil
}

// SendSMS logs the SMS that would have been sent.
func (LogSender) SendSMS(_ context.Context, recipient, body string) error {
	log.WithFields(log.Fields{"recipient": recipient, "body": body}).Info("notify: sms")
	return nil
}

// Dispatch sends an email and SMS pair, logging failures without returning
// them. State transitions never block on notification delivery.
func Dispatch(ctx context.Context, sender Sender, kind, email, phone, smsBody string, data map[string]any) {
	if sender == nil {
		return
	}
	if email != "" {
		if errSend := sender.SendEmail(ctx, kind, email, data); errSend != nil {
			log.WithError(errSend).WithField("kind", kind).Warn("notify: email send failed")
		}
	}
	if phone != "" && smsBody != "" {
		if errSend := sender.SendSMS(ctx, phone, smsBody); errSend != nil {
			log.WithError(errSend).WithField("kind", kind).Warn("notify: sms send failed")
		}
	}
}
