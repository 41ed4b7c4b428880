package notifications

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/mailer"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

type stubPublisher struct {
	err   error
	calls int
}

func (p *stubPublisher) PublishAdminAlert(context.Context, types.OrderSummary) error {
	p.calls++
	return p.err
}

type stubMailer struct {
	err  error
	sent []mailer.Message
}

func (m *stubMailer) Send(_ context.Context, msg mailer.Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func summary() types.OrderSummary {
	return types.OrderSummary{
		Kind:       enums.NotificationAdminOrderPaid,
		OrderID:    uuid.New(),
		PaymentRef: "pi_9",
		Status:     enums.OrderStatusPaid,
		Total:      decimal.RequireFromString("19.99"),
		Currency:   "GBP",
		Customer:   "c@example.com",
		ItemCount:  3,
	}
}

func TestNotifyFansOut(t *testing.T) {
	pub := &stubPublisher{}
	mail := &stubMailer{}
	a, err := NewAlerter(AlerterParams{Publisher: pub, Mailer: mail, AdminEmail: "ops@example.com", Logger: testLogger()})
	require.NoError(t, err)

	require.NoError(t, a.Notify(context.Background(), summary()))
	assert.Equal(t, 1, pub.calls)
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "ops@example.com", mail.sent[0].To)
	assert.Contains(t, mail.sent[0].Subject, "pi_9")
	assert.Contains(t, mail.sent[0].Text, "Customer: c@example.com")
}

func TestNotifySucceedsWhenOneChannelWorks(t *testing.T) {
	pub := &stubPublisher{err: errors.New("unavailable")}
	a, err := NewAlerter(AlerterParams{Publisher: pub, Mailer: &stubMailer{}, AdminEmail: "ops@example.com", Logger: testLogger()})
	require.NoError(t, err)
	assert.NoError(t, a.Notify(context.Background(), summary()))
}

func TestNotifyFailsWhenEveryChannelFails(t *testing.T) {
	a, err := NewAlerter(AlerterParams{
		Publisher:  &stubPublisher{err: errors.New("unavailable")},
		Mailer:     &stubMailer{err: errors.New("rejected")},
		AdminEmail: "ops@example.com",
		Logger:     testLogger(),
	})
	require.NoError(t, err)

	err = a.Notify(context.Background(), summary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pubsub")
	assert.Contains(t, err.Error(), "email")
}

func TestNotifyWithoutChannels(t *testing.T) {
	a, err := NewAlerter(AlerterParams{Mailer: &stubMailer{}, Logger: testLogger()})
	require.NoError(t, err)
	assert.ErrorIs(t, a.Notify(context.Background(), summary()), errNoChannel)
}
