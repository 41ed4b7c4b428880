package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/types"
)

type fakeInvoiceLister struct {
	cutoff      time.Time
	maxAttempts int
	invoices    []models.Invoice
}

func (f *fakeInvoiceLister) ListResendable(_ context.Context, before time.Time, maxAttempts, _ int) ([]models.Invoice, error) {
	f.cutoff = before
	f.maxAttempts = maxAttempts
	return f.invoices, nil
}

type fakePaidLister struct {
	orders []models.Order
	err    error
}

func (f *fakePaidLister) ListPaidWithoutInvoice(context.Context, time.Time, int) ([]models.Order, error) {
	return f.orders, f.err
}

type fakeDispatcher struct {
	dispatched []string
	resent     []uuid.UUID
	resendErr  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, order *models.Order, eventID string) error {
	f.dispatched = append(f.dispatched, order.PaymentRef+"/"+eventID)
	return nil
}

func (f *fakeDispatcher) Resend(_ context.Context, id uuid.UUID) error {
	f.resent = append(f.resent, id)
	return f.resendErr
}

func TestInvoiceResendJob_resendsAndCreatesMissing(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	invoices := &fakeInvoiceLister{invoices: []models.Invoice{{ID: uuid.New(), Number: "INV-1"}, {ID: uuid.New(), Number: "INV-2"}}}
	paid := &fakePaidLister{orders: []models.Order{{ID: uuid.New(), PaymentRef: "pi_1", Metadata: types.OrderMetadata{EventID: "evt_1"}}}}
	dispatcher := &fakeDispatcher{}

	job, err := NewInvoiceResendJob(InvoiceResendJobParams{
		Logger:      testLogger(),
		Invoices:    invoices,
		Orders:      paid,
		Dispatcher:  dispatcher,
		Backoff:     time.Hour,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}
	job.(*invoiceResendJob).now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !invoices.cutoff.Equal(now.Add(-time.Hour)) || invoices.maxAttempts != 3 {
		t.Fatalf("unexpected query: cutoff=%s max=%d", invoices.cutoff, invoices.maxAttempts)
	}
	if len(dispatcher.resent) != 2 {
		t.Fatalf("expected 2 resends, got %d", len(dispatcher.resent))
	}
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != "pi_1/evt_1" {
		t.Fatalf("unexpected dispatches: %v", dispatcher.dispatched)
	}
}

func TestInvoiceResendJob_combinesErrors(t *testing.T) {
	invoices := &fakeInvoiceLister{invoices: []models.Invoice{{ID: uuid.New(), Number: "INV-1"}}}
	paid := &fakePaidLister{err: errors.New("db down")}
	dispatcher := &fakeDispatcher{resendErr: errors.New("sendgrid 503")}

	job, err := NewInvoiceResendJob(InvoiceResendJobParams{Logger: testLogger(), Invoices: invoices, Orders: paid, Dispatcher: dispatcher})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}
	err = job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "db down") || !strings.Contains(got, "sendgrid 503") {
		t.Fatalf("expected both failures in %q", got)
	}
}
