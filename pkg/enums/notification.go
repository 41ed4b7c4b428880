package enums

// NotificationKind labels side-channel messages recorded on orders.
type NotificationKind string

const (
	NotificationInvoice        NotificationKind = "invoice"
	NotificationAdminOrderPaid NotificationKind = "admin_order_paid"
	NotificationAdminFailure   NotificationKind = "admin_invoice_failed"
	NotificationRefundCustomer NotificationKind = "refund_customer"
)

func (n NotificationKind) String() string {
	return string(n)
}
