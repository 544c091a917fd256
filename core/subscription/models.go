package subscription

import "time"

type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusPastDue  Status = "past_due"
	StatusExpired  Status = "expired"
)

// Subscription is read-only here: it is mutated by the billing side (cancel / resume).
type Subscription struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	ProductRef        string    `json:"productRef"`
	ProductName       string    `json:"productName"`
	UserEmail         string    `json:"userEmail,omitempty"`
	Status            Status    `json:"status"`
	CurrentPeriodEnd  time.Time `json:"currentPeriodEnd"` // UTC
	CancelAtPeriodEnd bool      `json:"cancelAtPeriodEnd"`
}

type ScanResult struct {
	Total               int `json:"total"`
	NotificationsSent   int `json:"notificationsSent"`
	NotificationsFailed int `json:"notificationsFailed"`
}
