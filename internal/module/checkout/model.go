package checkout

import (
	"time"

	"github.com/google/uuid"
)

// ResultStatus is the normalized outcome of a payment submission.
type ResultStatus string

const (
	ResultStatusSuccess  ResultStatus = "Success"
	ResultStatusDeclined ResultStatus = "Declined"
	ResultStatusRedirect ResultStatus = "Redirect"
	ResultStatusError    ResultStatus = "Error"
)

// Result is the tagged outcome returned to the client after a payment
// submission. ClientSecret and ReturnURI are populated only for Redirect:
// that is the single point at which the secret crosses to the browser.
type Result struct {
	Status          ResultStatus `json:"status"`
	PaymentMethodID string       `json:"paymentMethodId"`
	Message         string       `json:"message"`
	ReturnURI       string       `json:"returnUri"`
	ClientSecret    string       `json:"clientSecret"`
	// RedirectURL is where the browser must navigate for the issuer's
	// authentication challenge. Set only for Redirect.
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// PaymentStatus represents the status of a persisted payment attempt.
type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusSucceeded      PaymentStatus = "succeeded"
	PaymentStatusDeclined       PaymentStatus = "declined"
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
	PaymentStatusFailed         PaymentStatus = "failed"
)

// Payment is the record of one charge attempt. The client secret is never
// stored here.
type Payment struct {
	ID                    uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Amount                int64         `json:"amount"` // minor currency units
	Currency              string        `json:"currency" gorm:"default:gbp"`
	Description           string        `json:"description"`
	Status                PaymentStatus `json:"status" gorm:"not null;default:pending;index"`
	Provider              string        `json:"provider" gorm:"default:stripe"`
	StripePaymentIntentID string        `json:"-" gorm:"index"`
	FailureMessage        *string       `json:"failure_message,omitempty"`
	SucceededAt           *time.Time    `json:"succeeded_at,omitempty"`
	FailedAt              *time.Time    `json:"failed_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// TableName returns the database table name.
func (Payment) TableName() string {
	return "payments"
}

// IsTerminal returns true once the attempt can no longer change state.
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusSucceeded, PaymentStatusDeclined, PaymentStatusFailed:
		return true
	}
	return false
}
