package checkout

// ConfigResponse carries the publishable key to browser clients. Nothing
// else from the Stripe configuration is ever serialized.
type ConfigResponse struct {
	PublishableKey string `json:"publishableKey"`
}

// PrepareIntentRequest asks the server to create a payment intent. Amount is
// in minor currency units.
type PrepareIntentRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Currency    string `json:"currency" binding:"required,len=3"`
	Description string `json:"description"`
}

// PrepareIntentResponse returns only the intent ID. The client secret is
// withheld until a 3DS step actually needs it.
type PrepareIntentResponse struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

// ProcessPaymentRequest submits a tokenized payment method for confirmation.
// PaymentIntentID is optional: when set, the server confirms that intent and
// the intent's own amount is authoritative, ignoring the Amount field.
type ProcessPaymentRequest struct {
	PaymentMethodID string `json:"paymentMethodId"`
	PaymentIntentID string `json:"paymentIntentId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	BaseURL         string `json:"baseUrl"`
}
