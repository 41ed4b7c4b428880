package responses

// SuccessEnvelope wraps every successful JSON body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// ErrorEnvelope wraps every error JSON body.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Ack is the body returned to the payment gateway for accepted events.
type Ack struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}
