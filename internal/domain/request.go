package domain

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// ConfirmPaymentRequest is the body of POST /api/chat/confirm-payment.
type ConfirmPaymentRequest struct {
	SessionID string `json:"sessionId"`
	TxHash    string `json:"txHash"`
}

// PaymentDetails describes what a caller has to pay.
type PaymentDetails struct {
	Amount          string `json:"amount"`
	AmountBaseUnits string `json:"amountBaseUnits"`
	Token           string `json:"token"`
	Receiver        string `json:"receiver"`
	Network         string `json:"network,omitempty"`
}

// PaymentChallenge tells the caller what to pay before their message is processed.
type PaymentChallenge struct {
	SessionID string         `json:"sessionId"`
	Payment   PaymentDetails `json:"payment"`
	Message   string         `json:"message"`
}

// Confirmation proves a payment was verified and work may proceed.
type Confirmation struct {
	Status           string `json:"status"`
	SessionID        string `json:"sessionId"`
	JobID            string `json:"jobId"`
	TxStatus         string `json:"txStatus"`
	AlreadyConfirmed bool   `json:"alreadyConfirmed,omitempty"`
}

// ConfirmationStatusConfirmed is the only status a Confirmation carries.
const ConfirmationStatusConfirmed = "confirmed"

// FileUpload describes a stored upload.
type FileUpload struct {
	FileID    string `json:"fileId"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	SessionID string `json:"sessionId,omitempty"`
}

// AgentProfile is the public description of the agent and its pricing.
type AgentProfile struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Pricing     PaymentDetails `json:"pricing"`
	Tools       []string       `json:"tools"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	Field    string `json:"field,omitempty"`
	TxStatus string `json:"txStatus,omitempty"`
}
