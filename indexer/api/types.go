package api

// QueryResponse represents the standard query response format
type QueryResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// LikeRequest is the body of POST /api/v1/comments/{id}/like
type LikeRequest struct {
	UserAddress string `json:"userAddress"`
}

// RegisterTransactionRequest is the body of POST /api/v1/transactions
type RegisterTransactionRequest struct {
	TxHash      string `json:"txHash"`
	GameAddress string `json:"gameAddress"`
	EventType   string `json:"eventType"`
}

// RegisterTransactionResponse reports whether a new ledger entry was created
type RegisterTransactionResponse struct {
	TxHash  string `json:"txHash"`
	Created bool   `json:"created"`
}
