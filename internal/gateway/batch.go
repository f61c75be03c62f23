// file: internal/gateway/batch.go
// version: 1.0.0
// guid: 2f3a4b5c-6d7e-8f9a-0b1c-2d3e4f5a6b7c

package gateway

import (
	"context"
	"net/http"
)

// BatchEndpoint is where multi-step financial operations are submitted as
// one unit.
const BatchEndpoint = "/transactions/batch"

// BatchOperation is one REST operation inside a batch.
type BatchOperation struct {
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"`
	Payload  any    `json:"payload,omitempty"`
}

// BatchRequest groups the steps of a multi-step financial operation (loan
// approval, disbursement, repayment). The backend either applies them all
// or rejects them all; this layer only forwards the batch and audits it as
// a single unit.
type BatchRequest struct {
	SfdID      string           `json:"-"`
	Token      string           `json:"-"`
	Role       string           `json:"-"`
	Reference  string           `json:"reference,omitempty"`
	Operations []BatchOperation `json:"operations"`

	OnTokenRefreshed func(newToken string) `json:"-"`
}

// DoBatch forwards a batch through the same pipeline as a single call.
// Exactly one audit record summarizes the whole batch; per-step auditing is
// the backend's concern.
func (c *Client) DoBatch(ctx context.Context, br *BatchRequest) (*Response, error) {
	return c.Do(ctx, &Request{
		SfdID:            br.SfdID,
		Token:            br.Token,
		Method:           http.MethodPost,
		Endpoint:         BatchEndpoint,
		Body:             br,
		Role:             br.Role,
		OnTokenRefreshed: br.OnTokenRefreshed,
		action:           "transaction_batch",
	})
}
