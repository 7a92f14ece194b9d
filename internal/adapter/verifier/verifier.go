// Package verifier confirms payment references against a ledger API.
package verifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Transaction statuses reported by the ledger, plus local outcomes.
const (
	StatusSuccess          = "success"
	StatusPending          = "pending"
	StatusNotFound         = "not_found"
	StatusReceiverMismatch = "receiver_mismatch"
	StatusUnreachable      = "unreachable"
)

// Result is the outcome of one verification.
type Result struct {
	Valid  bool
	Status string
}

// Verifier decides whether a payment reference is a settled payment.
type Verifier interface {
	Verify(ctx context.Context, txHash string) (Result, error)
}

// Func adapts a function to Verifier.
type Func func(ctx context.Context, txHash string) (Result, error)

// Verify calls f.
func (f Func) Verify(ctx context.Context, txHash string) (Result, error) {
	return f(ctx, txHash)
}

// MultiversXVerifier checks transactions through the MultiversX API.
type MultiversXVerifier struct {
	client   *resty.Client
	receiver string
}

// NewMultiversXVerifier creates a verifier against the given API base URL. When receiver
// is non-empty the transaction must be addressed to it.
func NewMultiversXVerifier(baseURL, receiver string, timeout time.Duration) *MultiversXVerifier {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return &MultiversXVerifier{
		client:   client,
		receiver: receiver,
	}
}

type transaction struct {
	TxHash   string `json:"txHash"`
	Status   string `json:"status"`
	Receiver string `json:"receiver"`
	Sender   string `json:"sender"`
}

// Verify looks up the transaction and reports whether it settled.
func (v *MultiversXVerifier) Verify(ctx context.Context, txHash string) (Result, error) {
	var tx transaction
	resp, err := v.client.R().
		SetContext(ctx).
		SetPathParam("hash", txHash).
		SetResult(&tx).
		Get("/transactions/{hash}")
	if err != nil {
		return Result{Status: StatusUnreachable}, fmt.Errorf("fetch transaction %s: %w", txHash, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return Result{Status: StatusNotFound}, nil
	case resp.IsError():
		return Result{Status: StatusUnreachable}, fmt.Errorf("fetch transaction %s: unexpected status %d", txHash, resp.StatusCode())
	}

	if tx.Status != StatusSuccess {
		return Result{Status: tx.Status}, nil
	}
	if v.receiver != "" && tx.Receiver != v.receiver {
		return Result{Status: StatusReceiverMismatch}, nil
	}
	return Result{Valid: true, Status: tx.Status}, nil
}
