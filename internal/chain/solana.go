package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// TokenMint describes one accepted SPL token.
type TokenMint struct {
	Symbol   string
	Mint     string
	Decimals int
}

// SolanaVerifier checks claimed payments against a Solana JSON-RPC node using
// getTransaction with jsonParsed encoding. A payment is valid when the
// finalized transaction moved at least the expected amount of an accepted
// token to the configured recipient wallet.
type SolanaVerifier struct {
	rpcURL           string
	recipient        string
	mintsByAddr      map[string]TokenMint
	creditPriceCents int64
	client           *http.Client
	log              *slog.Logger
}

func NewSolanaVerifier(rpcURL, recipient string, mints []TokenMint, creditPriceCents int64, log *slog.Logger) *SolanaVerifier {
	if log == nil {
		log = slog.Default()
	}
	byAddr := make(map[string]TokenMint, len(mints))
	for _, m := range mints {
		if m.Mint != "" {
			byAddr[m.Mint] = m
		}
	}
	return &SolanaVerifier{
		rpcURL:           rpcURL,
		recipient:        recipient,
		mintsByAddr:      byAddr,
		creditPriceCents: creditPriceCents,
		client:           &http.Client{Timeout: 15 * time.Second},
		log:              log,
	}
}

var _ Verifier = (*SolanaVerifier)(nil)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type tokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"uiTokenAmount"`
}

type txResult struct {
	Meta *struct {
		Err               json.RawMessage `json:"err"`
		PreTokenBalances  []tokenBalance  `json:"preTokenBalances"`
		PostTokenBalances []tokenBalance  `json:"postTokenBalances"`
	} `json:"meta"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (v *SolanaVerifier) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []any{req.Signature, map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     "finalized",
			"maxSupportedTransactionVersion": 0,
		}},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Op: "getTransaction", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &TransientError{Op: "getTransaction", Err: fmt.Errorf("rpc status %d", resp.StatusCode)}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, &TransientError{Op: "decode response", Err: err}
	}
	if rpcResp.Error != nil {
		// Node-side failures are retryable; the transaction may still exist.
		return nil, &TransientError{Op: "getTransaction", Err: fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)}
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return &VerifyResult{Verified: false, Reason: "transaction not found or not finalized"}, nil
	}

	var tx txResult
	if err := json.Unmarshal(rpcResp.Result, &tx); err != nil {
		return nil, &TransientError{Op: "decode transaction", Err: err}
	}
	if tx.Meta == nil {
		return &VerifyResult{Verified: false, Reason: "transaction has no metadata"}, nil
	}
	if len(tx.Meta.Err) != 0 && string(tx.Meta.Err) != "null" {
		return &VerifyResult{Verified: false, Reason: "transaction failed on chain"}, nil
	}

	token, amountCents := v.receivedByRecipient(tx.Meta.PreTokenBalances, tx.Meta.PostTokenBalances)
	if amountCents <= 0 {
		return &VerifyResult{Verified: false, Reason: "no accepted token transfer to recipient"}, nil
	}
	if req.ExpectedToken != "" && req.ExpectedToken != token {
		return &VerifyResult{
			Verified: false,
			Token:    token,
			Reason:   fmt.Sprintf("paid in %s, expected %s", token, req.ExpectedToken),
		}, nil
	}
	if req.ExpectedAmountCents > 0 && amountCents < req.ExpectedAmountCents {
		return &VerifyResult{
			Verified:    false,
			AmountCents: amountCents,
			Token:       token,
			Reason:      fmt.Sprintf("underpaid: got %d cents, expected %d", amountCents, req.ExpectedAmountCents),
		}, nil
	}

	v.log.Info("chain verification succeeded",
		"signature", req.Signature, "token", token, "amount_cents", amountCents)
	return &VerifyResult{
		Verified:       true,
		AmountCents:    amountCents,
		Token:          token,
		CreditsToGrant: int(amountCents / v.creditPriceCents),
	}, nil
}

// receivedByRecipient computes how much of an accepted token the recipient
// wallet gained in this transaction, from the pre/post token balance deltas.
// Returns the token symbol and the amount in USD cents (stablecoins are
// treated 1:1 with USD).
func (v *SolanaVerifier) receivedByRecipient(pre, post []tokenBalance) (string, int64) {
	preByIndex := make(map[int]int64, len(pre))
	for _, b := range pre {
		if b.Owner == v.recipient {
			preByIndex[b.AccountIndex] = parseBaseUnits(b.UITokenAmount.Amount)
		}
	}
	for _, b := range post {
		if b.Owner != v.recipient {
			continue
		}
		mint, ok := v.mintsByAddr[b.Mint]
		if !ok {
			continue
		}
		delta := parseBaseUnits(b.UITokenAmount.Amount) - preByIndex[b.AccountIndex]
		if delta <= 0 {
			continue
		}
		// Convert with the configured decimals, not the node-reported ones;
		// the economic conversion must not trust the RPC response.
		return mint.Symbol, baseUnitsToCents(delta, mint.Decimals)
	}
	return "", 0
}

func parseBaseUnits(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// baseUnitsToCents converts token base units to cents, e.g. 500000 base units
// of a 6-decimal stablecoin is 50 cents, and 5 base units of a 1-decimal
// token is 50 cents.
func baseUnitsToCents(amount int64, decimals int) int64 {
	switch {
	case decimals > 2:
		div := int64(1)
		for i := 0; i < decimals-2; i++ {
			div *= 10
		}
		return amount / div
	case decimals < 2:
		mul := int64(1)
		for i := 0; i < 2-decimals; i++ {
			mul *= 10
		}
		return amount * mul
	default:
		return amount
	}
}
