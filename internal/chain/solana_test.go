package chain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	testRecipient = "Recip11111111111111111111111111111111111111"
	testUSDCMint  = "Mint1USDC1111111111111111111111111111111111"
	testUSDTMint  = "Mint1USDT1111111111111111111111111111111111"
)

func testMints() []TokenMint {
	return []TokenMint{
		{Symbol: "USDC", Mint: testUSDCMint, Decimals: 6},
		{Symbol: "USDT", Mint: testUSDTMint, Decimals: 6},
	}
}

func newTestVerifier(url string) *SolanaVerifier {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSolanaVerifier(url, testRecipient, testMints(), 10, logger)
}

// rpcServer returns an httptest server that replies to every request with the
// given JSON body.
func rpcServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// transferResponse builds a getTransaction response where the recipient's
// token account for the given mint moved from preAmount to postAmount.
func transferResponse(mint, preAmount, postAmount string) string {
	return fmt.Sprintf(`{
		"jsonrpc": "2.0", "id": 1,
		"result": {
			"meta": {
				"err": null,
				"preTokenBalances": [
					{"accountIndex": 2, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": %q, "decimals": 6}}
				],
				"postTokenBalances": [
					{"accountIndex": 2, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": %q, "decimals": 6}}
				]
			}
		}
	}`, mint, testRecipient, preAmount, mint, testRecipient, postAmount)
}

func TestVerify_AcceptsValidTransfer(t *testing.T) {
	srv := rpcServer(t, transferResponse(testUSDCMint, "1000000", "1500000"))
	v := newTestVerifier(srv.URL)

	res, err := v.Verify(context.Background(), VerifyRequest{Signature: "sig"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Verified {
		t.Fatalf("expected verified, got reason: %s", res.Reason)
	}
	// 500000 base units of a 6-decimal stablecoin is 50 cents.
	if res.AmountCents != 50 {
		t.Errorf("amount: got %d cents, want 50", res.AmountCents)
	}
	if res.Token != "USDC" {
		t.Errorf("token: got %s, want USDC", res.Token)
	}
	if res.CreditsToGrant != 5 {
		t.Errorf("credits: got %d, want 5", res.CreditsToGrant)
	}
}

func TestVerify_RejectsMissingTransaction(t *testing.T) {
	srv := rpcServer(t, `{"jsonrpc":"2.0","id":1,"result":null}`)
	v := newTestVerifier(srv.URL)

	res, err := v.Verify(context.Background(), VerifyRequest{Signature: "sig"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Verified {
		t.Error("a missing transaction must not verify")
	}
	if res.Reason == "" {
		t.Error("rejection should carry a reason")
	}
}

func TestVerify_RejectsFailedTransaction(t *testing.T) {
	srv := rpcServer(t, `{
		"jsonrpc": "2.0", "id": 1,
		"result": {"meta": {"err": {"InstructionError": [0, "Custom"]}, "preTokenBalances": [], "postTokenBalances": []}}
	}`)
	v := newTestVerifier(srv.URL)

	res, err := v.Verify(context.Background(), VerifyRequest{Signature: "sig"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Verified {
		t.Error("a transaction that failed on chain must not verify")
	}
}

func TestVerify_RejectsTransferToWrongRecipient(t *testing.T) {
	body := fmt.Sprintf(`{
		"jsonrpc": "2.0", "id": 1,
		"result": {
			"meta": {
				"err": null,
				"preTokenBalances": [],
				"postTokenBalances": [
					{"accountIndex": 2, "mint": %q, "owner": "SomeoneE1se11111111111111111111111111111111", "uiTokenAmount": {"amount": "500000", "decimals": 6}}
				]
			}
		}
	}`, testUSDCMint)
	srv := rpcServer(t, body)
	v := newTestVerifier(srv.URL)

	res, err := v.Verify(context.Background(), VerifyRequest{Signature: "sig"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Verified {
		t.Error("a transfer to another wallet must not verify")
	}
}

func TestVerify_RejectsUnderpayment(t *testing.T) {
	srv := rpcServer(t, transferResponse(testUSDCMint, "0", "300000"))
	v := newTestVerifier(srv.URL)

	res, err := v.Verify(context.Background(), VerifyRequest{
		Signature:           "sig",
		ExpectedAmountCents: 50,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Verified {
		t.Error("an underpaid transfer must not verify")
	}
	if res.AmountCents != 30 {
		t.Errorf("observed amount: got %d cents, want 30", res.AmountCents)
	}
}

func TestVerify_RejectsWrongToken(t *testing.T) {
	srv := rpcServer(t, transferResponse(testUSDTMint, "0", "500000"))
	v := newTestVerifier(srv.URL)

	res, err := v.Verify(context.Background(), VerifyRequest{
		Signature:     "sig",
		ExpectedToken: "USDC",
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Verified {
		t.Error("payment in a different token than expected must not verify")
	}
	if res.Token != "USDT" {
		t.Errorf("observed token: got %s, want USDT", res.Token)
	}
}

func TestVerify_ConversionUsesConfiguredDecimals(t *testing.T) {
	// The node reports bogus decimals for the mint; the conversion must use
	// the configured ones (6), so 500000 base units is still 50 cents.
	body := fmt.Sprintf(`{
		"jsonrpc": "2.0", "id": 1,
		"result": {
			"meta": {
				"err": null,
				"preTokenBalances": [
					{"accountIndex": 2, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": "0", "decimals": 0}}
				],
				"postTokenBalances": [
					{"accountIndex": 2, "mint": %q, "owner": %q, "uiTokenAmount": {"amount": "500000", "decimals": 0}}
				]
			}
		}
	}`, testUSDCMint, testRecipient, testUSDCMint, testRecipient)
	srv := rpcServer(t, body)
	v := newTestVerifier(srv.URL)

	res, err := v.Verify(context.Background(), VerifyRequest{Signature: "sig"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Verified {
		t.Fatalf("expected verified, got reason: %s", res.Reason)
	}
	if res.AmountCents != 50 {
		t.Errorf("amount: got %d cents, want 50", res.AmountCents)
	}
}

func TestBaseUnitsToCents(t *testing.T) {
	cases := []struct {
		amount   int64
		decimals int
		want     int64
	}{
		{500000, 6, 50},
		{50, 2, 50},
		{5, 1, 50},
		{1, 0, 100},
	}
	for _, c := range cases {
		if got := baseUnitsToCents(c.amount, c.decimals); got != c.want {
			t.Errorf("baseUnitsToCents(%d, %d): got %d, want %d", c.amount, c.decimals, got, c.want)
		}
	}
}

func TestVerify_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	v := newTestVerifier(srv.URL)

	_, err := v.Verify(context.Background(), VerifyRequest{Signature: "sig"})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got: %v", err)
	}
}

func TestVerify_ConnectionErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	v := newTestVerifier(srv.URL)

	_, err := v.Verify(context.Background(), VerifyRequest{Signature: "sig"})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got: %v", err)
	}
}

func TestVerify_RPCErrorIsTransient(t *testing.T) {
	srv := rpcServer(t, `{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"node is behind"}}`)
	v := newTestVerifier(srv.URL)

	_, err := v.Verify(context.Background(), VerifyRequest{Signature: "sig"})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got: %v", err)
	}
}
