package venue

import (
	"errors"
	"testing"

	"dex-engine/internal/config"
)

func TestNewSignerRequiresCredentials(t *testing.T) {
	if _, err := NewSigner(config.SignerConfig{WalletAddress: "w"}); !errors.Is(err, ErrSignerUnavailable) {
		t.Fatalf("expected ErrSignerUnavailable, got %v", err)
	}
	if _, err := NewSigner(config.SignerConfig{WalletAddress: "w", PrivateKey: "not-hex"}); !errors.Is(err, ErrSignerUnavailable) {
		t.Fatalf("expected ErrSignerUnavailable for non-hex key, got %v", err)
	}
}

func TestSignIsDeterministic(t *testing.T) {
	s, err := NewSigner(config.SignerConfig{WalletAddress: "wallet-1", PrivateKey: "deadbeef"})
	if err != nil {
		t.Fatalf("NewSigner returned error: %v", err)
	}

	sig1, err := s.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	sig2, _ := s.Sign([]byte("payload"))
	if sig1 != sig2 {
		t.Fatal("same payload must produce same signature")
	}

	other, _ := s.Sign([]byte("payload2"))
	if other == sig1 {
		t.Fatal("different payloads must produce different signatures")
	}
}

func TestSignSubmissionCoversIdentityFields(t *testing.T) {
	s, err := NewSigner(config.SignerConfig{WalletAddress: "wallet-1", PrivateKey: "deadbeef"})
	if err != nil {
		t.Fatalf("NewSigner returned error: %v", err)
	}

	spec := TxSpec{OrderID: "ord-1", Pair: "SOL/USDC", Side: "buy", Amount: 10, QuotePrice: 100.5, ClientRef: "ord-1:jupiter"}
	sig1, err := signSubmission(s, spec)
	if err != nil {
		t.Fatalf("signSubmission returned error: %v", err)
	}

	spec.Amount = 11
	sig2, _ := signSubmission(s, spec)
	if sig1 == sig2 {
		t.Fatal("changing the amount must change the signature")
	}
}

func TestWipeDisablesSigner(t *testing.T) {
	s, err := NewSigner(config.SignerConfig{WalletAddress: "wallet-1", PrivateKey: "deadbeef"})
	if err != nil {
		t.Fatalf("NewSigner returned error: %v", err)
	}

	before, _ := s.Sign([]byte("payload"))
	s.Wipe()
	after, err := s.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign after wipe returned error: %v", err)
	}
	if before == after {
		t.Fatal("wiped key must not reproduce the original signature")
	}

	var nilSigner *Signer
	if _, err := nilSigner.Sign([]byte("x")); !errors.Is(err, ErrSignerUnavailable) {
		t.Fatalf("expected ErrSignerUnavailable from nil signer, got %v", err)
	}
}
