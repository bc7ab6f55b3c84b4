package signing

import (
	"errors"
	"strings"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	msg := "abc123:BUYER:RELEASE_TO_SELLER"
	sig, err := Sign(kp.PrivateKeyHex, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig != strings.ToLower(sig) {
		t.Errorf("expected lowercase hex signature, got %q", sig)
	}

	if err := Verify(kp.PublicKeyHex, msg, sig); err != nil {
		t.Errorf("expected valid signature, got %v", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signer, _ := GenerateKeypair()
	other, _ := GenerateKeypair()

	msg := "abc123:SELLER:RELEASE_TO_SELLER"
	sig, err := Sign(signer.PrivateKeyHex, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := Verify(other.PublicKeyHex, msg, sig); !errors.Is(err, ErrVerificationFailed) {
		t.Errorf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, _ := GenerateKeypair()

	sig, err := Sign(kp.PrivateKeyHex, "abc123:BUYER:RELEASE_TO_SELLER")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := Verify(kp.PublicKeyHex, "abc123:BUYER:REFUND_TO_BUYER", sig); !errors.Is(err, ErrVerificationFailed) {
		t.Errorf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestVerifyMalformedInputs(t *testing.T) {
	kp, _ := GenerateKeypair()
	sig, _ := Sign(kp.PrivateKeyHex, "msg")

	if err := Verify("not-hex", "msg", sig); !errors.Is(err, ErrBadPublicKey) {
		t.Errorf("expected ErrBadPublicKey, got %v", err)
	}
	if err := Verify(kp.PublicKeyHex, "msg", "zz"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
	if err := Verify(kp.PublicKeyHex[:10], "msg", sig); !errors.Is(err, ErrBadPublicKey) {
		t.Errorf("expected ErrBadPublicKey for short key, got %v", err)
	}
}
