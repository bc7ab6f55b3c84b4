package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrBadPublicKey signals the registered key could not be decoded.
	ErrBadPublicKey = errors.New("signing: malformed public key")
	// ErrBadSignature signals the signature hex could not be decoded.
	ErrBadSignature = errors.New("signing: malformed signature")
	// ErrVerificationFailed signals the signature does not match the key and message.
	ErrVerificationFailed = errors.New("signing: verification failed")
)

// Keypair holds a freshly generated ed25519 keypair, hex encoded. The private
// key is handed to the owner once at registration and never persisted.
type Keypair struct {
	PublicKeyHex  string
	PrivateKeyHex string
}

// GenerateKeypair creates a new ed25519 keypair for a registering party.
func GenerateKeypair() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("signing: generate keypair: %w", err)
	}
	return Keypair{
		PublicKeyHex:  hex.EncodeToString(pub),
		PrivateKeyHex: hex.EncodeToString(priv),
	}, nil
}

// Sign produces a lowercase hex signature over message using the hex-encoded
// ed25519 private key.
func Sign(privateKeyHex, message string) (string, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("signing: malformed private key")
	}
	sig := ed25519.Sign(ed25519.PrivateKey(raw), []byte(message))
	return hex.EncodeToString(sig), nil
}

// PublicKeyOf derives the hex public key from a hex-encoded ed25519 private
// key.
func PublicKeyOf(privateKeyHex string) (string, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("signing: malformed private key")
	}
	pub := ed25519.PrivateKey(raw).Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub), nil
}

// Verify checks a hex signature over message against a hex-encoded ed25519
// public key. A nil return means the signature is genuine.
func Verify(publicKeyHex, message, signatureHex string) error {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return ErrBadPublicKey
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig) {
		return ErrVerificationFailed
	}
	return nil
}
