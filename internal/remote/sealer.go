package remote

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const sealAlgorithm = "nacl-box-seal"

// Sealer encrypts records to a researcher's Curve25519 public key so the
// remote repository only ever holds ciphertext.
type Sealer struct {
	pub         *[32]byte
	fingerprint string
}

type sealedEnvelope struct {
	Algorithm  string `json:"alg"`
	Recipient  string `json:"recipient"`
	Ciphertext string `json:"ciphertext"`
}

// NewSealer parses a base64-encoded 32-byte public key.
func NewSealer(publicKeyB64 string) (*Sealer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(publicKeyB64))
	if err != nil {
		return nil, fmt.Errorf("decode seal key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("seal key must be 32 bytes, got %d", len(raw))
	}
	var pub [32]byte
	copy(pub[:], raw)
	sum := sha256.Sum256(raw)
	return &Sealer{pub: &pub, fingerprint: hex.EncodeToString(sum[:8])}, nil
}

func (s *Sealer) Fingerprint() string { return s.fingerprint }

// Seal returns a JSON envelope holding the anonymously sealed plaintext.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	ct, err := box.SealAnonymous(nil, plain, s.pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	out, err := json.MarshalIndent(sealedEnvelope{
		Algorithm:  sealAlgorithm,
		Recipient:  s.fingerprint,
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// GenerateKeyPair returns a base64 public key for NewSealer and the matching
// private key for NewUnsealer.
func GenerateKeyPair() (publicKey, privateKey string, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate key pair: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub[:]), base64.StdEncoding.EncodeToString(priv[:]), nil
}

// Unsealer opens envelopes produced for one recipient key.
type Unsealer struct {
	pub, priv   *[32]byte
	fingerprint string
}

// NewUnsealer parses a base64-encoded 32-byte private key and derives its
// public half.
func NewUnsealer(privateKeyB64 string) (*Unsealer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(privateKeyB64))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	var priv, pub [32]byte
	copy(priv[:], raw)
	curve25519.ScalarBaseMult(&pub, &priv)
	sum := sha256.Sum256(pub[:])
	return &Unsealer{pub: &pub, priv: &priv, fingerprint: hex.EncodeToString(sum[:8])}, nil
}

func (u *Unsealer) Fingerprint() string { return u.fingerprint }

// Open returns the plaintext of a sealed envelope.
func (u *Unsealer) Open(envelope []byte) ([]byte, error) {
	return OpenSealed(envelope, u.pub, u.priv)
}

// OpenSealed reverses Seal with the recipient's key pair.
func OpenSealed(envelope []byte, pub, priv *[32]byte) ([]byte, error) {
	var env sealedEnvelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Algorithm != sealAlgorithm {
		return nil, fmt.Errorf("unsupported envelope algorithm %q", env.Algorithm)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plain, ok := box.OpenAnonymous(nil, ct, pub, priv)
	if !ok {
		return nil, fmt.Errorf("open sealed record: authentication failed")
	}
	return plain, nil
}
