package mail

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/nacl/sign"
)

const (
	// PublicKeySize is the size of an Ed25519 public key.
	PublicKeySize = 32
	// PrivateKeySize is the size of a nacl/sign private key.
	PrivateKeySize = 64
)

// ErrInvalidKey indicates key material of the wrong size.
var ErrInvalidKey = errors.New("invalid signing key")

// Signer produces detached Ed25519 signatures.
type Signer struct {
	publicKey  *[PublicKeySize]byte
	privateKey *[PrivateKeySize]byte
}

// GenerateSigner creates a signer with a fresh key pair. A nil reader uses
// crypto/rand.
func GenerateSigner(r io.Reader) (*Signer, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := sign.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return &Signer{publicKey: pub, privateKey: priv}, nil
}

// NewSigner wraps an existing private key. The public key is its second half.
func NewSigner(privateKey []byte) (*Signer, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(privateKey))
	}
	var priv [PrivateKeySize]byte
	var pub [PublicKeySize]byte
	copy(priv[:], privateKey)
	copy(pub[:], privateKey[PublicKeySize:])
	return &Signer{publicKey: &pub, privateKey: &priv}, nil
}

// LoadSigner reads a private key written by Save.
func LoadSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewSigner(data)
}

// LoadOrGenerateSigner loads the key at path, creating it on first use.
func LoadOrGenerateSigner(path string) (*Signer, error) {
	s, err := LoadSigner(path)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	s, err = GenerateSigner(nil)
	if err != nil {
		return nil, err
	}
	if err := s.Save(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the private key to path, readable by the owner only.
func (s *Signer) Save(path string) error {
	return os.WriteFile(path, s.privateKey[:], 0o600)
}

// PublicKey returns a copy of the public key.
func (s *Signer) PublicKey() []byte {
	out := make([]byte, PublicKeySize)
	copy(out, s.publicKey[:])
	return out
}

// Sign returns the detached signature of data.
func (s *Signer) Sign(data []byte) []byte {
	signed := sign.Sign(nil, data, s.privateKey)
	return signed[:sign.Overhead]
}

// Verify checks a detached signature made by this signer.
func (s *Signer) Verify(data, signature []byte) bool {
	return Verify(s.publicKey[:], data, signature)
}

// Verify checks a detached signature against publicKey.
func Verify(publicKey, data, signature []byte) bool {
	if len(publicKey) != PublicKeySize || len(signature) != sign.Overhead {
		return false
	}
	var pub [PublicKeySize]byte
	copy(pub[:], publicKey)

	signed := make([]byte, 0, len(signature)+len(data))
	signed = append(signed, signature...)
	signed = append(signed, data...)
	_, ok := sign.Open(nil, signed, &pub)
	return ok
}
