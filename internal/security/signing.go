package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"
)

const (
	PublicKeyFile  = "server.pub"
	PrivateKeyFile = "server.priv"
)

var (
	ErrKeySize   = zerr.New("invalid key size")
	ErrEmptyKey  = zerr.New("private key is empty")
	ErrSignature = zerr.New("invalid signature")
)

// KeyPair is the ed25519 identity the server signs ledger blocks with.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, zerr.Wrap(err, "generate key pair")
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// SaveKeyPair writes both keys hex-encoded, readable by the owner only.
func SaveKeyPair(kp *KeyPair, pubPath, privPath string) error {
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(kp.Public)), 0o600); err != nil {
		return zerr.With(zerr.Wrap(err, "write public key"), "path", pubPath)
	}
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(kp.Private)), 0o600); err != nil {
		return zerr.With(zerr.Wrap(err, "write private key"), "path", privPath)
	}
	return nil
}

// LoadKeyPair reads a key pair written by SaveKeyPair.
func LoadKeyPair(pubPath, privPath string) (*KeyPair, error) {
	pub, err := readHexKey(pubPath, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	priv, err := readHexKey(privPath, ed25519.PrivateKeySize)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// EnsureKeyPair loads the server keys from dir, generating and saving them on
// first use. created reports whether new keys were written.
func EnsureKeyPair(dir string) (kp *KeyPair, created bool, err error) {
	pubPath := filepath.Join(dir, PublicKeyFile)
	privPath := filepath.Join(dir, PrivateKeyFile)

	if _, err := os.Stat(pubPath); err == nil {
		kp, err := LoadKeyPair(pubPath, privPath)
		return kp, false, err
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, zerr.Wrap(err, "stat public key")
	}

	kp, err = GenerateKeyPair()
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, zerr.Wrap(err, "create key directory")
	}
	if err := SaveKeyPair(kp, pubPath, privPath); err != nil {
		return nil, false, err
	}
	return kp, true, nil
}

// PublicHex is the public key as stored in ledger blocks.
func (kp *KeyPair) PublicHex() string {
	return hex.EncodeToString(kp.Public)
}

// Sign returns the hex signature of data.
func (kp *KeyPair) Sign(data []byte) (string, error) {
	if len(kp.Private) == 0 {
		return "", ErrEmptyKey
	}
	return hex.EncodeToString(ed25519.Sign(kp.Private, data)), nil
}

// VerifySignatureFromHex checks a hex signature against a hex public key. A
// well-formed signature that does not match returns ErrSignature.
func VerifySignatureFromHex(pubHex string, data []byte, sigHex string) error {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return zerr.Wrap(err, "decode public key")
	}
	if len(pub) != ed25519.PublicKeySize {
		return ErrKeySize
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return zerr.Wrap(err, "decode signature")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return ErrSignature
	}
	return nil
}

func readHexKey(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "read key"), "path", path)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "decode key"), "path", path)
	}
	if len(key) != size {
		return nil, ErrKeySize
	}
	return key, nil
}
