package eventbus

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Signer holds a parsed private key and signs events with it. Agents and
// the project identity each own one.
type Signer struct {
	privateKey string
	publicKey  string
}

// NewSigner parses a private key in nsec or hex format and derives its
// public key.
func NewSigner(key string) (*Signer, error) {
	privateKey, err := ParsePrivateKey(key)
	if err != nil {
		return nil, err
	}
	publicKey, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &Signer{privateKey: privateKey, publicKey: publicKey}, nil
}

// PublicKey returns the hex-encoded public key.
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// Npub returns the bech32-encoded public key, falling back to hex when
// encoding fails.
func (s *Signer) Npub() string {
	npub, err := nip19.EncodePublicKey(s.publicKey)
	if err != nil {
		return s.publicKey
	}
	return npub
}

// Sign stamps the event with the signer's pubkey and signature. The
// event's id is computed as part of signing.
func (s *Signer) Sign(event *nostr.Event) error {
	event.PubKey = s.publicKey
	if event.CreatedAt == 0 {
		event.CreatedAt = nostr.Now()
	}
	if err := event.Sign(s.privateKey); err != nil {
		return fmt.Errorf("sign event kind %d: %w", event.Kind, err)
	}
	return nil
}

// ParsePrivateKey parses a private key in hex or nsec format, returning
// the hex form.
func ParsePrivateKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)

	if strings.HasPrefix(trimmed, "nsec1") {
		prefix, data, err := nip19.Decode(trimmed)
		if err != nil {
			return "", fmt.Errorf("invalid nsec key: %w", err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("invalid key type: expected nsec, got %s", prefix)
		}
		hexKey, ok := data.(string)
		if !ok {
			return "", fmt.Errorf("invalid nsec key type: %T", data)
		}
		return hexKey, nil
	}

	if len(trimmed) != 64 {
		return "", fmt.Errorf("private key must be 64 hex characters or nsec format")
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("invalid hex key: %w", err)
	}
	return trimmed, nil
}

// NormalizePubkey normalizes a pubkey in npub or hex format to lowercase hex.
func NormalizePubkey(input string) (string, error) {
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, "npub1") {
		prefix, data, err := nip19.Decode(trimmed)
		if err != nil {
			return "", fmt.Errorf("invalid npub key: %w", err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("invalid key type: expected npub, got %s", prefix)
		}
		pubkey, ok := data.(string)
		if !ok {
			return "", fmt.Errorf("invalid npub key type: %T", data)
		}
		return pubkey, nil
	}

	if len(trimmed) != 64 {
		return "", fmt.Errorf("pubkey must be 64 hex characters or npub format")
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("invalid hex pubkey: %w", err)
	}
	return strings.ToLower(trimmed), nil
}
