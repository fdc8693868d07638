package eventbus

import (
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func TestParsePrivateKey_Hex(t *testing.T) {
	key := nostr.GeneratePrivateKey()

	parsed, err := ParsePrivateKey(key)
	if err != nil {
		t.Fatalf("ParsePrivateKey() error = %v", err)
	}
	if parsed != key {
		t.Errorf("ParsePrivateKey() = %q, want %q", parsed, key)
	}
}

func TestParsePrivateKey_Nsec(t *testing.T) {
	key := nostr.GeneratePrivateKey()
	nsec, err := nip19.EncodePrivateKey(key)
	if err != nil {
		t.Fatalf("EncodePrivateKey() error = %v", err)
	}

	parsed, err := ParsePrivateKey(nsec)
	if err != nil {
		t.Fatalf("ParsePrivateKey(nsec) error = %v", err)
	}
	if parsed != key {
		t.Errorf("ParsePrivateKey(nsec) = %q, want %q", parsed, key)
	}
}

func TestParsePrivateKey_Invalid(t *testing.T) {
	tests := []string{
		"",
		"too-short",
		strings.Repeat("z", 64), // not hex
		"nsec1invalid",
	}
	for _, input := range tests {
		if _, err := ParsePrivateKey(input); err == nil {
			t.Errorf("ParsePrivateKey(%q) expected error", input)
		}
	}
}

func TestNormalizePubkey(t *testing.T) {
	key := nostr.GeneratePrivateKey()
	pubkey, err := nostr.GetPublicKey(key)
	if err != nil {
		t.Fatalf("GetPublicKey() error = %v", err)
	}
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		t.Fatalf("EncodePublicKey() error = %v", err)
	}

	fromHex, err := NormalizePubkey(strings.ToUpper(pubkey))
	if err != nil {
		t.Fatalf("NormalizePubkey(hex) error = %v", err)
	}
	if fromHex != pubkey {
		t.Errorf("NormalizePubkey(hex) = %q, want %q", fromHex, pubkey)
	}

	fromNpub, err := NormalizePubkey(npub)
	if err != nil {
		t.Fatalf("NormalizePubkey(npub) error = %v", err)
	}
	if fromNpub != pubkey {
		t.Errorf("NormalizePubkey(npub) = %q, want %q", fromNpub, pubkey)
	}

	if _, err := NormalizePubkey("nonsense"); err == nil {
		t.Error("NormalizePubkey(nonsense) expected error")
	}
}

func TestSigner_Sign(t *testing.T) {
	key := nostr.GeneratePrivateKey()
	signer, err := NewSigner(key)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	event := &nostr.Event{
		Kind:    KindTextReply,
		Content: "hello",
		Tags:    nostr.Tags{{"e", "parent"}},
	}
	if err := signer.Sign(event); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if event.ID == "" || event.Sig == "" {
		t.Fatal("Sign() left id or sig empty")
	}
	if event.PubKey != signer.PublicKey() {
		t.Errorf("event pubkey = %q, want signer pubkey %q", event.PubKey, signer.PublicKey())
	}
	ok, err := event.CheckSignature()
	if err != nil || !ok {
		t.Errorf("CheckSignature() = %v, %v; want valid", ok, err)
	}
}

func TestSigner_Npub(t *testing.T) {
	signer, err := NewSigner(nostr.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	if !strings.HasPrefix(signer.Npub(), "npub1") {
		t.Errorf("Npub() = %q, want npub1 prefix", signer.Npub())
	}
}
