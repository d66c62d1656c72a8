package chain

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"golang.org/x/crypto/ripemd160"
)

var ErrDeriverNotConfigured = errors.New("xpub is not configured")

type AddressDeriver struct {
	XPub   string
	Prefix string
}

func (d AddressDeriver) Enabled() bool {
	return d.XPub != "" && d.Prefix != ""
}

// Derive expects XPub at path m/44'/118'/0'/0 and derives child index i.
// Each order gets its own deposit address this way.
func (d AddressDeriver) Derive(index uint32) (string, error) {
	if d.XPub == "" {
		return "", ErrDeriverNotConfigured
	}
	if d.Prefix == "" {
		return "", errors.New("bech32 prefix is not configured")
	}

	key, err := hdkeychain.NewKeyFromString(d.XPub)
	if err != nil {
		return "", err
	}
	child, err := key.Derive(index)
	if err != nil {
		return "", err
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", err
	}
	return EncodeAddress(d.Prefix, pubKey.SerializeCompressed())
}

// EncodeAddress hashes a compressed public key (sha256 then ripemd160)
// and encodes it as bech32 under prefix.
func EncodeAddress(prefix string, compressedPubKey []byte) (string, error) {
	hash := sha256.Sum256(compressedPubKey)
	rip := ripemd160.New()
	_, _ = rip.Write(hash[:])
	addr := rip.Sum(nil)

	converted, err := bech32.ConvertBits(addr, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(prefix, converted)
}

// ValidateAddress checks that addr is well-formed bech32 under prefix.
// An empty prefix skips the human-readable part check.
func ValidateAddress(prefix, addr string) error {
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid wallet address %q: %w", addr, err)
	}
	if prefix != "" && hrp != prefix {
		return fmt.Errorf("wallet address %q has prefix %q, want %q", addr, hrp, prefix)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return fmt.Errorf("invalid wallet address %q: %w", addr, err)
	}
	if len(raw) != ripemd160.Size && len(raw) != 32 {
		return fmt.Errorf("wallet address %q has unexpected length %d", addr, len(raw))
	}
	return nil
}
