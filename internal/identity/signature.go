package identity

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3/ecdsa"
	"golang.org/x/crypto/sha3"
)

var walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// NormalizeWallet validates a hex address and returns it lowercased.
func NormalizeWallet(wallet string) (string, error) {
	wallet = strings.TrimSpace(wallet)
	if !walletPattern.MatchString(wallet) {
		return "", fmt.Errorf("invalid wallet address %q", wallet)
	}
	return strings.ToLower(wallet), nil
}

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// PersonalMessageHash is the EIP-191 digest wallets sign for personal_sign.
func PersonalMessageHash(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return keccak256([]byte(prefix), []byte(message))
}

// PubKeyToAddress derives the lowercase 0x address of an uncompressed key.
func PubKeyToAddress(pk *secp256k1.PublicKey) string {
	raw := pk.SerializeUncompressed()
	return "0x" + hex.EncodeToString(keccak256(raw[1:])[12:])
}

// RecoverAddress returns the address that produced sigHex over message.
// sigHex is the 65 byte r||s||v signature wallets return, v being 0/1 or
// 27/28.
func RecoverAddress(message, sigHex string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		return "", fmt.Errorf("malformed signature hex: %v", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", fmt.Errorf("invalid signature recovery id %d", sig[64])
	}

	// decred's compact form puts the recovery byte first
	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pk, _, err := ecdsa.RecoverCompact(compact, PersonalMessageHash(message))
	if err != nil {
		return "", fmt.Errorf("signature recovery failed: %v", err)
	}
	return PubKeyToAddress(pk), nil
}
