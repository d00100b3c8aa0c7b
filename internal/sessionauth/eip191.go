package sessionauth

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
)

// eip191Prefix is the personal-sign convention: "\x19Ethereum Signed
// Message:\n" followed by the decimal length of the message, then the
// message bytes themselves.
func eip191Hash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// normalizeRecoveryID maps the wire encodings of v (0, 1, 27, 28) onto the
// 0/1 the secp256k1 recovery routine expects.
func normalizeRecoveryID(v byte) (byte, error) {
	switch v {
	case 0, 1:
		return v, nil
	case 27, 28:
		return v - 27, nil
	default:
		return 0, apierr.InvalidSignature(fmt.Errorf("unsupported recovery id %d", v))
	}
}

// RecoverAddress implements the EIP-191 recovery described in spec §4.D:
// the signature must be exactly 65 bytes (r‖s‖v); the recovered address is
// the lowercase 0x-prefixed hex of the last 20 bytes of Keccak256 applied
// to the uncompressed public key with its leading 0x04 tag stripped.
func RecoverAddress(message string, signature []byte) (string, error) {
	if len(signature) != 65 {
		return "", apierr.InvalidSignature(fmt.Errorf("signature must be 65 bytes, got %d", len(signature)))
	}

	recID, err := normalizeRecoveryID(signature[64])
	if err != nil {
		return "", err
	}

	sig := make([]byte, 65)
	copy(sig, signature[:64])
	sig[64] = recID

	hash := eip191Hash(message)

	pubKeyBytes, err := crypto.Ecrecover(hash, sig)
	if err != nil {
		return "", apierr.InvalidSignature(err)
	}
	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return "", apierr.InvalidSignature(err)
	}

	addr := crypto.PubkeyToAddress(*pubKey)
	return strings.ToLower(addr.Hex()), nil
}
