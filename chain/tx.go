package chain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Transaction wire format
// ---------------------------------------------------------------------------

// cborEncMode uses canonical mode so a transaction body encodes
// deterministically; the signature covers the encoded body.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("chain: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// UnsignedTx is the signable transaction body.
type UnsignedTx struct {
	Nonce    uint64
	GasPrice uint64
	Gas      uint64
	To       []byte // empty for contract creation
	Value    []byte // big-endian word, empty for zero
	Data     []byte // bytecode payload
}

// SignedTx carries a canonically encoded body together with the signer's
// public key and signature over it.
type SignedTx struct {
	Body      []byte
	PublicKey []byte
	Signature []byte
}

// Unsigned decodes the transaction body.
func (tx *SignedTx) Unsigned() (*UnsignedTx, error) {
	var utx UnsignedTx
	if err := cbor.Unmarshal(tx.Body, &utx); err != nil {
		return nil, fmt.Errorf("chain: unmarshal transaction body: %w", err)
	}
	return &utx, nil
}

// Sender returns the address derived from the signer's public key.
func (tx *SignedTx) Sender() Address {
	return AddressOf(tx.PublicKey)
}

// Hash returns the transaction hash: SHA-256 over body and signature.
func (tx *SignedTx) Hash() [32]byte {
	h := sha256.New()
	h.Write(tx.Body)
	h.Write(tx.Signature)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Marshal serializes a SignedTx to CBOR bytes.
func (tx *SignedTx) Marshal() ([]byte, error) {
	return cborEncMode.Marshal(tx)
}

// UnmarshalTx deserializes a SignedTx from CBOR bytes.
func UnmarshalTx(data []byte) (*SignedTx, error) {
	var tx SignedTx
	if err := cbor.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("chain: unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// ---------------------------------------------------------------------------
// Transaction preparation
// ---------------------------------------------------------------------------

// Defaults applied to prepared transactions, matching the genesis-era
// settlement settings.
const (
	txGasPrice = 1
	txGas      = 100_000
)

// ErrInvalidPayload indicates malformed hex payload data.
var ErrInvalidPayload = errors.New("invalid payload hex")

var hexBody = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// SanitizeHex normalizes a 0x-prefixed hexadecimal payload: the prefix is
// required, the body must be hex-only, and an odd-length body is
// left-padded with one zero digit.
func SanitizeHex(dataHex string) (string, error) {
	if !strings.HasPrefix(dataHex, "0x") {
		return "", fmt.Errorf("%w: missing 0x prefix", ErrInvalidPayload)
	}
	body := dataHex[2:]
	if !hexBody.MatchString(body) {
		return "", fmt.Errorf("%w: non-hexadecimal characters in %q", ErrInvalidPayload, dataHex)
	}
	if len(body)%2 != 0 {
		body = "0" + body
	}
	return "0x" + body, nil
}

// DecodePayload sanitizes and decodes a hex payload to bytes.
func DecodePayload(dataHex string) ([]byte, error) {
	clean, err := SanitizeHex(dataHex)
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(clean[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return data, nil
}

// PrepareTransaction builds and signs a transaction carrying the given hex
// payload. The result is ready for Chain.Apply.
func PrepareTransaction(priv ed25519.PrivateKey, nonce uint64, dataHex string) (*SignedTx, error) {
	data, err := DecodePayload(dataHex)
	if err != nil {
		return nil, err
	}

	body, err := cborEncMode.Marshal(&UnsignedTx{
		Nonce:    nonce,
		GasPrice: txGasPrice,
		Gas:      txGas,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("chain: marshal transaction body: %w", err)
	}

	return &SignedTx{
		Body:      body,
		PublicKey: priv.Public().(ed25519.PublicKey),
		Signature: ed25519.Sign(priv, body),
	}, nil
}
