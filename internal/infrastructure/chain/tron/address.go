package tron

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/sha3"
)

// addressPrefix is the version byte of every mainnet and testnet account.
const addressPrefix byte = 0x41

var ErrInvalidAddress = errors.New("invalid tron address")

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = keccakHex("Transfer(address,address,uint256)")

func keccakHex(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeAddress accepts base58check (T...) or 21-byte hex (41...) and
// returns the base58check form.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", ErrInvalidAddress
	}
	if strings.HasPrefix(addr, "41") && len(addr) == 42 {
		raw, err := hex.DecodeString(addr)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return base58.CheckEncode(raw[1:], addressPrefix), nil
	}
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if version != addressPrefix || len(payload) != 20 {
		return "", ErrInvalidAddress
	}
	return addr, nil
}

// addressFromEVMBytes converts the 20-byte account id used inside contract
// logs and ABI words into base58check.
func addressFromEVMBytes(b []byte) (string, error) {
	if len(b) != 20 {
		return "", ErrInvalidAddress
	}
	return base58.CheckEncode(b, addressPrefix), nil
}

// evmHex returns the 20-byte account id of a base58 address as lowercase hex.
func evmHex(addr string) (string, error) {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if version != addressPrefix || len(payload) != 20 {
		return "", ErrInvalidAddress
	}
	return hex.EncodeToString(payload), nil
}

// abiAddressWord left-pads an address to a 32-byte ABI word.
func abiAddressWord(addr string) (string, error) {
	h, err := evmHex(addr)
	if err != nil {
		return "", err
	}
	return strings.Repeat("0", 24) + h, nil
}
