package settlement

import (
	"bytes"
	"fmt"
	"image/png"
	"math/big"
	"net/url"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"

	"github.com/adreach/settlement_service/internal/domain/entities"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

// BuildDescriptor renders the payment URI a wallet app can open.
//
// EVM native coins use EIP-681 with the value in wei:
//
//	ethereum:0xabc...@56?value=10000000000000000
//
// TRON tokens name the contract and a decimal amount:
//
//	tron:TXYZ...?contract=TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t&amount=50.000000
func BuildDescriptor(spec entities.AssetSpec, address string, amount *big.Int, memo string) entities.PaymentDescriptor {
	display := entities.FormatAmount(amount, spec.Decimals)

	query := url.Values{}
	var uri string
	switch spec.Family {
	case entities.ChainFamilyEVM:
		if amount != nil {
			query.Set("value", amount.String())
		}
		if memo != "" {
			query.Set("memo", memo)
		}
		uri = fmt.Sprintf("ethereum:%s@%d?%s", address, spec.ChainID, query.Encode())
	default:
		if spec.ContractAddress != "" {
			query.Set("contract", spec.ContractAddress)
		}
		query.Set("amount", display)
		if memo != "" {
			query.Set("memo", memo)
		}
		uri = fmt.Sprintf("%s:%s?%s", spec.Network, address, query.Encode())
	}

	return entities.PaymentDescriptor{
		URI:     uri,
		Address: address,
		Amount:  display,
		Asset:   spec.Asset,
		Network: spec.Network,
		Memo:    memo,
	}
}

// QRCode encodes a descriptor URI as a square PNG. size is clamped to
// [defaultQRSize/4, maxQRSize]; zero selects the default.
func QRCode(uri string, size int) ([]byte, error) {
	switch {
	case size == 0:
		size = defaultQRSize
	case size < defaultQRSize/4:
		size = defaultQRSize / 4
	case size > maxQRSize:
		size = maxQRSize
	}

	code, err := qr.Encode(uri, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("scale qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
