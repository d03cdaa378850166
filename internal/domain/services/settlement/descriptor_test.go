package settlement

import (
	"bytes"
	"image/png"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adreach/settlement_service/internal/domain/entities"
)

func TestBuildDescriptor(t *testing.T) {
	bnb, _ := entities.AssetBNB.Spec()
	usdt, _ := entities.AssetUSDTTRC20.Spec()

	tests := []struct {
		name   string
		spec   entities.AssetSpec
		addr   string
		amount *big.Int
		memo   string
		uri    string
		shown  string
	}{
		{
			name:   "evm native",
			spec:   bnb,
			addr:   "0x8ba1f109551bd432803012645ac136ddd64dba72",
			amount: big.NewInt(10_000_000_000_000_000),
			uri:    "ethereum:0x8ba1f109551bd432803012645ac136ddd64dba72@56?value=10000000000000000",
			shown:  "0.010000000000000000",
		},
		{
			name:   "tron token",
			spec:   usdt,
			addr:   "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8",
			amount: big.NewInt(50_000_000),
			uri:    "tron:TJRabPrwbZy45sbavfcjinPJC18kjpRTv8?amount=50.000000&contract=TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
			shown:  "50.000000",
		},
		{
			name:   "tron token with memo",
			spec:   usdt,
			addr:   "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8",
			amount: big.NewInt(1),
			memo:   "order 17",
			uri:    "tron:TJRabPrwbZy45sbavfcjinPJC18kjpRTv8?amount=0.000001&contract=TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t&memo=order+17",
			shown:  "0.000001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := BuildDescriptor(tt.spec, tt.addr, tt.amount, tt.memo)
			assert.Equal(t, tt.uri, d.URI)
			assert.Equal(t, tt.shown, d.Amount)
			assert.Equal(t, tt.addr, d.Address)
			assert.Equal(t, tt.spec.Asset, d.Asset)
			assert.Equal(t, tt.spec.Network, d.Network)
			assert.Equal(t, tt.memo, d.Memo)
		})
	}
}

func TestQRCode(t *testing.T) {
	data, err := QRCode("ethereum:0x8ba1f109551bd432803012645ac136ddd64dba72@56?value=1", 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, defaultQRSize, img.Bounds().Dx())
	assert.Equal(t, defaultQRSize, img.Bounds().Dy())

	data, err = QRCode("tron:TJRabPrwbZy45sbavfcjinPJC18kjpRTv8?amount=1.000000", 5000)
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, maxQRSize, img.Bounds().Dx())
}
