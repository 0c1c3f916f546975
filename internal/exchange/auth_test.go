package exchange

import (
	"testing"

	"polyweather/internal/config"
	"polyweather/pkg/types"
)

// Well-known throwaway test key (hardhat account #0).
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	cfg := &config.Config{}
	cfg.Wallet.PrivateKey = testPrivateKey
	cfg.Wallet.ChainID = 137
	a, err := NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	return a
}

func TestNewAuthDerivesAddress(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	if a.Address().Hex() != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Errorf("Address = %s", a.Address().Hex())
	}
	// No funder configured: funder falls back to the signer.
	if a.FunderAddress() != a.Address() {
		t.Errorf("FunderAddress = %s, want signer", a.FunderAddress().Hex())
	}
}

func TestNewAuthStripsHexPrefix(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Wallet.PrivateKey = "0x" + testPrivateKey
	cfg.Wallet.ChainID = 137
	a, err := NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth with 0x prefix: %v", err)
	}
	if a.Address().Hex() != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Errorf("Address = %s", a.Address().Hex())
	}
}

func TestL1HeadersComplete(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	headers, err := a.L1Headers(0)
	if err != nil {
		t.Fatalf("L1Headers: %v", err)
	}
	for _, k := range []string{"POLY_ADDRESS", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_NONCE"} {
		if headers[k] == "" {
			t.Errorf("missing header %s", k)
		}
	}
}

func TestL2HeadersRequireSecret(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	a.SetCredentials(Credentials{ApiKey: "k", Secret: "c2VjcmV0", Passphrase: "p"})

	headers, err := a.L2Headers("POST", "/order", `{"x":1}`)
	if err != nil {
		t.Fatalf("L2Headers: %v", err)
	}
	if headers["POLY_API_KEY"] != "k" || headers["POLY_PASSPHRASE"] != "p" {
		t.Errorf("credential headers wrong: %v", headers)
	}
	if headers["POLY_SIGNATURE"] == "" {
		t.Error("missing HMAC signature")
	}
}

func TestSignOrderProducesSignature(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	sig, err := a.SignOrder(SignedOrder{
		Salt:        "12345",
		Maker:       a.FunderAddress().Hex(),
		Signer:      a.Address().Hex(),
		Taker:       "0x0000000000000000000000000000000000000000",
		TokenID:     "7112603466",
		MakerAmount: "5000000",
		TakerAmount: "10000000",
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
		Side:        types.BUY,
	})
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	// 65-byte signature hex plus 0x prefix.
	if len(sig) != 132 {
		t.Errorf("signature length = %d, want 132", len(sig))
	}
}

func TestPriceToAmounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		price, size float64
		side        types.Side
		maker       string
		taker       string
	}{
		// BUY 10 tokens at 0.50: pay 5 USDC, receive 10 tokens.
		{"buy", 0.50, 10, types.BUY, "5000000", "10000000"},
		// SELL 10 tokens at 0.50: give 10 tokens, receive 5 USDC.
		{"sell", 0.50, 10, types.SELL, "10000000", "5000000"},
		// Sub-cent price rounds to 3 decimals before multiplying.
		{"rounding", 0.333, 3, types.BUY, "999000", "3000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maker, taker := PriceToAmounts(tt.price, tt.size, tt.side)
			if maker.String() != tt.maker || taker.String() != tt.taker {
				t.Errorf("PriceToAmounts(%v, %v, %s) = %s/%s, want %s/%s",
					tt.price, tt.size, tt.side, maker, taker, tt.maker, tt.taker)
			}
		})
	}
}
