package redeem

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"polyweather/internal/exchange"
)

// Polygon mainnet addresses.
const (
	conditionalTokensAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	usdcAddress              = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
)

const redeemABI = `[{"name":"redeemPositions","type":"function","inputs":[
	{"name":"collateralToken","type":"address"},
	{"name":"parentCollectionId","type":"bytes32"},
	{"name":"conditionId","type":"bytes32"},
	{"name":"indexSets","type":"uint256[]"}],"outputs":[]}]`

// CTFRedeemer settles resolved positions on the Conditional Tokens
// Framework contract. Both outcome index sets are redeemed in one call;
// the contract ignores outcomes the wallet holds no balance in.
type CTFRedeemer struct {
	client *ethclient.Client
	auth   *exchange.Auth
	abi    abi.ABI
	dryRun bool
	logger *slog.Logger
}

func NewCTFRedeemer(rpcURL string, auth *exchange.Auth, dryRun bool, logger *slog.Logger) (*CTFRedeemer, error) {
	parsed, err := abi.JSON(strings.NewReader(redeemABI))
	if err != nil {
		return nil, fmt.Errorf("parse ctf abi: %w", err)
	}

	r := &CTFRedeemer{
		auth:   auth,
		abi:    parsed,
		dryRun: dryRun,
		logger: logger.With("component", "ctf"),
	}
	if dryRun {
		return r, nil
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	r.client = client
	return r, nil
}

// Redeem submits a redeemPositions transaction for the condition and waits
// only for acceptance into the mempool, not for inclusion.
func (r *CTFRedeemer) Redeem(ctx context.Context, conditionID string) error {
	if r.dryRun {
		r.logger.Info("DRY-RUN: would redeem", "condition", conditionID)
		return nil
	}

	data, err := r.abi.Pack("redeemPositions",
		common.HexToAddress(usdcAddress),
		[32]byte{}, // root collection
		common.HexToHash(conditionID),
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
	)
	if err != nil {
		return fmt.Errorf("pack redeem: %w", err)
	}

	from := r.auth.Address()
	nonce, err := r.client.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}

	to := common.HexToAddress(conditionalTokensAddress)
	gas, err := r.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return fmt.Errorf("estimate gas: %w", err)
	}

	tx := gethtypes.NewTransaction(nonce, to, big.NewInt(0), gas, gasPrice, data)
	signer := gethtypes.LatestSignerForChainID(r.auth.ChainID())
	signed, err := gethtypes.SignTx(tx, signer, r.auth.PrivateKey())
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}

	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send tx: %w", err)
	}

	r.logger.Info("redemption submitted",
		"condition", conditionID,
		"tx", signed.Hash().Hex(),
	)
	return nil
}
