package onchain

// redeem.go: on-chain CTF redemption for settled Polymarket markets.
//
// redeemPositions() burns the winning conditional tokens of a resolved
// condition and pays out USDC.e collateral 1:1. Losing tokens are burned
// for nothing.

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	// USDC.e collateral on Polygon
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// CTF contract, holds conditional tokens (ERC1155)
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// Exchange contracts that need ERC1155 setApprovalForAll
	normalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	negRiskAdapter  = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"

	redeemGasLimit   = uint64(250_000)
	approvalGasLimit = uint64(80_000)

	gasPriceUpdateInterval = 5 * time.Minute
	fallbackGasWei         = 30_000_000_000
)

// ErrNegRiskRedeem is returned for neg-risk markets, which redeem through the
// adapter with per-outcome amounts this client does not track.
var ErrNegRiskRedeem = errors.New("neg-risk redeem not supported")

var (
	ctfABI     abi.ABI
	erc1155ABI abi.ABI
	erc20ABI   abi.ABI
)

func init() {
	ctfABI = mustABI("ctf", `[
		{
			"name": "redeemPositions",
			"type": "function",
			"inputs": [
				{"name": "collateralToken", "type": "address"},
				{"name": "parentCollectionId", "type": "bytes32"},
				{"name": "conditionId", "type": "bytes32"},
				{"name": "indexSets", "type": "uint256[]"}
			],
			"outputs": []
		}
	]`)
	erc1155ABI = mustABI("erc1155", `[
		{
			"name": "setApprovalForAll",
			"type": "function",
			"inputs": [
				{"name": "operator", "type": "address"},
				{"name": "approved", "type": "bool"}
			],
			"outputs": []
		},
		{
			"name": "isApprovedForAll",
			"type": "function",
			"inputs": [
				{"name": "account", "type": "address"},
				{"name": "operator", "type": "address"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		}
	]`)
	erc20ABI = mustABI("erc20", `[
		{
			"name": "approve",
			"type": "function",
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`)
}

func mustABI(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(name + " abi parse: " + err.Error())
	}
	return parsed
}

// Backend is the subset of *ethclient.Client the redeemer uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Redeemer implements ports.Redeemer.
type Redeemer struct {
	client     Backend
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	logger     *slog.Logger

	receiptPoll    time.Duration
	receiptTimeout time.Duration
	now            func() time.Time

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// NewRedeemer creates a redeemer that signs with key on the given chain.
func NewRedeemer(client Backend, key *ecdsa.PrivateKey, chainID int64, logger *slog.Logger) *Redeemer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redeemer{
		client:         client,
		privateKey:     key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:        big.NewInt(chainID),
		logger:         logger,
		receiptPoll:    3 * time.Second,
		receiptTimeout: 60 * time.Second,
		now:            time.Now,
	}
}

// Redeem sends redeemPositions for both outcome slots of the condition and
// waits for the receipt.
func (r *Redeemer) Redeem(ctx context.Context, marketID string, negRisk bool) (domain.RedeemResult, error) {
	result := domain.RedeemResult{MarketID: marketID, ExecutedAt: r.now().UTC()}

	if negRisk {
		result.Error = ErrNegRiskRedeem.Error()
		return result, fmt.Errorf("onchain.Redeem: %s: %w", short(marketID), ErrNegRiskRedeem)
	}

	condBytes, err := hexToBytes32(marketID)
	if err != nil {
		result.Error = fmt.Sprintf("invalid condition id: %v", err)
		return result, fmt.Errorf("onchain.Redeem: %w", err)
	}

	callData, err := ctfABI.Pack("redeemPositions",
		common.HexToAddress(usdcEAddress),
		[32]byte{},
		condBytes,
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
	)
	if err != nil {
		result.Error = fmt.Sprintf("pack calldata: %v", err)
		return result, fmt.Errorf("onchain.Redeem: pack: %w", err)
	}

	ctfAddr := common.HexToAddress(ctfAddress)
	receipt, err := r.transact(ctx, ctfAddr, callData, redeemGasLimit, true)
	if receipt != nil {
		result.TxHash = receipt.TxHash.Hex()
		result.GasUsed = receipt.GasUsed
	}
	if err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("onchain.Redeem: %s: %w", short(marketID), err)
	}

	result.Success = true
	r.logger.Info("redeem confirmed", "market", short(marketID), "tx", result.TxHash, "gas", result.GasUsed)
	return result, nil
}

// EnsureApprovals checks and sets both:
//   - ERC1155 setApprovalForAll on the three exchange contracts
//   - ERC20 USDC.e approve for both exchange contracts
func (r *Redeemer) EnsureApprovals(ctx context.Context) error {
	for _, op := range []string{normalExchange, negRiskExchange, negRiskAdapter} {
		operator := common.HexToAddress(op)
		approved, err := r.isApprovedForAll(ctx, operator)
		if err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: check ERC1155 approval for %s: %w", op, err)
		}
		if approved {
			r.logger.Debug("ERC1155 approval already set", "operator", op)
			continue
		}

		r.logger.Info("setting ERC1155 approval", "operator", op)
		callData, err := erc1155ABI.Pack("setApprovalForAll", operator, true)
		if err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: pack: %w", err)
		}
		if _, err := r.transact(ctx, common.HexToAddress(ctfAddress), callData, approvalGasLimit, false); err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: set ERC1155 approval for %s: %w", op, err)
		}
	}

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	minAllowance := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000)) // 1M USDC.e
	usdc := common.HexToAddress(usdcEAddress)

	for _, ex := range []string{normalExchange, negRiskExchange} {
		spender := common.HexToAddress(ex)
		allowance, err := r.erc20Allowance(ctx, usdc, spender)
		if err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: check USDC.e allowance for %s: %w", ex, err)
		}
		if allowance.Cmp(minAllowance) >= 0 {
			r.logger.Debug("USDC.e allowance sufficient", "exchange", ex)
			continue
		}

		r.logger.Info("setting USDC.e approval", "exchange", ex)
		callData, err := erc20ABI.Pack("approve", spender, maxUint256)
		if err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: pack: %w", err)
		}
		if _, err := r.transact(ctx, usdc, callData, approvalGasLimit, false); err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: set USDC.e approval for %s: %w", ex, err)
		}
	}
	return nil
}

func (r *Redeemer) isApprovedForAll(ctx context.Context, operator common.Address) (bool, error) {
	callData, err := erc1155ABI.Pack("isApprovedForAll", r.address, operator)
	if err != nil {
		return false, err
	}
	ctfAddr := common.HexToAddress(ctfAddress)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &ctfAddr, Data: callData}, nil)
	if err != nil {
		return false, err
	}
	vals, err := erc1155ABI.Unpack("isApprovedForAll", out)
	if err != nil {
		return false, err
	}
	if len(vals) == 0 {
		return false, errors.New("empty isApprovedForAll result")
	}
	approved, _ := vals[0].(bool)
	return approved, nil
}

func (r *Redeemer) erc20Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	callData, err := erc20ABI.Pack("allowance", r.address, spender)
	if err != nil {
		return nil, err
	}
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: callData}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("allowance", out)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return big.NewInt(0), nil
	}
	allowance, ok := vals[0].(*big.Int)
	if !ok {
		return big.NewInt(0), nil
	}
	return allowance, nil
}

// transact signs and sends one legacy transaction and waits for a successful
// receipt. With estimate set, the gas limit comes from EstimateGas plus 20%.
func (r *Redeemer) transact(ctx context.Context, to common.Address, data []byte, gasLimit uint64, estimate bool) (*types.Receipt, error) {
	nonce, err := r.client.PendingNonceAt(ctx, r.address)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice := r.gasPrice(ctx)

	if estimate {
		est, err := r.client.EstimateGas(ctx, ethereum.CallMsg{
			From:     r.address,
			To:       &to,
			GasPrice: gasPrice,
			Data:     data,
		})
		if err != nil {
			r.logger.Warn("gas estimate failed, using default", "err", err, "limit", gasLimit)
		} else {
			gasLimit = est * 12 / 10
		}
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(r.chainID), r.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	r.logger.Debug("transaction sent", "to", to.Hex(), "tx", signed.Hash().Hex())

	receiptCtx, cancel := context.WithTimeout(ctx, r.receiptTimeout)
	defer cancel()
	receipt, err := r.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return &types.Receipt{TxHash: signed.Hash()}, fmt.Errorf("wait receipt %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("tx %s reverted", signed.Hash().Hex())
	}
	return receipt, nil
}

// gasPrice returns the suggested price plus 10%, cached for a few minutes.
func (r *Redeemer) gasPrice(ctx context.Context) *big.Int {
	r.mu.RLock()
	cached := r.cachedGasWei
	updatedAt := r.gasUpdatedAt
	r.mu.RUnlock()

	if cached != nil && r.now().Sub(updatedAt) < gasPriceUpdateInterval {
		return cached
	}

	price, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached
		}
		return big.NewInt(fallbackGasWei)
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	r.mu.Lock()
	r.cachedGasWei = buffered
	r.gasUpdatedAt = r.now()
	r.mu.Unlock()
	return buffered
}

func (r *Redeemer) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(r.receiptPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := r.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}

// hexToBytes32 converts a 0x-prefixed hex string to [32]byte.
func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
