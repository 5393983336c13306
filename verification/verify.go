// Package verification validates claimed on-chain payments against the
// chain data provider and converts them into ledger credits.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/glazyr/paygate/config"
	"github.com/glazyr/paygate/ledger"
	"github.com/glazyr/paygate/logger"
	"github.com/glazyr/paygate/metrics"
	gatetypes "github.com/glazyr/paygate/types"
)

// transferTopic is the ERC-20 Transfer(address,address,uint256) event
// signature hash. topics[1] is the sender, topics[2] the recipient.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ChainReader is the read-only slice of the chain data provider the
// verifier needs. *ethclient.Client satisfies it.
type ChainReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Verifier checks that a transaction is a genuine, sufficient,
// previously-unused payment to the treasury and credits the paying session.
type Verifier struct {
	reader   ChainReader
	store    ledger.Store
	asset    common.Address
	treasury common.Address
	cfg      *config.Config
	timeout  time.Duration
	logger   logger.Logger
	metrics  metrics.Recorder
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(v *Verifier) { v.metrics = r }
}

// NewVerifier creates a Verifier bound to one asset, one treasury, one
// network.
func NewVerifier(reader ChainReader, store ledger.Store, cfg *config.Config, opts ...Option) *Verifier {
	v := &Verifier{
		reader:   reader,
		store:    store,
		asset:    common.HexToAddress(cfg.AssetAddress),
		treasury: common.HexToAddress(cfg.TreasuryAddress),
		cfg:      cfg,
		timeout:  cfg.VerifyTimeout,
		logger:   logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
	}
	if v.timeout <= 0 {
		v.timeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func failure(code, msg string) *gatetypes.VerificationResult {
	return &gatetypes.VerificationResult{Success: false, Code: code, Message: msg}
}

// VerifyAndCredit verifies txHash as a payment and, on success, grants the
// session floor(amount × frames-per-unit) frames and marks the hash
// consumed in one ledger write. Every failure mode comes back as a result
// value; nothing here takes the server down.
func (v *Verifier) VerifyAndCredit(ctx context.Context, txHash, sessionID string) *gatetypes.VerificationResult {
	start := time.Now()
	res := v.verify(ctx, txHash, sessionID)
	v.metrics.ObserveLatency("verify", time.Since(start), nil)
	outcome := "success"
	if !res.Success {
		outcome = res.Code
	}
	v.metrics.IncCounter("verification", map[string]string{"detail": outcome})
	return res
}

func (v *Verifier) verify(ctx context.Context, txHash, sessionID string) *gatetypes.VerificationResult {
	// Replay protection comes first so a burned hash never costs an RPC
	// round trip.
	consumed, err := v.store.HasConsumed(ctx, txHash)
	if err != nil {
		v.logger.Error("ledger unavailable during verification", map[string]any{
			"tx": txHash, "session": sessionID, "err": err.Error(),
		})
		return failure(gatetypes.ErrPersistence, "verification failed: ledger unavailable")
	}
	if consumed {
		return failure(gatetypes.ErrReplayDetected,
			"replay protection: transaction hash already processed")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	receipt, err := v.reader.TransactionReceipt(fetchCtx, common.HexToHash(txHash))
	if err != nil {
		// Provider detail stays in the logs; callers get one generic line.
		v.logger.Warn("chain data fetch failed", map[string]any{
			"tx": txHash, "session": sessionID, "err": err.Error(),
		})
		return failure(gatetypes.ErrProvider,
			"verification failed: ensure the transaction hash is correct and confirmed on "+v.cfg.Network)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return failure(gatetypes.ErrTxFailed, "transaction failed on-chain")
	}

	total := v.sumTransfers(receipt.Logs)
	if total.Sign() == 0 {
		return failure(gatetypes.ErrNoQualifyingTransfer,
			"no valid transfer to treasury found in this transaction")
	}

	amount := decimal.NewFromBigInt(total, -v.cfg.AssetDecimals)
	if amount.LessThan(v.cfg.MinPayment) {
		return failure(gatetypes.ErrAmountTooLow,
			fmt.Sprintf("payment too low: minimum is %s", v.cfg.MinPayment.StringFixed(2)))
	}

	// Truncate toward zero, never round up.
	frames := amount.Mul(decimal.NewFromInt(v.cfg.FramesPerUnit)).IntPart()

	if err := v.store.Redeem(ctx, txHash, sessionID, frames); err != nil {
		var gerr *gatetypes.GateError
		if errors.As(err, &gerr) && gerr.Code == gatetypes.ErrReplayDetected {
			// Another request redeemed the same hash between our check and
			// the write. The store's atomicity already refused the grant.
			return failure(gatetypes.ErrReplayDetected, gerr.Message)
		}
		v.logger.Error("ledger write failed after verification", map[string]any{
			"tx": txHash, "session": sessionID, "err": err.Error(),
		})
		return failure(gatetypes.ErrPersistence, "verification failed: ledger unavailable")
	}

	v.logger.Info("payment verified", map[string]any{
		"tx": txHash, "session": sessionID,
		"amount": amount.StringFixed(2), "frames": frames,
	})

	return &gatetypes.VerificationResult{
		Success:       true,
		Message:       fmt.Sprintf("successfully verified %s payment", amount.StringFixed(2)),
		GrantedFrames: frames,
	}
}

// sumTransfers totals every Transfer log emitted by the configured asset
// contract whose recipient is the treasury. A single transaction may carry
// several qualifying transfers; all of them count.
func (v *Verifier) sumTransfers(logs []*types.Log) *big.Int {
	total := new(big.Int)
	for _, lg := range logs {
		if lg == nil || lg.Address != v.asset {
			continue
		}
		if len(lg.Topics) < 3 || lg.Topics[0] != transferTopic {
			continue
		}
		// The recipient is the low 20 bytes of the third topic.
		to := common.BytesToAddress(lg.Topics[2].Bytes()[12:])
		if to != v.treasury {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(lg.Data))
	}
	return total
}
