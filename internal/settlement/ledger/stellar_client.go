package ledger

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
)

// StellarExecutor executes settlement legs on the Stellar network. Burning
// pays the asset back to its issuer (the standard Stellar burn), transfers
// pay the settlement asset to the investor's destination account.
type StellarExecutor struct {
	horizonClient     *horizonclient.Client
	operatorKeyPair   *keypair.Full
	networkPassphrase string
	config            *StellarConfig

	mu          sync.Mutex
	submissions map[string]string // idempotency key -> tx hash
}

// StellarConfig contains Stellar network configuration
type StellarConfig struct {
	HorizonURL        string `json:"horizon_url"`
	OperatorSecretKey string `json:"operator_secret_key"`
	Network           string `json:"network"` // "testnet", "public"
	IssuerAddress     string `json:"issuer_address"`
	SettlementAsset   string `json:"settlement_asset"`
	SettlementIssuer  string `json:"settlement_issuer"`
}

// NewStellarExecutor creates a new Stellar executor
func NewStellarExecutor(config *StellarConfig) (*StellarExecutor, error) {
	horizonClient := horizonclient.DefaultTestNetClient
	if config.Network == "public" {
		horizonClient = horizonclient.DefaultPublicNetClient
	} else if config.HorizonURL != "" {
		horizonClient = &horizonclient.Client{
			HorizonURL: config.HorizonURL,
			HTTP:       http.DefaultClient,
		}
	}

	operatorKeyPair, err := keypair.ParseFull(config.OperatorSecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator key pair: %w", err)
	}

	networkPassphrase := network.TestNetworkPassphrase
	if config.Network == "public" {
		networkPassphrase = network.PublicNetworkPassphrase
	}

	return &StellarExecutor{
		horizonClient:     horizonClient,
		operatorKeyPair:   operatorKeyPair,
		networkPassphrase: networkPassphrase,
		config:            config,
		submissions:       make(map[string]string),
	}, nil
}

// Submit executes a burn or transfer instruction. A key already submitted in
// this process resolves through QueryStatus instead of re-submitting; the
// idempotency key also rides in the transaction memo so an operator can
// reconcile against the ledger after a restart.
func (s *StellarExecutor) Submit(ctx context.Context, idempotencyKey string, instr Instruction) (*Result, error) {
	s.mu.Lock()
	if _, seen := s.submissions[idempotencyKey]; seen {
		s.mu.Unlock()
		return s.QueryStatus(ctx, idempotencyKey)
	}
	s.mu.Unlock()

	tx, err := s.buildTransaction(ctx, idempotencyKey, instr)
	if err != nil {
		return &Result{Status: ExecFailed, Err: err.Error()}, err
	}

	tx, err = tx.Sign(s.networkPassphrase, s.operatorKeyPair)
	if err != nil {
		return &Result{Status: ExecFailed, Err: err.Error()}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	txResp, err := s.horizonClient.SubmitTransaction(tx)
	if err != nil {
		return &Result{Status: ExecFailed, Err: err.Error()}, fmt.Errorf("failed to submit transaction: %w", err)
	}

	s.mu.Lock()
	s.submissions[idempotencyKey] = txResp.Hash
	s.mu.Unlock()

	if !txResp.Successful {
		errMsg := "transaction failed"
		if txResp.ResultXdr != "" {
			errMsg = fmt.Sprintf("transaction failed: %s", txResp.ResultXdr)
		}
		return &Result{Status: ExecFailed, TxHash: txResp.Hash, Err: errMsg}, nil
	}

	// Horizon acknowledged the submission; confirmation is polled separately
	return &Result{Status: ExecPending, TxHash: txResp.Hash}, nil
}

// QueryStatus re-reads a submission's status from Horizon; used both for
// confirmation polling and reconciliation after a restart
func (s *StellarExecutor) QueryStatus(ctx context.Context, idempotencyKey string) (*Result, error) {
	s.mu.Lock()
	txHash, ok := s.submissions[idempotencyKey]
	s.mu.Unlock()

	if !ok {
		// Never submitted from this process; nothing on the ledger under this key
		return &Result{Status: ExecFailed, Err: "no submission recorded for key"}, nil
	}

	txResp, err := s.horizonClient.TransactionDetail(txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	if txResp.Successful {
		fee := txResp.FeeCharged
		return &Result{Status: ExecConfirmed, TxHash: txResp.Hash, GasUsed: &fee}, nil
	}
	return &Result{Status: ExecFailed, TxHash: txResp.Hash, Err: txResp.ResultXdr}, nil
}

// buildTransaction assembles the payment operation for either leg
func (s *StellarExecutor) buildTransaction(ctx context.Context, idempotencyKey string, instr Instruction) (*txnbuild.Transaction, error) {
	account, err := s.horizonClient.AccountDetail(horizonclient.AccountRequest{
		AccountID: s.operatorKeyPair.Address(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get operator account: %w", err)
	}

	var op txnbuild.Operation
	switch instr.Kind {
	case KindBurn:
		// Paying the asset back to its issuer retires it from circulation
		op = &txnbuild.Payment{
			Destination: s.config.IssuerAddress,
			Amount:      instr.Amount.String(),
			Asset: txnbuild.CreditAsset{
				Code:   instr.TokenType,
				Issuer: s.config.IssuerAddress,
			},
			SourceAccount: instr.Source,
		}
	case KindTransfer:
		if _, err := keypair.ParseAddress(instr.Destination); err != nil {
			return nil, fmt.Errorf("invalid destination address: %w", err)
		}
		op = &txnbuild.Payment{
			Destination: instr.Destination,
			Amount:      instr.Amount.String(),
			Asset: txnbuild.CreditAsset{
				Code:   s.config.SettlementAsset,
				Issuer: s.config.SettlementIssuer,
			},
		}
	default:
		return nil, fmt.Errorf("unknown instruction kind %q", instr.Kind)
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              txnbuild.MinBaseFee,
		Memo:                 txnbuild.MemoText(truncateMemo(idempotencyKey)),
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(300),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

// truncateMemo keeps the memo within Stellar's 28-byte text memo limit
func truncateMemo(key string) string {
	if len(key) <= 28 {
		return key
	}
	return key[:28]
}

// WaitForConfirmation polls Horizon until the transaction confirms or the
// context expires
func (s *StellarExecutor) WaitForConfirmation(ctx context.Context, idempotencyKey string, pollInterval time.Duration) (*Result, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		result, err := s.QueryStatus(ctx, idempotencyKey)
		if err == nil && result.Status != ExecPending {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
