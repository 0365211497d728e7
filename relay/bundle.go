package relay

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/metachris/mevguard/common"
)

type sendBundleArgs struct {
	Txs         []string `json:"txs"`
	BlockNumber string   `json:"blockNumber"`
}

// SubmitBundle sends the raw signed transactions as one bundle targeting blockNumber (eth_sendBundle)
func (c *Client) SubmitBundle(ctx context.Context, txs []string, blockNumber *big.Int) *BundleSubmissionResult {
	res := &BundleSubmissionResult{BlockNumber: blockNumber}
	if err := validateBundle(txs, blockNumber); err != nil {
		return res.fail(err)
	}

	result, err := c.call(ctx, "eth_sendBundle", sendBundleArgs{Txs: txs, BlockNumber: hexutil.EncodeBig(blockNumber)})
	if err != nil {
		return res.fail(err)
	}

	res.BundleHash = result.Get("bundleHash").String()
	res.Success = true
	return res
}

func (r *BundleSubmissionResult) fail(err error) *BundleSubmissionResult {
	r.Success, r.Err, r.Error = false, err, errString(err)
	return r
}

type privacyPreferences struct {
	Hints []string `json:"hints,omitempty"`
}

type privateTxPreferences struct {
	Fast    bool                `json:"fast"`
	Privacy *privacyPreferences `json:"privacy,omitempty"`
}

type sendPrivateTxArgs struct {
	Tx             string               `json:"tx"`
	MaxBlockNumber string               `json:"maxBlockNumber,omitempty"`
	Preferences    privateTxPreferences `json:"preferences"`
}

// SubmitPrivateTransaction sends one raw signed transaction to the relay only, bypassing the public pool
func (c *Client) SubmitPrivateTransaction(ctx context.Context, rawTx string, opts PrivateTxOptions) *PrivateTxResult {
	res := &PrivateTxResult{}
	if _, err := hexutil.Decode(rawTx); err != nil {
		return res.fail(common.InvalidRequest("raw transaction is not 0x-prefixed hex: %v", err))
	}

	args := sendPrivateTxArgs{
		Tx:          rawTx,
		Preferences: privateTxPreferences{Fast: opts.Fast},
	}
	if len(opts.Hints) > 0 {
		args.Preferences.Privacy = &privacyPreferences{Hints: opts.Hints}
	}
	if opts.MaxBlockNumber != nil && opts.MaxBlockNumber.Sign() > 0 {
		args.MaxBlockNumber = hexutil.EncodeBig(opts.MaxBlockNumber)
	}

	result, err := c.call(ctx, "eth_sendPrivateTransaction", args)
	if err != nil {
		return res.fail(err)
	}
	res.TxHash = result.String()
	res.Success = true
	return res
}

// CancelPrivateTransaction asks the relay to stop sending a private transaction to builders
func (c *Client) CancelPrivateTransaction(ctx context.Context, txHash string) *PrivateTxResult {
	res := &PrivateTxResult{TxHash: txHash}
	if _, err := hexutil.Decode(txHash); err != nil || len(txHash) != 66 {
		return res.fail(common.InvalidRequest("invalid transaction hash %q", txHash))
	}

	result, err := c.call(ctx, "eth_cancelPrivateTransaction", map[string]string{"txHash": txHash})
	if err != nil {
		return res.fail(err)
	}
	if !result.Bool() {
		return res.fail(common.ProtocolError("relay did not cancel %s", txHash))
	}
	res.Success = true
	return res
}

func (r *PrivateTxResult) fail(err error) *PrivateTxResult {
	r.Success, r.Err, r.Error = false, err, errString(err)
	return r
}

// GetBundleStatus queries eth_getBundleStats. Both the v1 (isSentToMiners) and the v2
// (consideredByBuildersAt / sealedByBuildersAt) response shapes are understood.
func (c *Client) GetBundleStatus(ctx context.Context, bundleHash string, blockNumber *big.Int) *BundleStatus {
	res := &BundleStatus{BundleHash: bundleHash}
	if bundleHash == "" {
		return res.fail(common.InvalidRequest("bundle hash is required"))
	}
	if blockNumber == nil || blockNumber.Sign() <= 0 {
		return res.fail(common.InvalidRequest("block number must be positive"))
	}

	result, err := c.call(ctx, "eth_getBundleStats", map[string]string{
		"bundleHash":  bundleHash,
		"blockNumber": hexutil.EncodeBig(blockNumber),
	})
	if err != nil {
		return res.fail(err)
	}

	res.IsSimulated = result.Get("isSimulated").Bool()
	res.IsHighPriority = result.Get("isHighPriority").Bool()
	res.SentToBuilders = result.Get("isSentToMiners").Bool() ||
		len(result.Get("consideredByBuildersAt").Array()) > 0 ||
		len(result.Get("sealedByBuildersAt").Array()) > 0
	res.SimulatedAt = result.Get("simulatedAt").String()
	res.ReceivedAt = result.Get("receivedAt").String()
	res.Success = true
	return res
}

func (r *BundleStatus) fail(err error) *BundleStatus {
	r.Success, r.Err, r.Error = false, err, errString(err)
	return r
}

func validateBundle(txs []string, blockNumber *big.Int) error {
	if len(txs) == 0 {
		return common.InvalidRequest("bundle has no transactions")
	}
	if blockNumber == nil || blockNumber.Sign() <= 0 {
		return common.InvalidRequest("target block number must be positive")
	}
	for i, tx := range txs {
		if _, err := hexutil.Decode(tx); err != nil {
			return common.InvalidRequest("transaction %d is not 0x-prefixed hex: %v", i, err)
		}
	}
	return nil
}
