package relay

import "math/big"

// SimulationRequest is a bundle of raw signed transactions simulated on top of a state block
type SimulationRequest struct {
	Transactions     []string `json:"txs"`
	BlockNumber      *big.Int `json:"blockNumber"`
	StateBlockNumber string   `json:"stateBlockNumber,omitempty"` // defaults to "latest"
	Timestamp        uint64   `json:"timestamp,omitempty"`
}

// TxSimulation is the per-transaction part of a simulation result
type TxSimulation struct {
	TxHash       string `json:"txHash,omitempty"`
	GasUsed      string `json:"gasUsed,omitempty"`
	CoinbaseDiff string `json:"coinbaseDiff,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BundleSimulationResult carries wei amounts as decimal strings; a field is empty when the relay omitted it.
type BundleSimulationResult struct {
	Success           bool           `json:"success"`
	Error             string         `json:"error,omitempty"`
	Err               error          `json:"-"`
	BundleHash        string         `json:"bundleHash,omitempty"`
	GasUsed           string         `json:"gasUsed,omitempty"`
	GasFees           string         `json:"gasFees,omitempty"`
	CoinbaseDiff      string         `json:"coinbaseDiff,omitempty"`
	EthSentToCoinbase string         `json:"ethSentToCoinbase,omitempty"`
	NetProfit         string         `json:"netProfit,omitempty"`
	EffectiveGasPrice string         `json:"effectiveGasPrice,omitempty"`
	StateBlockNumber  uint64         `json:"stateBlockNumber,omitempty"`
	Transactions      []TxSimulation `json:"transactions,omitempty"`
	Details           []string       `json:"details,omitempty"`
}

type OptimizationRequest struct {
	Simulation SimulationRequest `json:"simulation"`

	// PriorityFee is the max priority fee per gas currently used by the bundle transactions
	PriorityFee *big.Int `json:"priorityFee,omitempty"`
}

// Adjustment proposes a new value for one bundle parameter
type Adjustment struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

type BundleOptimizationResult struct {
	Success     bool                    `json:"success"`
	Error       string                  `json:"error,omitempty"`
	Err         error                   `json:"-"`
	Simulation  *BundleSimulationResult `json:"simulation"`
	Adjustments []Adjustment            `json:"adjustments"`
	Notes       []string                `json:"notes"`
}

type BundleSubmissionResult struct {
	Success     bool     `json:"success"`
	Error       string   `json:"error,omitempty"`
	Err         error    `json:"-"`
	BundleHash  string   `json:"bundleHash,omitempty"`
	BlockNumber *big.Int `json:"-"`
}

type PrivateTxOptions struct {
	Fast           bool     `json:"fast"`
	Hints          []string `json:"hints,omitempty"` // privacy hints shared with searchers, eg. "calldata", "logs", "hash"
	MaxBlockNumber *big.Int `json:"-"`
}

type PrivateTxResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
	TxHash  string `json:"txHash,omitempty"`
}

type BundleStatus struct {
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	Err            error  `json:"-"`
	BundleHash     string `json:"bundleHash"`
	IsSimulated    bool   `json:"isSimulated"`
	IsHighPriority bool   `json:"isHighPriority"`
	SentToBuilders bool   `json:"sentToBuilders"`
	SimulatedAt    string `json:"simulatedAt,omitempty"`
	ReceivedAt     string `json:"receivedAt,omitempty"`
}
