// Package relay is the client for the private relay JSON-RPC protocol: bundle and private
// transaction submission, bundle status, simulation and optimization.
//
// On-demand calls never return bare errors: every result carries Success, a human readable Error
// and the underlying Err for errors.Is checks against the common error taxonomy.
package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/metachris/mevguard/common"
	"github.com/metachris/mevguard/metrics"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	DefaultTimeout         = 10 * time.Second
	DefaultSignatureHeader = "X-Relay-Signature"
)

type Client struct {
	url             string
	signingKey      *ecdsa.PrivateKey
	signatureHeader string
	httpClient      *http.Client
	logger          *slog.Logger
	metrics         *metrics.Metrics
	timeout         time.Duration
	requestID       uint64
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(rc *Client) { rc.httpClient = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(rc *Client) { rc.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(rc *Client) { rc.metrics = m }
}

// WithSignatureHeader overrides the request header carrying <address>:<signature>
func WithSignatureHeader(name string) Option {
	return func(rc *Client) { rc.signatureHeader = name }
}

func WithTimeout(d time.Duration) Option {
	return func(rc *Client) { rc.timeout = d }
}

// NewClient creates a relay client. signingKeyHex may be empty for unsigned requests.
func NewClient(url, signingKeyHex string, opts ...Option) (*Client, error) {
	c := &Client{
		url:             url,
		signatureHeader: DefaultSignatureHeader,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:         DefaultTimeout,
	}

	if signingKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(signingKeyHex, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "invalid relay signing key")
		}
		c.signingKey = key
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// SignerAddress is the address identifying this client to the relay, empty if requests are unsigned
func (c *Client) SignerAddress() string {
	if c.signingKey == nil {
		return ""
	}
	return crypto.PubkeyToAddress(c.signingKey.PublicKey).Hex()
}

type jsonrpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// signature returns <address>:<sig> where sig signs the EIP-191 text hash of the hex keccak256 of body
func (c *Client) signature(body []byte) (string, error) {
	hashedBody := hexutil.Encode(crypto.Keccak256(body))
	sig, err := crypto.Sign(accounts.TextHash([]byte(hashedBody)), c.signingKey)
	if err != nil {
		return "", err
	}
	return c.SignerAddress() + ":" + hexutil.Encode(sig), nil
}

// call performs one JSON-RPC request and returns the result member.
// Network errors and non-2xx responses are ErrTransportUnavailable, malformed or rejecting responses ErrProtocol.
func (c *Client) call(ctx context.Context, method string, params ...interface{}) (result gjson.Result, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordRelayCall(method, err, time.Since(start).Seconds())
		if err != nil {
			c.logger.Warn("relay call failed", "method", method, "error", err)
		} else {
			c.logger.Debug("relay call", "method", method, "duration", time.Since(start))
		}
	}()

	body, err := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.requestID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return result, common.InvalidRequest("cannot encode params: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return result, common.InvalidRequest("cannot build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.signingKey != nil {
		sig, err := c.signature(body)
		if err != nil {
			return result, errors.Wrap(err, "signing request")
		}
		req.Header.Set(c.signatureHeader, sig)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, common.Unavailable(err, method)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, common.Unavailable(err, method)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, common.Unavailable(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200)), method)
	}

	if !gjson.ValidBytes(respBody) {
		return result, common.ProtocolError("%s: malformed JSON response", method)
	}

	parsed := gjson.ParseBytes(respBody)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		msg := rpcErr.Get("message").String()
		if msg == "" {
			msg = rpcErr.String()
		}
		return result, common.ProtocolError("%s: %s (code %d)", method, msg, rpcErr.Get("code").Int())
	}

	result = parsed.Get("result")
	if !result.Exists() {
		return result, common.ProtocolError("%s: response has neither result nor error", method)
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
