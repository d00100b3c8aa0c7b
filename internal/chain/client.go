// Package chain provides a minimal EVM JSON-RPC client used by the
// billing watchdog and the instance-mode auto-provision poller to read
// on-chain service configuration.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Client is a bare JSON-RPC 2.0 client against an EVM node's eth_call
// surface, just enough to read view functions on the Tangle service
// registry and blueprint contracts.
type Client struct {
	rpcURL string
	http   *http.Client
}

func NewClient(rpcURL string, timeout time.Duration) (*Client, error) {
	if rpcURL == "" {
		return nil, apierr.MissingParameter("rpc_endpoint")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{rpcURL: rpcURL, http: &http.Client{Timeout: timeout}}, nil
}

// Call issues a raw JSON-RPC request and returns its result field.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHTTP, "failed to marshal rpc request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHTTP, "failed to build rpc request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHTTP, "rpc request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHTTP, "failed to read rpc response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.New(apierr.KindHTTP, fmt.Sprintf("rpc http status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, apierr.Wrap(apierr.KindHTTP, "failed to decode rpc response", err)
	}
	if decoded.Error != nil {
		return nil, apierr.Wrap(apierr.KindHTTP, "rpc call returned an error", decoded.Error)
	}
	return decoded.Result, nil
}

// selector returns the 4-byte function selector for signature, e.g.
// "balanceOf(uint256)".
func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// ethCall performs an eth_call against contract with calldata and returns
// the raw return bytes (after hex-decoding the "0x..." response).
func (c *Client) ethCall(ctx context.Context, contract common.Address, calldata []byte) ([]byte, error) {
	callObj := map[string]string{
		"to":   contract.Hex(),
		"data": "0x" + common.Bytes2Hex(calldata),
	}
	result, err := c.Call(ctx, "eth_call", callObj, "latest")
	if err != nil {
		return nil, err
	}
	var hexStr string
	if err := json.Unmarshal(result, &hexStr); err != nil {
		return nil, apierr.Wrap(apierr.KindHTTP, "unexpected eth_call result shape", err)
	}
	return common.FromHex(hexStr), nil
}

// ReadUint256 calls a no-argument or single-uint256-argument view
// function returning a single uint256.
func (c *Client) ReadUint256(ctx context.Context, contract common.Address, signature string, arg *big.Int) (*big.Int, error) {
	calldata := selector(signature)
	if arg != nil {
		uint256Ty, _ := abi.NewType("uint256", "", nil)
		packed, err := abi.Arguments{{Type: uint256Ty}}.Pack(arg)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindValidation, "failed to pack uint256 argument", err)
		}
		calldata = append(calldata, packed...)
	}
	raw, err := c.ethCall(ctx, contract, calldata)
	if err != nil {
		return nil, err
	}
	if len(raw) < 32 {
		return nil, apierr.New(apierr.KindHTTP, "eth_call returned fewer than 32 bytes for a uint256 result")
	}
	return new(big.Int).SetBytes(raw[:32]), nil
}

// ReadAddress calls a single-uint256-argument view function returning an
// address, e.g. serviceOwner(uint256).
func (c *Client) ReadAddress(ctx context.Context, contract common.Address, signature string, arg *big.Int) (common.Address, error) {
	uint256Ty, _ := abi.NewType("uint256", "", nil)
	packed, err := abi.Arguments{{Type: uint256Ty}}.Pack(arg)
	if err != nil {
		return common.Address{}, apierr.Wrap(apierr.KindValidation, "failed to pack uint256 argument", err)
	}
	calldata := append(selector(signature), packed...)
	raw, err := c.ethCall(ctx, contract, calldata)
	if err != nil {
		return common.Address{}, err
	}
	if len(raw) < 32 {
		return common.Address{}, apierr.New(apierr.KindHTTP, "eth_call returned fewer than 32 bytes for an address result")
	}
	return common.BytesToAddress(raw[12:32]), nil
}

// ReadBytes calls a single-uint256-argument view function returning a
// dynamic bytes value, e.g. getServiceConfig(uint256). An empty return
// means the caller should wait and retry.
func (c *Client) ReadBytes(ctx context.Context, contract common.Address, signature string, arg *big.Int) ([]byte, error) {
	uint256Ty, _ := abi.NewType("uint256", "", nil)
	packed, err := abi.Arguments{{Type: uint256Ty}}.Pack(arg)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, "failed to pack uint256 argument", err)
	}
	calldata := append(selector(signature), packed...)
	raw, err := c.ethCall(ctx, contract, calldata)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	bytesTy, _ := abi.NewType("bytes", "", nil)
	values, err := abi.Arguments{{Type: bytesTy}}.Unpack(raw)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHTTP, "failed to unpack bytes return value", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	decoded, _ := values[0].([]byte)
	return decoded, nil
}
