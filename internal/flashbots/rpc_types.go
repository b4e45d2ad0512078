package flashbots

import "encoding/json"

type rpcReq struct {
	Jsonrpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string { return e.Message }

type rpcResp struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// eth_sendBundle params for relays without lmittmann/flashbots support.
type sendBundleArgs struct {
	Txs         []string `json:"txs"`
	BlockNumber string   `json:"blockNumber"`
}

// mev_sendBundle / mev_simBundle params (MEV-Share v0.1).
type mevBundleArgs struct {
	Version   string          `json:"version"`
	Inclusion mevInclusion    `json:"inclusion"`
	Body      []mevBundleBody `json:"body"`
}

type mevInclusion struct {
	Block    string `json:"block"`
	MaxBlock string `json:"maxBlock,omitempty"`
}

type mevBundleBody struct {
	Tx        string `json:"tx"`
	CanRevert bool   `json:"canRevert"`
}

type mevSimResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
