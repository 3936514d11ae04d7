package solana

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	xerrors "chain-custody/internal/errors"
)

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcClient is a minimal Solana JSON-RPC client over plain HTTP.
type rpcClient struct {
	httpClient *http.Client
	rpcURL     string
	requestID  atomic.Int64
	timeout    time.Duration
}

func newRPCClient(rpcURL string, timeout time.Duration) *rpcClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &rpcClient{
		httpClient: &http.Client{Timeout: timeout},
		rpcURL:     rpcURL,
		timeout:    timeout,
	}
}

func (c *rpcClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "编码 Solana RPC 请求失败")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "构造 Solana RPC 请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeRPCTimeout, err, "Solana RPC 调用超时",
				xerrors.WithMetadata("method", method))
		}
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "Solana RPC 调用失败",
			xerrors.WithMetadata("method", method))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "读取 Solana RPC 响应失败")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.New(xerrors.CodeRPCUnavailable,
			fmt.Sprintf("Solana RPC 返回 HTTP %d", resp.StatusCode))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "解析 Solana RPC 响应失败")
	}
	if rpcResp.Error != nil {
		code := xerrors.CodeRPCRejected
		if strings.Contains(strings.ToLower(rpcResp.Error.Message), "insufficient") {
			code = xerrors.CodeInsufficientChainBalance
		}
		return nil, xerrors.Wrap(code, rpcResp.Error, "Solana RPC 拒绝请求",
			xerrors.WithMetadata("method", method))
	}
	return rpcResp.Result, nil
}
