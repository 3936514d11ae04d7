package ton

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

// rpcClient is a minimal toncenter JSON-RPC client. Unlike Solana, toncenter
// takes named parameters.
type rpcClient struct {
	httpClient *http.Client
	rpcURL     string
	requestID  atomic.Int64
	timeout    time.Duration
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type rpcResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
	Code   int             `json:"code"`
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

func (c *rpcClient) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "编码 TON RPC 请求失败")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "构造 TON RPC 请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeRPCTimeout, err, "TON RPC 调用超时",
				xerrors.WithMetadata("method", method))
		}
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "TON RPC 调用失败",
			xerrors.WithMetadata("method", method))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "读取 TON RPC 响应失败")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.New(xerrors.CodeRPCUnavailable,
			fmt.Sprintf("TON RPC 返回 HTTP %d", resp.StatusCode))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "解析 TON RPC 响应失败")
	}
	if !rpcResp.OK {
		code := xerrors.CodeRPCRejected
		if strings.Contains(strings.ToLower(rpcResp.Error), "not enough") {
			code = xerrors.CodeInsufficientChainBalance
		}
		return nil, xerrors.New(code, fmt.Sprintf("TON RPC 拒绝请求: %s", rpcResp.Error),
			xerrors.WithMetadata("method", method))
	}
	return rpcResp.Result, nil
}
