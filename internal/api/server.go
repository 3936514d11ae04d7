package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chain-custody/internal/chain"
	"chain-custody/internal/custody"
	xerrors "chain-custody/internal/errors"
	"chain-custody/internal/observability/metrics"
)

// Server 负责暴露 REST 接口，供上层接入端（机器人、后台）调用。
type Server struct {
	addr         string
	service      *custody.Service
	orchestrator *custody.Orchestrator
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *custody.Service, orchestrator *custody.Orchestrator) *Server {
	return &Server{addr: addr, service: service, orchestrator: orchestrator}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 组装全部路由，业务路由统一挂上请求指标采集。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users", metrics.Wrap("users", s.handleUsers))
	mux.HandleFunc("/api/v1/users/", metrics.Wrap("user_detail", s.handleUserByID))
	mux.HandleFunc("/api/v1/withdrawals", metrics.Wrap("withdrawals", s.handleWithdrawals))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

type createUserRequest struct {
	UserID     int64 `json:"user_id"`
	ReferredBy int64 `json:"referred_by,omitempty"`
}

type withdrawRequest struct {
	UserID int64   `json:"user_id"`
	Chain  string  `json:"chain"`
	Amount float64 `json:"amount"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeUnknown, "请求体解析失败")
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, xerrors.CodeUnknown, "user_id 必须为正整数")
		return
	}

	record, err := s.service.CreateWallets(r.Context(), req.UserID, req.ReferredBy)
	if err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/users/")
	idPart, tail, _ := strings.Cut(rest, "/")
	userID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, xerrors.CodeUnknown, "非法的用户 ID")
		return
	}

	switch tail {
	case "":
		record, err := s.service.Get(r.Context(), userID)
		if err != nil {
			writeTypedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case "transactions":
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		records, err := s.service.Transactions(r.Context(), userID, limit)
		if err != nil {
			writeTypedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleWithdrawals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeUnknown, "请求体解析失败")
		return
	}
	id, ok := chain.Parse(req.Chain)
	if !ok {
		writeError(w, http.StatusBadRequest, xerrors.CodeUnsupportedChain, "未知的链标识")
		return
	}

	receipt, err := s.orchestrator.Withdraw(r.Context(), req.UserID, id, req.Amount)
	if err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// statusOf 把错误码映射为 HTTP 状态码。
func statusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidAmount, xerrors.CodeAddressInvalid, xerrors.CodeUnsupportedChain:
		return http.StatusBadRequest
	case xerrors.CodeInsufficientCachedBalance, xerrors.CodeInsufficientChainBalance:
		return http.StatusUnprocessableEntity
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeAlreadyExists:
		return http.StatusConflict
	case xerrors.CodeRPCTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeRPCUnavailable, xerrors.CodeRPCRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeTypedError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	writeError(w, statusOf(code), code, message)
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, errorResponse{Code: string(code), Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
