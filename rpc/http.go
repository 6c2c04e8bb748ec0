package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"escrowchain/core/journal"
	"escrowchain/core/ledger"
	"escrowchain/core/types"
	"escrowchain/native/escrow"
	"escrowchain/native/token"
	"escrowchain/observability"
	"escrowchain/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
	codeRejected       = -32021
	codeNotFound       = -32022
	codeForbidden      = -32023
	codeConflict       = -32024
	codeServerError    = -32025
)

// Ledger is the subset of the ledger runtime served over JSON-RPC.
type Ledger interface {
	ApplyTransaction(ctx context.Context, tx *types.Transaction) (*ledger.Receipt, error)
	Escrow(addr [20]byte) (*escrow.Escrow, error)
	TokenAccount(addr [20]byte) (*token.Account, error)
	TokenBalance(owner, mint [20]byte) (uint64, error)
	NativeBalance(addr [20]byte) (uint64, error)
	Nonce(addr [20]byte) (uint64, error)
	History(ctx context.Context, from uint64, limit int) ([]*journal.Entry, error)
	ChainID() uint64
	Height() uint64
	Root() common.Hash
}

// ServerConfig tunes the JSON-RPC server.
type ServerConfig struct {
	// AuthToken, when set, must be presented as a bearer token on tx_send.
	AuthToken         string
	RequestsPerMinute uint32
	Burst             int
	// TrustProxyHeaders keys rate limiting on X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

type Server struct {
	ledger    Ledger
	authToken  string
	trustProxy bool
	limiter    *rateLimiter
	logger    *slog.Logger
	router    http.Handler
}

func NewServer(backend Ledger, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("rpc: ledger must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:    backend,
		authToken:  strings.TrimSpace(cfg.AuthToken),
		trustProxy: cfg.TrustProxyHeaders,
		limiter:    newRateLimiter(cfg.RequestsPerMinute, cfg.Burst),
		logger:     logger.With(slog.String("component", "rpc")),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	if s.trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(withRequestID)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.limiter.middleware).Post("/", s.handle)

	return otelhttp.NewHandler(r, "escrow.rpc")
}

type requestIDKey struct{}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	status := rpcErr.status
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func newError(status, code int, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data, status: status}
}

func invalidParams(message string, data interface{}) *RPCError {
	return newError(http.StatusBadRequest, codeInvalidParams, message, data)
}

// ledgerError maps a rejected operation onto its JSON-RPC code by class.
func ledgerError(err error) *RPCError {
	class := ledger.Classify(err)
	switch class {
	case escrow.ClassInvalid, escrow.ClassAsset:
		return newError(http.StatusBadRequest, codeRejected, err.Error(), class)
	case escrow.ClassState:
		return newError(http.StatusNotFound, codeNotFound, err.Error(), class)
	case escrow.ClassAuthorization:
		return newError(http.StatusForbidden, codeForbidden, err.Error(), class)
	case escrow.ClassBalance, escrow.ClassAllocation:
		return newError(http.StatusConflict, codeConflict, err.Error(), class)
	default:
		return newError(http.StatusInternalServerError, codeServerError, "internal error", escrow.ClassInternal)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResult{
		Status:  "ok",
		ChainID: s.ledger.ChainID(),
		Height:  s.ledger.Height(),
		Root:    s.ledger.Root().Hex(),
	})
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, nil, newError(status, codeInvalidRequest, message, err.Error()))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, nil, newError(http.StatusBadRequest, codeInvalidRequest, "request body required", nil))
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, nil, newError(http.StatusBadRequest, codeParseError, "invalid JSON payload", err.Error()))
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, req.ID, newError(http.StatusBadRequest, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC))
		return
	}
	if req.Method == "" {
		writeError(w, req.ID, newError(http.StatusBadRequest, codeInvalidRequest, "method required", nil))
		return
	}

	result, rpcErr := s.dispatch(r, req)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
		s.logger.Info("rpc request failed",
			slog.String("method", req.Method),
			slog.String("requestId", requestID(r.Context())),
			slog.Int("code", rpcErr.Code),
			slog.String("error", rpcErr.Message))
		writeError(w, req.ID, rpcErr)
	} else {
		writeResult(w, req.ID, result)
	}
	observability.ModuleMetrics().Observe(req.Method, code, time.Since(start))
}

func (s *Server) dispatch(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	switch req.Method {
	case "tx_send":
		if authErr := s.requireAuth(r); authErr != nil {
			return nil, authErr
		}
		return s.handleSendTransaction(r.Context(), req)
	case "escrow_get":
		return s.handleEscrowGet(req)
	case "escrow_derive":
		return s.handleEscrowDerive(req)
	case "token_account":
		return s.handleTokenAccount(req)
	case "token_balance":
		return s.handleTokenBalance(req)
	case "native_balance":
		return s.handleNativeBalance(req)
	case "account_nonce":
		return s.handleAccountNonce(req)
	case "ledger_history":
		return s.handleHistory(r.Context(), req)
	default:
		return nil, newError(http.StatusNotFound, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return newError(http.StatusUnauthorized, codeUnauthorized, "missing Authorization header", nil)
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return newError(http.StatusUnauthorized, codeUnauthorized, "Authorization header must use Bearer scheme", nil)
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return newError(http.StatusUnauthorized, codeUnauthorized, "missing bearer token", nil)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		s.logger.Warn("rpc credentials rejected",
			slog.String("requestId", requestID(r.Context())),
			logging.MaskField("token", token))
		return newError(http.StatusUnauthorized, codeUnauthorized, "invalid RPC credentials", nil)
	}
	return nil
}
