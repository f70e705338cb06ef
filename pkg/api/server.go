package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/perpdesk/smartmargin/pkg/account"
	smcrypto "github.com/perpdesk/smartmargin/pkg/crypto"
	"github.com/perpdesk/smartmargin/pkg/market"
)

// transferKind is the reserved digest tag for ownership transfers. It sits
// outside the command ordinal range so a transfer signature can never be
// replayed as a batch.
const transferKind uint8 = 0xFF

// NonceStore durably records the highest accepted request nonce per owner so
// replay protection survives a server restart. *account.Store implements it.
type NonceStore interface {
	Nonce(owner common.Address) (uint64, bool)
	SetNonce(owner common.Address, nonce uint64) error
}

// Server handles the REST API and WebSocket connections. Command batches
// arrive signed; the server recovers the signer, enforces a strictly
// increasing per-owner nonce, and forwards to the account manager.
type Server struct {
	mgr    *account.Manager
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger

	nonceMu    sync.Mutex
	nonceStore NonceStore                // nil: in-memory only
	nonces     map[common.Address]uint64 // highest accepted nonce per owner
}

func NewServer(mgr *account.Manager, nonces NonceStore, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		mgr:        mgr,
		router:     mux.NewRouter(),
		hub:        NewHub(log),
		log:        log,
		nonceStore: nonces,
		nonces:     make(map[common.Address]uint64),
	}
	s.setupRoutes()
	return s
}

// EventSink returns the WebSocket hub as an account event sink.
func (s *Server) EventSink() account.Sink { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Signed mutations
	api.HandleFunc("/batch", s.handleBatch).Methods("POST")
	api.HandleFunc("/triggers", s.handleTrigger).Methods("POST")
	api.HandleFunc("/transfer", s.handleTransferOwnership).Methods("POST")

	// Account projections
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders/{id}/checker", s.handleChecker).Methods("GET")
	api.HandleFunc("/accounts/{address}/positions/{market}", s.handleGetPosition).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// Signed Mutation Handlers
// ==============================

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid owner address", "")
		return
	}
	owner := common.HexToAddress(req.Owner)

	sig, err := decodeHex(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature encoding", err.Error())
		return
	}

	inputs := make([][]byte, len(req.Inputs))
	for i, in := range req.Inputs {
		inputs[i] = in
	}
	digest := smcrypto.BatchDigest(owner, req.Nonce, req.Kinds, inputs)
	signer, err := smcrypto.RecoverSigner(digest, sig)
	if err != nil {
		respondError(w, http.StatusBadRequest, "signature recovery failed", err.Error())
		return
	}
	if signer != owner {
		respondError(w, http.StatusForbidden, "signer is not the owner", "")
		return
	}
	if !s.acceptNonce(owner, req.Nonce) {
		respondError(w, http.StatusConflict, "nonce already used", "")
		return
	}

	acct, err := s.mgr.Account(owner)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "account unavailable", err.Error())
		return
	}

	kinds := make([]account.CommandKind, len(req.Kinds))
	for i, k := range req.Kinds {
		kinds[i] = account.CommandKind(k)
	}
	if err := acct.Execute(r.Context(), signer, kinds, req.Inputs); err != nil {
		respondError(w, statusFor(err), "batch rejected", err.Error())
		return
	}

	s.log.Infow("batch_committed", "owner", owner.Hex(), "commands", len(kinds))
	respondJSON(w, SubmitResponse{Status: "committed"})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Account) {
		respondError(w, http.StatusBadRequest, "invalid account address", "")
		return
	}
	owner := common.HexToAddress(req.Account)

	sig, err := decodeHex(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature encoding", err.Error())
		return
	}

	if err := s.mgr.HandleTrigger(r.Context(), owner, req.OrderID, sig); err != nil {
		respondError(w, statusFor(err), "trigger rejected", err.Error())
		return
	}

	s.log.Infow("trigger_committed", "owner", owner.Hex(), "order_id", req.OrderID)
	respondJSON(w, SubmitResponse{Status: "committed", OrderID: req.OrderID})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req TransferOwnershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) || !common.IsHexAddress(req.Next) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	owner := common.HexToAddress(req.Owner)
	next := common.HexToAddress(req.Next)

	sig, err := decodeHex(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature encoding", err.Error())
		return
	}

	digest := smcrypto.BatchDigest(owner, req.Nonce, []uint8{transferKind}, [][]byte{next.Bytes()})
	signer, err := smcrypto.RecoverSigner(digest, sig)
	if err != nil {
		respondError(w, http.StatusBadRequest, "signature recovery failed", err.Error())
		return
	}
	if signer != owner {
		respondError(w, http.StatusForbidden, "signer is not the owner", "")
		return
	}
	if !s.acceptNonce(owner, req.Nonce) {
		respondError(w, http.StatusConflict, "nonce already used", "")
		return
	}

	if err := s.mgr.TransferOwnership(owner, next); err != nil {
		respondError(w, statusFor(err), "transfer rejected", err.Error())
		return
	}
	respondJSON(w, SubmitResponse{Status: "committed"})
}

// ==============================
// Projection Handlers
// ==============================

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.lookupAccount(w, r)
	if !ok {
		return
	}
	respondJSON(w, AccountInfo{
		Address:         acct.Owner().Hex(),
		Balance:         acct.Balance(),
		CommittedMargin: acct.CommittedMargin(),
		FreeMargin:      acct.FreeMargin(),
		NativeBalance:   acct.NativeBalance(),
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.lookupAccount(w, r)
	if !ok {
		return
	}
	orders := acct.ConditionalOrders()
	out := make([]ConditionalOrderInfo, 0, len(orders))
	for _, o := range orders {
		out = append(out, ConditionalOrderInfo{
			ID:               o.ID,
			Market:           string(o.MarketKey),
			MarginDelta:      o.MarginDelta,
			SizeDelta:        o.SizeDelta,
			TargetPrice:      o.TargetPrice,
			OrderType:        o.Type.String(),
			DesiredFillPrice: o.DesiredFillPrice,
			ReduceOnly:       o.ReduceOnly,
		})
	}
	respondJSON(w, out)
}

func (s *Server) handleChecker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	eligible, payload := s.mgr.Checker(common.HexToAddress(vars["address"]), id)
	respondJSON(w, CheckerResponse{Eligible: eligible, Payload: payload})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.lookupAccount(w, r)
	if !ok {
		return
	}
	key := market.Key(mux.Vars(r)["market"])
	pos, err := acct.GetPosition(key)
	if err != nil {
		respondError(w, http.StatusNotFound, "position unavailable", err.Error())
		return
	}
	respondJSON(w, PositionInfo{
		Market:           string(key),
		Size:             pos.Size,
		Margin:           pos.Margin,
		LastPrice:        pos.LastPrice,
		LastFundingIndex: pos.LastFundingIndex,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) lookupAccount(w http.ResponseWriter, r *http.Request) (*account.Account, bool) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return nil, false
	}
	acct, ok := s.mgr.Lookup(common.HexToAddress(addressStr))
	if !ok {
		respondError(w, http.StatusNotFound, "account not found", "")
		return nil, false
	}
	return acct, true
}

// acceptNonce admits a nonce only if it is strictly above the highest seen
// for that owner, consulting the durable record on first contact and writing
// through on acceptance so a restart cannot re-admit an old signature.
func (s *Server) acceptNonce(owner common.Address, nonce uint64) bool {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()

	last, ok := s.nonces[owner]
	if !ok && s.nonceStore != nil {
		if persisted, found := s.nonceStore.Nonce(owner); found {
			last, ok = persisted, true
			s.nonces[owner] = persisted
		}
	}
	if ok && nonce <= last {
		return false
	}
	if s.nonceStore != nil {
		if err := s.nonceStore.SetNonce(owner, nonce); err != nil {
			s.log.Errorw("nonce_persist_failed", "owner", owner.Hex(), "err", err)
			return false
		}
	}
	s.nonces[owner] = nonce
	return true
}

func statusFor(err error) int {
	var (
		notFound *account.OrderNotFoundError
		external *account.ExternalRejectionError
	)
	switch {
	case errors.Is(err, account.ErrUnauthorized):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, account.ErrConditionNotMet):
		return http.StatusConflict
	case errors.As(err, &external):
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
