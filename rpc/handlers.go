package rpc

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	zkexerrors "zkex/core/errors"
	"zkex/core/types"
	"zkex/merkle"
)

type errorBody struct {
	Code string `json:"code"`
	Kind string `json:"kind"`
	Msg  string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{
		Code: zkexerrors.CodeOf(err),
		Kind: zkexerrors.KindOf(err).String(),
		Msg:  err.Error(),
	}
	if body.Code == "" {
		body.Code = "INTERNAL"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_JSON", Kind: "request", Msg: err.Error()})
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, field, value string) (common.Address, bool) {
	if !common.IsHexAddress(value) {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code: "BAD_ADDRESS", Kind: "request", Msg: field + " is not a hex address",
		})
		return common.Address{}, false
	}
	return common.HexToAddress(value), true
}

func parseAmount(w http.ResponseWriter, field, value string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code: "BAD_AMOUNT", Kind: "request", Msg: field + " is not a decimal integer",
		})
		return nil, false
	}
	return amount, true
}

type depositRequest struct {
	Caller string `json:"caller"`
	Owner  string `json:"owner"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	owner, ok := parseAddress(w, "owner", req.Owner)
	if !ok {
		return
	}
	token, ok := parseAddress(w, "token", req.Token)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	pending, err := s.exchange.Deposit(r.Context(), caller, owner, token, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

type reclaimRequest struct {
	Caller  string `json:"caller"`
	Owner   string `json:"owner"`
	TokenID uint32 `json:"tokenId"`
}

func (s *Server) handleReclaimStaleDeposit(w http.ResponseWriter, r *http.Request) {
	var req reclaimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	owner, ok := parseAddress(w, "owner", req.Owner)
	if !ok {
		return
	}
	amount, err := s.exchange.ReclaimStaleDeposit(r.Context(), caller, owner, req.TokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

type forceWithdrawRequest struct {
	Caller    string `json:"caller"`
	Owner     string `json:"owner"`
	AccountID uint32 `json:"accountId"`
	TokenID   uint32 `json:"tokenId"`
	Fee       string `json:"fee"`
}

func (s *Server) handleForceWithdraw(w http.ResponseWriter, r *http.Request) {
	var req forceWithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	owner, ok := parseAddress(w, "owner", req.Owner)
	if !ok {
		return
	}
	fee := big.NewInt(0)
	if req.Fee != "" {
		var parsed bool
		fee, parsed = parseAmount(w, "fee", req.Fee)
		if !parsed {
			return
		}
	}
	request, err := s.exchange.ForceWithdraw(r.Context(), caller, owner, req.AccountID, req.TokenID, fee)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

type forcedPairRequest struct {
	Caller    string `json:"caller"`
	Owner     string `json:"owner"`
	AccountID uint32 `json:"accountId"`
	TokenID   uint32 `json:"tokenId"`
}

func (s *Server) handleCancelForced(w http.ResponseWriter, r *http.Request) {
	var req forcedPairRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	owner, ok := parseAddress(w, "owner", req.Owner)
	if !ok {
		return
	}
	if err := s.exchange.CancelForcedWithdrawal(r.Context(), caller, owner, req.AccountID, req.TokenID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

type notifyTooOldRequest struct {
	AccountID uint32 `json:"accountId"`
	TokenID   uint32 `json:"tokenId"`
}

func (s *Server) handleNotifyForcedTooOld(w http.ResponseWriter, r *http.Request) {
	var req notifyTooOldRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.exchange.NotifyForcedRequestTooOld(r.Context(), req.AccountID, req.TokenID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"notified": true})
}

func (s *Server) handleNotifyShutdownTooOld(w http.ResponseWriter, r *http.Request) {
	if err := s.exchange.NotifyShutdownTooOld(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"notified": true})
}

type claimRequest struct {
	Caller  string `json:"caller"`
	Owner   string `json:"owner"`
	TokenID uint32 `json:"tokenId"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	s.drainHandler(w, r, s.exchange.Claim)
}

func (s *Server) handleWithdrawFromDeposit(w http.ResponseWriter, r *http.Request) {
	s.drainHandler(w, r, s.exchange.WithdrawFromDepositRequest)
}

func (s *Server) handleWithdrawFromApproved(w http.ResponseWriter, r *http.Request) {
	s.drainHandler(w, r, s.exchange.WithdrawFromApprovedWithdrawals)
}

type claimFunc func(ctx context.Context, caller, owner common.Address, tokenID uint32) (*big.Int, error)

func (s *Server) drainHandler(w http.ResponseWriter, r *http.Request, fn claimFunc) {
	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	owner, ok := parseAddress(w, "owner", req.Owner)
	if !ok {
		return
	}
	amount, err := fn(r.Context(), caller, owner, req.TokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

type merkleExitRequest struct {
	Owner     string   `json:"owner"`
	AccountID uint32   `json:"accountId"`
	TokenID   uint32   `json:"tokenId"`
	Balance   string   `json:"balance"`
	Siblings  []string `json:"siblings"`
}

func (s *Server) handleMerkleExit(w http.ResponseWriter, r *http.Request) {
	var req merkleExitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, ok := parseAddress(w, "owner", req.Owner)
	if !ok {
		return
	}
	balance, ok := parseAmount(w, "balance", req.Balance)
	if !ok {
		return
	}
	siblings := make([]common.Hash, len(req.Siblings))
	for i, raw := range req.Siblings {
		siblings[i] = common.HexToHash(raw)
	}
	proof := &merkle.Proof{
		Leaf: merkle.BalanceLeaf{
			AccountID: req.AccountID,
			TokenID:   req.TokenID,
			Owner:     owner,
			Balance:   balance,
		},
		Siblings: siblings,
	}
	amount, err := s.exchange.WithdrawFromMerkleTree(r.Context(), proof)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

type submitBlockRequest struct {
	Caller string      `json:"caller"`
	Block  types.Block `json:"block"`
}

func (s *Server) handleSubmitBlock(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Code: "SUBMISSION_RATE_EXCEEDED", Kind: "capacity", Msg: "block submissions throttled",
		})
		return
	}
	var req submitBlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	if err := s.exchange.SubmitBlock(r.Context(), caller, &req.Block); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"index": req.Block.Index})
}

type shutdownRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	var req shutdownRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	if err := s.exchange.Shutdown(r.Context(), caller); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"shutdown": true})
}

type registerTokenRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	SubID   uint64 `json:"subId"`
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	var req registerTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	addr, ok := parseAddress(w, "address", req.Address)
	if !ok {
		return
	}
	record, err := s.exchange.RegisterToken(r.Context(), caller, addr, req.SubID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type withdrawStakeRequest struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
}

func (s *Server) handleWithdrawStake(w http.ResponseWriter, r *http.Request) {
	var req withdrawStakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	recipient, ok := parseAddress(w, "recipient", req.Recipient)
	if !ok {
		return
	}
	amount, err := s.exchange.WithdrawStake(r.Context(), caller, recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) handleGetRoot(w http.ResponseWriter, r *http.Request) {
	root, err := s.exchange.GetMerkleRoot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"root": root.Hex()})
}

func (s *Server) handleGetHeight(w http.ResponseWriter, r *http.Request) {
	height, err := s.exchange.GetBlockHeight()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"height": height})
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_INDEX", Kind: "request", Msg: err.Error()})
		return
	}
	block, ok, err := s.exchange.GetBlockInfo(index)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "BLOCK_NOT_FOUND", Kind: "request", Msg: "no such block"})
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	record, err := s.exchange.Mode()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":         record.Mode.String(),
		"shutdownAt":   record.ShutdownAt,
		"withdrawalAt": record.WithdrawalAt,
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, "owner", chi.URLParam(r, "owner"))
	if !ok {
		return
	}
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "tokenId"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_TOKEN_ID", Kind: "request", Msg: err.Error()})
		return
	}
	amount, err := s.exchange.WithdrawableBalance(owner, uint32(tokenID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_TOKEN_ID", Kind: "request", Msg: err.Error()})
		return
	}
	record, ok, err := s.exchange.TokenByID(uint32(id))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "TOKEN_NOT_FOUND", Kind: "request", Msg: "no such token"})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetStake(w http.ResponseWriter, r *http.Request) {
	amount, err := s.exchange.GetStake()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}
