package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stakepool/crypto"
	nativecommon "stakepool/native/common"
	"stakepool/native/staking"
)

type stakeRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type rateRequest struct {
	Caller string `json:"caller"`
	Rate   string `json:"rate"`
}

type accountRequest struct {
	Address string `json:"address"`
}

type amountResponse struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type positionResponse struct {
	Address        string `json:"address"`
	Staked         string `json:"staked"`
	StakedSince    int64  `json:"stakedSince"`
	Unclaimed      string `json:"unclaimed"`
	Pending        string `json:"pending"`
	MultiplierPct  uint64 `json:"multiplierPct"`
	ComputedAtUnix int64  `json:"computedAt"`
}

type poolResponse struct {
	RewardRate     string `json:"rewardRate"`
	TotalStaked    string `json:"totalStaked"`
	RewardIndex    string `json:"rewardIndex"`
	LastUpdateUnix int64  `json:"lastUpdate"`
	ComputedAtUnix int64  `json:"computedAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	addr, amount, ok := s.decodeStakeRequest(w, r, &req)
	if !ok {
		s.metrics.RecordOp("stake", "rejected")
		return
	}
	if err := s.engine.Stake(addr, amount, s.now()); err != nil {
		s.writeEngineError(w, "stake", err)
		return
	}
	s.metrics.RecordOp("stake", "ok")
	s.refreshPoolGauges()
	writeJSON(w, http.StatusOK, amountResponse{Address: req.Address, Amount: req.Amount})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	addr, amount, ok := s.decodeStakeRequest(w, r, &req)
	if !ok {
		s.metrics.RecordOp("withdraw", "rejected")
		return
	}
	if err := s.engine.Withdraw(addr, amount, s.now()); err != nil {
		s.writeEngineError(w, "withdraw", err)
		return
	}
	s.metrics.RecordOp("withdraw", "ok")
	s.refreshPoolGauges()
	writeJSON(w, http.StatusOK, amountResponse{Address: req.Address, Amount: req.Amount})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.decodeAccountRequest(w, r)
	if !ok {
		s.metrics.RecordOp("claim", "rejected")
		return
	}
	paid, err := s.engine.ClaimRewards(addr, s.now())
	if err != nil {
		s.writeEngineError(w, "claim", err)
		return
	}
	s.metrics.RecordOp("claim", "ok")
	s.metrics.AddRewardsPaid(paid)
	writeJSON(w, http.StatusOK, amountResponse{Address: addr.String(), Amount: paid.String()})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.decodeAccountRequest(w, r)
	if !ok {
		s.metrics.RecordOp("emergency", "rejected")
		return
	}
	returned, err := s.engine.EmergencyWithdraw(addr, s.now())
	if err != nil {
		s.writeEngineError(w, "emergency", err)
		return
	}
	s.metrics.RecordOp("emergency", "ok")
	s.refreshPoolGauges()
	writeJSON(w, http.StatusOK, amountResponse{Address: addr.String(), Amount: returned.String()})
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RecordOp("set_rate", "rejected")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		s.metrics.RecordOp("set_rate", "rejected")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid caller: %v", err)})
		return
	}
	rate, ok := new(big.Int).SetString(req.Rate, 10)
	if !ok {
		s.metrics.RecordOp("set_rate", "rejected")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid rate"})
		return
	}
	if err := s.engine.SetRewardRate(caller, rate, s.now()); err != nil {
		s.writeEngineError(w, "set_rate", err)
		return
	}
	s.metrics.RecordOp("set_rate", "ok")
	s.metrics.SetRewardRate(rate)
	writeJSON(w, http.StatusOK, map[string]string{"rate": rate.String()})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid address: %v", err)})
		return
	}
	info, err := s.engine.PositionInfo(addr, s.now())
	if err != nil {
		s.writeEngineError(w, "position", err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		Address:        info.Address.String(),
		Staked:         info.Staked.String(),
		StakedSince:    info.StakedSince,
		Unclaimed:      info.Unclaimed.String(),
		Pending:        info.Pending.String(),
		MultiplierPct:  info.MultiplierPct,
		ComputedAtUnix: info.ComputedAtUnix,
	})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.PoolInfo(s.now())
	if err != nil {
		s.writeEngineError(w, "pool", err)
		return
	}
	writeJSON(w, http.StatusOK, poolResponse{
		RewardRate:     info.RewardRate.String(),
		TotalStaked:    info.TotalStaked.String(),
		RewardIndex:    info.RewardIndex.String(),
		LastUpdateUnix: info.LastUpdateUnix,
		ComputedAtUnix: info.ComputedAtUnix,
	})
}

func (s *Server) decodeStakeRequest(w http.ResponseWriter, r *http.Request, req *stakeRequest) (crypto.Address, *big.Int, bool) {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return crypto.Address{}, nil, false
	}
	addr, err := crypto.DecodeAddress(req.Address)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid address: %v", err)})
		return crypto.Address{}, nil, false
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid amount"})
		return crypto.Address{}, nil, false
	}
	return addr, amount, true
}

func (s *Server) decodeAccountRequest(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return crypto.Address{}, false
	}
	addr, err := crypto.DecodeAddress(req.Address)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid address: %v", err)})
		return crypto.Address{}, false
	}
	return addr, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	outcome := "error"
	if errors.Is(err, staking.ErrCustodianTransfer) {
		s.metrics.RecordCustodianFailure(op)
	}
	if status < http.StatusInternalServerError {
		outcome = "rejected"
	}
	s.metrics.RecordOp(op, outcome)
	if status == http.StatusInternalServerError {
		s.logger.Error("staking operation failed", "op", op, "error", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusForError maps engine sentinels onto HTTP statuses. Unknown errors are
// treated as internal so storage faults never leak detail to clients.
func statusForError(err error) int {
	switch {
	case errors.Is(err, staking.ErrInvalidAmount),
		errors.Is(err, staking.ErrInvalidRate),
		errors.Is(err, staking.ErrInvalidTimestamp):
		return http.StatusBadRequest
	case errors.Is(err, staking.ErrInsufficientBalance),
		errors.Is(err, staking.ErrInsufficientStake),
		errors.Is(err, staking.ErrNoStake),
		errors.Is(err, staking.ErrCustodianTransfer):
		return http.StatusUnprocessableEntity
	case errors.Is(err, staking.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, staking.ErrReentrancy):
		return http.StatusConflict
	case errors.Is(err, nativecommon.ErrModulePaused),
		errors.Is(err, staking.ErrPoolNotInitialised):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) refreshPoolGauges() {
	info, err := s.engine.PoolInfo(s.now())
	if err != nil {
		return
	}
	s.metrics.SetTotalStaked(info.TotalStaked)
	s.metrics.SetRewardRate(info.RewardRate)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
