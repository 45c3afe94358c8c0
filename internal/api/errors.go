package api

import (
	"context"
	"errors"
	"net/http"

	"quorumdb/internal/membership"
	"quorumdb/internal/raft"
	"quorumdb/internal/replication"
)

type errorResponse struct {
	Error         string `json:"error"`
	LeaderID      string `json:"leader_id,omitempty"`
	LeaderAddress string `json:"leader_address,omitempty"`
	Required      int    `json:"required,omitempty"`
	Acked         int    `json:"acked,omitempty"`
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	code := http.StatusInternalServerError

	var nle *raft.NotLeaderError
	var ce *replication.ConsistencyError
	switch {
	case errors.As(err, &nle):
		code = http.StatusMisdirectedRequest
		resp.LeaderID = nle.LeaderID
		resp.LeaderAddress = nle.LeaderAddress
	case errors.As(err, &ce):
		code = http.StatusServiceUnavailable
		resp.Required = ce.Required
		resp.Acked = ce.Acked
	case errors.Is(err, replication.ErrInvalidConsistency),
		errors.Is(err, replication.ErrEmptyKey),
		errors.Is(err, membership.ErrInvalidNode):
		code = http.StatusBadRequest
	case errors.Is(err, replication.ErrKeyNotFound):
		code = http.StatusNotFound
	case errors.Is(err, membership.ErrLeft):
		code = http.StatusConflict
	case errors.Is(err, membership.ErrJoinFailed):
		code = http.StatusBadGateway
	case errors.Is(err, replication.ErrNoReplicas):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	writeJSON(w, code, resp)
}
