package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"quorumdb/internal/membership"
	"quorumdb/internal/replication"
)

const (
	headerVersion   = "X-Quorumdb-Version"
	headerWriter    = "X-Quorumdb-Writer"
	headerTimestamp = "X-Quorumdb-Timestamp"
)

type seedRef struct {
	ID      string `json:"id,omitempty"`
	Address string `json:"address"`
}

type JoinRequest struct {
	Seeds []seedRef `json:"seeds"`
}

type ackResponse struct {
	OK bool `json:"ok"`
}

// putHandler stores the raw request body under the key.
func (s *Server) putHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	level, err := consistencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
		return
	}

	res, err := s.svc.Write(r.Context(), key, value, level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// getHandler answers with the raw value; item metadata travels in headers.
func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	level, err := consistencyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	it, err := s.svc.Read(r.Context(), key, level)
	if err != nil {
		writeError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set(headerVersion, strconv.FormatUint(it.Version, 10))
	h.Set(headerWriter, it.Writer)
	h.Set(headerTimestamp, strconv.FormatInt(it.Timestamp, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(it.Value)
}

func (s *Server) joinHandler(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
	}

	seeds := make([]membership.NodeRef, 0, len(req.Seeds))
	for _, sr := range req.Seeds {
		seeds = append(seeds, membership.NodeRef{ID: sr.ID, Address: sr.Address})
	}
	if err := s.svc.Join(r.Context(), seeds); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{OK: true})
}

func (s *Server) leaveHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Leave(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{OK: true})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func consistencyParam(r *http.Request) (replication.Consistency, error) {
	v := r.URL.Query().Get("consistency")
	if v == "" {
		return "", nil
	}
	c, err := replication.ParseConsistency(v)
	if err != nil {
		return "", err
	}
	return c, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
