// Package api serves the executor over HTTP: transaction submission,
// store status and substate reads.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"OwnLedger/internal/executor"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/logger"
	"OwnLedger/internal/substate"
)

const (
	// maxTxSize is the maximum transaction size in bytes.
	maxTxSize = 1 << 20 // 1 MB
)

// modules lists the partitions returned by the substate endpoint.
var modules = []substate.ModuleId{
	substate.ModuleMain,
	substate.ModuleMetadata,
	substate.ModuleRoyalty,
	substate.ModuleRoleAssignment,
}

// Server is the HTTP API server.
type Server struct {
	addr   string             // addr is the HTTP listen address
	exec   *executor.Executor // exec runs submitted transactions
	server *http.Server       // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, exec *executor.Executor) *Server {
	return &Server{addr: addr, exec: exec}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tx", s.handleSubmitTx)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /node/{id}", s.handleNode)
	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// receiptJSON is the wire form of a receipt.
type receiptJSON struct {
	Hash     string      `json:"hash"`
	Outcome  string      `json:"outcome"`
	Class    string      `json:"class,omitempty"`
	Error    string      `json:"error,omitempty"`
	Version  uint64      `json:"version,omitempty"`
	Writes   int         `json:"writes,omitempty"`
	DiffHash string      `json:"diffHash,omitempty"`
	Output   string      `json:"output,omitempty"`
	Events   []eventJSON `json:"events,omitempty"`
}

type eventJSON struct {
	Emitter string `json:"emitter"`
	Name    string `json:"name"`
	Data    string `json:"data"`
}

func toJSON(r *executor.Receipt) receiptJSON {
	out := receiptJSON{
		Hash:    hex.EncodeToString(r.TxHash[:]),
		Outcome: r.Outcome.String(),
	}

	if r.Err != nil {
		out.Class = r.Class.String()
		out.Error = r.Err.Error()
		return out
	}

	out.Version = r.Version
	out.Writes = len(r.Diff.Writes)
	out.DiffHash = hex.EncodeToString(r.DiffHash[:])
	if r.Output != nil {
		out.Output = hex.EncodeToString(r.Output.Data)
	}
	for _, e := range r.Events {
		out.Events = append(out.Events, eventJSON{Emitter: e.Emitter.String(), Name: e.Name, Data: hex.EncodeToString(e.Data)})
	}

	return out
}

// handleSubmitTx handles POST /tx requests. The body is an encoded
// transaction; the response is its receipt.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	switch {
	case len(body) == 0:
		writeError(w, http.StatusBadRequest, "empty transaction")
		return
	case len(body) > maxTxSize:
		writeError(w, http.StatusRequestEntityTooLarge, "transaction too large")
		return
	}

	tx, err := executor.DecodeTransaction(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateTx(tx); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt := s.exec.Execute(r.Context(), tx)

	status := http.StatusOK
	switch receipt.Outcome {
	case executor.Rejected:
		status = http.StatusUnauthorized
	case executor.Failed:
		status = http.StatusUnprocessableEntity
	}

	logger.Debug("tx handled", "hash", hex.EncodeToString(receipt.TxHash[:8]), "outcome", receipt.Outcome.String())

	writeJSON(w, status, toJSON(receipt))
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": s.exec.Store().Version(),
	})
}

// substateJSON is the wire form of one committed substate.
type substateJSON struct {
	Module string   `json:"module"`
	Key    string   `json:"key"`
	Data   string   `json:"data"`
	Owns   []string `json:"owns,omitempty"`
	Refs   []string `json:"refs,omitempty"`
}

// handleNode handles GET /node/{id}: every committed substate of a node.
func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	id, err := ids.ParseNodeId(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var out []substateJSON
	for _, m := range modules {
		entries, err := s.exec.Store().Scan(id, m)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("scan %v: %v", m, err))
			return
		}

		for _, e := range entries {
			out = append(out, substateJSON{
				Module: m.String(),
				Key:    e.Key.String(),
				Data:   hex.EncodeToString(e.Value.Data),
				Owns:   hexIds(e.Value.Owns),
				Refs:   hexIds(e.Value.Refs),
			})
		}
	}

	if len(out) == 0 {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}

	writeJSON(w, http.StatusOK, out)
}

func hexIds(list []ids.NodeId) []string {
	out := make([]string, len(list))
	for i, id := range list {
		out[i] = id.Hex()
	}
	return out
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
