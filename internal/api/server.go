package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"CipherPool/internal/he"
	"CipherPool/internal/ledger"
	"CipherPool/internal/logger"
	"CipherPool/internal/relayer"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB
)

// Ledger is the protocol surface the server exposes over HTTP.
type Ledger interface {
	Submit(principal ledger.Principal, ciphertext, inputProof []byte) error
	RequestAverage(requester ledger.Principal) (he.Handle, error)
	VerifyDecryption(requester ledger.Principal, cleartext, proof []byte) error
	Count() uint32
	HasSubmitted(p ledger.Principal) bool
	LastAverage(p ledger.Principal) uint64
	PendingHandle(p ledger.Principal) (he.Handle, bool)
	Identity() ledger.Principal
}

// Decrypter is the off-chain decryption surface exposed by nodes that
// run a relayer in-process. May be nil on nodes that do not.
type Decrypter interface {
	Decrypt(h he.Handle) (cleartext, proof []byte, err error)
}

// Server is the HTTP API server.
type Server struct {
	addr      string       // addr is the HTTP listen address
	ledger    Ledger       // ledger is the aggregation core behind the API
	decrypter Decrypter    // decrypter serves /decrypt, nil disables it
	server    *http.Server // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, l Ledger, d Decrypter) *Server {
	return &Server{
		addr:      addr,
		ledger:    l,
		decrypter: d,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit", s.handleSubmit)
	mux.HandleFunc("POST /request-average", s.handleRequestAverage)
	mux.HandleFunc("POST /verify", s.handleVerify)
	mux.HandleFunc("POST /decrypt", s.handleDecrypt)
	mux.HandleFunc("GET /count", s.handleCount)
	mux.HandleFunc("GET /submitted/{principal}", s.handleSubmitted)
	mux.HandleFunc("GET /average/{principal}", s.handleAverage)
	mux.HandleFunc("GET /pending/{principal}", s.handlePending)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
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

// handleSubmit handles POST /submit requests carrying a FlatBuffers
// Submission.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	sub, err := validateSubmission(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var principal ledger.Principal
	copy(principal[:], sub.PrincipalBytes())

	err = s.ledger.Submit(principal, sub.CiphertextBytes(), sub.ProofBytes())
	switch {
	case errors.Is(err, ledger.ErrAlreadySubmitted):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, he.ErrInvalidInputProof):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logger.Error("submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"count": s.ledger.Count(),
	})
}

// handleRequestAverage handles POST /request-average requests.
func (s *Server) handleRequestAverage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var req struct {
		Requester string `json:"requester"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requester, err := parsePrincipal(req.Requester)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	handle, err := s.ledger.RequestAverage(requester)
	switch {
	case errors.Is(err, ledger.ErrNoSalariesSubmitted):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		logger.Error("average request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "average request failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"handle": hex.EncodeToString(handle[:]),
	})
}

// handleVerify handles POST /verify requests carrying a FlatBuffers
// DecryptionResult.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	result, err := validateDecryptionResult(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var requester ledger.Principal
	copy(requester[:], result.RequesterBytes())

	err = s.ledger.VerifyDecryption(requester, result.CleartextBytes(), result.ProofBytes())
	switch {
	case errors.Is(err, ledger.ErrNoPendingDecryption):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ledger.ErrHandleAlreadyUsed):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, he.ErrInvalidDecryptionProof):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logger.Error("verification failed", "error", err)
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"average": s.ledger.LastAverage(requester),
	})
}

// handleDecrypt handles POST /decrypt requests by delegating to the
// in-process relayer.
func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	if s.decrypter == nil {
		writeError(w, http.StatusServiceUnavailable, "no relayer on this node")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var req struct {
		Handle string `json:"handle"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	raw, err := hex.DecodeString(req.Handle)
	if err != nil || len(raw) != he.HandleSize {
		writeError(w, http.StatusBadRequest, "invalid handle")
		return
	}

	var handle he.Handle
	copy(handle[:], raw)

	cleartext, proof, err := s.decrypter.Decrypt(handle)
	switch {
	case errors.Is(err, relayer.ErrNotPublic):
		writeError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		logger.Error("decryption failed", "error", err)
		writeError(w, http.StatusInternalServerError, "decryption failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"cleartext": hex.EncodeToString(cleartext),
		"proof":     hex.EncodeToString(proof),
	})
}

// handleCount handles GET /count requests.
func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count": s.ledger.Count(),
	})
}

// handleSubmitted handles GET /submitted/{principal} requests.
func (s *Server) handleSubmitted(w http.ResponseWriter, r *http.Request) {
	principal, err := parsePrincipal(r.PathValue("principal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"submitted": s.ledger.HasSubmitted(principal),
	})
}

// handleAverage handles GET /average/{principal} requests.
func (s *Server) handleAverage(w http.ResponseWriter, r *http.Request) {
	principal, err := parsePrincipal(r.PathValue("principal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"average": s.ledger.LastAverage(principal),
	})
}

// handlePending handles GET /pending/{principal} requests.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	principal, err := parsePrincipal(r.PathValue("principal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	handle, ok := s.ledger.PendingHandle(principal)
	if !ok {
		writeError(w, http.StatusNotFound, "no pending decryption")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"handle": hex.EncodeToString(handle[:]),
	})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	identity := s.ledger.Identity()

	writeJSON(w, http.StatusOK, map[string]any{
		"identity":    hex.EncodeToString(identity[:]),
		"submissions": s.ledger.Count(),
	})
}

// parsePrincipal decodes a hex-encoded principal.
func parsePrincipal(value string) (ledger.Principal, error) {
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != ledger.PrincipalSize {
		return ledger.Principal{}, errors.New("invalid principal")
	}

	var p ledger.Principal
	copy(p[:], raw)
	return p, nil
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
