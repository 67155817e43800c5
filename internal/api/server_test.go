package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	flatbuffers "github.com/google/flatbuffers/go"

	"CipherPool/internal/he"
	"CipherPool/internal/ledger"
	"CipherPool/internal/relayer"
	"CipherPool/internal/storage"
	"CipherPool/internal/types"
)

// testServer bundles the HTTP handler with the protocol pieces behind
// it, so tests can play both the submitting parties and the off-chain
// decryption authority.
type testServer struct {
	handler   http.Handler
	ledger    *ledger.Ledger
	engine    *he.Plain
	authority *he.AuthorityKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	key, err := he.GenerateAuthorityKey()
	if err != nil {
		t.Fatalf("generate authority key: %v", err)
	}

	engine := he.NewPlain([][]byte{key.PublicKeyBytes()})
	l := ledger.New(db, engine, ledger.Principal{0xAA})

	r, err := relayer.New(engine, l, []*he.AuthorityKey{key})
	if err != nil {
		t.Fatalf("create relayer: %v", err)
	}

	return &testServer{
		handler:   New(":0", l, r).Handler(),
		ledger:    l,
		engine:    engine,
		authority: key,
	}
}

// request runs one request through the full route table.
func (ts *testServer) request(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()

	ts.handler.ServeHTTP(w, req)

	return w
}

// newParty generates a fresh principal with its signing key.
func newParty(t *testing.T) (ledger.Principal, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate party key: %v", err)
	}

	var p ledger.Principal
	copy(p[:], pub)

	return p, priv
}

// buildSubmission serializes a FlatBuffers Submission body.
func buildSubmission(principal, ciphertext, proof []byte) []byte {
	builder := flatbuffers.NewBuilder(512)

	proofVec := builder.CreateByteVector(proof)
	ctVec := builder.CreateByteVector(ciphertext)
	principalVec := builder.CreateByteVector(principal)

	types.SubmissionStart(builder)
	types.SubmissionAddPrincipal(builder, principalVec)
	types.SubmissionAddCiphertext(builder, ctVec)
	types.SubmissionAddProof(builder, proofVec)
	builder.Finish(types.SubmissionEnd(builder))

	return builder.FinishedBytes()
}

// buildDecryptionResult serializes a FlatBuffers DecryptionResult body.
func buildDecryptionResult(requester, cleartext, proof []byte) []byte {
	builder := flatbuffers.NewBuilder(512)

	proofVec := builder.CreateByteVector(proof)
	ctVec := builder.CreateByteVector(cleartext)
	requesterVec := builder.CreateByteVector(requester)

	types.DecryptionResultStart(builder)
	types.DecryptionResultAddRequester(builder, requesterVec)
	types.DecryptionResultAddCleartext(builder, ctVec)
	types.DecryptionResultAddProof(builder, proofVec)
	builder.Finish(types.DecryptionResultEnd(builder))

	return builder.FinishedBytes()
}

// submitSalary pushes one valid submission through the HTTP layer.
func (ts *testServer) submitSalary(t *testing.T, value uint64) ledger.Principal {
	t.Helper()

	party, priv := newParty(t)

	ct, err := ts.engine.Encrypt(value)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	binding := he.Binding{Ledger: [32]byte(ts.ledger.Identity()), Submitter: [32]byte(party)}
	proof := he.SignInput(priv, ct, binding)

	w := ts.request("POST", "/submit", buildSubmission(party[:], ct, proof))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	return party
}

// requestAverage requests the average over HTTP and returns the handle.
func (ts *testServer) requestAverage(t *testing.T, requester ledger.Principal) he.Handle {
	t.Helper()

	body := []byte(`{"requester":"` + hex.EncodeToString(requester[:]) + `"}`)

	w := ts.request("POST", "/request-average", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	raw, err := hex.DecodeString(resp["handle"])
	if err != nil || len(raw) != he.HandleSize {
		t.Fatalf("invalid handle in response: %q", resp["handle"])
	}

	var h he.Handle
	copy(h[:], raw)
	return h
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request("GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestSubmit_Success(t *testing.T) {
	ts := newTestServer(t)

	party := ts.submitSalary(t, 52000)

	if !ts.ledger.HasSubmitted(party) {
		t.Error("expected principal to be recorded as submitted")
	}
	if got := ts.ledger.Count(); got != 1 {
		t.Errorf("expected count 1, got %d", got)
	}
}

func TestSubmit_Duplicate(t *testing.T) {
	ts := newTestServer(t)

	party, priv := newParty(t)
	binding := he.Binding{Ledger: [32]byte(ts.ledger.Identity()), Submitter: [32]byte(party)}

	ct, err := ts.engine.Encrypt(52000)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	body := buildSubmission(party[:], ct, he.SignInput(priv, ct, binding))

	if w := ts.request("POST", "/submit", body); w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", w.Code)
	}

	if w := ts.request("POST", "/submit", body); w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmit_MalformedBody(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request("POST", "/submit", []byte("invalid"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	if got := ts.ledger.Count(); got != 0 {
		t.Errorf("malformed submission must not change count, got %d", got)
	}
}

func TestSubmit_BadProof(t *testing.T) {
	ts := newTestServer(t)

	party, _ := newParty(t)

	ct, err := ts.engine.Encrypt(52000)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	w := ts.request("POST", "/submit", buildSubmission(party[:], ct, make([]byte, inputProofSize)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequestAverage_EmptyLedger(t *testing.T) {
	ts := newTestServer(t)

	requester, _ := newParty(t)
	body := []byte(`{"requester":"` + hex.EncodeToString(requester[:]) + `"}`)

	w := ts.request("POST", "/request-average", body)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequestAverage_ReturnsPendingHandle(t *testing.T) {
	ts := newTestServer(t)
	ts.submitSalary(t, 52000)

	requester, _ := newParty(t)
	handle := ts.requestAverage(t, requester)

	pending, ok := ts.ledger.PendingHandle(requester)
	if !ok || pending != handle {
		t.Error("returned handle must match the pending handle")
	}

	w := ts.request("GET", "/pending/"+hex.EncodeToString(requester[:]), nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), hex.EncodeToString(handle[:])) {
		t.Error("pending endpoint must return the handle")
	}
}

func TestVerify_FullFlow(t *testing.T) {
	ts := newTestServer(t)

	ts.submitSalary(t, 50000)
	ts.submitSalary(t, 60000)
	ts.submitSalary(t, 70000)

	requester, _ := newParty(t)
	handle := ts.requestAverage(t, requester)

	value, err := ts.engine.Decrypt(handle)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	cleartext := he.EncodeCleartext(value)
	proof := ts.authority.Sign(he.DecryptionTranscript([]he.Handle{handle}, cleartext))

	w := ts.request("POST", "/verify", buildDecryptionResult(requester[:], cleartext, proof))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]uint64
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["average"] != 60000 {
		t.Errorf("expected average 60000, got %d", resp["average"])
	}

	w = ts.request("GET", "/average/"+hex.EncodeToString(requester[:]), nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "60000") {
		t.Errorf("average endpoint must return 60000, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerify_NoPending(t *testing.T) {
	ts := newTestServer(t)
	ts.submitSalary(t, 52000)

	requester, _ := newParty(t)

	cleartext := he.EncodeCleartext(52000)
	proof := ts.authority.Sign(he.DecryptionTranscript(nil, cleartext))

	w := ts.request("POST", "/verify", buildDecryptionResult(requester[:], cleartext, proof))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerify_WrongProofSize(t *testing.T) {
	ts := newTestServer(t)
	ts.submitSalary(t, 52000)

	requester, _ := newParty(t)
	ts.requestAverage(t, requester)

	body := buildDecryptionResult(requester[:], he.EncodeCleartext(52000), []byte{0x01})

	w := ts.request("POST", "/verify", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDecryptEndpoint_RoundTrip(t *testing.T) {
	ts := newTestServer(t)

	ts.submitSalary(t, 50000)
	ts.submitSalary(t, 60000)

	requester, _ := newParty(t)
	handle := ts.requestAverage(t, requester)

	body := []byte(`{"handle":"` + hex.EncodeToString(handle[:]) + `"}`)

	w := ts.request("POST", "/decrypt", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	cleartext, err := hex.DecodeString(resp["cleartext"])
	if err != nil {
		t.Fatalf("invalid cleartext hex: %v", err)
	}
	proof, err := hex.DecodeString(resp["proof"])
	if err != nil {
		t.Fatalf("invalid proof hex: %v", err)
	}

	w = ts.request("POST", "/verify", buildDecryptionResult(requester[:], cleartext, proof))
	if w.Code != http.StatusOK {
		t.Errorf("relayed result must verify, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDecryptEndpoint_RefusesPrivateHandle(t *testing.T) {
	ts := newTestServer(t)
	ts.submitSalary(t, 52000)

	var handle he.Handle
	body := []byte(`{"handle":"` + hex.EncodeToString(handle[:]) + `"}`)

	w := ts.request("POST", "/decrypt", body)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDecryptEndpoint_NoRelayer(t *testing.T) {
	ts := newTestServer(t)

	handler := New(":0", ts.ledger, nil).Handler()

	req := httptest.NewRequest("POST", "/decrypt", bytes.NewReader([]byte(`{"handle":""}`)))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestSubmittedEndpoint(t *testing.T) {
	ts := newTestServer(t)

	party := ts.submitSalary(t, 52000)
	other, _ := newParty(t)

	w := ts.request("GET", "/submitted/"+hex.EncodeToString(party[:]), nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "true") {
		t.Errorf("expected submitted true, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.request("GET", "/submitted/"+hex.EncodeToString(other[:]), nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "false") {
		t.Errorf("expected submitted false, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmittedEndpoint_InvalidPrincipal(t *testing.T) {
	ts := newTestServer(t)

	w := ts.request("GET", "/submitted/nothex", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestPendingEndpoint_NotFound(t *testing.T) {
	ts := newTestServer(t)

	requester, _ := newParty(t)

	w := ts.request("GET", "/pending/"+hex.EncodeToString(requester[:]), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.submitSalary(t, 52000)

	w := ts.request("GET", "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	identity := ts.ledger.Identity()
	if resp["identity"] != hex.EncodeToString(identity[:]) {
		t.Errorf("unexpected identity: %v", resp["identity"])
	}
	if resp["submissions"].(float64) != 1 {
		t.Errorf("expected 1 submission, got %v", resp["submissions"])
	}
}
