package api

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"chainattend/internal/attendance"
	"chainattend/internal/chain/chaintest"
	"chainattend/internal/datecode"
	"chainattend/internal/session"
)

const contractAddr = "0x00000000000000000000000000000000000000ff"

var (
	teacherKey  = mustKey()
	studentKey  = mustKey()
	outsiderKey = mustKey()

	teacherAddr  = crypto.PubkeyToAddress(teacherKey.PublicKey).Hex()
	studentAddr  = crypto.PubkeyToAddress(studentKey.PublicKey).Hex()
	outsiderAddr = crypto.PubkeyToAddress(outsiderKey.PublicKey).Hex()

	keys = map[string]*ecdsa.PrivateKey{
		teacherAddr:  teacherKey,
		studentAddr:  studentKey,
		outsiderAddr: outsiderKey,
	}
)

func mustKey() *ecdsa.PrivateKey {
	k, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return k
}

// personalSign mirrors a wallet's personal_sign.
func personalSign(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

type staticAccounts []string

func (s staticAccounts) Accounts() []string { return s }

type testServer struct {
	router   http.Handler
	fake     *chaintest.Fake
	sessions *session.Manager
	logs     *observer.ObservedLogs
}

func newTestServer(t *testing.T, address string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	fake := chaintest.NewFake(teacherAddr, studentAddr)
	mgr := session.NewManager(session.NewResolver(&chaintest.Dialer{Fake: fake}, address, nil), 0, nil)
	h := New(Options{
		Sessions:      mgr,
		Panels:        attendance.NewRegistry(nil, 2, nil),
		Accounts:      staticAccounts{teacherAddr, studentAddr},
		JWTIssuer:     "chainattend-test",
		JWTSigningKey: "test-key",
		SessionTTL:    time.Hour,
		Log:           zap.New(core),
	})
	h.nowFunc = func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) }
	return &testServer{router: h.Router(), fake: fake, sessions: mgr, logs: logs}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

// challenge asks for a sign-in message bound to account.
func (s *testServer) challenge(t *testing.T, account string) (nonce, message string) {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/v1/session/challenge", "", gin.H{"account": account})
	require.Equal(t, http.StatusCreated, code, body)
	ch := body["challenge"].(map[string]any)
	return ch["nonce"].(string), ch["message"].(string)
}

// signed returns the nonce and signature proving control of account.
func (s *testServer) signed(t *testing.T, account string) gin.H {
	t.Helper()
	nonce, msg := s.challenge(t, account)
	return gin.H{"nonce": nonce, "signature": personalSign(t, keys[account], msg)}
}

func (s *testServer) connect(t *testing.T, account string) (string, map[string]any) {
	t.Helper()
	req := s.signed(t, account)
	req["account"] = account
	code, body := s.do(t, http.MethodPost, "/v1/session", "", req)
	require.Equal(t, http.StatusCreated, code, body)
	return body["token"].(string), body["session"].(map[string]any)
}

func TestNotConfigured(t *testing.T) {
	s := newTestServer(t, "")

	code, body := s.do(t, http.MethodPost, "/v1/session", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body["status"], "CONTRACT_ADDRESS")
	assert.Empty(t, s.fake.Calls())

	code, body = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["contract"])
}

func TestConnect(t *testing.T) {
	s := newTestServer(t, contractAddr)

	code, body := s.do(t, http.MethodGet, "/v1/accounts", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["accounts"], 2)

	_, sess := s.connect(t, teacherAddr)
	assert.Equal(t, teacherAddr, sess["account"])
	assert.Equal(t, "teacher", sess["role"])
	assert.Equal(t, "ready", sess["state"])
	assert.Equal(t, []any{studentAddr}, sess["students"])
}

func TestConnectRequiresSignedChallenge(t *testing.T) {
	s := newTestServer(t, contractAddr)

	code, body := s.do(t, http.MethodPost, "/v1/session", "", gin.H{"account": teacherAddr})
	assert.Equal(t, http.StatusUnauthorized, code, "no signature")
	assert.Nil(t, body["token"])

	code, _ = s.do(t, http.MethodPost, "/v1/session", "", nil)
	assert.Equal(t, http.StatusBadRequest, code, "no account")

	// the student signs a challenge issued for the teacher
	nonce, msg := s.challenge(t, teacherAddr)
	code, body = s.do(t, http.MethodPost, "/v1/session", "", gin.H{
		"account":   teacherAddr,
		"nonce":     nonce,
		"signature": personalSign(t, studentKey, msg),
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Error: signature does not match account, sign a new challenge", body["status"])

	// a challenge bound to the student cannot open the teacher's session
	req := s.signed(t, studentAddr)
	req["account"] = teacherAddr
	code, _ = s.do(t, http.MethodPost, "/v1/session", "", req)
	assert.Equal(t, http.StatusUnauthorized, code)

	// nonces are single-use
	req = s.signed(t, teacherAddr)
	req["account"] = teacherAddr
	code, _ = s.do(t, http.MethodPost, "/v1/session", "", req)
	require.Equal(t, http.StatusCreated, code)
	code, _ = s.do(t, http.MethodPost, "/v1/session", "", req)
	assert.Equal(t, http.StatusUnauthorized, code)

	assert.Equal(t, 1, s.sessions.Len())
	assert.Empty(t, s.fake.CallsTo("markAttendance"))

	code, _ = s.do(t, http.MethodPost, "/v1/session/challenge", "", gin.H{"account": "0xnope"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTeacherFlow(t *testing.T) {
	s := newTestServer(t, contractAddr)
	token, _ := s.connect(t, teacherAddr)

	code, body := s.do(t, http.MethodPost, "/v1/teacher/students/bulk", token, gin.H{"addresses": "0x01\n\n  0x02  \n"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Registered 2 students successfully", body["status"])
	assert.Len(t, body["students"], 3)
	assert.NotNil(t, body["receipt"])
	calls := s.fake.CallsTo("registerStudents")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"0x01", "0x02"}, calls[0].Args[0])

	code, body = s.do(t, http.MethodPost, "/v1/teacher/students/bulk", token, gin.H{"addresses": " \n "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Please enter student addresses", body["status"])
	assert.Len(t, s.fake.CallsTo("registerStudents"), 1)

	code, body = s.do(t, http.MethodPost, "/v1/teacher/attendance", token, gin.H{"student": "", "present": true})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Select a student", body["status"])
	assert.Empty(t, s.fake.CallsTo("markAttendance"))

	code, body = s.do(t, http.MethodPost, "/v1/teacher/attendance", token, gin.H{"student": studentAddr, "present": false})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Attendance marked as Absent", body["status"])
	marks := s.fake.CallsTo("markAttendance")
	require.Len(t, marks, 1)
	assert.Equal(t, datecode.Number(20240315), marks[0].Args[0], "date defaults to today")

	code, body = s.do(t, http.MethodGet, "/v1/teacher/attendance?student="+studentAddr+"&date=2024-03-15", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["present"])
	assert.Equal(t, "Attendance on 2024-03-15: Absent", body["status"])

	code, body = s.do(t, http.MethodGet, "/v1/teacher/students/"+studentAddr+"/dates", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"2024-03-15"}, body["dates"])

	code, body = s.do(t, http.MethodGet, "/v1/teacher/students/"+outsiderAddr+"/registered", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["registered"])
	assert.Equal(t, "Student "+outsiderAddr+" is not registered", body["status"])

	code, _ = s.do(t, http.MethodGet, "/v1/journal", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestContractErrorIsBadGateway(t *testing.T) {
	s := newTestServer(t, contractAddr)
	token, _ := s.connect(t, teacherAddr)
	s.fake.FailOn["getStudentList"] = errors.New("header not found")

	code, body := s.do(t, http.MethodGet, "/v1/teacher/students", token, nil)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "Error: header not found", body["status"])
}

func TestStudentFlow(t *testing.T) {
	s := newTestServer(t, contractAddr)
	for i, d := range []datecode.Number{20240301, 20240304, 20240302, 20240303} {
		s.fake.Record(studentAddr, d, i != 1)
	}
	token, sess := s.connect(t, studentAddr)
	assert.Equal(t, "student", sess["role"])

	code, _ := s.do(t, http.MethodGet, "/v1/teacher/panel", token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := s.do(t, http.MethodGet, "/v1/student/history", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"2024-03-04", "2024-03-03", "2024-03-02", "2024-03-01"}, body["dates"])

	code, body = s.do(t, http.MethodGet, "/v1/student/records", token, nil)
	require.Equal(t, http.StatusOK, code)
	records := body["records"].([]any)
	require.Len(t, records, 4)
	assert.Equal(t, "2024-03-04", records[0].(map[string]any)["date"])
	assert.Equal(t, false, records[0].(map[string]any)["present"])

	code, body = s.do(t, http.MethodGet, "/v1/student/summary", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Attendance rate: 75.0%", body["status"])

	code, body = s.do(t, http.MethodGet, "/v1/student/attendance", token, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Select a date", body["status"])
}

func TestUnregisteredStudentBlocked(t *testing.T) {
	s := newTestServer(t, contractAddr)
	token, _ := s.connect(t, outsiderAddr)

	code, body := s.do(t, http.MethodGet, "/v1/student/history", token, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, attendance.NotRegisteredMessage, body["status"])
	assert.Empty(t, s.fake.CallsTo("getAttendanceDates"))
}

func TestAccountsChanged(t *testing.T) {
	s := newTestServer(t, contractAddr)
	teacherToken, _ := s.connect(t, teacherAddr)

	req := s.signed(t, studentAddr)
	req["accounts"] = []string{studentAddr}
	code, body := s.do(t, http.MethodPost, "/v1/session/accounts", teacherToken, req)
	require.Equal(t, http.StatusOK, code, body)
	studentToken := body["token"].(string)
	assert.Equal(t, "student", body["session"].(map[string]any)["role"])

	code, _ = s.do(t, http.MethodGet, "/v1/session", teacherToken, nil)
	assert.Equal(t, http.StatusUnauthorized, code, "old session is gone")

	code, body = s.do(t, http.MethodPost, "/v1/session/accounts", studentToken, gin.H{"accounts": []string{}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Disconnected", body["status"])
	assert.Nil(t, body["session"])

	code, _ = s.do(t, http.MethodGet, "/v1/session", studentToken, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAccountsChangedRequiresSignedChallenge(t *testing.T) {
	s := newTestServer(t, contractAddr)
	studentToken, _ := s.connect(t, studentAddr)

	code, _ := s.do(t, http.MethodPost, "/v1/session/accounts", studentToken, gin.H{"accounts": []string{teacherAddr}})
	assert.Equal(t, http.StatusUnauthorized, code)

	req := s.signed(t, studentAddr)
	req["accounts"] = []string{teacherAddr}
	code, _ = s.do(t, http.MethodPost, "/v1/session/accounts", studentToken, req)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := s.do(t, http.MethodGet, "/v1/session", studentToken, nil)
	require.Equal(t, http.StatusOK, code, "a rejected switch keeps the session")
	assert.Equal(t, "student", body["session"].(map[string]any)["role"])

	// the same account needs no new proof
	code, body = s.do(t, http.MethodPost, "/v1/session/accounts", studentToken, gin.H{"accounts": []string{studentAddr}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "student", body["session"].(map[string]any)["role"])
}

func TestRetryAfterLoadFailure(t *testing.T) {
	s := newTestServer(t, contractAddr)
	s.fake.Err = errors.New("connection refused")

	token, sess := s.connect(t, teacherAddr)
	assert.Equal(t, "loading", sess["state"])
	assert.Equal(t, "", sess["role"])

	code, _ := s.do(t, http.MethodGet, "/v1/teacher/panel", token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	s.fake.Err = nil
	code, body := s.do(t, http.MethodPost, "/v1/session/retry", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "teacher", body["session"].(map[string]any)["role"])

	code, _ = s.do(t, http.MethodGet, "/v1/teacher/panel", body["token"].(string), nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestDisconnect(t *testing.T) {
	s := newTestServer(t, contractAddr)
	token, _ := s.connect(t, teacherAddr)

	code, _ := s.do(t, http.MethodDelete, "/v1/session", token, nil)
	assert.Equal(t, http.StatusNoContent, code)
	_, err := s.sessions.Get("missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	code, _ = s.do(t, http.MethodGet, "/v1/session", token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAccessLog(t *testing.T) {
	s := newTestServer(t, contractAddr)

	code, _ := s.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Zero(t, s.logs.FilterMessage("request").Len(), "health checks are not logged")

	token, _ := s.connect(t, teacherAddr)
	s.do(t, http.MethodGet, "/v1/session", token, nil)

	entries := s.logs.FilterMessage("request").FilterField(zap.String("path", "/v1/session")).AllUntimed()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1].ContextMap()
	assert.Equal(t, http.MethodGet, last["http_method"])
	assert.EqualValues(t, http.StatusOK, last["code"])
	assert.Equal(t, teacherAddr, last["account"])
}
