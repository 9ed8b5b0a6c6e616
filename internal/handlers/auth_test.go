package handlers

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/walletgate/apiserver/config"
	"github.com/walletgate/apiserver/internal/auth"
	"github.com/walletgate/apiserver/internal/mailer"
	"github.com/walletgate/apiserver/internal/services"
	"github.com/walletgate/apiserver/internal/storage"
	"github.com/walletgate/apiserver/internal/store/memory"
)

const testSecret = "handler-test-secret"

type testEnv struct {
	router     *chi.Mux
	challenges *memory.ChallengeStore
	activity   *memory.ActivityLog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

func newTestEnvWith(t *testing.T, avatars *storage.AvatarStore) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := memory.NewUserRepository()
	challenges := memory.NewChallengeStore(5 * time.Minute)
	activityLog := memory.NewActivityLog()
	activity := services.NewActivityService(activityLog, nil, logger, nil)

	service, err := services.NewAuthService(
		users, challenges, activity,
		mailer.New(config.MailConfig{}),
		nil, logger,
		[]byte(testSecret), time.Hour,
	)
	if err != nil {
		t.Fatalf("NewAuthService error: %v", err)
	}

	router := chi.NewRouter()
	router.Route("/api/auth", func(r chi.Router) {
		AuthRouter(r, service, avatars, logger)
	})

	return &testEnv{router: router, challenges: challenges, activity: activityLog}
}

// fakeObjectStorage keeps objects in a map, mirroring the backend interface.
type fakeObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{objects: make(map[string][]byte)}
}

func (f *fakeObjectStorage) EnsureBucket(ctx context.Context) error { return nil }

func (f *fakeObjectStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStorage) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStorage) Bucket() string { return "test-bucket" }

func (e *testEnv) postJSON(t *testing.T, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	return resp.Error
}

func testWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key, strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func signText(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return hex.EncodeToString(sig)
}

func TestRegisterLoginProfileFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/auth/register", RegisterRequest{Email: "a@b.com", Password: "Aa1!aaaa"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	var registered AuthResponse
	decodeBody(t, rec, &registered)
	if registered.Token == "" || registered.User.Email != "a@b.com" {
		t.Fatalf("unexpected register response: %+v", registered)
	}

	rec = env.postJSON(t, "/api/auth/login", LoginRequest{Email: "a@b.com", Password: "Aa1!aaaa"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var loggedIn AuthResponse
	decodeBody(t, rec, &loggedIn)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+loggedIn.Token)
	profileRec := httptest.NewRecorder()
	env.router.ServeHTTP(profileRec, req)
	if profileRec.Code != http.StatusOK {
		t.Fatalf("profile status = %d, body %s", profileRec.Code, profileRec.Body.String())
	}
	if strings.Contains(profileRec.Body.String(), "password") {
		t.Fatalf("profile response leaks password material: %s", profileRec.Body.String())
	}

	records := env.activity.ByUser(registered.User.ID)
	if len(records) != 3 {
		t.Fatalf("expected 3 activity records, got %d", len(records))
	}
	wantKinds := []string{"register_email", "login_email", "profile_view"}
	for i, kind := range wantKinds {
		if records[i].EventKind != kind {
			t.Errorf("record %d kind = %q, want %q", i, records[i].EventKind, kind)
		}
	}
}

func TestRegister_ErrorStatuses(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/auth/register", RegisterRequest{Email: "a@b.com", Password: "weak"}, nil)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "weak_password" {
		t.Fatalf("weak password: status %d code %s", rec.Code, errorCode(t, rec))
	}

	rec = env.postJSON(t, "/api/auth/register", RegisterRequest{Email: "not-an-email", Password: "Aa1!aaaa"}, nil)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "validation_error" {
		t.Fatalf("bad email: status %d code %s", rec.Code, errorCode(t, rec))
	}

	rec = env.postJSON(t, "/api/auth/register", RegisterRequest{Email: "a@b.com", Password: "Aa1!aaaa"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}
	rec = env.postJSON(t, "/api/auth/register", RegisterRequest{Email: "A@B.com", Password: "Aa1!aaaa"}, nil)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "conflict" {
		t.Fatalf("duplicate: status %d code %s", rec.Code, errorCode(t, rec))
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/auth/register", RegisterRequest{Email: "a@b.com", Password: "Aa1!aaaa"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}

	unknown := env.postJSON(t, "/api/auth/login", LoginRequest{Email: "ghost@b.com", Password: "Aa1!aaaa"}, nil)
	wrong := env.postJSON(t, "/api/auth/login", LoginRequest{Email: "a@b.com", Password: "Aa1!bbbb"}, nil)

	for _, rec := range []*httptest.ResponseRecorder{unknown, wrong} {
		if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_credentials" {
			t.Fatalf("status %d code %s", rec.Code, errorCode(t, rec))
		}
	}
	// Same body regardless of which credential was wrong.
	if unknown.Body.String() != wrong.Body.String() {
		t.Fatalf("unknown-email and wrong-password bodies differ")
	}
}

func TestChallenge_ResponseShape(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, addr := testWallet(t)

	before := time.Now()
	rec := env.postJSON(t, "/api/auth/challenge", ChallengeRequest{WalletAddress: addr}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("challenge status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp ChallengeResponse
	decodeBody(t, rec, &resp)

	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(resp.Challenge.Nonce) {
		t.Errorf("nonce %q is not 32 hex chars", resp.Challenge.Nonce)
	}
	ahead := resp.Challenge.ExpiresAt.Sub(before)
	if ahead < 298*time.Second || ahead > 302*time.Second {
		t.Errorf("expiresAt %v ahead of now, want ~300s", ahead)
	}
	if !strings.Contains(resp.Challenge.Message, "Wallet: "+addr) {
		t.Errorf("message missing wallet line: %q", resp.Challenge.Message)
	}
	if !strings.Contains(resp.Challenge.Message, "Nonce: "+resp.Challenge.Nonce) {
		t.Errorf("message missing nonce line: %q", resp.Challenge.Message)
	}

	rec = env.postJSON(t, "/api/auth/challenge", ChallengeRequest{WalletAddress: "bogus"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus address status = %d", rec.Code)
	}
}

func TestVerify_FlowAndFailures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	key, addr := testWallet(t)

	// No challenge yet.
	rec := env.postJSON(t, "/api/auth/verify", VerifyRequest{WalletAddress: addr, Signature: strings.Repeat("00", 65)}, nil)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "challenge_missing" {
		t.Fatalf("no challenge: status %d code %s", rec.Code, errorCode(t, rec))
	}

	rec = env.postJSON(t, "/api/auth/challenge", ChallengeRequest{WalletAddress: addr}, nil)
	var challenge ChallengeResponse
	decodeBody(t, rec, &challenge)

	rec = env.postJSON(t, "/api/auth/verify", VerifyRequest{
		WalletAddress: addr,
		Signature:     signText(t, key, challenge.Challenge.Message),
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", rec.Code, rec.Body.String())
	}
	var verified VerifyResponse
	decodeBody(t, rec, &verified)
	if !verified.IsNewUser {
		t.Errorf("expected isNewUser=true on first contact")
	}
	if verified.User.WalletAddress != addr {
		t.Errorf("user wallet = %q, want %q", verified.User.WalletAddress, addr)
	}

	// Signature over a different message fails with address_mismatch.
	rec = env.postJSON(t, "/api/auth/challenge", ChallengeRequest{WalletAddress: addr}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("challenge status = %d", rec.Code)
	}
	rec = env.postJSON(t, "/api/auth/verify", VerifyRequest{
		WalletAddress: addr,
		Signature:     signText(t, key, "a different message"),
	}, nil)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "address_mismatch" {
		t.Fatalf("wrong message: status %d code %s", rec.Code, errorCode(t, rec))
	}
}

func TestVerify_ExpiredChallenge(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	key, addr := testWallet(t)

	rec := env.postJSON(t, "/api/auth/challenge", ChallengeRequest{WalletAddress: addr}, nil)
	var challenge ChallengeResponse
	decodeBody(t, rec, &challenge)

	env.challenges.Now = func() time.Time { return time.Now().Add(301 * time.Second) }

	rec = env.postJSON(t, "/api/auth/verify", VerifyRequest{
		WalletAddress: addr,
		Signature:     signText(t, key, challenge.Challenge.Message),
	}, nil)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "challenge_missing" {
		t.Fatalf("expired challenge: status %d code %s", rec.Code, errorCode(t, rec))
	}
}

func TestProfile_TokenFailures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	// Token signed with a different secret.
	foreign, err := auth.MintToken("some-user", auth.SubjectEmail, []byte("other-secret"), time.Hour)
	if err != nil {
		t.Fatalf("MintToken error: %v", err)
	}

	cases := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "invalid_token"},
		{"malformed header", "Token abc", "invalid_token"},
		{"foreign secret", "Bearer " + foreign, "invalid_token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != tc.code {
				t.Fatalf("status %d code %s", rec.Code, errorCode(t, rec))
			}
		})
	}
}

func TestProfile_ExpiredToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	expired, err := auth.MintToken("some-user", auth.SubjectEmail, []byte(testSecret), -time.Minute)
	if err != nil {
		t.Fatalf("MintToken error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "expired_token" {
		t.Fatalf("status %d code %s", rec.Code, errorCode(t, rec))
	}
}

func TestUpdateProfile_CompletesProfile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	key, addr := testWallet(t)

	rec := env.postJSON(t, "/api/auth/challenge", ChallengeRequest{WalletAddress: addr}, nil)
	var challenge ChallengeResponse
	decodeBody(t, rec, &challenge)
	rec = env.postJSON(t, "/api/auth/verify", VerifyRequest{
		WalletAddress: addr,
		Signature:     signText(t, key, challenge.Challenge.Message),
	}, nil)
	var verified VerifyResponse
	decodeBody(t, rec, &verified)

	name := "Alice"
	email := "alice@example.com"
	payload, _ := json.Marshal(UpdateProfileRequest{Name: &name, Email: &email})
	req := httptest.NewRequest(http.MethodPut, "/api/auth/profile", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+verified.Token)
	updateRec := httptest.NewRecorder()
	env.router.ServeHTTP(updateRec, req)
	if updateRec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", updateRec.Code, updateRec.Body.String())
	}

	var updated UserResponse
	decodeBody(t, updateRec, &updated)
	if !updated.User.ProfileComplete {
		t.Errorf("expected profile to be complete after name and email were set")
	}
}

func TestUploadAvatar_StorageNotConfigured(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/auth/register", RegisterRequest{Email: "a@b.com", Password: "Aa1!aaaa"}, nil)
	var registered AuthResponse
	decodeBody(t, rec, &registered)

	var body bytes.Buffer
	req := httptest.NewRequest(http.MethodPost, "/api/auth/profile/avatar", &body)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	uploadRec := httptest.NewRecorder()
	env.router.ServeHTTP(uploadRec, req)
	if uploadRec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", uploadRec.Code)
	}
}

func TestAvatarLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnvWith(t, storage.NewAvatarStore(newFakeObjectStorage()))

	rec := env.postJSON(t, "/api/auth/register", RegisterRequest{Email: "a@b.com", Password: "Aa1!aaaa"}, nil)
	var registered AuthResponse
	decodeBody(t, rec, &registered)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("avatar", "avatar.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	avatarBytes := []byte("png-bytes")
	if _, err := part.Write(avatarBytes); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/profile/avatar", &body)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	uploadRec := httptest.NewRecorder()
	env.router.ServeHTTP(uploadRec, req)
	if uploadRec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %s", uploadRec.Code, uploadRec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/profile/avatar", nil)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	getRec := httptest.NewRecorder()
	env.router.ServeHTTP(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d, body %s", getRec.Code, getRec.Body.String())
	}
	if !bytes.Equal(getRec.Body.Bytes(), avatarBytes) {
		t.Fatalf("avatar body = %q, want %q", getRec.Body.Bytes(), avatarBytes)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/auth/profile/avatar", nil)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	deleteRec := httptest.NewRecorder()
	env.router.ServeHTTP(deleteRec, req)
	if deleteRec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body %s", deleteRec.Code, deleteRec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/profile/avatar", nil)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	missingRec := httptest.NewRecorder()
	env.router.ServeHTTP(missingRec, req)
	if missingRec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", missingRec.Code)
	}

	records := env.activity.ByUser(registered.User.ID)
	kinds := make([]string, 0, len(records))
	for _, record := range records {
		kinds = append(kinds, record.EventKind)
	}
	want := []string{"register_email", "avatar_upload", "avatar_delete"}
	if len(kinds) != len(want) {
		t.Fatalf("activity kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("activity kinds = %v, want %v", kinds, want)
		}
	}
}

func TestActivity_ReturnsHistory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/auth/register", RegisterRequest{Email: "a@b.com", Password: "Aa1!aaaa"}, nil)
	var registered AuthResponse
	decodeBody(t, rec, &registered)

	rec = env.postJSON(t, "/api/auth/login", LoginRequest{Email: "a@b.com", Password: "Aa1!aaaa"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/activity", nil)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	listRec := httptest.NewRecorder()
	env.router.ServeHTTP(listRec, req)
	if listRec.Code != http.StatusOK {
		t.Fatalf("activity status = %d, body %s", listRec.Code, listRec.Body.String())
	}

	var resp ActivityResponse
	decodeBody(t, listRec, &resp)
	if len(resp.Activity) != 2 {
		t.Fatalf("expected 2 activity records, got %d: %+v", len(resp.Activity), resp.Activity)
	}
	if resp.Activity[0].EventKind != "register_email" || resp.Activity[1].EventKind != "login_email" {
		t.Fatalf("unexpected activity order: %+v", resp.Activity)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/activity?limit=1", nil)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	limitRec := httptest.NewRecorder()
	env.router.ServeHTTP(limitRec, req)
	decodeBody(t, limitRec, &resp)
	if len(resp.Activity) != 1 {
		t.Fatalf("expected 1 record with limit=1, got %d", len(resp.Activity))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/activity?limit=zero", nil)
	req.Header.Set("Authorization", "Bearer "+registered.Token)
	badRec := httptest.NewRecorder()
	env.router.ServeHTTP(badRec, req)
	if badRec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", badRec.Code)
	}
}

func TestVerify_ConcurrentRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	key, addr := testWallet(t)

	rec := env.postJSON(t, "/api/auth/challenge", ChallengeRequest{WalletAddress: addr}, nil)
	var challenge ChallengeResponse
	decodeBody(t, rec, &challenge)
	signature := signText(t, key, challenge.Challenge.Message)

	statuses := make(chan int, 2)
	for range 2 {
		go func() {
			rec := env.postJSON(t, "/api/auth/verify", VerifyRequest{WalletAddress: addr, Signature: signature}, nil)
			statuses <- rec.Code
		}()
	}
	got := []int{<-statuses, <-statuses}
	if !(got[0] == http.StatusOK && got[1] == http.StatusUnauthorized) &&
		!(got[0] == http.StatusUnauthorized && got[1] == http.StatusOK) {
		t.Fatalf("expected exactly one 200 and one 401, got %v", got)
	}
}
