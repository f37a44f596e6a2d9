package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedahmed66972007/students2026-v6/internal/config"
	"github.com/mohamedahmed66972007/students2026-v6/internal/identity"
	"github.com/mohamedahmed66972007/students2026-v6/internal/social"
	"github.com/mohamedahmed66972007/students2026-v6/internal/store"
	"github.com/mohamedahmed66972007/students2026-v6/internal/study"
)

const testBotToken = "12345:test-token"

type recordedBroadcast struct {
	Text string
	Kind string
}

type fakeBroadcaster struct {
	calls chan recordedBroadcast
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, text, kind string) {
	f.calls <- recordedBroadcast{Text: text, Kind: kind}
}

func newTestServer(t *testing.T) (http.Handler, *fakeBroadcaster) {
	t.Helper()
	cfg := config.Config{
		TelegramBotToken:  testBotToken,
		MainAdminUsername: "MO2025_PROGRAMER",
		JWTSecret:         "test-secret",
		JWTIssuer:         "test-issuer",
		AccessTokenTTL:    time.Hour,
	}
	dir := identity.NewDirectory(cfg.MainAdminUsername)
	graph := social.NewGraph(dir)
	sessions := study.NewStore(dir, graph)
	broadcaster := &fakeBroadcaster{calls: make(chan recordedBroadcast, 8)}
	srv := NewServer(cfg, zap.NewNop(), dir, graph, sessions, store.NewMemory(), broadcaster)
	return srv.Router(), broadcaster
}

// signedInitData builds an init-data payload carrying user and signs it
// the way Telegram does.
func signedInitData(t *testing.T, user string) string {
	t.Helper()
	values := url.Values{}
	values.Set("user", user)
	values.Set("auth_date", "1756400000")
	values.Set("query_id", "AAEtest")

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+"="+values.Get(key))
	}

	keyMAC := hmac.New(sha256.New, []byte("WebAppData"))
	keyMAC.Write([]byte(testBotToken))
	sigMAC := hmac.New(sha256.New, keyMAC.Sum(nil))
	sigMAC.Write([]byte(strings.Join(lines, "\n")))
	values.Set("hash", hex.EncodeToString(sigMAC.Sum(nil)))

	return values.Encode()
}

func initDataFor(t *testing.T, id int64, firstName, username string) string {
	t.Helper()
	return signedInitData(t, fmt.Sprintf(`{"id":%d,"first_name":%q,"username":%q}`, id, firstName, username))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func authHeaders(t *testing.T, id int64, firstName, username string) map[string]string {
	t.Helper()
	return map[string]string{"X-Telegram-Init-Data": initDataFor(t, id, firstName, username)}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestValidateIssuesUsableToken(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/telegram/validate",
		map[string]string{"initData": initDataFor(t, 999, "Sara", "student1")}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate: %d %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Token string              `json:"token"`
		User  identity.UserRecord `json:"user"`
	}
	decodeBody(t, rec, &resp)
	if resp.Token == "" || resp.User.UID == "" {
		t.Fatalf("missing token or uid: %+v", resp)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/user/profile", nil,
		map[string]string{"Authorization": "Bearer " + resp.Token})
	if rec.Code != http.StatusOK {
		t.Fatalf("profile with token: %d %s", rec.Code, rec.Body.String())
	}
	var profile identity.UserRecord
	decodeBody(t, rec, &profile)
	if profile.UID != resp.User.UID {
		t.Fatalf("profile uid %s does not match issued %s", profile.UID, resp.User.UID)
	}
}

func TestValidateRejectsTamperedInitData(t *testing.T) {
	router, _ := newTestServer(t)

	initData := initDataFor(t, 999, "Sara", "student1")
	tampered := strings.Replace(initData, "Sara", "Eve", 1)
	rec := doJSON(t, router, http.MethodPost, "/api/telegram/validate",
		map[string]string{"initData": tampered}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestProfileRequiresAuth(t *testing.T) {
	router, _ := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/api/user/profile", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestFriendFlow(t *testing.T) {
	router, _ := newTestServer(t)
	alice := authHeaders(t, 1, "Alice", "alice")
	bob := authHeaders(t, 2, "Bob", "bob")

	var aliceProfile, bobProfile identity.UserRecord
	decodeBody(t, doJSON(t, router, http.MethodGet, "/api/user/profile", nil, alice), &aliceProfile)
	decodeBody(t, doJSON(t, router, http.MethodGet, "/api/user/profile", nil, bob), &bobProfile)

	// Bob's schedule is hidden until the two are friends.
	rec := doJSON(t, router, http.MethodGet, "/api/friends/"+bobProfile.UID+"/schedule", nil, alice)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 before friendship, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/friends/request",
		map[string]string{"uid": bobProfile.UID}, alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("request: %d %s", rec.Code, rec.Body.String())
	}

	// Duplicate request conflicts.
	rec = doJSON(t, router, http.MethodPost, "/api/friends/request",
		map[string]string{"uid": bobProfile.UID}, alice)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate request: %d", rec.Code)
	}

	var pending []social.Summary
	decodeBody(t, doJSON(t, router, http.MethodGet, "/api/friends/requests", nil, bob), &pending)
	if len(pending) != 1 || pending[0].UID != aliceProfile.UID {
		t.Fatalf("unexpected pending %+v", pending)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/friends/accept",
		map[string]string{"uid": aliceProfile.UID}, bob)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", rec.Code, rec.Body.String())
	}

	var friends []social.Summary
	decodeBody(t, doJSON(t, router, http.MethodGet, "/api/friends", nil, alice), &friends)
	if len(friends) != 1 || friends[0].UID != bobProfile.UID {
		t.Fatalf("unexpected friends %+v", friends)
	}

	// Friendship opens the schedule.
	rec = doJSON(t, router, http.MethodPost, "/api/study-sessions", []study.Session{
		{ID: "s1", Subject: "math", Date: "2026-09-01", StartTime: "18:00"},
	}, bob)
	if rec.Code != http.StatusOK {
		t.Fatalf("save sessions: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, router, http.MethodGet, "/api/friends/"+bobProfile.UID+"/schedule", nil, alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("friend schedule: %d %s", rec.Code, rec.Body.String())
	}
	var schedule []study.Session
	decodeBody(t, rec, &schedule)
	if len(schedule) != 1 || schedule[0].Subject != "math" {
		t.Fatalf("unexpected schedule %+v", schedule)
	}
}

func TestStudySessionsRoundTrip(t *testing.T) {
	router, _ := newTestServer(t)
	user := authHeaders(t, 7, "Omar", "omar")

	var sessions []study.Session
	decodeBody(t, doJSON(t, router, http.MethodGet, "/api/study-sessions", nil, user), &sessions)
	if len(sessions) != 0 {
		t.Fatalf("expected empty schedule, got %+v", sessions)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/study-sessions", []study.Session{
		{ID: "s1", Subject: "chem", Date: "2026-09-03", StartTime: "17:00", EndTime: "18:00"},
		{ID: "s2", Subject: "bio", Date: "2026-09-04", StartTime: "19:00"},
	}, user)
	if rec.Code != http.StatusOK {
		t.Fatalf("save: %d %s", rec.Code, rec.Body.String())
	}

	decodeBody(t, doJSON(t, router, http.MethodGet, "/api/study-sessions", nil, user), &sessions)
	if len(sessions) != 2 || sessions[0].ID != "s1" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
}

func TestAdminTiers(t *testing.T) {
	router, _ := newTestServer(t)
	mainAdmin := authHeaders(t, 123, "Mo", "MO2025_PROGRAMER")
	student := authHeaders(t, 999, "Sara", "student1")

	// Resolve both users first.
	doJSON(t, router, http.MethodGet, "/api/user/profile", nil, mainAdmin)
	doJSON(t, router, http.MethodGet, "/api/user/profile", nil, student)

	rec := doJSON(t, router, http.MethodGet, "/api/admin/users", nil, student)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student listing users: %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/admin/add",
		map[string]int64{"telegramId": 555}, student)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student adding admin: %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/admin/add",
		map[string]int64{"telegramId": 999}, mainAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("main admin promote: %d %s", rec.Code, rec.Body.String())
	}

	// Tier is live: the promoted student passes the admin gate at once.
	rec = doJSON(t, router, http.MethodGet, "/api/admin/users", nil, student)
	if rec.Code != http.StatusOK {
		t.Fatalf("promoted student listing users: %d %s", rec.Code, rec.Body.String())
	}
	var users []identity.UserRecord
	decodeBody(t, rec, &users)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %+v", users)
	}

	// Promotion does not grant main-admin powers.
	rec = doJSON(t, router, http.MethodPost, "/api/admin/add",
		map[string]int64{"telegramId": 556}, student)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("plain admin adding admin: %d", rec.Code)
	}
}

func TestFileUploadBroadcastsAndFilters(t *testing.T) {
	router, broadcaster := newTestServer(t)
	admin := authHeaders(t, 123, "Mo", "MO2025_PROGRAMER")
	student := authHeaders(t, 999, "Sara", "student1")

	doJSON(t, router, http.MethodGet, "/api/user/profile", nil, admin)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	_ = form.WriteField("title", "Algebra summary")
	_ = form.WriteField("subject", "math")
	_ = form.WriteField("semester", "1")
	part, _ := form.CreateFormFile("file", "algebra.pdf")
	_, _ = part.Write([]byte("%PDF-1.4"))
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	for k, v := range admin {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	var created store.File
	decodeBody(t, rec, &created)

	select {
	case call := <-broadcaster.calls:
		if call.Kind != "file_upload" || !strings.Contains(call.Text, "Algebra summary") {
			t.Fatalf("unexpected broadcast %+v", call)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("upload did not broadcast")
	}

	// Students cannot upload.
	req = httptest.NewRequest(http.MethodPost, "/api/files", bytes.NewReader(nil))
	for k, v := range student {
		req.Header.Set(k, v)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student upload: %d", rec.Code)
	}

	recList := doJSON(t, router, http.MethodGet, "/api/files?subject=math", nil, student)
	var files []store.File
	decodeBody(t, recList, &files)
	if len(files) != 1 || files[0].ID != created.ID {
		t.Fatalf("unexpected files %+v", files)
	}
	recList = doJSON(t, router, http.MethodGet, "/api/files?subject=physics", nil, student)
	decodeBody(t, recList, &files)
	if len(files) != 0 {
		t.Fatalf("filter leaked files %+v", files)
	}

	// Download serves the original bytes.
	recDl := doJSON(t, router, http.MethodGet, "/api/files/"+created.ID+"/download", nil, nil)
	if recDl.Code != http.StatusOK || recDl.Body.String() != "%PDF-1.4" {
		t.Fatalf("download: %d %q", recDl.Code, recDl.Body.String())
	}
}

func TestQuizLifecycle(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/quizzes", store.Quiz{
		Title:     "Unit 3 review",
		Subject:   "chemistry",
		Questions: json.RawMessage(`[{"q":"H2O?","a":["water"]}]`),
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create quiz: %d %s", rec.Code, rec.Body.String())
	}
	var quiz store.Quiz
	decodeBody(t, rec, &quiz)
	if quiz.Code == "" {
		t.Fatalf("expected generated code: %+v", quiz)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/quizzes/code/"+quiz.Code, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get by code: %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/quiz-attempts", store.QuizAttempt{
		QuizID: quiz.ID, Name: "Sara", Score: 8, Total: 10,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create attempt: %d %s", rec.Code, rec.Body.String())
	}

	var attempts []store.QuizAttempt
	decodeBody(t, doJSON(t, router, http.MethodGet, "/api/quiz-attempts/"+quiz.ID, nil, nil), &attempts)
	if len(attempts) != 1 || attempts[0].Name != "Sara" {
		t.Fatalf("unexpected attempts %+v", attempts)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/quizzes/"+quiz.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete quiz: %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/quizzes/"+quiz.ID, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestExamWeekAdminGate(t *testing.T) {
	router, _ := newTestServer(t)
	admin := authHeaders(t, 123, "Mo", "MO2025_PROGRAMER")
	student := authHeaders(t, 999, "Sara", "student1")

	rec := doJSON(t, router, http.MethodPost, "/api/exam-weeks",
		store.ExamWeek{Title: "Midterms", StartDate: "2026-10-04"}, student)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student creating week: %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/exam-weeks",
		store.ExamWeek{Title: "Midterms", StartDate: "2026-10-04"}, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin creating week: %d %s", rec.Code, rec.Body.String())
	}
	var week store.ExamWeek
	decodeBody(t, rec, &week)

	rec = doJSON(t, router, http.MethodPost, "/api/exams",
		store.Exam{Subject: "math", Date: "2026-10-05", WeekID: week.ID}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create exam: %d %s", rec.Code, rec.Body.String())
	}

	var exams []store.Exam
	decodeBody(t, doJSON(t, router, http.MethodGet, "/api/exams?weekId="+week.ID, nil, nil), &exams)
	if len(exams) != 1 || exams[0].Subject != "math" {
		t.Fatalf("unexpected exams %+v", exams)
	}
}

func TestVisitorsCounter(t *testing.T) {
	router, _ := newTestServer(t)

	for _, path := range []string{"/", "/files", "/quizzes"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
	// API calls do not count as visits.
	doJSON(t, router, http.MethodGet, "/api/exams", nil, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/visitors", nil, nil)
	var resp map[string]int64
	decodeBody(t, rec, &resp)
	if resp["visitors"] != 3 {
		t.Fatalf("expected 3 visitors, got %d", resp["visitors"])
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
}
