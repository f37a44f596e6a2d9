// Package httpapi exposes the portal over HTTP: identity verification,
// the social graph, study sessions, shared documents and quizzes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mohamedahmed66972007/students2026-v6/internal/auth"
	"github.com/mohamedahmed66972007/students2026-v6/internal/config"
	"github.com/mohamedahmed66972007/students2026-v6/internal/identity"
	"github.com/mohamedahmed66972007/students2026-v6/internal/social"
	"github.com/mohamedahmed66972007/students2026-v6/internal/store"
	"github.com/mohamedahmed66972007/students2026-v6/internal/study"
	"github.com/mohamedahmed66972007/students2026-v6/internal/telegram"
)

const maxUploadBytes = 32 << 20

// Broadcaster fans a message out to every known user. The scheduler
// implements it; tests stub it.
type Broadcaster interface {
	Broadcast(ctx context.Context, text, kind string)
}

type Server struct {
	cfg         config.Config
	log         *zap.Logger
	directory   *identity.Directory
	graph       *social.Graph
	sessions    *study.Store
	docs        store.Store
	broadcaster Broadcaster

	visitors atomic.Int64
}

func NewServer(cfg config.Config, log *zap.Logger, directory *identity.Directory, graph *social.Graph, sessions *study.Store, docs store.Store, broadcaster Broadcaster) *Server {
	return &Server{
		cfg:         cfg,
		log:         log,
		directory:   directory,
		graph:       graph,
		sessions:    sessions,
		docs:        docs,
		broadcaster: broadcaster,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.countVisitors)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/telegram/validate", s.handleValidate)
	r.Get("/api/visitors", s.handleVisitors)

	r.With(s.requireUser).Get("/api/user/profile", s.handleProfile)

	r.Route("/api/friends", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/", s.handleListFriends)
		r.Get("/requests", s.handleListRequests)
		r.Post("/request", s.handleSendRequest)
		r.Post("/accept", s.handleAcceptRequest)
		r.Post("/reject", s.handleRejectRequest)
		r.Get("/{uid}/schedule", s.handleFriendSchedule)
	})

	r.Route("/api/study-sessions", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/", s.handleGetSessions)
		r.Post("/", s.handlePutSessions)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireUser)
		r.With(s.requireMainAdmin).Post("/add", s.handleAddAdmin)
		r.With(s.requireAdmin).Get("/users", s.handleListUsers)
	})

	r.Route("/api/files", func(r chi.Router) {
		r.With(s.requireUser).Get("/", s.handleListFiles)
		r.Get("/{id}", s.handleGetFile)
		r.Get("/{id}/download", s.handleDownloadFile)
		r.With(s.requireUser, s.requireAdmin).Post("/", s.handleCreateFile)
		r.With(s.requireUser, s.requireAdmin).Delete("/{id}", s.handleDeleteFile)
	})

	r.Route("/api/exam-weeks", func(r chi.Router) {
		r.With(s.requireUser).Get("/", s.handleListExamWeeks)
		r.With(s.requireUser, s.requireAdmin).Post("/", s.handleCreateExamWeek)
		r.With(s.requireUser, s.requireAdmin).Delete("/{id}", s.handleDeleteExamWeek)
	})

	r.Route("/api/exams", func(r chi.Router) {
		r.Get("/", s.handleListExams)
		r.Post("/", s.handleCreateExam)
		r.Delete("/{id}", s.handleDeleteExam)
	})

	r.Route("/api/quizzes", func(r chi.Router) {
		r.Get("/", s.handleListQuizzes)
		r.Get("/{id}", s.handleGetQuiz)
		r.Get("/code/{code}", s.handleGetQuizByCode)
		r.Post("/", s.handleCreateQuiz)
		r.Delete("/{id}", s.handleDeleteQuiz)
	})

	r.Route("/api/quiz-attempts", func(r chi.Router) {
		r.Get("/{quizId}", s.handleListQuizAttempts)
		r.Post("/", s.handleCreateQuizAttempt)
	})

	return r
}

type validateRequest struct {
	InitData string `json:"initData"`
}

type validateResponse struct {
	Token string              `json:"token"`
	User  identity.UserRecord `json:"user"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil || req.InitData == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	webAppUser, err := telegram.VerifyInitData(req.InitData, s.cfg.TelegramBotToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_init_data")
		return
	}
	user := s.directory.Resolve(webAppUser)

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UID:        user.UID,
		TelegramID: user.TelegramID,
	})
	if err != nil {
		s.log.Error("issuing token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Token: token, User: user})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFromContext(r.Context()))
}

type friendRequestBody struct {
	UID string `json:"uid"`
}

func (s *Server) handleSendRequest(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var body friendRequestBody
	if err := decodeJSON(r, &body); err != nil || body.UID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.graph.SendRequest(user.UID, strings.ToUpper(body.UID)); err != nil {
		writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var body friendRequestBody
	if err := decodeJSON(r, &body); err != nil || body.UID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.graph.Accept(user.UID, strings.ToUpper(body.UID)); err != nil {
		writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var body friendRequestBody
	if err := decodeJSON(r, &body); err != nil || body.UID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.graph.Reject(user.UID, strings.ToUpper(body.UID)); err != nil {
		writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, s.graph.ListFriends(user.UID))
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, s.graph.ListPending(user.UID))
}

func (s *Server) handleFriendSchedule(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	ownerUID := strings.ToUpper(chi.URLParam(r, "uid"))

	sessions, err := s.sessions.GetForFriend(user.UID, ownerUID)
	if err != nil {
		if errors.Is(err, study.ErrForbidden) {
			writeError(w, http.StatusForbidden, "friends_only")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	sessions, err := s.sessions.Get(user.UID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handlePutSessions(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var sessions []study.Session
	if err := decodeJSON(r, &sessions); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.sessions.ReplaceAll(user.UID, sessions); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

type addAdminRequest struct {
	TelegramID int64 `json:"telegramId"`
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var req addAdminRequest
	if err := decodeJSON(r, &req); err != nil || req.TelegramID == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !s.directory.Promote(user.TelegramID, req.TelegramID) {
		writeError(w, http.StatusForbidden, "main_admin_only")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.directory.All())
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.docs.ListFiles(r.Context())
	if err != nil {
		s.log.Error("listing files", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	subject := r.URL.Query().Get("subject")
	semester := r.URL.Query().Get("semester")
	filtered := files[:0]
	for _, f := range files {
		if subject != "" && subject != "all" && f.Subject != subject {
			continue
		}
		if semester != "" && semester != "all" && f.Semester != semester {
			continue
		}
		filtered = append(filtered, f)
	}
	if filtered == nil {
		filtered = []store.File{}
	}
	writeJSON(w, http.StatusOK, filtered)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.docs.GetFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	file, err := s.docs.GetFile(r.Context(), id)
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	data, err := s.docs.GetFileData(r.Context(), id)
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+file.FileName+`"`)
	_, _ = w.Write(data)
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload")
		return
	}
	upload, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file")
		return
	}
	defer upload.Close()

	data, err := io.ReadAll(io.LimitReader(upload, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload")
		return
	}

	file := store.File{
		Title:    r.FormValue("title"),
		Subject:  r.FormValue("subject"),
		Semester: r.FormValue("semester"),
		FileName: header.Filename,
	}
	if file.Title == "" || file.Subject == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	created, err := s.docs.CreateFile(r.Context(), file, data)
	if err != nil {
		s.log.Error("creating file", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if s.broadcaster != nil {
		text := "📄 New file: " + created.Title + " (" + created.Subject + ")"
		go s.broadcaster.Broadcast(context.WithoutCancel(r.Context()), text, "file_upload")
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := s.docs.DeleteFile(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListExamWeeks(w http.ResponseWriter, r *http.Request) {
	weeks, err := s.docs.ListExamWeeks(r.Context())
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	if weeks == nil {
		weeks = []store.ExamWeek{}
	}
	writeJSON(w, http.StatusOK, weeks)
}

func (s *Server) handleCreateExamWeek(w http.ResponseWriter, r *http.Request) {
	var week store.ExamWeek
	if err := decodeJSON(r, &week); err != nil || week.Title == "" || week.StartDate == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	created, err := s.docs.CreateExamWeek(r.Context(), week)
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteExamWeek(w http.ResponseWriter, r *http.Request) {
	if err := s.docs.DeleteExamWeek(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListExams(w http.ResponseWriter, r *http.Request) {
	var (
		exams []store.Exam
		err   error
	)
	if weekID := r.URL.Query().Get("weekId"); weekID != "" {
		exams, err = s.docs.ListExamsByWeek(r.Context(), weekID)
	} else {
		exams, err = s.docs.ListExams(r.Context())
	}
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	if exams == nil {
		exams = []store.Exam{}
	}
	writeJSON(w, http.StatusOK, exams)
}

func (s *Server) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var exam store.Exam
	if err := decodeJSON(r, &exam); err != nil || exam.Subject == "" || exam.Date == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	created, err := s.docs.CreateExam(r.Context(), exam)
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	if err := s.docs.DeleteExam(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := s.docs.ListQuizzes(r.Context())
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	if quizzes == nil {
		quizzes = []store.Quiz{}
	}
	writeJSON(w, http.StatusOK, quizzes)
}

func (s *Server) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := s.docs.GetQuiz(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (s *Server) handleGetQuizByCode(w http.ResponseWriter, r *http.Request) {
	quiz, err := s.docs.GetQuizByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (s *Server) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var quiz store.Quiz
	if err := decodeJSON(r, &quiz); err != nil || quiz.Title == "" || len(quiz.Questions) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	created, err := s.docs.CreateQuiz(r.Context(), quiz)
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	if err := s.docs.DeleteQuiz(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListQuizAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.docs.ListQuizAttempts(r.Context(), chi.URLParam(r, "quizId"))
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	if attempts == nil {
		attempts = []store.QuizAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleCreateQuizAttempt(w http.ResponseWriter, r *http.Request) {
	var attempt store.QuizAttempt
	if err := decodeJSON(r, &attempt); err != nil || attempt.QuizID == "" || attempt.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	created, err := s.docs.CreateQuizAttempt(r.Context(), attempt)
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleVisitors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"visitors": s.visitors.Load()})
}

// countVisitors tracks page loads the way the portal's landing pages do.
func (s *Server) countVisitors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/files", "/exams", "/quizzes":
			s.visitors.Add(1)
		}
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

// requireUser authenticates either a bearer session token or raw
// Mini App init data and puts the resolved user on the context. Tiers
// are checked against the directory on every request, not the token.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticate(r *http.Request) (identity.UserRecord, bool) {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			return identity.UserRecord{}, false
		}
		return s.directory.ByTelegramID(claims.TelegramID)
	}
	if initData := r.Header.Get("X-Telegram-Init-Data"); initData != "" {
		webAppUser, err := telegram.VerifyInitData(initData, s.cfg.TelegramBotToken)
		if err != nil {
			return identity.UserRecord{}, false
		}
		return s.directory.Resolve(webAppUser), true
	}
	return identity.UserRecord{}, false
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		if !s.directory.IsAdmin(user.TelegramID) {
			writeError(w, http.StatusForbidden, "admin_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireMainAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		if !s.directory.IsMainAdmin(user.TelegramID) {
			writeError(w, http.StatusForbidden, "main_admin_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) identity.UserRecord {
	user, _ := ctx.Value(userKey{}).(identity.UserRecord)
	return user
}

func bearerToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func writeGraphError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, social.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, social.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	default:
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func writeStoreError(w http.ResponseWriter, log *zap.Logger, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	log.Error("store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "server_error")
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
