// Package store persists the portal's shared documents: subject files,
// exam weeks, exams, quizzes and quiz attempts. Two implementations
// exist; Postgres when DATABASE_URL is set, in-memory otherwise.
package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type File struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Subject    string    `json:"subject"`
	Semester   string    `json:"semester"`
	FileName   string    `json:"fileName"`
	FilePath   string    `json:"filePath"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type ExamWeek struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartDate string    `json:"startDate"` // 2006-01-02
	EndDate   string    `json:"endDate,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Exam struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Date      string    `json:"date"` // 2006-01-02
	Day       string    `json:"day,omitempty"`
	Topics    string    `json:"topics,omitempty"`
	WeekID    string    `json:"weekId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Quiz struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Subject   string          `json:"subject"`
	Creator   string          `json:"creator,omitempty"`
	Code      string          `json:"code"`
	Questions json.RawMessage `json:"questions"`
	CreatedAt time.Time       `json:"createdAt"`
}

type QuizAttempt struct {
	ID        string    `json:"id"`
	QuizID    string    `json:"quizId"`
	Name      string    `json:"name"`
	Score     int       `json:"score"`
	Total     int       `json:"total"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence boundary for shared documents. Every method
// takes the request context so the Postgres implementation honors
// cancellation; the memory implementation ignores it.
type Store interface {
	ListFiles(ctx context.Context) ([]File, error)
	GetFile(ctx context.Context, id string) (File, error)
	GetFileData(ctx context.Context, id string) ([]byte, error)
	CreateFile(ctx context.Context, file File, data []byte) (File, error)
	DeleteFile(ctx context.Context, id string) error

	ListExamWeeks(ctx context.Context) ([]ExamWeek, error)
	CreateExamWeek(ctx context.Context, week ExamWeek) (ExamWeek, error)
	DeleteExamWeek(ctx context.Context, id string) error

	ListExams(ctx context.Context) ([]Exam, error)
	ListExamsByWeek(ctx context.Context, weekID string) ([]Exam, error)
	ListExamsByDate(ctx context.Context, date string) ([]Exam, error)
	CreateExam(ctx context.Context, exam Exam) (Exam, error)
	DeleteExam(ctx context.Context, id string) error

	ListQuizzes(ctx context.Context) ([]Quiz, error)
	GetQuiz(ctx context.Context, id string) (Quiz, error)
	GetQuizByCode(ctx context.Context, code string) (Quiz, error)
	CreateQuiz(ctx context.Context, quiz Quiz) (Quiz, error)
	DeleteQuiz(ctx context.Context, id string) error

	ListQuizAttempts(ctx context.Context, quizID string) ([]QuizAttempt, error)
	CreateQuizAttempt(ctx context.Context, attempt QuizAttempt) (QuizAttempt, error)
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newQuizCode draws a 6-char join code from an alphabet without the
// lookalike characters 0/O/1/I.
func newQuizCode() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		panic("store: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
