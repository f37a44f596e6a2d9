package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory keeps everything in process. It backs local development and
// tests, and is the fallback when no database is configured.
type Memory struct {
	mu       sync.RWMutex
	files    map[string]File
	fileData map[string][]byte
	weeks    map[string]ExamWeek
	exams    map[string]Exam
	quizzes  map[string]Quiz
	attempts map[string][]QuizAttempt // by quiz id
}

func NewMemory() *Memory {
	return &Memory{
		files:    make(map[string]File),
		fileData: make(map[string][]byte),
		weeks:    make(map[string]ExamWeek),
		exams:    make(map[string]Exam),
		quizzes:  make(map[string]Quiz),
		attempts: make(map[string][]QuizAttempt),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) ListFiles(ctx context.Context) ([]File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]File, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, f)
	}
	sortByTime(out, func(f File) time.Time { return f.UploadedAt })
	return out, nil
}

func (m *Memory) GetFile(ctx context.Context, id string) (File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return File{}, ErrNotFound
	}
	return f, nil
}

func (m *Memory) GetFileData(ctx context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.fileData[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) CreateFile(ctx context.Context, file File, data []byte) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file.ID = uuid.NewString()
	file.FilePath = "/uploads/" + file.ID + "/" + file.FileName
	file.UploadedAt = time.Now().UTC()
	m.files[file.ID] = file
	m.fileData[file.ID] = append([]byte(nil), data...)
	return file, nil
}

func (m *Memory) DeleteFile(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return ErrNotFound
	}
	delete(m.files, id)
	delete(m.fileData, id)
	return nil
}

func (m *Memory) ListExamWeeks(ctx context.Context) ([]ExamWeek, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ExamWeek, 0, len(m.weeks))
	for _, w := range m.weeks {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate < out[j].StartDate })
	return out, nil
}

func (m *Memory) CreateExamWeek(ctx context.Context, week ExamWeek) (ExamWeek, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	week.ID = uuid.NewString()
	week.CreatedAt = time.Now().UTC()
	m.weeks[week.ID] = week
	return week, nil
}

func (m *Memory) DeleteExamWeek(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.weeks[id]; !ok {
		return ErrNotFound
	}
	delete(m.weeks, id)
	// Exams keep their week reference dangling-free.
	for examID, exam := range m.exams {
		if exam.WeekID == id {
			exam.WeekID = ""
			m.exams[examID] = exam
		}
	}
	return nil
}

func (m *Memory) ListExams(ctx context.Context) ([]Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.examsWhere(func(Exam) bool { return true }), nil
}

func (m *Memory) ListExamsByWeek(ctx context.Context, weekID string) ([]Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.examsWhere(func(e Exam) bool { return e.WeekID == weekID }), nil
}

func (m *Memory) ListExamsByDate(ctx context.Context, date string) ([]Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.examsWhere(func(e Exam) bool { return e.Date == date }), nil
}

func (m *Memory) examsWhere(keep func(Exam) bool) []Exam {
	out := make([]Exam, 0, len(m.exams))
	for _, e := range m.exams {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date == out[j].Date {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Date < out[j].Date
	})
	return out
}

func (m *Memory) CreateExam(ctx context.Context, exam Exam) (Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exam.ID = uuid.NewString()
	exam.CreatedAt = time.Now().UTC()
	m.exams[exam.ID] = exam
	return exam, nil
}

func (m *Memory) DeleteExam(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exams[id]; !ok {
		return ErrNotFound
	}
	delete(m.exams, id)
	return nil
}

func (m *Memory) ListQuizzes(ctx context.Context) ([]Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Quiz, 0, len(m.quizzes))
	for _, q := range m.quizzes {
		out = append(out, q)
	}
	sortByTime(out, func(q Quiz) time.Time { return q.CreatedAt })
	return out, nil
}

func (m *Memory) GetQuiz(ctx context.Context, id string) (Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quizzes[id]
	if !ok {
		return Quiz{}, ErrNotFound
	}
	return q, nil
}

func (m *Memory) GetQuizByCode(ctx context.Context, code string) (Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, q := range m.quizzes {
		if strings.EqualFold(q.Code, code) {
			return q, nil
		}
	}
	return Quiz{}, ErrNotFound
}

func (m *Memory) CreateQuiz(ctx context.Context, quiz Quiz) (Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	quiz.ID = uuid.NewString()
	if quiz.Code == "" {
		quiz.Code = newQuizCode()
	}
	quiz.CreatedAt = time.Now().UTC()
	m.quizzes[quiz.ID] = quiz
	return quiz, nil
}

func (m *Memory) DeleteQuiz(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quizzes[id]; !ok {
		return ErrNotFound
	}
	delete(m.quizzes, id)
	delete(m.attempts, id)
	return nil
}

func (m *Memory) ListQuizAttempts(ctx context.Context, quizID string) ([]QuizAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]QuizAttempt(nil), m.attempts[quizID]...), nil
}

func (m *Memory) CreateQuizAttempt(ctx context.Context, attempt QuizAttempt) (QuizAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quizzes[attempt.QuizID]; !ok {
		return QuizAttempt{}, ErrNotFound
	}
	attempt.ID = uuid.NewString()
	attempt.CreatedAt = time.Now().UTC()
	m.attempts[attempt.QuizID] = append(m.attempts[attempt.QuizID], attempt)
	return attempt, nil
}

func sortByTime[T any](items []T, at func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool { return at(items[i]).Before(at(items[j])) })
}
