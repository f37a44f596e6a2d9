package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres persists documents in a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Store = (*Postgres)(nil)

// EnsureSchema creates the document tables when they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			subject TEXT NOT NULL,
			semester TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			data BYTEA NOT NULL,
			uploaded_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS exam_weeks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS exams (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			date TEXT NOT NULL,
			day TEXT NOT NULL DEFAULT '',
			topics TEXT NOT NULL DEFAULT '',
			week_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS quizzes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			subject TEXT NOT NULL,
			creator TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL UNIQUE,
			questions JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS quiz_attempts (
			id TEXT PRIMARY KEY,
			quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			score INT NOT NULL,
			total INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS exams_date_idx ON exams (date);
		CREATE INDEX IF NOT EXISTS quiz_attempts_quiz_idx ON quiz_attempts (quiz_id);
	`)
	return err
}

func (p *Postgres) ListFiles(ctx context.Context) ([]File, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, title, subject, semester, file_name, file_path, uploaded_at
		FROM files
		ORDER BY uploaded_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.Title, &f.Subject, &f.Semester, &f.FileName, &f.FilePath, &f.UploadedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (p *Postgres) GetFile(ctx context.Context, id string) (File, error) {
	var f File
	row := p.pool.QueryRow(ctx, `
		SELECT id, title, subject, semester, file_name, file_path, uploaded_at
		FROM files
		WHERE id = $1
	`, id)
	err := row.Scan(&f.ID, &f.Title, &f.Subject, &f.Semester, &f.FileName, &f.FilePath, &f.UploadedAt)
	return f, mapErr(err)
}

func (p *Postgres) GetFileData(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM files WHERE id = $1`, id).Scan(&data)
	return data, mapErr(err)
}

func (p *Postgres) CreateFile(ctx context.Context, file File, data []byte) (File, error) {
	file.ID = uuid.NewString()
	file.FilePath = "/uploads/" + file.ID + "/" + file.FileName
	file.UploadedAt = time.Now().UTC()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO files (id, title, subject, semester, file_name, file_path, data, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, file.ID, file.Title, file.Subject, file.Semester, file.FileName, file.FilePath, data, file.UploadedAt)
	return file, err
}

func (p *Postgres) DeleteFile(ctx context.Context, id string) error {
	return p.deleteRow(ctx, `DELETE FROM files WHERE id = $1`, id)
}

func (p *Postgres) ListExamWeeks(ctx context.Context) ([]ExamWeek, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, title, start_date, end_date, created_at
		FROM exam_weeks
		ORDER BY start_date
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var weeks []ExamWeek
	for rows.Next() {
		var w ExamWeek
		if err := rows.Scan(&w.ID, &w.Title, &w.StartDate, &w.EndDate, &w.CreatedAt); err != nil {
			return nil, err
		}
		weeks = append(weeks, w)
	}
	return weeks, rows.Err()
}

func (p *Postgres) CreateExamWeek(ctx context.Context, week ExamWeek) (ExamWeek, error) {
	week.ID = uuid.NewString()
	week.CreatedAt = time.Now().UTC()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO exam_weeks (id, title, start_date, end_date, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, week.ID, week.Title, week.StartDate, week.EndDate, week.CreatedAt)
	return week, err
}

func (p *Postgres) DeleteExamWeek(ctx context.Context, id string) error {
	if err := p.deleteRow(ctx, `DELETE FROM exam_weeks WHERE id = $1`, id); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `UPDATE exams SET week_id = '' WHERE week_id = $1`, id)
	return err
}

func (p *Postgres) ListExams(ctx context.Context) ([]Exam, error) {
	return p.queryExams(ctx, `
		SELECT id, subject, date, day, topics, week_id, created_at
		FROM exams
		ORDER BY date, subject
	`)
}

func (p *Postgres) ListExamsByWeek(ctx context.Context, weekID string) ([]Exam, error) {
	return p.queryExams(ctx, `
		SELECT id, subject, date, day, topics, week_id, created_at
		FROM exams
		WHERE week_id = $1
		ORDER BY date, subject
	`, weekID)
}

func (p *Postgres) ListExamsByDate(ctx context.Context, date string) ([]Exam, error) {
	return p.queryExams(ctx, `
		SELECT id, subject, date, day, topics, week_id, created_at
		FROM exams
		WHERE date = $1
		ORDER BY subject
	`, date)
}

func (p *Postgres) queryExams(ctx context.Context, query string, args ...any) ([]Exam, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []Exam
	for rows.Next() {
		var e Exam
		if err := rows.Scan(&e.ID, &e.Subject, &e.Date, &e.Day, &e.Topics, &e.WeekID, &e.CreatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

func (p *Postgres) CreateExam(ctx context.Context, exam Exam) (Exam, error) {
	exam.ID = uuid.NewString()
	exam.CreatedAt = time.Now().UTC()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO exams (id, subject, date, day, topics, week_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, exam.ID, exam.Subject, exam.Date, exam.Day, exam.Topics, exam.WeekID, exam.CreatedAt)
	return exam, err
}

func (p *Postgres) DeleteExam(ctx context.Context, id string) error {
	return p.deleteRow(ctx, `DELETE FROM exams WHERE id = $1`, id)
}

func (p *Postgres) ListQuizzes(ctx context.Context) ([]Quiz, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, title, subject, creator, code, questions, created_at
		FROM quizzes
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quizzes []Quiz
	for rows.Next() {
		var q Quiz
		if err := rows.Scan(&q.ID, &q.Title, &q.Subject, &q.Creator, &q.Code, &q.Questions, &q.CreatedAt); err != nil {
			return nil, err
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}

func (p *Postgres) GetQuiz(ctx context.Context, id string) (Quiz, error) {
	return p.queryQuiz(ctx, `
		SELECT id, title, subject, creator, code, questions, created_at
		FROM quizzes
		WHERE id = $1
	`, id)
}

func (p *Postgres) GetQuizByCode(ctx context.Context, code string) (Quiz, error) {
	return p.queryQuiz(ctx, `
		SELECT id, title, subject, creator, code, questions, created_at
		FROM quizzes
		WHERE upper(code) = upper($1)
	`, code)
}

func (p *Postgres) queryQuiz(ctx context.Context, query string, arg any) (Quiz, error) {
	var q Quiz
	row := p.pool.QueryRow(ctx, query, arg)
	err := row.Scan(&q.ID, &q.Title, &q.Subject, &q.Creator, &q.Code, &q.Questions, &q.CreatedAt)
	return q, mapErr(err)
}

func (p *Postgres) CreateQuiz(ctx context.Context, quiz Quiz) (Quiz, error) {
	quiz.ID = uuid.NewString()
	if quiz.Code == "" {
		quiz.Code = newQuizCode()
	}
	quiz.CreatedAt = time.Now().UTC()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO quizzes (id, title, subject, creator, code, questions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, quiz.ID, quiz.Title, quiz.Subject, quiz.Creator, quiz.Code, quiz.Questions, quiz.CreatedAt)
	return quiz, err
}

func (p *Postgres) DeleteQuiz(ctx context.Context, id string) error {
	return p.deleteRow(ctx, `DELETE FROM quizzes WHERE id = $1`, id)
}

func (p *Postgres) ListQuizAttempts(ctx context.Context, quizID string) ([]QuizAttempt, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, quiz_id, name, score, total, created_at
		FROM quiz_attempts
		WHERE quiz_id = $1
		ORDER BY created_at
	`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []QuizAttempt
	for rows.Next() {
		var a QuizAttempt
		if err := rows.Scan(&a.ID, &a.QuizID, &a.Name, &a.Score, &a.Total, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (p *Postgres) CreateQuizAttempt(ctx context.Context, attempt QuizAttempt) (QuizAttempt, error) {
	if _, err := p.GetQuiz(ctx, attempt.QuizID); err != nil {
		return QuizAttempt{}, err
	}
	attempt.ID = uuid.NewString()
	attempt.CreatedAt = time.Now().UTC()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO quiz_attempts (id, quiz_id, name, score, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, attempt.ID, attempt.QuizID, attempt.Name, attempt.Score, attempt.Total, attempt.CreatedAt)
	return attempt, err
}

func (p *Postgres) deleteRow(ctx context.Context, query, id string) error {
	tag, err := p.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
