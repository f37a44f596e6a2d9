// Package scheduler runs the reminder loops: study session reminders on
// a short tick and next-day exam notices on a daily tick.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohamedahmed66972007/students2026-v6/internal/identity"
	"github.com/mohamedahmed66972007/students2026-v6/internal/store"
	"github.com/mohamedahmed66972007/students2026-v6/internal/study"
)

var (
	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Telegram notifications delivered, by kind.",
	}, []string{"kind"})
	notificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Telegram notifications that could not be delivered, by kind.",
	}, []string{"kind"})
	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_tick_duration_seconds",
		Help:    "Wall time of one scheduler tick, by loop.",
		Buckets: prometheus.DefBuckets,
	}, []string{"loop"})
)

// Transport delivers one message to one chat.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// ExamSource is the slice of the document store the exam loop needs.
type ExamSource interface {
	ListExamsByDate(ctx context.Context, date string) ([]store.Exam, error)
}

type Config struct {
	StudyTickInterval time.Duration
	ExamTickInterval  time.Duration
	ReminderLead      time.Duration
	NotifyTimeout     time.Duration
	Location          *time.Location
}

// Scheduler owns the two loops. A trigger fires exactly once per process:
// the study tick evaluates trigger times against the half-open window
// (lastTick, now], so a trigger is never seen by two consecutive ticks.
type Scheduler struct {
	cfg       Config
	log       *zap.Logger
	directory *identity.Directory
	sessions  *study.Store
	exams     ExamSource
	transport Transport
	redis     *redis.Client

	now func() time.Time

	mu            sync.Mutex
	lastStudyTick time.Time
	sentNotices   map[string]struct{} // exam notice dedup when redis is absent
}

func New(cfg Config, log *zap.Logger, directory *identity.Directory, sessions *study.Store, exams ExamSource, transport Transport, rdb *redis.Client) *Scheduler {
	if cfg.StudyTickInterval <= 0 {
		cfg.StudyTickInterval = 30 * time.Second
	}
	if cfg.ExamTickInterval <= 0 {
		cfg.ExamTickInterval = 24 * time.Hour
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = 5 * time.Minute
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{
		cfg:         cfg,
		log:         log,
		directory:   directory,
		sessions:    sessions,
		exams:       exams,
		transport:   transport,
		redis:       rdb,
		now:         time.Now,
		sentNotices: make(map[string]struct{}),
	}
}

// Start launches both loops. They stop when ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.lastStudyTick = s.now()
	s.mu.Unlock()

	go s.loop(ctx, "study", s.cfg.StudyTickInterval, s.runStudyTick)
	go s.loop(ctx, "exam", s.cfg.ExamTickInterval, s.runExamTick)
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, tick func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			started := time.Now()
			tick(ctx)
			tickDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
		}
	}
}

// runStudyTick sweeps every user's sessions and sends the lead reminder
// and the start notice whose trigger fell inside (lastTick, now].
func (s *Scheduler) runStudyTick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	last := s.lastStudyTick
	s.lastStudyTick = now
	s.mu.Unlock()

	for uid, sessions := range s.sessions.All() {
		user, ok := s.directory.ByUID(uid)
		if !ok {
			continue
		}
		for _, session := range sessions {
			if session.Completed {
				continue
			}
			start, err := session.StartAt(s.cfg.Location)
			if err != nil {
				s.log.Warn("unparseable session time",
					zap.String("uid", uid),
					zap.String("session_id", session.ID),
					zap.Error(err))
				continue
			}
			lead := int(s.cfg.ReminderLead.Minutes())
			if due(start.Add(-s.cfg.ReminderLead), last, now) {
				text := fmt.Sprintf("⏰ %s starts in %d minutes", session.Subject, lead)
				s.deliver(ctx, user.TelegramID, text, "study_lead")
			}
			if due(start, last, now) {
				text := fmt.Sprintf("📚 Time to study %s", session.Subject)
				s.deliver(ctx, user.TelegramID, text, "study_start")
			}
			if session.EndTime == "" {
				continue
			}
			end, err := session.EndAt(s.cfg.Location)
			if err != nil {
				continue
			}
			if due(end.Add(-s.cfg.ReminderLead), last, now) {
				text := fmt.Sprintf("⌛ %s wraps up in %d minutes", session.Subject, lead)
				s.deliver(ctx, user.TelegramID, text, "study_end_lead")
			}
		}
	}
}

// due reports whether trigger falls in the half-open window (last, now].
func due(trigger, last, now time.Time) bool {
	return trigger.After(last) && !trigger.After(now)
}

// runExamTick notifies every user about tomorrow's exams. Each exam
// notice is claimed once per date and subject, so restarts and multiple
// replicas sharing Redis do not repeat it.
func (s *Scheduler) runExamTick(ctx context.Context) {
	tomorrow := s.now().In(s.cfg.Location).AddDate(0, 0, 1).Format("2006-01-02")
	exams, err := s.exams.ListExamsByDate(ctx, tomorrow)
	if err != nil {
		s.log.Error("listing exams for notice", zap.Error(err))
		return
	}
	for _, exam := range exams {
		if !s.claimExamNotice(ctx, exam.Date, exam.Subject) {
			continue
		}
		text := fmt.Sprintf("📝 Reminder: %s exam tomorrow (%s)", exam.Subject, exam.Date)
		if exam.Topics != "" {
			text += "\nTopics: " + exam.Topics
		}
		s.Broadcast(ctx, text, "exam_notice")
	}
}

// claimExamNotice returns true at most once per date and subject. Redis
// claims survive restarts; the in-memory fallback is per process.
func (s *Scheduler) claimExamNotice(ctx context.Context, date, subject string) bool {
	key := "exam_notice:" + date + ":" + subject
	if s.redis == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, sent := s.sentNotices[key]; sent {
			return false
		}
		s.sentNotices[key] = struct{}{}
		return true
	}
	ok, err := s.redis.SetNX(ctx, key, "1", 48*time.Hour).Result()
	if err != nil {
		s.log.Warn("exam notice claim failed, sending anyway", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

// Broadcast sends text to every known user. Failures are isolated per
// recipient; one unreachable chat never blocks the rest.
func (s *Scheduler) Broadcast(ctx context.Context, text, kind string) {
	for _, user := range s.directory.All() {
		s.deliver(ctx, user.TelegramID, text, kind)
	}
}

func (s *Scheduler) deliver(ctx context.Context, chatID int64, text, kind string) {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.transport.SendMessage(sendCtx, chatID, text); err != nil {
		notificationsFailed.WithLabelValues(kind).Inc()
		s.log.Warn("notification failed",
			zap.Int64("chat_id", chatID),
			zap.String("kind", kind),
			zap.Error(err))
		return
	}
	notificationsSent.WithLabelValues(kind).Inc()
}
