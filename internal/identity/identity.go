package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mohamedahmed66972007/students2026-v6/internal/telegram"
)

var ErrNotFound = errors.New("user not found")

// UserRecord is the directory's view of a verified user. Methods on
// Directory return copies; the authoritative record never leaves the
// directory.
type UserRecord struct {
	TelegramID   int64     `json:"telegramId"`
	UID          string    `json:"uid"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName,omitempty"`
	Username     string    `json:"username,omitempty"`
	LanguageCode string    `json:"-"`
	IsAdmin      bool      `json:"isAdmin"`
	IsMainAdmin  bool      `json:"isMainAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Directory maps platform identities to user records and owns the admin
// set. State lives for the process lifetime.
type Directory struct {
	mainAdminUsername string

	mu           sync.RWMutex
	byTelegramID map[int64]*UserRecord
	byUID        map[string]*UserRecord
	admins       map[int64]struct{}
}

func NewDirectory(mainAdminUsername string) *Directory {
	return &Directory{
		mainAdminUsername: mainAdminUsername,
		byTelegramID:      make(map[int64]*UserRecord),
		byUID:             make(map[string]*UserRecord),
		admins:            make(map[int64]struct{}),
	}
}

// Resolve returns the record for a verified platform identity, creating it
// on first sight. Creation assigns the UID and, when the handle matches the
// configured main admin, performs the one-time main-admin promotion.
// Resolving an already known identity is a pure read.
func (d *Directory) Resolve(user telegram.WebAppUser) UserRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	if record, ok := d.byTelegramID[user.ID]; ok {
		return *record
	}

	record := &UserRecord{
		TelegramID:   user.ID,
		UID:          newUID(),
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		Username:     user.Username,
		LanguageCode: user.LanguageCode,
		IsAdmin:      false,
		IsMainAdmin:  false,
		CreatedAt:    time.Now().UTC(),
	}
	if _, ok := d.admins[user.ID]; ok {
		record.IsAdmin = true
	}
	if d.mainAdminUsername != "" && strings.EqualFold(user.Username, d.mainAdminUsername) {
		record.IsAdmin = true
		record.IsMainAdmin = true
		d.admins[user.ID] = struct{}{}
	}
	d.byTelegramID[user.ID] = record
	d.byUID[record.UID] = record
	return *record
}

func (d *Directory) ByUID(uid string) (UserRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	record, ok := d.byUID[uid]
	if !ok {
		return UserRecord{}, false
	}
	return *record, true
}

func (d *Directory) ByTelegramID(telegramID int64) (UserRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	record, ok := d.byTelegramID[telegramID]
	if !ok {
		return UserRecord{}, false
	}
	return *record, true
}

// All returns a snapshot of every known user, oldest first.
func (d *Directory) All() []UserRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	records := make([]UserRecord, 0, len(d.byTelegramID))
	for _, record := range d.byTelegramID {
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].UID < records[j].UID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

func (d *Directory) IsAdmin(telegramID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.admins[telegramID]
	return ok
}

func (d *Directory) IsMainAdmin(telegramID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	record, ok := d.byTelegramID[telegramID]
	return ok && record.IsMainAdmin
}

// Promote grants admin tier to a platform id. Only the main admin may grow
// the admin set; the target need not have been seen yet, in which case the
// grant applies when the record is eventually created via the admin set.
func (d *Directory) Promote(byTelegramID, targetTelegramID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	actor, ok := d.byTelegramID[byTelegramID]
	if !ok || !actor.IsMainAdmin {
		return false
	}
	d.admins[targetTelegramID] = struct{}{}
	if target, ok := d.byTelegramID[targetTelegramID]; ok {
		target.IsAdmin = true
	}
	return true
}

// newUID renders 8 unpredictable bytes as fixed-width uppercase hex.
// Collisions are not re-checked; the space is far larger than any
// plausible user population.
func newUID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic("identity: crypto/rand unavailable: " + err.Error())
	}
	return strings.ToUpper(hex.EncodeToString(buf))
}
