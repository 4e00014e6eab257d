// Package audit is an in-process, non-durable journal of cache
// operations (lookup, reserve, put, get), queried by the CLI's "status"
// and "keys" subcommands. It is backed by GORM over an in-memory SQLite
// database: opening a fresh ":memory:" connection on every process start
// means the journal never survives a restart, satisfying the library's
// "no persistence across process restarts" non-goal while still giving
// the CLI a real, queryable store rather than an ad-hoc slice.
//
// Grounded on the teacher's internal/state/state.go (schema-on-open,
// one table per concern), generalized from a raw database/sql handle to
// GORM's ORM so structured queries (e.g. "last 10 failed puts") read
// naturally from the CLI.
package audit

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Operation names recorded in Entry.Op.
const (
	OpEntry   = "entry"
	OpReserve = "reserve"
	OpPut     = "put"
	OpGet     = "get"
)

// Entry is one journaled operation.
type Entry struct {
	ID        uint `gorm:"primarykey"`
	Op        string
	Key       string
	Version   string
	Bytes     int64
	Duration  time.Duration
	Succeeded bool
	Detail    string
	CreatedAt time.Time
}

// Journal is a handle to the in-memory audit store. A nil *Journal is a
// valid no-op receiver, mirroring internal/metrics.Manager's pattern, so
// callers can pass a possibly-disabled journal through without branching.
type Journal struct {
	db *gorm.DB
}

// Open starts a fresh in-memory journal. Every call gets its own isolated
// database; there is no on-disk file and nothing to clean up.
func Open() (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("opening in-memory audit journal: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrating audit journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends an entry to the journal. Safe to call on a nil *Journal.
func (j *Journal) Record(e Entry) error {
	if j == nil {
		return nil
	}
	e.CreatedAt = time.Now()
	return j.db.Create(&e).Error
}

// Recent returns the most recent n entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	if j == nil {
		return nil, nil
	}
	var entries []Entry
	err := j.db.Order("id DESC").Limit(n).Find(&entries).Error
	return entries, err
}

// Failures returns the most recent n failed operations, newest first.
func (j *Journal) Failures(n int) ([]Entry, error) {
	if j == nil {
		return nil, nil
	}
	var entries []Entry
	err := j.db.Where("succeeded = ?", false).Order("id DESC").Limit(n).Find(&entries).Error
	return entries, err
}

// Summary aggregates counts and byte totals per operation kind, used by
// the CLI "status" subcommand.
type Summary struct {
	Op           string
	Count        int64
	Successes    int64
	TotalBytes   int64
}

func (j *Journal) Summarize() ([]Summary, error) {
	if j == nil {
		return nil, nil
	}
	var out []Summary
	err := j.db.Model(&Entry{}).
		Select("op, count(*) as count, sum(case when succeeded then 1 else 0 end) as successes, sum(bytes) as total_bytes").
		Group("op").
		Scan(&out).Error
	return out, err
}
