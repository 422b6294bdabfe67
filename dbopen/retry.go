package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Retry defaults: 3 attempts, waiting 100 ms then 200 ms between them.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 100 * time.Millisecond
)

// SQLite primary result codes for lock contention.
const (
	codeBusy   = 5
	codeLocked = 6
)

// IsBusy reports whether err is SQLite lock contention: a driver error
// carrying SQLITE_BUSY or SQLITE_LOCKED, or a message that names it.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		switch coded.Code() & 0xff {
		case codeBusy, codeLocked:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RetryOption tunes the BUSY retry of RunTx and Exec.
type RetryOption func(*retryConfig)

type retryConfig struct {
	attempts int
	backoff  time.Duration
}

// WithAttempts sets how many times a BUSY operation is tried. n < 1 selects
// DefaultAttempts.
func WithAttempts(n int) RetryOption { return func(c *retryConfig) { c.attempts = n } }

// WithBackoff sets the wait step: attempt i waits i*d before running again.
func WithBackoff(d time.Duration) RetryOption { return func(c *retryConfig) { c.backoff = d } }

// RetryError is the final error of a retried operation with the number of
// attempts made. It unwraps to the last attempt's error.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	if e.Attempts <= 1 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (after %d attempts)", e.Err, e.Attempts)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Attempts returns the attempt count carried by a *RetryError in err's
// chain, or 0 when there is none.
func Attempts(err error) int {
	var re *RetryError
	if errors.As(err, &re) {
		return re.Attempts
	}
	return 0
}

// RunTx executes fn inside a transaction, rolling back and trying again
// while the failure is SQLITE_BUSY. A failure is returned as *RetryError.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error, opts ...RetryOption) error {
	return retry(ctx, opts, func() error { return runOnce(ctx, db, fn) })
}

// Exec executes a statement with the same BUSY retry as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retry(ctx, nil, func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func retry(ctx context.Context, opts []RetryOption, op func() error) error {
	cfg := retryConfig{attempts: DefaultAttempts, backoff: DefaultBackoff}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.attempts < 1 {
		cfg.attempts = DefaultAttempts
	}

	for i := 1; ; i++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsBusy(err) || i == cfg.attempts {
			return &RetryError{Attempts: i, Err: err}
		}
		if err := sleepCtx(ctx, time.Duration(i)*cfg.backoff); err != nil {
			return &RetryError{Attempts: i, Err: fmt.Errorf("dbopen: context cancelled during retry: %w", err)}
		}
	}
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
