package database

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

type txKey struct{}

// txState travels in the context for the lifetime of one outermost transaction.
type txState struct {
	tx    *gorm.DB
	mu    sync.Mutex
	hooks []func()
}

// Conn returns the transaction carried by ctx or, outside a transaction, db bound to ctx.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		return st.tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txState)
	return ok
}

// WithTransaction runs fn in a single transaction. Nested calls join the outer transaction.
// AfterCommit hooks registered inside fn run once the outermost transaction has committed.
func WithTransaction(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	st := &txState{}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st.tx = tx
		return fn(context.WithValue(ctx, txKey{}, st))
	})
	if err != nil {
		return err
	}

	st.mu.Lock()
	hooks := st.hooks
	st.hooks = nil
	st.mu.Unlock()
	for _, h := range hooks {
		runHook(h)
	}
	return nil
}

// AfterCommit defers fn until the surrounding transaction commits. Without a transaction fn runs
// immediately; a rolled back transaction drops it.
func AfterCommit(ctx context.Context, fn func()) {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok {
		runHook(fn)
		return
	}
	st.mu.Lock()
	st.hooks = append(st.hooks, fn)
	st.mu.Unlock()
}

func runHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Database] after-commit hook panicked: %v", r)
		}
	}()
	fn()
}

// Transactor is the transaction boundary used by services that must not depend on gorm directly.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type gormTransactor struct {
	db *gorm.DB
}

func NewTransactor(db *gorm.DB) Transactor {
	return &gormTransactor{db: db}
}

func (t *gormTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithTransaction(ctx, t.db, fn)
}
