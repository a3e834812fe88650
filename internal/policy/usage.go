package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/total-audio/meshos/pkg/mesh"
)

// StoreUsage keeps consumption counters in the workspace's key/value state.
// Counter keys carry their period (day, ISO week, hour or month) so stale
// periods fall away naturally without explicit resets.
type StoreUsage struct {
	store *mesh.Store
	now   func() time.Time
}

// NewStoreUsage creates a store-backed usage source.
func NewStoreUsage(store *mesh.Store) *StoreUsage {
	return &StoreUsage{store: store, now: time.Now}
}

func (u *StoreUsage) dayKey(prefix string) string {
	return fmt.Sprintf("usage:%s:%s", prefix, u.now().UTC().Format("2006-01-02"))
}

func (u *StoreUsage) weekKey(prefix string) string {
	year, week := u.now().UTC().ISOWeek()
	return fmt.Sprintf("usage:%s:%d-W%02d", prefix, year, week)
}

func (u *StoreUsage) hourKey(prefix string) string {
	return fmt.Sprintf("usage:%s:%s", prefix, u.now().UTC().Format("2006-01-02T15"))
}

func (u *StoreUsage) monthKey(prefix string) string {
	return fmt.Sprintf("usage:%s:%s", prefix, u.now().UTC().Format("2006-01"))
}

// RecordContact counts one outreach to a contact against the daily and
// weekly fatigue windows.
func (u *StoreUsage) RecordContact(ctx context.Context, contact string) error {
	if _, err := u.store.IncrState(ctx, u.dayKey("contacts:"+contact), 1); err != nil {
		return err
	}
	_, err := u.store.IncrState(ctx, u.weekKey("contacts:"+contact), 1)
	return err
}

// RecordAction counts one autonomous action against the hourly rate limit.
func (u *StoreUsage) RecordAction(ctx context.Context) error {
	_, err := u.store.IncrState(ctx, u.hourKey("actions"), 1)
	return err
}

// RecordTokens counts token spend against the daily and monthly budgets.
func (u *StoreUsage) RecordTokens(ctx context.Context, n int) error {
	if _, err := u.store.IncrState(ctx, u.dayKey("tokens"), int64(n)); err != nil {
		return err
	}
	_, err := u.store.IncrState(ctx, u.monthKey("tokens"), int64(n))
	return err
}

func (u *StoreUsage) ContactsToday(ctx context.Context, contact string) (int, error) {
	n, err := u.store.GetStateInt(ctx, u.dayKey("contacts:"+contact))
	return int(n), err
}

func (u *StoreUsage) ContactsThisWeek(ctx context.Context, contact string) (int, error) {
	n, err := u.store.GetStateInt(ctx, u.weekKey("contacts:"+contact))
	return int(n), err
}

func (u *StoreUsage) ActionsThisHour(ctx context.Context) (int, error) {
	n, err := u.store.GetStateInt(ctx, u.hourKey("actions"))
	return int(n), err
}

func (u *StoreUsage) TokensToday(ctx context.Context) (int, error) {
	n, err := u.store.GetStateInt(ctx, u.dayKey("tokens"))
	return int(n), err
}

func (u *StoreUsage) TokensThisMonth(ctx context.Context) (int, error) {
	n, err := u.store.GetStateInt(ctx, u.monthKey("tokens"))
	return int(n), err
}

// StaticUsage is a fixed-counter usage source for tests and dry runs.
type StaticUsage struct {
	Contacts    map[string]int // Per-contact daily count
	WeekContact map[string]int // Per-contact weekly count
	Actions     int
	DayTokens   int
	MonthTokens int
	Err         error // Returned from every read when set
}

func (u *StaticUsage) ContactsToday(ctx context.Context, contact string) (int, error) {
	return u.Contacts[contact], u.Err
}

func (u *StaticUsage) ContactsThisWeek(ctx context.Context, contact string) (int, error) {
	return u.WeekContact[contact], u.Err
}

func (u *StaticUsage) ActionsThisHour(ctx context.Context) (int, error) {
	return u.Actions, u.Err
}

func (u *StaticUsage) TokensToday(ctx context.Context) (int, error) {
	return u.DayTokens, u.Err
}

func (u *StaticUsage) TokensThisMonth(ctx context.Context) (int, error) {
	return u.MonthTokens, u.Err
}
