package lifecycle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/rekindle/internal/db"
	"github.com/lalithlochan/rekindle/internal/mail"
)

// memStore is an in-memory stand-in for the Postgres repositories. It keeps
// the two guarantees the engine relies on: one live dispatch per
// (user, position) and an exclusive per-user lock.
type memStore struct {
	mu         sync.Mutex
	users      map[uuid.UUID]*db.User
	activity   map[uuid.UUID][]time.Time
	dispatches []*db.Dispatch
	jobs       []*db.Job
	nextID     int64

	locks map[uuid.UUID]*sync.Mutex

	latestErr error
	clearErr  error
	commitErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[uuid.UUID]*db.User{},
		activity: map[uuid.UUID][]time.Time{},
		locks:    map[uuid.UUID]*sync.Mutex{},
	}
}

func (s *memStore) addUser(email string, createdAt time.Time) *db.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &db.User{ID: uuid.New(), Email: email, Name: "Reader", CreatedAt: createdAt}
	s.users[u.ID] = u
	s.locks[u.ID] = &sync.Mutex{}
	return u
}

func (s *memStore) read(userID uuid.UUID, on time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	y, m, d := on.UTC().Date()
	s.activity[userID] = append(s.activity[userID], time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func (s *memStore) user(userID uuid.UUID) db.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[userID]
}

func (s *memStore) live(userID uuid.UUID) []*db.Dispatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Dispatch
	for _, d := range s.dispatches {
		if d.UserID == userID && !d.Tombstoned() {
			out = append(out, d)
		}
	}
	return out
}

func (s *memStore) lastRead(userID uuid.UUID) *time.Time {
	var last *time.Time
	for _, day := range s.activity[userID] {
		if last == nil || day.After(*last) {
			d := day
			last = &d
		}
	}
	return last
}

func (s *memStore) ListChurnCandidates(ctx context.Context, now time.Time, inactivity time.Duration) ([]*db.ChurnCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := db.NewChurnWindow(now, inactivity)

	var out []*db.ChurnCandidate
	for _, u := range s.users {
		if u.OptedOut() {
			continue
		}
		last := s.lastRead(u.ID)
		if !window.Includes(last, u.CreatedAt) {
			continue
		}
		out = append(out, &db.ChurnCandidate{UserID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt, LastReadOn: last})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *memStore) Latest(ctx context.Context, userID uuid.UUID) (*db.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestErr != nil {
		return nil, s.latestErr
	}
	var latest *db.Dispatch
	for _, d := range s.dispatches {
		if d.UserID != userID || d.Tombstoned() {
			continue
		}
		if latest == nil || d.Position > latest.Position {
			latest = d
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (s *memStore) Record(ctx context.Context, userID uuid.UUID, position int, sentAt time.Time) (*db.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.dispatches {
		if d.UserID == userID && d.Position == position && !d.Tombstoned() {
			return nil, db.ErrDuplicateDispatch
		}
	}
	s.nextID++
	d := &db.Dispatch{ID: s.nextID, UserID: userID, Position: position, SentAt: sentAt, CreatedAt: sentAt, UpdatedAt: sentAt}
	s.dispatches = append(s.dispatches, d)
	return d, nil
}

func (s *memStore) HasActivitySince(ctx context.Context, userID uuid.UUID, day time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.activity[userID] {
		if !d.Before(day) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) SetReminderMarker(ctx context.Context, userID uuid.UUID, at time.Time) (time.Time, error) {
	lock, ok := s.locks[userID]
	if !ok {
		return time.Time{}, db.ErrUserNotFound
	}
	// UPDATE waits for a FOR UPDATE holder like Postgres does.
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	marker := at.UTC().Truncate(time.Microsecond)
	s.users[userID].OnboardingReminderRequested = &marker
	return marker, nil
}

func (s *memStore) Enqueue(ctx context.Context, job *db.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Kind == job.Kind && j.UserID == job.UserID && j.Correlation.Equal(job.Correlation) {
			return false, nil
		}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = db.JobStatusPending
	s.jobs = append(s.jobs, job)
	return true, nil
}

func (s *memStore) LockUser(ctx context.Context, userID uuid.UUID) (LockedUser, error) {
	s.mu.Lock()
	lock, ok := s.locks[userID]
	s.mu.Unlock()
	if !ok {
		return nil, db.ErrUserNotFound
	}

	lock.Lock()

	s.mu.Lock()
	snapshot := *s.users[userID]
	s.mu.Unlock()

	return &memLock{store: s, lock: lock, user: &snapshot}, nil
}

type memLock struct {
	store   *memStore
	lock    *sync.Mutex
	user    *db.User
	cleared bool
	done    bool
}

func (l *memLock) User() *db.User { return l.user }

func (l *memLock) HasAnyActivity(ctx context.Context) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return len(l.store.activity[l.user.ID]) > 0, nil
}

func (l *memLock) ClearReminderMarker(ctx context.Context, expected time.Time) (bool, error) {
	if l.store.clearErr != nil {
		return false, l.store.clearErr
	}
	if l.user.OnboardingReminderRequested == nil || !l.user.OnboardingReminderRequested.Equal(expected) {
		return false, nil
	}
	l.user.OnboardingReminderRequested = nil
	l.cleared = true
	return true, nil
}

func (l *memLock) Commit(ctx context.Context) error {
	if l.done {
		return errors.New("transaction closed")
	}
	if l.store.commitErr != nil {
		return l.store.commitErr
	}
	l.store.mu.Lock()
	if l.cleared {
		l.store.users[l.user.ID].OnboardingReminderRequested = nil
	}
	l.store.mu.Unlock()
	l.done = true
	l.lock.Unlock()
	return nil
}

func (l *memLock) Rollback(ctx context.Context) error {
	if l.done {
		return nil
	}
	l.done = true
	l.lock.Unlock()
	return nil
}

// fakeTransport records accepted messages and fails for chosen recipients.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []*mail.Message
	failTo map[string]error
}

func (f *fakeTransport) Send(ctx context.Context, msg *mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failTo[msg.To]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) sentTo(email string) []*mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*mail.Message
	for _, m := range f.sent {
		if m.To == email {
			out = append(out, m)
		}
	}
	return out
}

// clock is a settable time source shared by the components under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

const day = 24 * time.Hour
