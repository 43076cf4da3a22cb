package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	mu sync.Mutex

	users  map[int64]User
	nextID int64

	pubs        []PublicationSummary
	pubInputs   []NewPublication
	attachments map[int64][]string
	lookups     map[int64]string

	// failPaths makes AddAttachments fail for the listed paths.
	failPaths map[string]bool
	// err, when set, is returned by every method.
	err error
	// pubErr is returned by CreatePublication only.
	pubErr error
	now    func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[int64]User{},
		attachments: map[int64][]string{},
		lookups:     map[int64]string{},
		failPaths:   map[string]bool{},
		now:         time.Now,
	}
}

func (f *fakeStore) CreateUser(_ context.Context, u NewUser) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return 0, fmt.Errorf("insert user: %w", errors.New("duplicate email"))
		}
	}
	f.nextID++
	f.users[f.nextID] = User{
		ID: f.nextID, Name: u.Name, Surname: u.Surname, Email: u.Email,
		Phone: u.Phone, Location: u.Location, PasswordHash: u.PasswordHash,
	}
	return f.nextID, nil
}

func (f *fakeStore) UserByEmail(_ context.Context, email string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return User{}, f.err
	}
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (f *fakeStore) UserByID(_ context.Context, id int64) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return User{}, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) UpdateUser(_ context.Context, id int64, up ProfileUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil
	}
	u.Name, u.Surname, u.Email, u.Phone, u.Location = up.Name, up.Surname, up.Email, up.Phone, up.Location
	if up.PasswordHash != "" {
		u.PasswordHash = up.PasswordHash
	}
	f.users[id] = u
	return nil
}

func (f *fakeStore) DeleteUser(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.users, id)
	return nil
}

func (f *fakeStore) CreatePublication(_ context.Context, p NewPublication) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.pubErr != nil {
		return 0, f.pubErr
	}
	id := int64(len(f.pubs) + 1)
	f.pubInputs = append(f.pubInputs, p)
	f.pubs = append(f.pubs, PublicationSummary{
		ID:           id,
		AuthorID:     p.AuthorID,
		Title:        p.Title,
		Description:  p.Description,
		Priority:     p.Priority,
		CreatedAt:    f.now(),
		Region:       f.lookup(p.RegionID),
		Municipality: f.lookup(p.MunicipalityID),
		Neighborhood: f.lookup(p.NeighborhoodID),
	})
	return id, nil
}

func (f *fakeStore) lookup(id *int64) *string {
	if id == nil {
		return nil
	}
	name, ok := f.lookups[*id]
	if !ok {
		return nil
	}
	return &name
}

func (f *fakeStore) AddAttachments(_ context.Context, pubID int64, paths []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var errs []error
	saved := 0
	for _, p := range paths {
		if f.failPaths[p] {
			errs = append(errs, fmt.Errorf("insert attachment %q: boom", p))
			continue
		}
		f.attachments[pubID] = append(f.attachments[pubID], p)
		saved++
	}
	return saved, errors.Join(errs...)
}

func (f *fakeStore) ListPublications(_ context.Context) ([]PublicationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	// Inner join on the author: publications of deleted users are skipped.
	out := make([]PublicationSummary, 0, len(f.pubs))
	for _, p := range f.pubs {
		author, ok := f.users[p.AuthorID]
		if !ok {
			continue
		}
		p.Author = author.Name
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (f *fakeStore) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
