package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxpost/internal/blob"
	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/sysmsg"
)

// FakeUoW is an in-memory UnitOfWork for tests. It is reusable across
// Begin calls so a test can observe state between webhook deliveries.
type FakeUoW struct {
	mu sync.Mutex

	users     map[string]models.User
	messages  map[string]models.Message
	files     map[string]models.File
	addresses map[string]models.Address
	drafts    map[string]models.Draft
	orders    map[string]models.Order
	sysMsgs   map[string]string

	memoStore   *blob.MemoryStore
	letterStore *blob.MemoryStore

	Commits   int
	Rollbacks int

	clock int64
}

func NewFakeUoW() *FakeUoW {
	return &FakeUoW{
		users:       map[string]models.User{},
		messages:    map[string]models.Message{},
		files:       map[string]models.File{},
		addresses:   map[string]models.Address{},
		drafts:      map[string]models.Draft{},
		orders:      map[string]models.Order{},
		sysMsgs:     map[string]string{},
		memoStore:   blob.NewMemoryStore(),
		letterStore: blob.NewMemoryStore(),
	}
}

// Begin lets the same FakeUoW double as a Factory.
func (f *FakeUoW) Begin(context.Context) (UnitOfWork, error) { return f, nil }

func (f *FakeUoW) Users() UserRepo                   { return fakeUserRepo{f} }
func (f *FakeUoW) Messages() MessageRepo             { return fakeMessageRepo{f} }
func (f *FakeUoW) Files() FileRepo                   { return fakeFileRepo{f} }
func (f *FakeUoW) Addresses() AddressRepo            { return fakeAddressRepo{f} }
func (f *FakeUoW) Drafts() DraftRepo                 { return fakeDraftRepo{f} }
func (f *FakeUoW) Orders() OrderRepo                 { return fakeOrderRepo{f} }
func (f *FakeUoW) SystemMessages() SystemMessageRepo { return fakeSystemMessageRepo{f} }
func (f *FakeUoW) Memos() blob.Store                 { return f.memoStore }
func (f *FakeUoW) Letters() blob.Store               { return f.letterStore }

func (f *FakeUoW) Commit() error {
	f.Commits++
	return nil
}

func (f *FakeUoW) Rollback() error {
	f.Rollbacks++
	return nil
}

// MemoBlobs exposes the memo store for assertions.
func (f *FakeUoW) MemoBlobs() *blob.MemoryStore { return f.memoStore }

// LetterBlobs exposes the letter store for assertions.
func (f *FakeUoW) LetterBlobs() *blob.MemoryStore { return f.letterStore }

// SeedUser inserts a user directly.
func (f *FakeUoW) SeedUser(u models.User) models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = f.tickLocked()
	}
	f.users[u.ID] = u
	return u
}

// SeedSystemMessage overrides one copy entry.
func (f *FakeUoW) SeedSystemMessage(id, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sysMsgs[id] = body
}

// tickLocked hands out strictly increasing timestamps so ordering by
// created_at is deterministic even within one test.
func (f *FakeUoW) tickLocked() time.Time {
	f.clock++
	return time.Unix(1700000000, f.clock*int64(time.Millisecond))
}

type fakeUserRepo struct{ f *FakeUoW }

func (r fakeUserRepo) Add(_ context.Context, u models.User) (models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = r.f.tickLocked()
	}
	for _, existing := range r.f.users {
		if (u.PhoneNumber != "" && existing.PhoneNumber == u.PhoneNumber) ||
			(u.TelegramID != "" && existing.TelegramID == u.TelegramID) ||
			(u.Email != "" && existing.Email == u.Email) {
			return models.User{}, ErrDuplicate
		}
	}
	r.f.users[u.ID] = u
	return u, nil
}

func (r fakeUserRepo) Get(_ context.Context, id string) (models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (r fakeUserRepo) GetByPhone(_ context.Context, phone string) (models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, u := range r.f.users {
		if u.PhoneNumber == phone {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (r fakeUserRepo) GetByTelegramID(_ context.Context, telegramID string) (models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, u := range r.f.users {
		if u.TelegramID == telegramID {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (r fakeUserRepo) UpdatePrompt(_ context.Context, id, prompt string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Prompt = prompt
	r.f.users[id] = u
	return nil
}

func (r fakeUserRepo) UpdateCredits(_ context.Context, id string, credits int) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LetterCredits = credits
	r.f.users[id] = u
	return nil
}

type fakeMessageRepo struct{ f *FakeUoW }

func (r fakeMessageRepo) Add(_ context.Context, m models.Message) (models.Message, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = r.f.tickLocked()
	}
	if m.Whatsapp != nil && m.Whatsapp.MID != "" && m.SentBy == "user" {
		for _, existing := range r.f.messages {
			if existing.SentBy == "user" && existing.Whatsapp != nil && existing.Whatsapp.MID == m.Whatsapp.MID {
				return models.Message{}, ErrDuplicate
			}
		}
	}
	r.f.messages[m.ID] = m
	return m, nil
}

func (r fakeMessageRepo) Get(_ context.Context, id string) (models.Message, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	m, ok := r.f.messages[id]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	return m, nil
}

func (r fakeMessageRepo) GetByWhatsappMID(_ context.Context, mid string) (models.Message, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, m := range r.f.messages {
		if m.Whatsapp != nil && m.Whatsapp.MID == mid {
			return m, nil
		}
	}
	return models.Message{}, ErrNotFound
}

func (r fakeMessageRepo) UpdateReferences(_ context.Context, id, draftID, orderID string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	m, ok := r.f.messages[id]
	if !ok {
		return ErrNotFound
	}
	if draftID != "" {
		m.DraftReferenced = draftID
	}
	if orderID != "" {
		m.OrderReferenced = orderID
	}
	r.f.messages[id] = m
	return nil
}

func (r fakeMessageRepo) UpdateTranscript(_ context.Context, id, transcript string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	m, ok := r.f.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Transcript = transcript
	r.f.messages[id] = m
	return nil
}

type fakeFileRepo struct{ f *FakeUoW }

func (r fakeFileRepo) Add(_ context.Context, file models.File) (models.File, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	r.f.files[file.ID] = file
	return file, nil
}

func (r fakeFileRepo) GetByMessage(_ context.Context, messageID string) (models.File, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, file := range r.f.files {
		if file.MessageID == messageID {
			return file, nil
		}
	}
	return models.File{}, ErrNotFound
}

type fakeAddressRepo struct{ f *FakeUoW }

func (r fakeAddressRepo) Add(_ context.Context, a models.Address) (models.Address, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.f.tickLocked()
	}
	if a.ProposalID != "" {
		for _, existing := range r.f.addresses {
			if existing.ProposalID == a.ProposalID {
				return models.Address{}, ErrDuplicate
			}
		}
	}
	r.f.addresses[a.ID] = a
	return a, nil
}

func (r fakeAddressRepo) Get(_ context.Context, id string) (models.Address, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	a, ok := r.f.addresses[id]
	if !ok {
		return models.Address{}, ErrNotFound
	}
	return a, nil
}

func (r fakeAddressRepo) ListByUser(_ context.Context, userID string) ([]models.Address, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.Address
	for _, a := range r.f.addresses {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r fakeAddressRepo) Delete(_ context.Context, id string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.addresses[id]; !ok {
		return ErrNotFound
	}
	delete(r.f.addresses, id)
	return nil
}

type fakeDraftRepo struct{ f *FakeUoW }

func (r fakeDraftRepo) Add(_ context.Context, d models.Draft) (models.Draft, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.f.tickLocked()
	}
	r.f.drafts[d.ID] = d
	return d, nil
}

func (r fakeDraftRepo) Get(_ context.Context, id string) (models.Draft, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	d, ok := r.f.drafts[id]
	if !ok {
		return models.Draft{}, ErrNotFound
	}
	return d, nil
}

func (r fakeDraftRepo) LastByUser(_ context.Context, userID string) (models.Draft, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []models.Draft
	for _, d := range r.f.drafts {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return models.Draft{}, ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out[0], nil
}

type fakeOrderRepo struct{ f *FakeUoW }

func (r fakeOrderRepo) Add(_ context.Context, o models.Order) (models.Order, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.f.tickLocked()
	}
	if o.Status == "" {
		o.Status = models.OrderStatusPaymentPending
	}
	r.f.orders[o.ID] = o
	return o, nil
}

func (r fakeOrderRepo) Get(_ context.Context, id string) (models.Order, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	o, ok := r.f.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return o, nil
}

func (r fakeOrderRepo) MarkTransferred(_ context.Context, id string) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	o, ok := r.f.orders[id]
	if !ok {
		return false, nil
	}
	if o.Status == models.OrderStatusTransferred {
		return false, nil
	}
	o.Status = models.OrderStatusTransferred
	r.f.orders[id] = o
	return true, nil
}

type fakeSystemMessageRepo struct{ f *FakeUoW }

func (r fakeSystemMessageRepo) Get(_ context.Context, id string) (string, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if text, ok := r.f.sysMsgs[id]; ok {
		return text, nil
	}
	if text, ok := sysmsg.Defaults[id]; ok {
		return text, nil
	}
	return "", fmt.Errorf("unknown system message %s: %w", id, ErrNotFound)
}
