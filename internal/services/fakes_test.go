package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/taliaapp/apiserver/internal/storage"
	"github.com/taliaapp/apiserver/internal/store"
	"github.com/taliaapp/apiserver/types"
)

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[int]types.User
	nextID int

	createErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[int]types.User{}, nextID: 1}
}

func (r *fakeUserRepo) add(user types.User) types.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == 0 {
		user.ID = r.nextID
		r.nextID++
	}
	r.users[user.ID] = user
	return user
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) GetByVerificationCode(ctx context.Context, code string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.VerificationCode != nil && *user.VerificationCode == code {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	if r.createErr != nil {
		return types.User{}, r.createErr
	}
	r.mu.Lock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) || existing.Username == user.Username {
			r.mu.Unlock()
			return types.User{}, store.ErrConflict
		}
	}
	r.mu.Unlock()
	return r.add(user), nil
}

func (r *fakeUserRepo) MarkVerified(ctx context.Context, id int, verifiedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.VerifiedAt = &verifiedAt
	user.VerificationCode = nil
	r.users[id] = user
	return nil
}

type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]types.RefreshToken
	nextID int

	createErr error
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: map[string]types.RefreshToken{}, nextID: 1}
}

func (r *fakeTokenRepo) Create(ctx context.Context, rt types.RefreshToken) (types.RefreshToken, error) {
	if r.createErr != nil {
		return types.RefreshToken{}, r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rt.ID = r.nextID
	r.nextID++
	rt.CreatedAt = time.Now()
	rt.UpdatedAt = rt.CreatedAt
	r.tokens[rt.Token] = rt
	return rt, nil
}

func (r *fakeTokenRepo) GetByToken(ctx context.Context, tok string) (types.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.tokens[tok]
	if !ok {
		return types.RefreshToken{}, store.ErrNotFound
	}
	return rt, nil
}

func (r *fakeTokenRepo) Rotate(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (types.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.tokens[oldToken]
	if !ok {
		return types.RefreshToken{}, store.ErrNotFound
	}
	delete(r.tokens, oldToken)
	rt.Token = newToken
	rt.ExpiresAt = expiresAt
	rt.UpdatedAt = time.Now()
	r.tokens[newToken] = rt
	return rt, nil
}

func (r *fakeTokenRepo) DeleteByToken(ctx context.Context, userID int, tok string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.tokens[tok]
	if !ok || rt.UserID != userID {
		return store.ErrNotFound
	}
	delete(r.tokens, tok)
	return nil
}

type fakeRecoveryRepo struct {
	mu         sync.Mutex
	recoveries map[string]types.PasswordRecovery
	nextID     int
}

func newFakeRecoveryRepo() *fakeRecoveryRepo {
	return &fakeRecoveryRepo{recoveries: map[string]types.PasswordRecovery{}, nextID: 1}
}

func (r *fakeRecoveryRepo) Create(ctx context.Context, recovery types.PasswordRecovery) (types.PasswordRecovery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recovery.ID = r.nextID
	r.nextID++
	if recovery.CreatedAt.IsZero() {
		recovery.CreatedAt = time.Now()
	}
	r.recoveries[recovery.Code] = recovery
	return recovery, nil
}

func (r *fakeRecoveryRepo) GetByCode(ctx context.Context, code string) (types.PasswordRecovery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recovery, ok := r.recoveries[code]
	if !ok {
		return types.PasswordRecovery{}, store.ErrNotFound
	}
	return recovery, nil
}

func (r *fakeRecoveryRepo) DeleteByCode(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recoveries[code]; !ok {
		return store.ErrNotFound
	}
	delete(r.recoveries, code)
	return nil
}

// fakeResetter mimics the transactional reset: the password only changes when
// the code is still present, and the code is consumed with it.
type fakeResetter struct {
	users      *fakeUserRepo
	recoveries *fakeRecoveryRepo
	calls      int
	err        error
}

func (f *fakeResetter) ResetPassword(ctx context.Context, userID int, passwordHash, code string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if err := f.recoveries.DeleteByCode(ctx, code); err != nil {
		return err
	}
	f.users.mu.Lock()
	defer f.users.mu.Unlock()
	user, ok := f.users.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	f.users.users[userID] = user
	return nil
}

type sentMail struct {
	template  string
	recipient string
	subject   string
	data      map[string]string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
}

func (n *fakeNotifier) Enqueue(template, recipient, subject string, data map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{template: template, recipient: recipient, subject: subject, data: data})
}

func (n *fakeNotifier) last() (sentMail, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return sentMail{}, false
	}
	return n.sent[len(n.sent)-1], true
}

type fakeProvider struct {
	identity ExternalIdentity
	err      error
}

func (p *fakeProvider) Exchange(ctx context.Context, providerToken string) (ExternalIdentity, error) {
	if p.err != nil {
		return ExternalIdentity{}, p.err
	}
	return p.identity, nil
}

// fakeHasher keeps tests fast and digests inspectable.
type fakeHasher struct{}

func (fakeHasher) Hash(plaintext string) (string, error) {
	return "hashed:" + plaintext, nil
}

func (fakeHasher) Verify(plaintext, digest string) bool {
	return digest == "hashed:"+plaintext
}

type fakeFileRepo struct {
	mu     sync.Mutex
	files  map[int]types.File
	nextID int

	createErr error
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{files: map[int]types.File{}, nextID: 1}
}

func (r *fakeFileRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

func (r *fakeFileRepo) Create(ctx context.Context, file types.File) (types.File, error) {
	if r.createErr != nil {
		return types.File{}, r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	file.ID = r.nextID
	r.nextID++
	file.CreatedAt = time.Now()
	file.UpdatedAt = file.CreatedAt
	r.files[file.ID] = file
	return file, nil
}

func (r *fakeFileRepo) GetByID(ctx context.Context, id int) (types.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return types.File{}, store.ErrNotFound
	}
	return file, nil
}

func (r *fakeFileRepo) ListByUser(ctx context.Context, userID int) ([]types.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var files []types.File
	for _, file := range r.files {
		if file.UserID == userID {
			files = append(files, file)
		}
	}
	return files, nil
}

func (r *fakeFileRepo) Delete(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.files, id)
	return nil
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	putErr    error
	deleteErr error
	puts      int
	deletes   []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (s *fakeObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (storage.UploadInfo, error) {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	if s.putErr != nil {
		return storage.UploadInfo{}, s.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.UploadInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return storage.UploadInfo{
		Key:      key,
		Location: fmt.Sprintf("https://storage.test/bucket/%s", key),
	}, nil
}

func (s *fakeObjectStore) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return storage.ObjectInfo{}, store.ErrNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s *fakeObjectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, key)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, key)
	return nil
}

func (s *fakeObjectStore) stored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
