package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/cryptox"
	"github.com/dmitrijs2005/flyfile/internal/dbx"
	"github.com/dmitrijs2005/flyfile/internal/logging"
	"github.com/dmitrijs2005/flyfile/internal/server/access"
	"github.com/dmitrijs2005/flyfile/internal/server/config"
	"github.com/dmitrijs2005/flyfile/internal/server/credentials"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
	"github.com/dmitrijs2005/flyfile/internal/server/notify"
	"github.com/dmitrijs2005/flyfile/internal/server/ratelimit"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/anonsenders"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/apikeys"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/events"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/files"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/otps"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/transfers"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/twofactor"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/users"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/webhooks"
)

// memStore is an in-memory database shared by the fake repositories. A
// transfer claimed by DeleteByTransfer stays locked to the claiming handle
// until that handle deletes it, as a row lock would.
type memStore struct {
	mu  sync.Mutex
	seq int

	users     map[string]*models.User
	transfers map[string]*models.Transfer
	claimed   map[string]claim
	files     map[string]*models.File
	senders   map[string]*models.AnonymousSender
	otps      map[string]*models.OneTimeCode
	twoFactor map[string]*models.TwoFactor
	backup    map[string]map[string]bool
	sessions  map[string]*models.TOTPSetupSession
	keys      map[string]*models.APIKey
	hooks     map[string]*models.Webhook
	events    []*models.DownloadEvent
}

type claim struct {
	owner    dbx.DBTX
	transfer *models.Transfer
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[string]*models.User{},
		transfers: map[string]*models.Transfer{},
		claimed:   map[string]claim{},
		files:     map[string]*models.File{},
		senders:   map[string]*models.AnonymousSender{},
		otps:      map[string]*models.OneTimeCode{},
		twoFactor: map[string]*models.TwoFactor{},
		backup:    map[string]map[string]bool{},
		sessions:  map[string]*models.TOTPSetupSession{},
		keys:      map[string]*models.APIKey{},
		hooks:     map[string]*models.Webhook{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) user(id string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

func (m *memStore) addUser(id string, plan models.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := models.LimitsFor(plan)
	m.users[id] = &models.User{ID: id, Plan: plan, StorageLimit: l.StorageLimit,
		MaxMonthlyTransfers: l.MaxMonthlyTransfers, RetentionDays: l.RetentionDays}
}

// --- fake repository manager ---

type fakeRepoManager struct {
	repomanager.RepositoryManager
	st *memStore
}

func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository { return &memUsers{st: m.st} }
func (m *fakeRepoManager) Transfers(db dbx.DBTX) transfers.Repository {
	return &memTransfers{st: m.st, tx: db}
}
func (m *fakeRepoManager) Files(db dbx.DBTX) files.Repository { return &memFiles{st: m.st, tx: db} }
func (m *fakeRepoManager) AnonymousSenders(dbx.DBTX) anonsenders.Repository {
	return &memSenders{st: m.st}
}
func (m *fakeRepoManager) OTPs(dbx.DBTX) otps.Repository           { return &memOTPs{st: m.st} }
func (m *fakeRepoManager) TwoFactor(dbx.DBTX) twofactor.Repository { return &memTwoFactor{st: m.st} }
func (m *fakeRepoManager) APIKeys(dbx.DBTX) apikeys.Repository     { return &memAPIKeys{st: m.st} }
func (m *fakeRepoManager) Webhooks(dbx.DBTX) webhooks.Repository   { return &memWebhooks{st: m.st} }
func (m *fakeRepoManager) Events(dbx.DBTX) events.Repository       { return &memEvents{st: m.st} }

// --- users ---

type memUsers struct {
	users.Repository
	st *memStore
}

func (r *memUsers) Get(_ context.Context, id string) (*models.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, ok := r.st.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *memUsers) CreateIfMissing(_ context.Context, u *models.User) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.users[u.ID]; ok {
		return nil
	}
	l := models.LimitsFor(u.Plan)
	r.st.users[u.ID] = &models.User{ID: u.ID, Email: u.Email, Plan: models.PlanFree, StorageLimit: l.StorageLimit,
		MaxMonthlyTransfers: l.MaxMonthlyTransfers, RetentionDays: l.RetentionDays}
	return nil
}

func (r *memUsers) ApplyUsage(_ context.Context, id string, d models.UsageDelta) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, ok := r.st.users[id]
	if !ok {
		return common.ErrNotFound
	}
	u.StorageUsed = max(u.StorageUsed+d.Storage, 0)
	u.FilesCount = max(u.FilesCount+d.Files, 0)
	u.MonthlyTransfers = max(u.MonthlyTransfers+d.Transfers, 0)
	return nil
}

func (r *memUsers) ResetMonthlyUsage(context.Context, time.Time, time.Time) (int64, error) {
	return 0, nil
}

// --- transfers ---

type memTransfers struct {
	transfers.Repository
	st *memStore
	tx dbx.DBTX
}

func (r *memTransfers) Create(_ context.Context, t *models.Transfer) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, x := range r.st.transfers {
		if x.PublicID == t.PublicID {
			return common.ErrAlreadyExists
		}
	}
	t.ID = r.st.nextID("t")
	t.CreatedAt = time.Now()
	c := *t
	r.st.transfers[t.ID] = &c
	return nil
}

func (r *memTransfers) GetByID(_ context.Context, id string) (*models.Transfer, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	t, ok := r.st.transfers[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *memTransfers) GetByPublicID(_ context.Context, publicID string) (*models.Transfer, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, t := range r.st.transfers {
		if t.PublicID == publicID {
			c := *t
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memTransfers) ListByOwner(_ context.Context, ownerID string) ([]*models.Transfer, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.Transfer
	for _, t := range r.st.transfers {
		if t.OwnerID == ownerID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memTransfers) ListExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []string
	for id, t := range r.st.transfers {
		if now.After(t.ExpiresAt) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memTransfers) Activate(_ context.Context, id string, total int64, count int) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	t, ok := r.st.transfers[id]
	if !ok || t.Status != models.TransferPending {
		return false, nil
	}
	t.Status = models.TransferActive
	t.TotalSize = total
	t.FileCount = count
	return true, nil
}

func (r *memTransfers) AdjustTotals(_ context.Context, id string, size int64, count int) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if t, ok := r.st.transfers[id]; ok {
		t.TotalSize = max(t.TotalSize+size, 0)
		t.FileCount = max(t.FileCount+count, 0)
	}
	return nil
}

func (r *memTransfers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	t, ok := r.st.transfers[id]
	if !ok {
		return common.ErrNotFound
	}
	t.PasswordHash = hash
	return nil
}

func (r *memTransfers) IncrementDownloads(_ context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if t, ok := r.st.transfers[id]; ok {
		t.DownloadCount++
	}
	return nil
}

func (r *memTransfers) Delete(_ context.Context, id string) (*models.Transfer, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if c, ok := r.st.claimed[id]; ok {
		if c.owner != r.tx {
			return nil, common.ErrNotFound
		}
		delete(r.st.claimed, id)
		return c.transfer, nil
	}
	t, ok := r.st.transfers[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	delete(r.st.transfers, id)
	return t, nil
}

// --- files ---

type memFiles struct {
	files.Repository
	st *memStore
	tx dbx.DBTX
}

func (r *memFiles) Create(_ context.Context, f *models.File) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	f.ID = r.st.nextID("f")
	c := *f
	r.st.files[f.ID] = &c
	return nil
}

func (r *memFiles) GetByID(_ context.Context, id string) (*models.File, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	f, ok := r.st.files[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *f
	return &c, nil
}

func (r *memFiles) ListByTransfer(_ context.Context, transferID string) ([]*models.File, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.File
	for _, f := range r.st.files {
		if f.TransferID == transferID {
			c := *f
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memFiles) MarkUploaded(_ context.Context, id string) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	f, ok := r.st.files[id]
	if !ok || f.Status != models.FilePending {
		return false, nil
	}
	f.Status = models.FileCompleted
	return true, nil
}

func (r *memFiles) MarkTransferUploaded(_ context.Context, transferID string) (int64, int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var (
		size  int64
		count int
	)
	for _, f := range r.st.files {
		if f.TransferID == transferID && f.Status == models.FilePending {
			f.Status = models.FileCompleted
			size += f.Size
			count++
		}
	}
	return size, count, nil
}

func (r *memFiles) CompletedTotals(_ context.Context, transferID string) (int64, int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var (
		size  int64
		count int
	)
	for _, f := range r.st.files {
		if f.TransferID == transferID && f.Status == models.FileCompleted {
			size += f.Size
			count++
		}
	}
	return size, count, nil
}

func (r *memFiles) SetEncryption(_ context.Context, id, prevStorageKey string, c models.EncryptedContent) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	f, ok := r.st.files[id]
	if !ok || f.Status != models.FilePending || f.StorageKey != prevStorageKey {
		return common.ErrVersionConflict
	}
	f.StorageKey, f.EncAlgorithm, f.EncryptedKey, f.Nonce, f.Size = c.StorageKey, c.Algorithm, c.WrappedKey, c.Nonce, c.Size
	return nil
}

func (r *memFiles) IncrementDownloads(_ context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if f, ok := r.st.files[id]; ok {
		f.DownloadCount++
	}
	return nil
}

func deletedFrom(f *models.File) *models.DeletedFile {
	return &models.DeletedFile{ID: f.ID, TransferID: f.TransferID, OwnerID: f.OwnerID,
		StorageKey: f.StorageKey, Size: f.Size, Status: f.Status}
}

func (r *memFiles) Delete(_ context.Context, id string) (*models.DeletedFile, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	f, ok := r.st.files[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	delete(r.st.files, id)
	return deletedFrom(f), nil
}

func (r *memFiles) DeleteByTransfer(_ context.Context, transferID string) ([]*models.DeletedFile, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	t, ok := r.st.transfers[transferID]
	if !ok {
		return nil, nil
	}
	delete(r.st.transfers, transferID)
	r.st.claimed[transferID] = claim{owner: r.tx, transfer: t}

	var out []*models.DeletedFile
	for id, f := range r.st.files {
		if f.TransferID == transferID {
			out = append(out, deletedFrom(f))
			delete(r.st.files, id)
		}
	}
	return out, nil
}

// --- anonymous senders ---

type memSenders struct {
	anonsenders.Repository
	st *memStore
}

func (r *memSenders) Get(_ context.Context, email string) (*models.AnonymousSender, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.senders[email]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *memSenders) MarkVerified(_ context.Context, email string, now time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.senders[email]
	if !ok {
		s = &models.AnonymousSender{Email: email, WindowStartedAt: now, CreatedAt: now}
		r.st.senders[email] = s
	}
	s.VerifiedAt = &now
	return nil
}

func (r *memSenders) ResetWindowIfElapsed(_ context.Context, email string, now time.Time) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.senders[email]
	if !ok || !s.WindowElapsed(now) {
		return false, nil
	}
	s.MonthlyQuotaUsed, s.MonthlyTransfersUsed, s.WindowStartedAt = 0, 0, now
	return true, nil
}

func (r *memSenders) AddUsage(_ context.Context, email string, bytes int64, n int) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.senders[email]
	if !ok {
		return common.ErrNotFound
	}
	s.MonthlyQuotaUsed = max(s.MonthlyQuotaUsed+bytes, 0)
	s.MonthlyTransfersUsed = max(s.MonthlyTransfersUsed+n, 0)
	return nil
}

// --- one-time codes ---

type memOTPs struct {
	otps.Repository
	st *memStore
}

func otpKey(p models.OTPPurpose, subject string) string { return string(p) + "/" + subject }

func (r *memOTPs) Upsert(_ context.Context, c *models.OneTimeCode) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cp := *c
	cp.Attempts = 0
	r.st.otps[otpKey(c.Purpose, c.Subject)] = &cp
	return nil
}

func (r *memOTPs) Get(_ context.Context, p models.OTPPurpose, subject string) (*models.OneTimeCode, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, ok := r.st.otps[otpKey(p, subject)]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memOTPs) IncrementAttempts(_ context.Context, p models.OTPPurpose, subject string) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, ok := r.st.otps[otpKey(p, subject)]
	if !ok {
		return 0, common.ErrNotFound
	}
	c.Attempts++
	return c.Attempts, nil
}

func (r *memOTPs) Delete(_ context.Context, p models.OTPPurpose, subject string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	delete(r.st.otps, otpKey(p, subject))
	return nil
}

// --- two factor ---

type memTwoFactor struct {
	twofactor.Repository
	st *memStore
}

func (r *memTwoFactor) Get(_ context.Context, userID string) (*models.TwoFactor, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	tf, ok := r.st.twoFactor[userID]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *tf
	return &c, nil
}

func (r *memTwoFactor) Upsert(_ context.Context, tf *models.TwoFactor) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c := *tf
	r.st.twoFactor[tf.UserID] = &c
	return nil
}

func (r *memTwoFactor) AdvanceStep(_ context.Context, userID string, step int64) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	tf, ok := r.st.twoFactor[userID]
	if !ok || tf.LastStep >= step {
		return false, nil
	}
	tf.LastStep = step
	return true, nil
}

func (r *memTwoFactor) Delete(_ context.Context, userID string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.twoFactor[userID]; !ok {
		return common.ErrNotFound
	}
	delete(r.st.twoFactor, userID)
	delete(r.st.backup, userID)
	return nil
}

func (r *memTwoFactor) ReplaceBackupCodes(_ context.Context, userID string, hashes []string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	set := map[string]bool{}
	for _, h := range hashes {
		set[h] = true
	}
	r.st.backup[userID] = set
	return nil
}

func (r *memTwoFactor) ConsumeBackupCode(_ context.Context, userID, hash string) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if !r.st.backup[userID][hash] {
		return false, nil
	}
	delete(r.st.backup[userID], hash)
	return true, nil
}

func (r *memTwoFactor) CountBackupCodes(_ context.Context, userID string) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return len(r.st.backup[userID]), nil
}

func (r *memTwoFactor) CreateSession(_ context.Context, s *models.TOTPSetupSession) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s.ID = r.st.nextID("sess")
	c := *s
	r.st.sessions[s.ID] = &c
	return nil
}

func (r *memTwoFactor) GetSession(_ context.Context, id string) (*models.TOTPSetupSession, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.sessions[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *memTwoFactor) DeleteSession(_ context.Context, id string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	delete(r.st.sessions, id)
	return nil
}

func (r *memTwoFactor) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for id, s := range r.st.sessions {
		if now.After(s.ExpiresAt) {
			delete(r.st.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- api keys, webhooks, events ---

type memAPIKeys struct {
	apikeys.Repository
	st *memStore
}

func (r *memAPIKeys) Create(_ context.Context, k *models.APIKey) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	k.ID = r.st.nextID("key")
	k.Active = true
	c := *k
	r.st.keys[k.ID] = &c
	return nil
}

func (r *memAPIKeys) GetByHash(_ context.Context, hash string) (*models.APIKey, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, k := range r.st.keys {
		if k.KeyHash == hash {
			c := *k
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memAPIKeys) ListByUser(_ context.Context, userID string) ([]*models.APIKey, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.APIKey
	for _, k := range r.st.keys {
		if k.UserID == userID {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memAPIKeys) RecordUsage(_ context.Context, id string, now time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	k := r.st.keys[id]
	k.UsageCount++
	k.LastUsedAt = &now
	return nil
}

func (r *memAPIKeys) Deactivate(_ context.Context, id, userID string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	k, ok := r.st.keys[id]
	if !ok || k.UserID != userID {
		return common.ErrNotFound
	}
	k.Active = false
	return nil
}

type memWebhooks struct {
	webhooks.Repository
	st *memStore
}

func (r *memWebhooks) Create(_ context.Context, h *models.Webhook) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	h.ID = r.st.nextID("wh")
	h.Active = true
	c := *h
	r.st.hooks[h.ID] = &c
	return nil
}

func (r *memWebhooks) ListByUser(_ context.Context, userID string) ([]*models.Webhook, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.Webhook
	for _, h := range r.st.hooks {
		if h.UserID == userID {
			c := *h
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memWebhooks) Delete(_ context.Context, id, userID string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	h, ok := r.st.hooks[id]
	if !ok || h.UserID != userID {
		return common.ErrNotFound
	}
	delete(r.st.hooks, id)
	return nil
}

type memEvents struct {
	events.Repository
	st *memStore
}

func (r *memEvents) Insert(_ context.Context, e *models.DownloadEvent) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.events = append(r.st.events, e)
	return nil
}

// --- collaborators ---

type fakeBlobStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	deleteErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) PresignPut(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://blob.test/put/" + key, nil
}

func (f *fakeBlobStore) PresignGet(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://blob.test/get/" + key, nil
}

func (f *fakeBlobStore) Put(_ context.Context, key string, body []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), body...)
	return nil
}

func (f *fakeBlobStore) Fetch(_ context.Context, key string, _ int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (f *fakeBlobStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, key)
	return nil
}

// syncQueue runs tasks inline so tests can observe their effects.
type syncQueue struct {
	mu    sync.Mutex
	names []string
}

func (q *syncQueue) Submit(name string, task notify.Task) bool {
	q.mu.Lock()
	q.names = append(q.names, name)
	q.mu.Unlock()
	_ = task(context.Background())
	return true
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []notify.Email
}

func (m *fakeMailer) Send(_ context.Context, msg notify.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) last() notify.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

// --- fixtures ---

type fixture struct {
	st      *memStore
	rm      *fakeRepoManager
	db      *sql.DB
	mock    sqlmock.Sqlmock
	store   *fakeBlobStore
	queue   *syncQueue
	mailer  *fakeMailer
	limiter *ratelimit.Limiter
	anon    *AnonymousService
	svc     *TransferService
	now     time.Time
}

var (
	keyRingOnce sync.Once
	keyRing     *cryptox.KeyRing
)

func testKeyRing(t *testing.T) *cryptox.KeyRing {
	t.Helper()
	keyRingOnce.Do(func() {
		var err error
		keyRing, err = cryptox.NewKeyRing([]byte("test-passphrase"), []byte("test-salt"))
		if err != nil {
			panic(err)
		}
	})
	return keyRing
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return buildFixture(t, db, mock)
}

// newConcurrentFixture backs transactions with in-memory SQLite so that
// concurrent callers get independent transaction handles.
func newConcurrentFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return buildFixture(t, db, nil)
}

func buildFixture(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock) *fixture {
	t.Helper()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	st := newMemStore()
	rm := &fakeRepoManager{st: st}
	logger := logging.NopLogger{}

	cfg := &config.Config{}
	cfg.LoadDefaults()

	f := &fixture{
		st:      st,
		rm:      rm,
		db:      db,
		mock:    mock,
		store:   newFakeBlobStore(),
		queue:   &syncQueue{},
		mailer:  &fakeMailer{},
		limiter: ratelimit.New(ratelimit.NewMemoryCounter(), nil, logger),
		now:     now,
	}
	f.anon = NewAnonymousService(db, rm, f.limiter, f.queue, f.mailer, logger)
	f.anon.now = f.clock
	f.svc = NewTransferService(db, rm, cfg, TransferDeps{
		Store:     f.store,
		Keys:      testKeyRing(t),
		Limiter:   f.limiter,
		Hasher:    credentials.NewPasswordHasher(4),
		Quota:     NewQuotaService(db, rm),
		Anonymous: f.anon,
		Queue:     f.queue,
		Mailer:    f.mailer,
		Logger:    logger,
	})
	f.svc.now = f.clock
	return f
}

func (f *fixture) clock() time.Time { return f.now }

// expectTx registers n committed transactions.
func (f *fixture) expectTx(n int) {
	for i := 0; i < n; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
	}
}

func (f *fixture) expectRollback() {
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
}

func (f *fixture) verify(t *testing.T) {
	t.Helper()
	if f.mock != nil {
		require.NoError(t, f.mock.ExpectationsWereMet())
	}
}

func account(id string) *access.Identity {
	return &access.Identity{UserID: id, Email: id + "@example.com", Method: access.MethodBearer}
}

// seedTransfer stores a transfer directly, bypassing CreateTransfer.
func (f *fixture) seedTransfer(t *models.Transfer) *models.Transfer {
	if t.PublicID == "" {
		t.PublicID = "pub-" + t.Title
	}
	if t.Status == "" {
		t.Status = models.TransferPending
	}
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = f.now.Add(7 * 24 * time.Hour)
	}
	_ = (&memTransfers{st: f.st}).Create(context.Background(), t)
	return t
}

// seedFile stores a file directly.
func (f *fixture) seedFile(file *models.File) *models.File {
	if file.Status == "" {
		file.Status = models.FilePending
	}
	if file.StorageKey == "" {
		file.StorageKey = "key/" + file.Name
	}
	_ = (&memFiles{st: f.st}).Create(context.Background(), file)
	return file
}
