package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

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
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	titleMaxLen    = 100
	messageMaxLen  = 1000
	fileNameMaxLen = 255

	defaultExpiryDays = 7
	minExpiryDays     = 1
	maxExpiryDays     = 365

	publicIDBytes    = 16
	publicIDAttempts = 3
)

// TransferDeps are the collaborators of TransferService.
type TransferDeps struct {
	Store     BlobStore
	Keys      KeyWrapper
	Limiter   RateLimiter
	Hasher    *credentials.PasswordHasher
	Quota     *QuotaService
	Anonymous *AnonymousService
	Queue     TaskQueue
	Mailer    notify.Sender
	Logger    logging.Logger
}

// TransferService drives transfers and files through their lifecycle:
// pending, active, expired (derived from ExpiresAt) and deleted. Quota
// changes are committed in the same transaction as the state change that
// causes them, and every state change is a conditional write so retries and
// concurrent callers cannot count anything twice.
type TransferService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *config.Config

	store     BlobStore
	keys      KeyWrapper
	limiter   RateLimiter
	hasher    *credentials.PasswordHasher
	quota     *QuotaService
	anonymous *AnonymousService
	queue     TaskQueue
	mailer    notify.Sender
	logger    logging.Logger

	now func() time.Time
}

func NewTransferService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, deps TransferDeps) *TransferService {
	return &TransferService{
		db:          db,
		repomanager: rm,
		config:      cfg,
		store:       deps.Store,
		keys:        deps.Keys,
		limiter:     deps.Limiter,
		hasher:      deps.Hasher,
		quota:       deps.Quota,
		anonymous:   deps.Anonymous,
		queue:       deps.Queue,
		mailer:      deps.Mailer,
		logger:      deps.Logger,
		now:         time.Now,
	}
}

// CreateTransferRequest carries the caller-supplied transfer attributes.
type CreateTransferRequest struct {
	Title          string
	Message        string
	ExpiryDays     int
	Password       string
	RecipientEmail string
	DeliveryMethod models.DeliveryMethod
	// SenderEmail identifies anonymous senders and must have been verified.
	SenderEmail string
	Encrypted   bool
}

// CreatedTransfer is the result of CreateTransfer.
type CreatedTransfer struct {
	Transfer *models.Transfer
	// AnonymousID is the ownership capability of an anonymous transfer. It is
	// newly issued when the caller presented none.
	AnonymousID string
}

// CreateTransfer validates req and stores a pending transfer. Account
// holders are checked against their monthly transfer limit; anonymous
// callers need a verified sender email within the anonymous limits.
func (s *TransferService) CreateTransfer(ctx context.Context, id *access.Identity, req CreateTransferRequest) (*CreatedTransfer, error) {
	title := strings.TrimSpace(req.Title)
	if n := utf8.RuneCountInString(title); n < 1 || n > titleMaxLen {
		return nil, common.Validationf("title must be 1-%d characters", titleMaxLen)
	}
	if utf8.RuneCountInString(req.Message) > messageMaxLen {
		return nil, common.Validationf("message must be at most %d characters", messageMaxLen)
	}

	delivery := req.DeliveryMethod
	if delivery == "" {
		delivery = models.DeliveryLink
	}
	if delivery != models.DeliveryLink && delivery != models.DeliveryEmail {
		return nil, common.Validationf("unknown delivery method %q", delivery)
	}

	var recipient string
	if strings.TrimSpace(req.RecipientEmail) != "" {
		r, err := common.NormalizeEmail(req.RecipientEmail)
		if err != nil {
			return nil, err
		}
		recipient = r
	}
	if delivery == models.DeliveryEmail && recipient == "" {
		return nil, common.Validationf("recipient email is required for email delivery")
	}

	t := &models.Transfer{
		Title:          title,
		Message:        req.Message,
		RecipientEmail: recipient,
		DeliveryMethod: delivery,
		Status:         models.TransferPending,
		IsEncrypted:    req.Encrypted,
		Source:         models.SourceWeb,
	}

	retention := defaultExpiryDays
	var anonymousID string
	if id.IsAccount() {
		if err := access.RequirePermission(id, models.PermissionWrite); err != nil {
			return nil, err
		}
		u, err := s.quota.EnsureAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := CheckTransfers(u); err != nil {
			return nil, err
		}
		if u.RetentionDays > 0 {
			retention = u.RetentionDays
		}
		t.OwnerID = id.UserID
		if id.Method == access.MethodAPIKey {
			t.Source = models.SourceAPI
		}
	} else {
		sender, err := s.anonymous.CheckSender(ctx, req.SenderEmail)
		if err != nil {
			return nil, err
		}
		t.SenderEmail = sender.Email
		if id != nil && id.AnonymousID != "" {
			anonymousID = id.AnonymousID
		} else if anonymousID, err = access.NewAnonymousID(); err != nil {
			return nil, fmt.Errorf("issue anonymous id: %w", err)
		}
		t.OwnerID = anonymousID
	}

	days := clampExpiryDays(req.ExpiryDays, retention)
	t.ExpiresAt = s.now().Add(time.Duration(days) * 24 * time.Hour)

	if req.Password != "" {
		hash, err := s.hasher.Hash(req.Password)
		if err != nil {
			return nil, err
		}
		t.PasswordHash = hash
	}

	repo := s.repomanager.Transfers(s.db)
	for attempt := 1; ; attempt++ {
		publicID, err := common.MakeRandToken(publicIDBytes)
		if err != nil {
			return nil, fmt.Errorf("generate public id: %w", err)
		}
		t.PublicID = publicID

		err = repo.Create(ctx, t)
		if err == nil {
			break
		}
		if !errors.Is(err, common.ErrAlreadyExists) || attempt == publicIDAttempts {
			return nil, fmt.Errorf("create transfer: %w", err)
		}
	}

	s.logger.Info(ctx, "transfer created", "transfer_id", t.PublicID, "source", string(t.Source))
	return &CreatedTransfer{Transfer: t, AnonymousID: anonymousID}, nil
}

// clampExpiryDays applies the default when requested is zero and keeps the
// result within the allowed range.
func clampExpiryDays(requested, fallback int) int {
	days := requested
	if days == 0 {
		days = fallback
	}
	return max(minExpiryDays, min(days, maxExpiryDays))
}

// TransferView is what GetTransfer reveals.
type TransferView struct {
	Transfer *models.Transfer
	// Status is the effective status at read time.
	Status           models.TransferStatus
	RequiresPassword bool
	Files            []*models.File
}

// GetTransfer returns a transfer by public id. Strangers only see active,
// unexpired transfers and their completed files; the owner also sees
// pending ones.
func (s *TransferService) GetTransfer(ctx context.Context, id *access.Identity, publicID string) (*TransferView, error) {
	t, err := s.repomanager.Transfers(s.db).GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	status := t.EffectiveStatus(s.now())
	if status == models.TransferExpired {
		return nil, fmt.Errorf("%w: transfer", common.ErrExpired)
	}
	owner := id != nil && access.Authorize(id, t.OwnerID) == nil
	if status != models.TransferActive && !owner {
		return nil, common.ErrNotFound
	}

	files, err := s.repomanager.Files(s.db).ListByTransfer(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if !owner {
		visible := files[:0]
		for _, f := range files {
			if f.Status == models.FileCompleted {
				visible = append(visible, f)
			}
		}
		files = visible
	}

	return &TransferView{Transfer: t, Status: status, RequiresPassword: t.HasPassword(), Files: files}, nil
}

// ListTransfers returns the caller's transfers, newest first.
func (s *TransferService) ListTransfers(ctx context.Context, id *access.Identity) ([]*models.Transfer, error) {
	if id == nil {
		return nil, common.ErrUnauthenticated
	}
	if err := access.RequirePermission(id, models.PermissionRead); err != nil {
		return nil, err
	}
	return s.repomanager.Transfers(s.db).ListByOwner(ctx, id.OwnerID())
}

// UploadRequest describes a file the caller is about to upload. An empty
// TransferID asks for a standalone library file.
type UploadRequest struct {
	TransferID string
	Name       string
	MimeType   string
	Size       int64
}

// RequestUploadSlot creates a pending file record and returns where to put
// its bytes: a presigned PUT URL, or the encrypted upload endpoint for
// encrypted transfers. Quota is checked here but only charged on confirm.
func (s *TransferService) RequestUploadSlot(ctx context.Context, id *access.Identity, req UploadRequest) (*models.UploadSlot, error) {
	if id == nil {
		return nil, common.ErrUnauthenticated
	}
	name := strings.TrimSpace(req.Name)
	if n := utf8.RuneCountInString(name); n < 1 || n > fileNameMaxLen {
		return nil, common.Validationf("file name must be 1-%d characters", fileNameMaxLen)
	}
	if req.Size < 0 {
		return nil, common.Validationf("file size must not be negative")
	}
	if err := access.RequirePermission(id, models.PermissionWrite); err != nil {
		return nil, err
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	now := s.now()
	f := &models.File{Name: name, MimeType: mimeType, Size: req.Size, Status: models.FilePending}
	encrypted := false

	if req.TransferID != "" {
		t, err := s.repomanager.Transfers(s.db).GetByPublicID(ctx, req.TransferID)
		if err != nil {
			return nil, err
		}
		if err := access.Authorize(id, t.OwnerID); err != nil {
			return nil, err
		}
		switch t.EffectiveStatus(now) {
		case models.TransferExpired:
			return nil, fmt.Errorf("%w: transfer", common.ErrExpired)
		case models.TransferPending:
		default:
			return nil, common.Validationf("transfer is no longer accepting files")
		}
		if t.IsEncrypted && req.Size > s.config.MaxEncryptedUploadBytes {
			return nil, common.Validationf("encrypted files are limited to %d bytes", s.config.MaxEncryptedUploadBytes)
		}
		if err := s.checkUploadQuota(ctx, id, t, req.Size); err != nil {
			return nil, err
		}
		f.TransferID = t.ID
		f.OwnerID = t.OwnerID
		f.StorageKey = fmt.Sprintf("transfers/%s/%s", t.PublicID, uuid.NewString())
		encrypted = t.IsEncrypted
	} else {
		if err := access.RequireAccount(id); err != nil {
			return nil, err
		}
		if err := s.checkUploadQuota(ctx, id, nil, req.Size); err != nil {
			return nil, err
		}
		f.OwnerID = id.UserID
		f.StorageKey = libraryStorageKey(id.UserID, now)
	}

	if err := s.repomanager.Files(s.db).Create(ctx, f); err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	slot := &models.UploadSlot{
		FileID:     f.ID,
		StorageKey: f.StorageKey,
		Method:     "PUT",
		ExpiresAt:  now.Add(s.config.UploadURLTTL),
	}
	if encrypted {
		slot.URL = "/api/files/" + f.ID + "/content"
		return slot, nil
	}

	url, err := s.store.PresignPut(ctx, f.StorageKey, mimeType, s.config.UploadURLTTL)
	if err != nil {
		return nil, err
	}
	slot.URL = url
	return slot, nil
}

func libraryStorageKey(ownerID string, d time.Time) string {
	return fmt.Sprintf("users/%s/%d/%d/%d/%v", ownerID, d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *TransferService) checkUploadQuota(ctx context.Context, id *access.Identity, t *models.Transfer, size int64) error {
	if t != nil && access.IsAnonymousID(t.OwnerID) {
		sender, err := s.repomanager.AnonymousSenders(s.db).Get(ctx, t.SenderEmail)
		if err != nil {
			return err
		}
		return CheckSenderBytes(sender, size)
	}
	u, err := s.quota.EnsureAccount(ctx, id)
	if err != nil {
		return err
	}
	return CheckStorage(u, size)
}

// UploadEncrypted encrypts body with a fresh per-file key, stores the
// ciphertext under a key of its own and records the wrapped key and nonce on
// the file. Only pending files of encrypted transfers accept content this
// way, and never more than the size declared when the slot was requested.
// Of two concurrent uploads the later one to commit gets
// common.ErrVersionConflict.
func (s *TransferService) UploadEncrypted(ctx context.Context, id *access.Identity, fileID string, body []byte) error {
	f, err := s.repomanager.Files(s.db).GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if err := access.Authorize(id, f.OwnerID); err != nil {
		return err
	}
	if f.Status != models.FilePending {
		return common.Validationf("file is already uploaded")
	}
	if f.TransferID == "" {
		return common.Validationf("file does not belong to an encrypted transfer")
	}
	t, err := s.repomanager.Transfers(s.db).GetByID(ctx, f.TransferID)
	if err != nil {
		return err
	}
	if !t.IsEncrypted {
		return common.Validationf("file does not belong to an encrypted transfer")
	}
	if t.EffectiveStatus(s.now()) == models.TransferExpired {
		return fmt.Errorf("%w: transfer", common.ErrExpired)
	}
	if int64(len(body)) > s.config.MaxEncryptedUploadBytes {
		return common.Validationf("encrypted files are limited to %d bytes", s.config.MaxEncryptedUploadBytes)
	}
	if int64(len(body)) > f.Size {
		return common.Validationf("content exceeds the declared size of %d bytes", f.Size)
	}

	blob, err := cryptox.Encrypt(body, nil)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	wrapped, err := s.keys.Wrap(blob.Key)
	common.WipeByteArray(blob.Key)
	if err != nil {
		return fmt.Errorf("wrap key: %w", err)
	}

	key := attemptStorageKey(f.StorageKey)
	if err := s.store.Put(ctx, key, blob.Ciphertext, "application/octet-stream"); err != nil {
		return err
	}
	err = s.repomanager.Files(s.db).SetEncryption(ctx, f.ID, f.StorageKey, models.EncryptedContent{
		StorageKey: key,
		Algorithm:  cryptox.Algorithm,
		WrappedKey: wrapped,
		Nonce:      blob.Nonce,
		Size:       int64(len(body)),
	})
	if err != nil {
		s.deleteBlob(ctx, f.ID, key)
		return err
	}
	if f.IsEncrypted() {
		// Replaced content of an earlier attempt.
		s.deleteBlob(ctx, f.ID, f.StorageKey)
	}
	return nil
}

const attemptSeparator = ".enc-"

// attemptStorageKey derives a fresh blob key for one encrypted upload.
func attemptStorageKey(key string) string {
	if i := strings.LastIndex(key, attemptSeparator); i >= 0 {
		key = key[:i]
	}
	return key + attemptSeparator + uuid.NewString()
}

func (s *TransferService) deleteBlob(ctx context.Context, fileID, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn(ctx, "failed to delete blob", "file_id", fileID, "storage_key", key, "error", err)
	}
}

// ConfirmUpload marks a file completed and charges its size to the owning
// account. Confirming a completed file again changes nothing.
func (s *TransferService) ConfirmUpload(ctx context.Context, id *access.Identity, fileID string) (*models.File, error) {
	f, err := s.repomanager.Files(s.db).GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(id, f.OwnerID); err != nil {
		return nil, err
	}
	if err := access.RequirePermission(id, models.PermissionWrite); err != nil {
		return nil, err
	}
	if f.Status == models.FileCompleted {
		return f, nil
	}

	var t *models.Transfer
	if f.TransferID != "" {
		t, err = s.repomanager.Transfers(s.db).GetByID(ctx, f.TransferID)
		if err != nil {
			return nil, err
		}
		if t.EffectiveStatus(s.now()) == models.TransferExpired {
			return nil, fmt.Errorf("%w: transfer", common.ErrExpired)
		}
		if t.IsEncrypted && !f.IsEncrypted() {
			return nil, common.Validationf("file content has not been uploaded")
		}
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		flipped, err := s.repomanager.Files(tx).MarkUploaded(ctx, f.ID)
		if err != nil || !flipped {
			return err
		}
		if !access.IsAnonymousID(f.OwnerID) {
			if err := s.repomanager.Users(tx).ApplyUsage(ctx, f.OwnerID, models.UsageDelta{Storage: f.Size, Files: 1}); err != nil {
				return fmt.Errorf("apply usage: %w", err)
			}
		}
		if t != nil && t.Status == models.TransferActive {
			return s.repomanager.Transfers(tx).AdjustTotals(ctx, t.ID, f.Size, 1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.Status = models.FileCompleted
	return f, nil
}

// ConfirmTransfer completes every pending file of the transfer and moves it
// from pending to active. The monthly transfer counter is charged once, by
// whichever call wins the activation. Confirming an active transfer returns
// it unchanged.
func (s *TransferService) ConfirmTransfer(ctx context.Context, id *access.Identity, publicID string) (*models.Transfer, error) {
	t, err := s.repomanager.Transfers(s.db).GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(id, t.OwnerID); err != nil {
		return nil, err
	}
	if err := access.RequirePermission(id, models.PermissionWrite); err != nil {
		return nil, err
	}

	switch t.EffectiveStatus(s.now()) {
	case models.TransferExpired:
		return nil, fmt.Errorf("%w: transfer", common.ErrExpired)
	case models.TransferActive:
		return t, nil
	}

	if t.IsEncrypted {
		files, err := s.repomanager.Files(s.db).ListByTransfer(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.Status == models.FilePending && !f.IsEncrypted() {
				return nil, common.Validationf("file %s has no uploaded content", f.ID)
			}
		}
	}

	anonymous := access.IsAnonymousID(t.OwnerID)
	var activated bool
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		filesRepo := s.repomanager.Files(tx)
		size, count, err := filesRepo.MarkTransferUploaded(ctx, t.ID)
		if err != nil {
			return err
		}
		if count > 0 && !anonymous {
			if err := s.repomanager.Users(tx).ApplyUsage(ctx, t.OwnerID, models.UsageDelta{Storage: size, Files: count}); err != nil {
				return fmt.Errorf("apply usage: %w", err)
			}
		}

		total, n, err := filesRepo.CompletedTotals(ctx, t.ID)
		if err != nil {
			return err
		}
		activated, err = s.repomanager.Transfers(tx).Activate(ctx, t.ID, total, n)
		if err != nil || !activated {
			return err
		}

		if anonymous {
			return s.repomanager.AnonymousSenders(tx).AddUsage(ctx, t.SenderEmail, total, 1)
		}
		return s.repomanager.Users(tx).ApplyUsage(ctx, t.OwnerID, models.UsageDelta{Transfers: 1})
	})
	if err != nil {
		return nil, err
	}

	confirmed, err := s.repomanager.Transfers(s.db).GetByID(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if activated {
		s.logger.Info(ctx, "transfer confirmed", "transfer_id", confirmed.PublicID, "files", confirmed.FileCount, "size", confirmed.TotalSize)
		if confirmed.DeliveryMethod == models.DeliveryEmail && confirmed.RecipientEmail != "" {
			s.notifyRecipient(ctx, confirmed)
		}
	}
	return confirmed, nil
}

func (s *TransferService) notifyRecipient(ctx context.Context, t *models.Transfer) {
	link := strings.TrimRight(s.config.PublicBaseURL, "/") + "/t/" + t.PublicID
	msg := notify.TransferReady(t.RecipientEmail, t.Title, link)
	if !s.queue.Submit("transfer-ready", func(ctx context.Context) error { return s.mailer.Send(ctx, msg) }) {
		s.logger.Warn(ctx, "recipient notification dropped", "transfer_id", t.PublicID)
	}
}

// VerifyTransferPassword checks a transfer password. Failures count against
// a budget keyed by the transfer id, so rotating callers does not help an
// attacker. An unknown transfer and a wrong password look the same.
func (s *TransferService) VerifyTransferPassword(ctx context.Context, publicID, password string) (bool, error) {
	if err := s.passwordBudget(ctx, publicID); err != nil {
		return false, err
	}

	t, err := s.repomanager.Transfers(s.db).GetByPublicID(ctx, publicID)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			return false, err
		}
		s.hasher.Burn(password)
		s.recordPasswordFailure(ctx, publicID)
		return false, nil
	}
	return s.checkPassword(ctx, t, password)
}

func (s *TransferService) passwordBudget(ctx context.Context, publicID string) error {
	d, err := s.limiter.Peek(ctx, ratelimit.BucketPassword, publicID)
	if err != nil {
		return err
	}
	return d.Err()
}

func (s *TransferService) recordPasswordFailure(ctx context.Context, publicID string) {
	if _, err := s.limiter.Fail(ctx, ratelimit.BucketPassword, publicID); err != nil {
		s.logger.Warn(ctx, "failed to record password failure", "transfer_id", publicID, "error", err)
	}
}

// checkPassword verifies password against t. A legacy hash that matches is
// replaced with its bcrypt upgrade; failing to store the upgrade does not
// fail the check.
func (s *TransferService) checkPassword(ctx context.Context, t *models.Transfer, password string) (bool, error) {
	if !t.HasPassword() {
		return true, nil
	}
	v, err := s.hasher.Verify(password, t.PasswordHash)
	if err != nil {
		return false, err
	}
	if !v.OK {
		s.recordPasswordFailure(ctx, t.PublicID)
		return false, nil
	}
	if v.Upgraded != "" {
		if err := s.repomanager.Transfers(s.db).UpdatePasswordHash(ctx, t.ID, v.Upgraded); err != nil {
			s.logger.Warn(ctx, "failed to upgrade password hash", "transfer_id", t.PublicID, "error", err)
		} else {
			t.PasswordHash = v.Upgraded
		}
	}
	return true, nil
}

// DownloadRequest identifies a file to serve and the context of the request.
type DownloadRequest struct {
	PublicID  string
	FileID    string
	Password  string
	ClientIP  string
	UserAgent string
}

// Download is a served file. Exactly one of RedirectURL and Content is set.
type Download struct {
	// RedirectURL is a time-limited storage URL for plaintext blobs.
	RedirectURL string
	// Content is the decrypted body of a server-side encrypted file.
	Content  []byte
	Name     string
	MimeType string
	Size     int64
}

// SecureDownload serves one file of an active transfer. Expiry is checked
// before anything else. Password protected transfers require the password
// from everyone but the owner.
func (s *TransferService) SecureDownload(ctx context.Context, id *access.Identity, req DownloadRequest) (*Download, error) {
	t, err := s.repomanager.Transfers(s.db).GetByPublicID(ctx, req.PublicID)
	if err != nil {
		return nil, err
	}

	switch t.EffectiveStatus(s.now()) {
	case models.TransferExpired:
		return nil, fmt.Errorf("%w: transfer", common.ErrExpired)
	case models.TransferActive:
	default:
		return nil, common.ErrNotFound
	}

	owner := id != nil && access.Authorize(id, t.OwnerID) == nil
	if t.HasPassword() && !owner {
		if err := s.passwordBudget(ctx, t.PublicID); err != nil {
			return nil, err
		}
		ok, err := s.checkPassword(ctx, t, req.Password)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: transfer password", common.ErrInvalidCredentials)
		}
	}

	f, err := s.repomanager.Files(s.db).GetByID(ctx, req.FileID)
	if err != nil {
		return nil, err
	}
	if f.TransferID != t.ID || f.Status != models.FileCompleted {
		return nil, common.ErrNotFound
	}

	dl := &Download{Name: f.Name, MimeType: f.MimeType, Size: f.Size}
	if f.IsEncrypted() {
		if dl.Content, err = s.decryptFile(ctx, f); err != nil {
			return nil, err
		}
	} else {
		if dl.RedirectURL, err = s.store.PresignGet(ctx, f.StorageKey, f.Name, s.config.DownloadURLTTL); err != nil {
			return nil, err
		}
	}

	s.recordDownload(ctx, t, f, req)
	return dl, nil
}

// decryptFile returns the plaintext of an encrypted file or an error; it
// never returns partially decrypted bytes.
func (s *TransferService) decryptFile(ctx context.Context, f *models.File) ([]byte, error) {
	if f.EncAlgorithm != cryptox.Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", common.ErrDecryption, f.EncAlgorithm)
	}
	ciphertext, err := s.store.Fetch(ctx, f.StorageKey, s.config.MaxEncryptedUploadBytes+cryptox.TagSize)
	if err != nil {
		return nil, err
	}
	key, err := s.keys.Unwrap(f.EncryptedKey)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	return cryptox.Decrypt(ciphertext, key, f.Nonce)
}

// recordDownload bumps download counters and queues the analytics event.
// None of it can fail the download.
func (s *TransferService) recordDownload(ctx context.Context, t *models.Transfer, f *models.File, req DownloadRequest) {
	if err := s.repomanager.Files(s.db).IncrementDownloads(ctx, f.ID); err != nil {
		s.logger.Warn(ctx, "failed to count file download", "file_id", f.ID, "error", err)
	}
	if err := s.repomanager.Transfers(s.db).IncrementDownloads(ctx, t.ID); err != nil {
		s.logger.Warn(ctx, "failed to count transfer download", "transfer_id", t.PublicID, "error", err)
	}

	event := &models.DownloadEvent{
		TransferID: t.ID,
		FileID:     f.ID,
		OwnerID:    t.OwnerID,
		UserAgent:  req.UserAgent,
		CreatedAt:  s.now(),
	}
	if req.ClientIP != "" {
		event.IPHash = credentials.HashCode(req.ClientIP)
	}
	ok := s.queue.Submit("download-event", func(ctx context.Context) error {
		return s.repomanager.Events(s.db).Insert(ctx, event)
	})
	if !ok {
		s.logger.Warn(ctx, "download event dropped", "transfer_id", t.PublicID)
	}
}

// DeleteFile removes a file the caller owns.
func (s *TransferService) DeleteFile(ctx context.Context, id *access.Identity, fileID string) error {
	if err := access.RequirePermission(id, models.PermissionWrite); err != nil {
		return err
	}
	f, err := s.repomanager.Files(s.db).GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if err := access.Authorize(id, f.OwnerID); err != nil {
		return err
	}
	return s.deleteFile(ctx, f)
}

// deleteFile deletes the blob, best effort, and then the record. Only the
// call whose DELETE returned the row refunds quota, and only for completed
// files.
func (s *TransferService) deleteFile(ctx context.Context, f *models.File) error {
	s.deleteBlob(ctx, f.ID, f.StorageKey)

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		d, err := s.repomanager.Files(tx).Delete(ctx, f.ID)
		if err != nil {
			return err
		}
		if d.Status != models.FileCompleted {
			return nil
		}
		if !access.IsAnonymousID(d.OwnerID) {
			delta := models.UsageDelta{Storage: d.Size, Files: 1}
			if err := s.refundUsage(ctx, tx, d.OwnerID, delta); err != nil {
				return fmt.Errorf("apply usage: %w", err)
			}
		}
		if d.TransferID != "" {
			return s.repomanager.Transfers(tx).AdjustTotals(ctx, d.TransferID, -d.Size, -1)
		}
		return nil
	})
}

// BulkDeleteResult reports each id of a bulk delete separately so callers
// can retry only what failed.
type BulkDeleteResult struct {
	Deleted []string
	Failed  []BulkFailure
}

// BulkFailure is one id that could not be deleted.
type BulkFailure struct {
	ID    string
	Error string
}

// BulkDelete deletes up to common.MaxBulkDelete files. Ownership is checked
// per file and one failure does not stop the others.
func (s *TransferService) BulkDelete(ctx context.Context, id *access.Identity, fileIDs []string) (*BulkDeleteResult, error) {
	if len(fileIDs) == 0 || len(fileIDs) > common.MaxBulkDelete {
		return nil, common.Validationf("between 1 and %d file ids are required", common.MaxBulkDelete)
	}
	if err := access.RequirePermission(id, models.PermissionWrite); err != nil {
		return nil, err
	}

	res := &BulkDeleteResult{Deleted: []string{}, Failed: []BulkFailure{}}
	seen := make(map[string]struct{}, len(fileIDs))
	for _, fileID := range fileIDs {
		if _, dup := seen[fileID]; dup {
			continue
		}
		seen[fileID] = struct{}{}

		if err := s.DeleteFile(ctx, id, fileID); err != nil {
			if !errors.Is(err, common.ErrNotFound) && !errors.Is(err, common.ErrForbidden) {
				s.logger.Error(ctx, "bulk delete item failed", "file_id", fileID, "error", err)
			}
			res.Failed = append(res.Failed, BulkFailure{ID: fileID, Error: FailureCode(err)})
			continue
		}
		res.Deleted = append(res.Deleted, fileID)
	}
	return res, nil
}

// DeleteTransfer removes a transfer the caller owns together with its files.
func (s *TransferService) DeleteTransfer(ctx context.Context, id *access.Identity, publicID string) error {
	if err := access.RequirePermission(id, models.PermissionWrite); err != nil {
		return err
	}
	t, err := s.repomanager.Transfers(s.db).GetByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	if err := access.Authorize(id, t.OwnerID); err != nil {
		return err
	}
	_, err = s.deleteTransfer(ctx, t.ID, true)
	return err
}

// deleteTransfer deletes blobs first, then the file rows and the transfer
// row in one transaction. It returns common.ErrNotFound when another caller
// deleted the transfer first, in which case nothing is refunded. The monthly
// transfer count is refunded only for explicit deletes of active transfers.
func (s *TransferService) deleteTransfer(ctx context.Context, transferID string, explicit bool) (int64, error) {
	listed, err := s.repomanager.Files(s.db).ListByTransfer(ctx, transferID)
	if err != nil {
		return 0, err
	}
	for _, f := range listed {
		s.deleteBlob(ctx, f.ID, f.StorageKey)
	}

	var freed int64
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		deleted, err := s.repomanager.Files(tx).DeleteByTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		t, err := s.repomanager.Transfers(tx).Delete(ctx, transferID)
		if err != nil {
			return err
		}

		var count int
		for _, d := range deleted {
			if d.Status == models.FileCompleted {
				freed += d.Size
				count++
			}
		}
		if access.IsAnonymousID(t.OwnerID) || t.OwnerID == "" {
			return nil
		}
		delta := models.UsageDelta{Storage: freed, Files: count}
		if explicit && t.Status == models.TransferActive {
			delta.Transfers = 1
		}
		if delta.IsZero() {
			return nil
		}
		return s.refundUsage(ctx, tx, t.OwnerID, delta)
	})
	if err != nil {
		return 0, err
	}
	return freed, nil
}

// refundUsage gives delta back to ownerID. A deleted account has nothing
// to refund, which must not keep its transfers and files from going away.
func (s *TransferService) refundUsage(ctx context.Context, tx dbx.DBTX, ownerID string, delta models.UsageDelta) error {
	err := s.repomanager.Users(tx).ApplyUsage(ctx, ownerID, delta.Negate())
	if errors.Is(err, common.ErrNotFound) {
		s.logger.Warn(ctx, "owner account not found, usage not refunded", "owner_id", ownerID)
		return nil
	}
	return err
}

// SweepResult summarises one expiry sweep.
type SweepResult struct {
	DeletedCount int            `json:"deletedCount"`
	SizeFreed    int64          `json:"sizeFreed"`
	Errors       []SweepFailure `json:"errors"`
}

// SweepFailure is a transfer the sweep could not delete.
type SweepFailure struct {
	TransferID string `json:"transferId"`
	Error      string `json:"error"`
}

// ExpirySweep deletes one batch of expired transfers. It is safe to run
// concurrently with itself: a transfer already deleted by another run is
// skipped. Expired setup sessions are purged and monthly counters older
// than a month are reset on the way.
func (s *TransferService) ExpirySweep(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	batch := s.config.SweepBatchSize
	if batch <= 0 {
		batch = 100
	}

	ids, err := s.repomanager.Transfers(s.db).ListExpired(ctx, now, batch)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{Errors: []SweepFailure{}}
	for _, transferID := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		freed, err := s.deleteTransfer(ctx, transferID, false)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			s.logger.Error(ctx, "sweep failed to delete transfer", "transfer_id", transferID, "error", err)
			res.Errors = append(res.Errors, SweepFailure{TransferID: transferID, Error: FailureCode(err)})
			continue
		}
		res.DeletedCount++
		res.SizeFreed += freed
	}

	if n, err := s.repomanager.TwoFactor(s.db).DeleteExpiredSessions(ctx, now); err != nil {
		s.logger.Warn(ctx, "failed to purge setup sessions", "error", err)
	} else if n > 0 {
		s.logger.Debug(ctx, "purged setup sessions", "count", n)
	}
	if n, err := s.repomanager.Users(s.db).ResetMonthlyUsage(ctx, now, now.Add(-monthlyResetPeriod)); err != nil {
		s.logger.Warn(ctx, "failed to reset monthly usage", "error", err)
	} else if n > 0 {
		s.logger.Debug(ctx, "reset monthly usage", "accounts", n)
	}

	s.logger.Info(ctx, "expiry sweep finished", "deleted", res.DeletedCount, "size_freed", res.SizeFreed, "errors", len(res.Errors))
	return res, nil
}

const monthlyResetPeriod = 30 * 24 * time.Hour

// Usage returns the quota snapshot of the caller.
func (s *TransferService) Usage(ctx context.Context, id *access.Identity) (*models.Usage, error) {
	if err := access.RequirePermission(id, models.PermissionRead); err != nil {
		return nil, err
	}
	return s.quota.Usage(ctx, id)
}
