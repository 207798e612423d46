package rest

import (
	"time"

	"github.com/dmitrijs2005/flyfile/internal/server/models"
	"github.com/dmitrijs2005/flyfile/internal/server/services"
)

type transferView struct {
	ID               string                `json:"id"`
	Title            string                `json:"title"`
	Message          string                `json:"message,omitempty"`
	Status           models.TransferStatus `json:"status"`
	DeliveryMethod   models.DeliveryMethod `json:"deliveryMethod"`
	RecipientEmail   string                `json:"recipientEmail,omitempty"`
	TotalSize        int64                 `json:"totalSize"`
	FileCount        int                   `json:"fileCount"`
	DownloadCount    int64                 `json:"downloadCount"`
	IsEncrypted      bool                  `json:"isEncrypted"`
	RequiresPassword bool                  `json:"requiresPassword"`
	ExpiresAt        time.Time             `json:"expiresAt"`
	CreatedAt        time.Time             `json:"createdAt"`
	Files            []fileView            `json:"files,omitempty"`
}

func newTransferView(t *models.Transfer, status models.TransferStatus) transferView {
	return transferView{
		ID:               t.PublicID,
		Title:            t.Title,
		Message:          t.Message,
		Status:           status,
		DeliveryMethod:   t.DeliveryMethod,
		RecipientEmail:   t.RecipientEmail,
		TotalSize:        t.TotalSize,
		FileCount:        t.FileCount,
		DownloadCount:    t.DownloadCount,
		IsEncrypted:      t.IsEncrypted,
		RequiresPassword: t.HasPassword(),
		ExpiresAt:        t.ExpiresAt,
		CreatedAt:        t.CreatedAt,
	}
}

func newTransferDetail(v *services.TransferView) transferView {
	out := newTransferView(v.Transfer, v.Status)
	out.Files = make([]fileView, 0, len(v.Files))
	for _, f := range v.Files {
		out.Files = append(out.Files, newFileView(f))
	}
	return out
}

type fileView struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	MimeType      string            `json:"mimeType"`
	Size          int64             `json:"size"`
	Status        models.FileStatus `json:"status"`
	Encrypted     bool              `json:"encrypted"`
	DownloadCount int64             `json:"downloadCount"`
	CreatedAt     time.Time         `json:"createdAt"`
}

func newFileView(f *models.File) fileView {
	return fileView{
		ID:            f.ID,
		Name:          f.Name,
		MimeType:      f.MimeType,
		Size:          f.Size,
		Status:        f.Status,
		Encrypted:     f.IsEncrypted(),
		DownloadCount: f.DownloadCount,
		CreatedAt:     f.CreatedAt,
	}
}

type uploadSlotView struct {
	FileID    string    `json:"fileId"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type bulkDeleteView struct {
	Deleted []string          `json:"deleted"`
	Failed  []bulkFailureView `json:"failed"`
}

type bulkFailureView struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type apiKeyView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Prefix      string     `json:"prefix"`
	Permissions []string   `json:"permissions"`
	Active      bool       `json:"active"`
	UsageCount  int64      `json:"usageCount"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func newAPIKeyView(k *models.APIKey) apiKeyView {
	return apiKeyView{
		ID:          k.ID,
		Name:        k.Name,
		Prefix:      k.Prefix,
		Permissions: k.Permissions,
		Active:      k.Active,
		UsageCount:  k.UsageCount,
		ExpiresAt:   k.ExpiresAt,
		LastUsedAt:  k.LastUsedAt,
		CreatedAt:   k.CreatedAt,
	}
}

type webhookView struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

func newWebhookView(h *models.Webhook) webhookView {
	return webhookView{ID: h.ID, URL: h.URL, Events: h.Events, Active: h.Active, CreatedAt: h.CreatedAt}
}
