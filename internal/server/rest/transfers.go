package rest

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/server/access"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
	"github.com/dmitrijs2005/flyfile/internal/server/services"
)

type createTransferRequest struct {
	Title          string `json:"title"`
	Message        string `json:"message"`
	ExpiryDays     int    `json:"expiryDays"`
	Password       string `json:"password"`
	RecipientEmail string `json:"recipientEmail"`
	DeliveryMethod string `json:"deliveryMethod"`
	SenderEmail    string `json:"senderEmail"`
	Encrypted      bool   `json:"encrypted"`
}

type createTransferResponse struct {
	Transfer    transferView `json:"transfer"`
	AnonymousID string       `json:"anonymousId,omitempty"`
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.transfers.CreateTransfer(r.Context(), access.IdentityFromContext(r.Context()), services.CreateTransferRequest{
		Title:          req.Title,
		Message:        req.Message,
		ExpiryDays:     req.ExpiryDays,
		Password:       req.Password,
		RecipientEmail: req.RecipientEmail,
		DeliveryMethod: models.DeliveryMethod(req.DeliveryMethod),
		SenderEmail:    req.SenderEmail,
		Encrypted:      req.Encrypted,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if created.AnonymousID != "" {
		w.Header().Set(headerAnonymousID, created.AnonymousID)
	}
	t := created.Transfer
	writeJSON(w, http.StatusCreated, createTransferResponse{
		Transfer:    newTransferView(t, t.EffectiveStatus(h.now())),
		AnonymousID: created.AnonymousID,
	})
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	list, err := h.transfers.ListTransfers(r.Context(), access.IdentityFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	now := h.now()
	out := make([]transferView, 0, len(list))
	for _, t := range list {
		out = append(out, newTransferView(t, t.EffectiveStatus(now)))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	v, err := h.transfers.GetTransfer(r.Context(), access.IdentityFromContext(r.Context()), chi.URLParam(r, "transferID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransferDetail(v))
}

type uploadRequest struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

func (h *Handler) requestTransferUpload(w http.ResponseWriter, r *http.Request) {
	h.requestUpload(w, r, chi.URLParam(r, "transferID"))
}

func (h *Handler) requestLibraryUpload(w http.ResponseWriter, r *http.Request) {
	h.requestUpload(w, r, "")
}

func (h *Handler) requestUpload(w http.ResponseWriter, r *http.Request, transferID string) {
	var req uploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	slot, err := h.transfers.RequestUploadSlot(r.Context(), access.IdentityFromContext(r.Context()), services.UploadRequest{
		TransferID: transferID,
		Name:       req.Name,
		MimeType:   req.MimeType,
		Size:       req.Size,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadSlotView{
		FileID:    slot.FileID,
		URL:       slot.URL,
		Method:    slot.Method,
		ExpiresAt: slot.ExpiresAt,
	})
}

// uploadContent receives the plaintext of a file in an encrypted transfer.
func (h *Handler) uploadContent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, common.Validationf("encrypted files are limited to %d bytes", h.maxUpload))
			return
		}
		h.writeError(w, r, common.Validationf("failed to read request body"))
		return
	}
	defer common.WipeByteArray(body)

	if err := h.transfers.UploadEncrypted(r.Context(), access.IdentityFromContext(r.Context()), chi.URLParam(r, "fileID"), body); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"size": len(body)})
}

func (h *Handler) confirmUpload(w http.ResponseWriter, r *http.Request) {
	f, err := h.transfers.ConfirmUpload(r.Context(), access.IdentityFromContext(r.Context()), chi.URLParam(r, "fileID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFileView(f))
}

func (h *Handler) confirmTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.transfers.ConfirmTransfer(r.Context(), access.IdentityFromContext(r.Context()), chi.URLParam(r, "transferID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransferView(t, t.EffectiveStatus(h.now())))
}

type verifyPasswordRequest struct {
	Password string `json:"password"`
}

func (h *Handler) verifyPassword(w http.ResponseWriter, r *http.Request) {
	var req verifyPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ok, err := h.transfers.VerifyTransferPassword(r.Context(), chi.URLParam(r, "transferID"), req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

// download redirects to storage for plaintext files and streams decrypted
// bytes for encrypted ones.
func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	d, err := h.transfers.SecureDownload(r.Context(), access.IdentityFromContext(r.Context()), services.DownloadRequest{
		PublicID:  chi.URLParam(r, "transferID"),
		FileID:    chi.URLParam(r, "fileID"),
		Password:  r.Header.Get(headerPassword),
		ClientIP:  h.byAddress(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if d.RedirectURL != "" {
		http.Redirect(w, r, d.RedirectURL, http.StatusFound)
		return
	}

	defer common.WipeByteArray(d.Content)
	contentType := d.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(d.Content)))
	if disposition := mime.FormatMediaType("attachment", map[string]string{"filename": d.Name}); disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	} else {
		w.Header().Set("Content-Disposition", "attachment")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(d.Content); err != nil {
		h.logger.Warn(r.Context(), "download write failed", "file_id", chi.URLParam(r, "fileID"), "error", err)
	}
}

func (h *Handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.transfers.DeleteFile(r.Context(), access.IdentityFromContext(r.Context()), chi.URLParam(r, "fileID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type bulkDeleteRequest struct {
	FileIDs []string `json:"fileIds"`
}

func (h *Handler) bulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.transfers.BulkDelete(r.Context(), access.IdentityFromContext(r.Context()), req.FileIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := bulkDeleteView{Deleted: res.Deleted, Failed: make([]bulkFailureView, 0, len(res.Failed))}
	if out.Deleted == nil {
		out.Deleted = []string{}
	}
	for _, f := range res.Failed {
		out.Failed = append(out.Failed, bulkFailureView{ID: f.ID, Error: f.Error})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) deleteTransfer(w http.ResponseWriter, r *http.Request) {
	if err := h.transfers.DeleteTransfer(r.Context(), access.IdentityFromContext(r.Context()), chi.URLParam(r, "transferID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) usage(w http.ResponseWriter, r *http.Request) {
	u, err := h.transfers.Usage(r.Context(), access.IdentityFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// cronCleanup runs one expiry sweep. It accepts the shared cron secret or an
// admin account.
func (h *Handler) cronCleanup(w http.ResponseWriter, r *http.Request) {
	if !h.cronAuthorized(r) {
		id, err := h.gate.Authenticate(r.Context(), credentialsFrom(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := access.AuthorizeAdmin(id); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	res, err := h.transfers.ExpirySweep(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
