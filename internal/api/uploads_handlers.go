package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"brightcart/internal/assets"
	"brightcart/internal/validate"
)

// Multipart reads are capped well above the adapter's own size gate so an
// oversized payload fails validation instead of exhausting memory.
const maxUploadReadBytes = 32 << 20

const uploadJobSingle = "single"
const uploadJobBatch = "batch"

type uploadForm struct {
	files  []assets.File
	fields map[string]any
}

func (h *Handler) Uploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if _, ok := h.requireRole(w, r, roleAdmin); !ok {
		return
	}

	recorder := h.recorder()
	recorder.UploadJobStarted(uploadJobSingle)

	form, err := h.readUploadForm(r)
	if err != nil {
		recorder.UploadJobFailed(uploadJobSingle)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(form.files) == 0 {
		recorder.UploadJobFailed(uploadJobSingle)
		writeFailure(w, http.StatusBadRequest, "a file part is required")
		return
	}
	file := form.files[0]
	if folder, ok := form.fields["folder"].(string); ok {
		file.Folder = strings.TrimSpace(folder)
	}
	if err := h.assetAdapter().Validate(file); err != nil {
		recorder.UploadJobFailed(uploadJobSingle)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.assetAdapter().Store(r.Context(), file)
	if err != nil {
		recorder.UploadJobFailed(uploadJobSingle)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	recorder.UploadJobCompleted(uploadJobSingle, int64(len(file.Bytes)))
	writeSuccess(w, http.StatusCreated, result)
}

func (h *Handler) UploadsBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if _, ok := h.requireRole(w, r, roleAdmin); !ok {
		return
	}

	recorder := h.recorder()
	recorder.UploadJobStarted(uploadJobBatch)

	form, err := h.readUploadForm(r)
	if err != nil {
		recorder.UploadJobFailed(uploadJobBatch)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(form.files) == 0 {
		recorder.UploadJobFailed(uploadJobBatch)
		writeFailure(w, http.StatusBadRequest, "at least one file part is required")
		return
	}

	// Folder assignments may arrive as a JSON-encoded array in the form; the
	// pre-pass turns malformed payloads into an empty list rather than an
	// error, matching how single-field decodes degrade.
	validate.DecodeStructuredFields(form.fields, "folders")
	folders, _ := form.fields["folders"].([]any)
	for i := range form.files {
		if i < len(folders) {
			if folder, ok := folders[i].(string); ok {
				form.files[i].Folder = strings.TrimSpace(folder)
			}
		}
	}

	var totalBytes int64
	for _, file := range form.files {
		if err := h.assetAdapter().Validate(file); err != nil {
			recorder.UploadJobFailed(uploadJobBatch)
			writeError(w, http.StatusBadRequest, fmt.Errorf("%s: %w", file.Name, err))
			return
		}
		totalBytes += int64(len(file.Bytes))
	}

	results, err := h.assetAdapter().StoreMany(r.Context(), form.files)
	if err != nil {
		recorder.UploadJobFailed(uploadJobBatch)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	recorder.UploadJobCompleted(uploadJobBatch, totalBytes)
	writeSuccess(w, http.StatusCreated, results)
}

func (h *Handler) UploadByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/uploads/"), "/")
	if id == "" {
		writeFailure(w, http.StatusNotFound, "upload id missing")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, "DELETE")
		return
	}
	if _, ok := h.requireRole(w, r, roleAdmin); !ok {
		return
	}
	if err := h.assetAdapter().Delete(r.Context(), id); err != nil {
		if errors.Is(err, assets.ErrRemoteUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) readUploadForm(r *http.Request) (uploadForm, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return uploadForm{}, fmt.Errorf("invalid multipart payload")
	}
	form := uploadForm{fields: make(map[string]any)}
	var remaining int64 = maxUploadReadBytes
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return uploadForm{}, fmt.Errorf("read multipart data: %w", err)
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		if part.FileName() != "" {
			file, n, readErr := readUploadPart(part, remaining)
			if readErr != nil {
				return uploadForm{}, readErr
			}
			remaining -= n
			form.files = append(form.files, file)
			continue
		}
		payload, readErr := io.ReadAll(io.LimitReader(part, remaining))
		_ = part.Close()
		if readErr != nil {
			return uploadForm{}, fmt.Errorf("read form field: %w", readErr)
		}
		remaining -= int64(len(payload))
		form.fields[name] = strings.TrimSpace(string(payload))
	}
	return form, nil
}

func readUploadPart(part *multipart.Part, limit int64) (assets.File, int64, error) {
	defer part.Close()
	if limit <= 0 {
		return assets.File{}, 0, fmt.Errorf("multipart payload too large")
	}
	payload, err := io.ReadAll(io.LimitReader(part, limit))
	if err != nil {
		return assets.File{}, 0, fmt.Errorf("read upload %s: %w", part.FileName(), err)
	}
	contentType := strings.TrimSpace(part.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return assets.File{
		Name:        part.FileName(),
		ContentType: contentType,
		Bytes:       payload,
	}, int64(len(payload)), nil
}
