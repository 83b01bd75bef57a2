package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"brightcart/internal/assets"
)

func multipartUpload(t *testing.T, files map[string][]byte, contentType string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("write form field: %v", err)
		}
	}
	for name, payload := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		if _, err := part.Write(payload); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return buf, writer.FormDataContentType()
}

func TestUploadStoresInlineFallback(t *testing.T) {
	handler, store := newTestHandler(t)
	admin := createTestUser(t, store, "admin@example.com", roleAdmin)

	body, contentType := multipartUpload(t, map[string][]byte{
		"lamp.png": []byte("fake png bytes"),
	}, "image/png", map[string]string{"folder": "products"})
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Uploads(rec, asUser(req, admin))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var result assets.UploadResult
	decodeData(t, rec, &result)
	if !strings.HasPrefix(result.Locator, "data:image/png;base64,") {
		t.Fatalf("expected inline data URI, got %q", result.Locator)
	}
	if !strings.HasPrefix(result.Identifier, "inline-") {
		t.Fatalf("expected inline identifier, got %q", result.Identifier)
	}
}

func TestUploadRejectsDisallowedContentType(t *testing.T) {
	handler, store := newTestHandler(t)
	admin := createTestUser(t, store, "admin@example.com", roleAdmin)

	body, contentType := multipartUpload(t, map[string][]byte{
		"movie.mp4": []byte("fake video"),
	}, "video/mp4", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Uploads(rec, asUser(req, admin))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	envelope := decodeEnvelope(t, rec)
	if !strings.Contains(envelope.Message, "not allowed") {
		t.Fatalf("expected a content-type rejection, got %q", envelope.Message)
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	handler, store := newTestHandler(t)
	admin := createTestUser(t, store, "admin@example.com", roleAdmin)

	body, contentType := multipartUpload(t, map[string][]byte{
		"huge.png": make([]byte, assets.DefaultMaxFileBytes+1),
	}, "image/png", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Uploads(rec, asUser(req, admin))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	envelope := decodeEnvelope(t, rec)
	if !strings.Contains(envelope.Message, "maximum allowed size") {
		t.Fatalf("expected a size rejection, got %q", envelope.Message)
	}
}

func TestUploadRequiresAdmin(t *testing.T) {
	handler, store := newTestHandler(t)
	customer := createTestUser(t, store, "shopper@example.com", roleCustomer)

	body, contentType := multipartUpload(t, map[string][]byte{
		"lamp.png": []byte("fake png bytes"),
	}, "image/png", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.Uploads(rec, asUser(req, customer))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
}

func TestUploadBatchStoresEveryFile(t *testing.T) {
	handler, store := newTestHandler(t)
	admin := createTestUser(t, store, "admin@example.com", roleAdmin)

	body, contentType := multipartUpload(t, map[string][]byte{
		"front.png": []byte("front"),
		"side.png":  []byte("side"),
	}, "image/png", map[string]string{"folders": `["products","products"]`})
	req := httptest.NewRequest(http.MethodPost, "/api/uploads/batch", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.UploadsBatch(rec, asUser(req, admin))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var results []assets.UploadResult
	decodeData(t, rec, &results)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, result := range results {
		if result.Locator == "" || result.Identifier == "" {
			t.Fatalf("expected populated results, got %+v", results)
		}
	}
}

func TestDeleteUploadWithoutRemoteIsHardError(t *testing.T) {
	handler, store := newTestHandler(t)
	admin := createTestUser(t, store, "admin@example.com", roleAdmin)

	req := httptest.NewRequest(http.MethodDelete, "/api/uploads/products/123.png", nil)
	rec := httptest.NewRecorder()
	handler.UploadByID(rec, asUser(req, admin))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d (%s)", rec.Code, rec.Body.String())
	}

	// Inline identifiers have nothing behind them and delete cleanly.
	req = httptest.NewRequest(http.MethodDelete, "/api/uploads/inline-12345", nil)
	rec = httptest.NewRecorder()
	handler.UploadByID(rec, asUser(req, admin))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
}
