package assets

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// disabledStore is the fallback when no bucket is configured.
type disabledStore struct{}

func (disabledStore) Enabled() bool { return false }

func (disabledStore) Upload(context.Context, string, string, []byte) (string, error) {
	return "", ErrRemoteUnavailable
}

func (disabledStore) Delete(context.Context, string) error {
	return ErrRemoteUnavailable
}

// s3Store talks to any S3-compatible endpoint with SigV4 signing. Unsigned
// requests are sent when no credentials are configured, which suits local
// MinIO setups with anonymous write policies.
type s3Store struct {
	bucket         string
	prefix         string
	region         string
	accessKey      string
	secretKey      string
	publicEndpoint string
	endpoint       *url.URL
	httpClient     *http.Client
}

func newS3Store(cfg Config) remoteStore {
	bucket := strings.TrimSpace(cfg.Bucket)
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if bucket == "" || endpoint == "" {
		return disabledStore{}
	}
	if strings.Contains(endpoint, "://") {
		if parsed, err := url.Parse(endpoint); err == nil {
			endpoint = parsed.Host
		}
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	base := &url.URL{Scheme: scheme, Host: endpoint}
	if base.Host == "" {
		return disabledStore{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	return &s3Store{
		bucket:         bucket,
		prefix:         strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		region:         region,
		accessKey:      strings.TrimSpace(cfg.AccessKey),
		secretKey:      strings.TrimSpace(cfg.SecretKey),
		publicEndpoint: strings.TrimSpace(cfg.PublicEndpoint),
		endpoint:       base,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

func (s *s3Store) Enabled() bool { return true }

func (s *s3Store) Upload(ctx context.Context, key, contentType string, body []byte) (string, error) {
	finalKey := s.prefixed(key)
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(finalKey).String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	s.sign(request, sha256Hex(body))
	response, err := s.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("upload object %s: %w", finalKey, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", fmt.Errorf("upload object %s: unexpected status %d", finalKey, response.StatusCode)
	}
	return s.publicURL(finalKey), nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	finalKey := s.prefixed(key)
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(finalKey).String(), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	s.sign(request, emptyPayloadHash)
	response, err := s.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", response.StatusCode)
	}
	return nil
}

func (s *s3Store) prefixed(key string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if s.prefix == "" {
		return trimmed
	}
	if trimmed == "" {
		return s.prefix
	}
	if trimmed == s.prefix || strings.HasPrefix(trimmed, s.prefix+"/") {
		return trimmed
	}
	return s.prefix + "/" + trimmed
}

func (s *s3Store) objectURL(finalKey string) *url.URL {
	objectPath := "/" + strings.TrimLeft(s.bucket, "/")
	if trimmedKey := strings.TrimLeft(finalKey, "/"); trimmedKey != "" {
		objectPath += "/" + trimmedKey
	}
	u := *s.endpoint
	u.Path = objectPath
	return &u
}

func (s *s3Store) publicURL(finalKey string) string {
	base := s.publicEndpoint
	if base == "" {
		u := s.objectURL(finalKey)
		return u.String()
	}
	trimmedBase := strings.TrimRight(base, "/")
	trimmedKey := strings.TrimLeft(finalKey, "/")
	if trimmedKey == "" {
		return trimmedBase
	}
	return trimmedBase + "/" + trimmedKey
}

// sign applies AWS SigV4 headers in place. Without credentials the request
// only carries the payload hash, which unauthenticated endpoints accept.
func (s *s3Store) sign(req *http.Request, payloadHash string) {
	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	if s.accessKey == "" || s.secretKey == "" {
		return
	}
	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	req.Header.Set("x-amz-date", amzDate)
	canonicalHeaders, signedHeaders := canonicalHeaderSet(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")
	requestHash := sha256.Sum256([]byte(canonicalRequest))
	scope := strings.Join([]string{dateStamp, s.region, "s3", "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(requestHash[:]),
	}, "\n")
	signature := hmacSHA256Hex(signingKey(s.secretKey, dateStamp, s.region), stringToSign)
	req.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		s.accessKey, scope, signedHeaders, signature,
	))
}

func canonicalHeaderSet(req *http.Request) (string, string) {
	headerMap := make(map[string][]string)
	for key, values := range req.Header {
		lower := strings.ToLower(key)
		if lower == "authorization" {
			continue
		}
		cleaned := make([]string, 0, len(values))
		for _, v := range values {
			cleaned = append(cleaned, strings.TrimSpace(v))
		}
		headerMap[lower] = cleaned
	}
	if _, ok := headerMap["host"]; !ok && req.Host != "" {
		headerMap["host"] = []string{req.Host}
	}
	keys := make([]string, 0, len(headerMap))
	for key := range headerMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	for _, key := range keys {
		builder.WriteString(key)
		builder.WriteByte(':')
		builder.WriteString(strings.Join(headerMap[key], ","))
		builder.WriteByte('\n')
	}
	return builder.String(), strings.Join(keys, ";")
}

func canonicalURI(u *url.URL) string {
	if u == nil {
		return "/"
	}
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func canonicalQuery(u *url.URL) string {
	if u == nil {
		return ""
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil || len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	for idx, key := range keys {
		if idx > 0 {
			builder.WriteByte('&')
		}
		sort.Strings(values[key])
		for vIdx, value := range values[key] {
			if vIdx > 0 {
				builder.WriteByte('&')
			}
			builder.WriteString(url.QueryEscape(key))
			builder.WriteByte('=')
			builder.WriteString(url.QueryEscape(value))
		}
	}
	return builder.String()
}

func signingKey(secret, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte("s3"))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hmacSHA256Hex(key []byte, data string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

var emptyPayloadHash = sha256Hex(nil)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
