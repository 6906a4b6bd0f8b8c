package object

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docpipe-backend/internal/shared/util"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("object not found")

// TextContentType is the content type of OCR text artifacts.
const TextContentType = "text/plain; charset=utf-8"

// Store is the byte-level contract the pipeline needs from object storage.
type Store interface {
	GetObjectBytes(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	ObjectExists(ctx context.Context, key string) (bool, error)
	CopyObject(ctx context.Context, srcKey, dstKey string) error
}

// OCRTextKey is {tenant}/{sha[:2]}/{sha}/v{version}/ocr/combined.txt.
func OCRTextKey(tenantID, sha256Hex string, version int) string {
	return fmt.Sprintf("%s/%s/v%d/ocr/combined.txt", tenantID, shaPath(sha256Hex), version)
}

// OriginalKey is {tenant}/{sha[:2]}/{sha}/v{version}/{filename}.
func OriginalKey(tenantID, sha256Hex string, version int, fileName string) (string, error) {
	name, err := util.SanitizeFileName(fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/v%d/%s", tenantID, shaPath(sha256Hex), version, name), nil
}

func shaPath(sha string) string {
	sha = strings.ToLower(strings.TrimSpace(sha))
	prefix := sha
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return prefix + "/" + sha
}
