package validation

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	MaxFileSize       = 500 * 1024 * 1024 // 500MB
	MaxFilenameLength = 255
	sniffBytes        = 3072
)

var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrInvalidFileType = errors.New("invalid file type - only mp4, mov and avi allowed")
	ErrFilenameTooLong = errors.New("filename too long - maximum 255 characters")
	ErrEmptyFile       = errors.New("file is empty")
)

var AllowedMimeTypes = map[string]bool{
	"video/mp4":       true,
	"video/quicktime": true,
	"video/avi":       true,
	"video/x-msvideo": true,
}

// ValidateUpload checks the multipart header against the size ceiling and
// the MIME allow-list, returning the accepted content type. A missing or
// generic header type is resolved by sniffing the file contents.
func ValidateUpload(fileHeader *multipart.FileHeader, maxSize int64) (string, error) {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	if err := ValidateSize(fileHeader.Size, maxSize); err != nil {
		return "", err
	}
	if len(fileHeader.Filename) > MaxFilenameLength {
		return "", ErrFilenameTooLong
	}

	contentType := normalize(fileHeader.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		f, err := fileHeader.Open()
		if err != nil {
			return "", fmt.Errorf("validation.ValidateUpload: %w", err)
		}
		defer f.Close()
		contentType, err = Sniff(f)
		if err != nil {
			return "", err
		}
	}

	if err := ValidateType(contentType); err != nil {
		return "", err
	}
	return contentType, nil
}

func ValidateSize(size, maxSize int64) error {
	if size == 0 {
		return ErrEmptyFile
	}
	if size > maxSize {
		return fmt.Errorf("%w - maximum %dMB allowed", ErrFileTooLarge, maxSize/(1024*1024))
	}
	return nil
}

func ValidateType(contentType string) error {
	if !AllowedMimeTypes[normalize(contentType)] {
		return ErrInvalidFileType
	}
	return nil
}

// Sniff detects the content type from the leading bytes of r.
func Sniff(r io.Reader) (string, error) {
	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("validation.Sniff: %w", err)
	}
	mt := mimetype.Detect(head[:n])
	for m := mt; m != nil; m = m.Parent() {
		if AllowedMimeTypes[m.String()] {
			return m.String(), nil
		}
	}
	return normalize(mt.String()), nil
}

func normalize(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
