package validation

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/textproto"
	"testing"
)

func fileHeader(t *testing.T, filename, contentType string, content []byte) *multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="video"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["video"][0]
}

func mp4Header() []byte {
	b := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}
	return append(b, make([]byte, 64)...)
}

func TestValidateSize(t *testing.T) {
	const limit = 1000

	tests := []struct {
		name    string
		size    int64
		wantErr error
	}{
		{name: "empty", size: 0, wantErr: ErrEmptyFile},
		{name: "oneByte", size: 1},
		{name: "atLimit", size: limit},
		{name: "oneOver", size: limit + 1, wantErr: ErrFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSize(tt.size, limit)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("ValidateSize(%d) unexpected error: %v", tt.size, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateSize(%d) = %v, want %v", tt.size, err, tt.wantErr)
			}
		})
	}
}

func TestValidateType(t *testing.T) {
	tests := []struct {
		contentType string
		ok          bool
	}{
		{"video/mp4", true},
		{"video/quicktime", true},
		{"video/avi", true},
		{"video/x-msvideo", true},
		{"video/mp4; codecs=avc1", true},
		{"VIDEO/MP4", true},
		{"video/webm", false},
		{"image/png", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			err := ValidateType(tt.contentType)
			if tt.ok && err != nil {
				t.Errorf("ValidateType(%q) = %v, want nil", tt.contentType, err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidFileType) {
				t.Errorf("ValidateType(%q) = %v, want ErrInvalidFileType", tt.contentType, err)
			}
		})
	}
}

func TestValidateUpload(t *testing.T) {
	t.Run("declaredType", func(t *testing.T) {
		fh := fileHeader(t, "clip.mov", "video/quicktime", []byte("not really a movie"))
		ct, err := ValidateUpload(fh, 0)
		if err != nil {
			t.Fatalf("ValidateUpload() error = %v", err)
		}
		if ct != "video/quicktime" {
			t.Errorf("content type = %q", ct)
		}
	})

	t.Run("sniffedWhenGeneric", func(t *testing.T) {
		fh := fileHeader(t, "clip.bin", "application/octet-stream", mp4Header())
		ct, err := ValidateUpload(fh, 0)
		if err != nil {
			t.Fatalf("ValidateUpload() error = %v", err)
		}
		if ct != "video/mp4" {
			t.Errorf("content type = %q, want video/mp4", ct)
		}
	})

	t.Run("rejectedType", func(t *testing.T) {
		fh := fileHeader(t, "notes.txt", "text/plain", []byte("hello"))
		if _, err := ValidateUpload(fh, 0); !errors.Is(err, ErrInvalidFileType) {
			t.Errorf("ValidateUpload() = %v, want ErrInvalidFileType", err)
		}
	})

	t.Run("overLimit", func(t *testing.T) {
		fh := fileHeader(t, "clip.mp4", "video/mp4", make([]byte, 11))
		if _, err := ValidateUpload(fh, 10); !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("ValidateUpload() = %v, want ErrFileTooLarge", err)
		}
	})

	t.Run("emptyFile", func(t *testing.T) {
		fh := fileHeader(t, "clip.mp4", "video/mp4", nil)
		if _, err := ValidateUpload(fh, 0); !errors.Is(err, ErrEmptyFile) {
			t.Errorf("ValidateUpload() = %v, want ErrEmptyFile", err)
		}
	})
}
