package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// UploadedFile is the PAN document selected on the form.
type UploadedFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	Content     []byte `json:"content,omitempty"`
}

// NewUploadedFile sniffs the content type when the client did not send one
// and fingerprints the content.
func NewUploadedFile(name, contentType string, content []byte) *UploadedFile {
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(content)
	}
	sum := sha256.Sum256(content)
	return &UploadedFile{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(content)),
		SHA256:      hex.EncodeToString(sum[:]),
		Content:     content,
	}
}

// AcceptedType reports whether the file matches the picker hint
// (image/* or PDF). The hint is advisory.
func (f *UploadedFile) AcceptedType() bool {
	ct := strings.ToLower(f.ContentType)
	if strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "application/pdf") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(f.Name), ".pdf")
}

// Metadata returns a copy without the content bytes.
func (f *UploadedFile) Metadata() *UploadedFile {
	if f == nil {
		return nil
	}
	return &UploadedFile{Name: f.Name, ContentType: f.ContentType, Size: f.Size, SHA256: f.SHA256}
}
