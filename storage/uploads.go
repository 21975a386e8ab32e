package storage

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Local blob store for message attachments and avatars. Files are written
// under UploadDir and served back as /uploads/<name> URLs.

const MaxUploadSize = 10 << 20 // 10MB

var allowedUploadExtensions = []string{
	".jpeg", ".jpg", ".png", ".gif", ".pdf", ".doc", ".docx", ".txt", ".zip",
}

var (
	ErrFileTooLarge   = errors.New("file exceeds the 10MB upload limit")
	ErrFileTypeDenied = errors.New("file type is not allowed")
)

var UploadDir string

func InitializeUploads() {
	UploadDir = os.Getenv("UPLOAD_DIR")
	if UploadDir == "" {
		UploadDir = "uploads"
	}
	if err := os.MkdirAll(UploadDir, 0o755); err != nil {
		log.Panic("error creating upload directory: " + err.Error())
	}
}

// IsImageExtension reports whether the original file name looks like an
// image, which decides the message kind for attachments.
func IsImageExtension(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	return ext == ".jpeg" || ext == ".jpg" || ext == ".png" || ext == ".gif"
}

// SaveUpload validates and persists a multipart file, returning the public
// URL it is served under. Rejected files are never written to disk.
func SaveUpload(header *multipart.FileHeader) (url string, err error) {
	if header.Size > MaxUploadSize {
		return "", ErrFileTooLarge
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(allowedUploadExtensions, ext) {
		return "", ErrFileTypeDenied
	}

	src, err := header.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(UploadDir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}

	return fmt.Sprintf("/uploads/%s", name), nil
}
