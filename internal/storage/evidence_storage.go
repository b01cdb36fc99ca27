package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// Допустимые типы файлов доказательств, определяются по магическим байтам.
var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"application/zip": true,
	"video/mp4":       true,
	"video/webm":      true,
	"audio/mpeg":      true,
	"audio/ogg":       true,
}

// Текстовые файлы не имеют сигнатуры, их принимаем по расширению.
var textExtensions = map[string]bool{".txt": true, ".md": true, ".log": true, ".csv": true}

// EvidenceStorage хранит файлы доказательств на диске, по каталогу на спор.
type EvidenceStorage struct {
	rootPath       string
	maxUploadBytes int64
}

func NewEvidenceStorage(rootPath string, maxUploadMB int64) (*EvidenceStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}
	return &EvidenceStorage{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
	}, nil
}

// Save проверяет тип и размер файла и сохраняет его. Возвращает относительный путь и MIME тип.
func (s *EvidenceStorage) Save(ctx context.Context, disputeID uuid.UUID, originalName string, data []byte) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if len(data) == 0 {
		return "", "", apperror.New(apperror.ErrCodeValidation, "файл не может быть пустым")
	}
	if int64(len(data)) > s.maxUploadBytes {
		return "", "", apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("размер файла превышает лимит %d байт", s.maxUploadBytes))
	}

	safeName := sanitizeFilename(originalName)
	mimeType, ext, err := detect(safeName, data)
	if err != nil {
		return "", "", err
	}

	dir := filepath.Join(s.rootPath, disputeID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("storage: не удалось создать каталог спора: %w", err)
	}

	fileName := uuid.NewString() + ext
	target := filepath.Join(dir, fileName)
	temp := target + ".tmp"
	if err := os.WriteFile(temp, data, 0o644); err != nil {
		_ = os.Remove(temp)
		return "", "", fmt.Errorf("storage: ошибка записи файла: %w", err)
	}
	if err := os.Rename(temp, target); err != nil {
		_ = os.Remove(temp)
		return "", "", fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}
	return filepath.Join(disputeID.String(), fileName), mimeType, nil
}

// Open возвращает абсолютный путь к сохранённому файлу.
func (s *EvidenceStorage) Open(relativePath string) (string, error) {
	clean := filepath.Clean(relativePath)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", apperror.New(apperror.ErrCodeBadRequest, "некорректный путь к файлу")
	}
	target := filepath.Join(s.rootPath, clean)
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return "", apperror.New(apperror.ErrCodeNotFound, "файл не найден")
		}
		return "", fmt.Errorf("storage: %w", err)
	}
	return target, nil
}

// detect определяет MIME тип по содержимому и проверяет, что расширение ему соответствует.
func detect(name string, data []byte) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		if textExtensions[ext] && utf8.Valid(data) {
			return "text/plain", ext, nil
		}
		return "", "", apperror.New(apperror.ErrCodeValidation, "не удалось определить тип файла")
	}
	mimeType := kind.MIME.Value
	if !allowedMimeTypes[mimeType] {
		return "", "", apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("неподдерживаемый тип файла (%s)", mimeType))
	}
	expected := "." + kind.Extension
	if ext != "" && ext != expected && !(ext == ".jpeg" && expected == ".jpg") {
		return "", "", apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("расширение файла (%s) не соответствует реальному типу (%s)", ext, expected))
	}
	return mimeType, expected, nil
}

// sanitizeFilename удаляет потенциально опасные символы.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" || name == "." || name == "/" {
		name = "evidence"
	}
	return name
}
