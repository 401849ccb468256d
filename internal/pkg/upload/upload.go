// Package upload 保存头像与反馈附件到本地目录，类型依据文件内容判定而非扩展名。
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// 允许的 MIME 类型。
var (
	ImageTypes      = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}
	AttachmentTypes = append(append([]string{}, ImageTypes...), "application/pdf")
)

// Store 本地文件存储。返回的路径相对于 Dir，并以 "/" 分隔，可直接拼接到 /uploads/。
type Store struct {
	dir      string
	maxBytes int64
}

func NewStore(dir string, maxBytes int64) *Store {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &Store{dir: dir, maxBytes: maxBytes}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// SaveFile 保存 multipart 上传文件。
func (s *Store) SaveFile(fh *multipart.FileHeader, subdir string, allowed []string) (string, error) {
	if fh.Size > s.maxBytes {
		return "", ErrTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return s.Save(f, subdir, allowed)
}

// Save 嗅探内容类型后写入 dir/subdir/<uuid><ext>。
func (s *Store) Save(r io.Reader, subdir string, allowed []string) (string, error) {
	// DetectReader 会消费头部字节，用 TeeReader 留存后再拼回去。
	var head bytes.Buffer
	mtype, err := mimetype.DetectReader(io.TeeReader(io.LimitReader(r, 3072), &head))
	if err != nil {
		return "", fmt.Errorf("detect type: %w", err)
	}
	if !mimetype.EqualsAny(mtype.String(), allowed...) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mtype.String())
	}

	target := filepath.Join(s.dir, filepath.FromSlash(subdir))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	name := uuid.NewString() + mtype.Extension()
	full := filepath.Join(target, name)

	out, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	src := io.MultiReader(&head, r)
	written, err := io.Copy(out, io.LimitReader(src, s.maxBytes+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("write file: %w", err)
	}
	if written > s.maxBytes {
		_ = os.Remove(full)
		return "", ErrTooLarge
	}
	return path.Join(subdir, name), nil
}

// Remove 删除已保存的文件，不存在时忽略。
func (s *Store) Remove(rel string) error {
	if rel == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(path.Clean("/"+rel))))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
