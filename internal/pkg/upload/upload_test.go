package upload

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestSave_Image(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 1024)

	rel, err := s.Save(bytes.NewReader(pngHeader), "avatars", ImageTypes)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(rel, "avatars/") || !strings.HasSuffix(rel, ".png") {
		t.Fatalf("unexpected path %q", rel)
	}
	got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read saved: %v", err)
	}
	if !bytes.Equal(got, pngHeader) {
		t.Fatalf("saved content differs from upload")
	}

	if err := s.Remove(rel); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(rel); err != nil {
		t.Fatalf("remove twice: %v", err)
	}
}

func TestSave_PDFOnlyForAttachments(t *testing.T) {
	s := NewStore(t.TempDir(), 1024)
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")

	if _, err := s.Save(bytes.NewReader(pdf), "avatars", ImageTypes); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected pdf avatar to be rejected, got %v", err)
	}
	rel, err := s.Save(bytes.NewReader(pdf), "attachments", AttachmentTypes)
	if err != nil {
		t.Fatalf("save pdf attachment: %v", err)
	}
	if !strings.HasSuffix(rel, ".pdf") {
		t.Fatalf("unexpected path %q", rel)
	}
}

func TestSave_RejectsByContentNotName(t *testing.T) {
	s := NewStore(t.TempDir(), 1024)
	if _, err := s.Save(strings.NewReader("just some text pretending to be png"), "avatars", ImageTypes); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
}

func TestSave_TooLarge(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, 64)
	big := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 128)...)

	if _, err := s.Save(bytes.NewReader(big), "avatars", ImageTypes); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "avatars"))
	if len(entries) != 0 {
		t.Fatalf("expected partial file to be removed, found %d", len(entries))
	}
}
