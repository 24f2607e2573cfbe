package artifact

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for x := 0; x < 4; x++ {
		for y := 0; y < 3; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jules-scratch", "verification")
	w := NewWriter(dir)

	path, err := w.Save("01-inspect.png", []byte("one"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if path != filepath.Join(dir, "01-inspect.png") {
		t.Errorf("Unexpected path %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read artifact: %v", err)
	}
	if string(data) != "one" {
		t.Errorf("Expected content one, got %q", data)
	}
}

func TestSaveOverwrites(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	if _, err := w.Save("a.png", []byte("first")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := w.Save("a.png", []byte("second")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected a single file after rerun, got %d", len(entries))
	}

	data, _ := os.ReadFile(filepath.Join(dir, "a.png"))
	if string(data) != "second" {
		t.Errorf("Expected overwritten content, got %q", data)
	}
}

func TestSaveRejectsPathNames(t *testing.T) {
	w := NewWriter(t.TempDir())
	for _, name := range []string{"", "../x.png", "sub/x.png"} {
		if _, err := w.Save(name, []byte("x")); err == nil {
			t.Errorf("Expected error for name %q", name)
		}
	}
}

func TestSaveFailsWhenDirIsFile(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "out")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewWriter(blocker).Save("a.png", []byte("x")); err == nil {
		t.Error("Expected error when the output directory is a file")
	}
}

func TestClean(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	if _, err := w.Save("a.png", []byte("x")); err != nil {
		t.Fatal(err)
	}

	if err := w.Clean([]string{"a.png", "missing.png"}); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if _, err := os.Stat(w.Path("a.png")); !os.IsNotExist(err) {
		t.Errorf("Expected a.png to be removed")
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	red, _ := w.Save("01.png", pngBytes(t, color.RGBA{255, 0, 0, 255}))
	green, _ := w.Save("02.png", pngBytes(t, color.RGBA{0, 255, 0, 255}))
	blue, _ := w.Save("03.png", pngBytes(t, color.RGBA{0, 0, 255, 255}))

	report := Verify([]string{red, green, blue})
	if !report.OK() {
		t.Fatalf("Expected report to pass, got %v", report.Problems)
	}
	if len(report.Files) != 3 {
		t.Fatalf("Expected 3 files, got %d", len(report.Files))
	}
	if report.Files[0].Width != 4 || report.Files[0].Height != 3 {
		t.Errorf("Unexpected dimensions %dx%d", report.Files[0].Width, report.Files[0].Height)
	}
	if report.Err() != nil {
		t.Errorf("Expected nil error, got %v", report.Err())
	}
}

func TestVerifyProblems(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	same := pngBytes(t, color.Black)
	a, _ := w.Save("a.png", same)
	b, _ := w.Save("b.png", same)
	empty, _ := w.Save("empty.png", nil)
	junk, _ := w.Save("junk.png", []byte("not an image"))
	missing := filepath.Join(dir, "missing.png")

	report := Verify([]string{a, b, empty, junk, missing})
	if report.OK() {
		t.Fatal("Expected verification to fail")
	}
	if len(report.Problems) != 4 {
		t.Errorf("Expected 4 problems, got %d: %v", len(report.Problems), report.Problems)
	}

	msg := report.Err().Error()
	for _, want := range []string{"identical to", "empty file", "not a valid png", "missing.png"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected error to mention %q, got %s", want, msg)
		}
	}
}
