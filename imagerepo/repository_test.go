package imagerepo

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"mochi_backend/generation"
)

func pngData(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error: %v", err)
	}
	return buf.Bytes()
}

func testResult(t *testing.T, fields generation.MetadataField) generation.Result {
	t.Helper()
	md := generation.Metadata{
		Prompt:         "a cat",
		NegativePrompt: "blurry",
		Width:          512,
		Height:         768,
		Model:          "sd-v1-5",
		Scheduler:      generation.SchedulerDPMSolverMultistep,
		ComputeUnit:    generation.ComputeCPUAndGPU,
		Seed:           42,
		Steps:          20,
		GuidanceScale:  7.5,
		GeneratedDate:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Fields:         fields,
	}
	return generation.NewResult("req-1", md, pngData(t))
}

func TestWriteImage_PNGRoundTrip(t *testing.T) {
	dir := t.TempDir()
	repo := New(zaptest.NewLogger(t))

	path, err := repo.WriteImage("a cat.1.42", testResult(t, generation.AllMetadataFields), dir, generation.ImageTypePNG)
	if err != nil {
		t.Fatalf("WriteImage() error: %v", err)
	}
	if want := filepath.Join(dir, "a cat.1.42.png"); path != want {
		t.Errorf("path = %s, want %s", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("written file is not a valid PNG: %v", err)
	}

	md, ok := readMetadata(data)
	if !ok {
		t.Fatal("expected metadata")
	}
	if md.Prompt != "a cat" || md.NegativePrompt != "blurry" || md.Seed != 42 || md.Steps != 20 {
		t.Errorf("metadata = %+v", md)
	}
	if md.Width != 512 || md.Height != 768 || md.GuidanceScale != 7.5 {
		t.Errorf("size/guidance = %dx%d %v", md.Width, md.Height, md.GuidanceScale)
	}
	if md.ComputeUnit != generation.ComputeCPUAndGPU || md.Scheduler != generation.SchedulerDPMSolverMultistep {
		t.Errorf("compute unit/scheduler = %s %s", md.ComputeUnit, md.Scheduler)
	}
	if md.Fields != generation.AllMetadataFields {
		t.Errorf("fields = %b, want %b", md.Fields, generation.AllMetadataFields)
	}
	if !md.GeneratedDate.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v", md.GeneratedDate)
	}
}

func TestWriteImage_OnlySelectedFields(t *testing.T) {
	dir := t.TempDir()
	repo := New(nil)

	path, err := repo.WriteImage("flux", testResult(t, generation.FluxMetadataFields), dir, generation.ImageTypePNG)
	if err != nil {
		t.Fatalf("WriteImage() error: %v", err)
	}
	data, _ := os.ReadFile(path)
	entries, err := readPNGText(data)
	if err != nil {
		t.Fatalf("readPNGText() error: %v", err)
	}

	keys := map[string]string{}
	for _, e := range entries {
		keys[e.Key] = e.Value
	}
	for _, excluded := range []generation.MetadataField{generation.FieldNegativePrompt, generation.FieldComputeUnit, generation.FieldGuidanceScale} {
		if _, ok := keys[excluded.Key()]; ok {
			t.Errorf("unexpected %q chunk", excluded.Key())
		}
	}
	if keys["Include in Image"] != "a cat" || keys["Seed"] != "42" || keys["Size"] != "512x768" {
		t.Errorf("chunks = %v", keys)
	}
	if keys[keyGenerator] != generatorName {
		t.Errorf("generator = %q", keys[keyGenerator])
	}
	if !strings.Contains(keys[keyDescription], "Model: sd-v1-5") {
		t.Errorf("description = %q", keys[keyDescription])
	}
}

func TestWriteImage_JPEG(t *testing.T) {
	dir := t.TempDir()
	repo := New(nil)

	path, err := repo.WriteImage("a cat.1.42", testResult(t, generation.AllMetadataFields), dir, generation.ImageTypeJPEG)
	if err != nil {
		t.Fatalf("WriteImage() error: %v", err)
	}
	if filepath.Ext(path) != ".jpeg" {
		t.Errorf("extension = %s, want .jpeg", filepath.Ext(path))
	}
	data, _ := os.ReadFile(path)
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("written file is not a valid JPEG: %v", err)
	}
	md, ok := readMetadata(data)
	if !ok || md.Seed != 42 || md.Model != "sd-v1-5" {
		t.Errorf("metadata = %+v ok=%v", md, ok)
	}
}

func TestWriteImage_Errors(t *testing.T) {
	repo := New(nil)
	dir := t.TempDir()

	empty := generation.Result{}
	if _, err := repo.WriteImage("x", empty, dir, generation.ImageTypePNG); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("WriteImage(empty) error = %v, want ErrEmptyImage", err)
	}

	garbage := generation.Result{ImageData: []byte("not an image")}
	if _, err := repo.WriteImage("x", garbage, dir, generation.ImageTypePNG); err == nil {
		t.Error("WriteImage(garbage) expected error")
	}

	missing := filepath.Join(dir, "gone")
	if _, err := repo.WriteImage("x", testResult(t, generation.AllMetadataFields), missing, generation.ImageTypePNG); err == nil {
		t.Error("WriteImage(missing dir) expected error")
	}

	matches, _ := filepath.Glob(filepath.Join(dir, TempFilePattern))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestWriteImage_StaysInDirectory(t *testing.T) {
	repo := New(nil)
	root := t.TempDir()
	dir := filepath.Join(root, "images")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	for _, stem := range []string{"../escaped.1.42", "sub/x.1.1"} {
		t.Run(stem, func(t *testing.T) {
			_, err := repo.WriteImage(stem, testResult(t, generation.AllMetadataFields), dir, generation.ImageTypePNG)
			if !errors.Is(err, ErrInvalidFilename) {
				t.Errorf("WriteImage(%q) error = %v, want ErrInvalidFilename", stem, err)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(root, "escaped.1.42.png")); !os.IsNotExist(err) {
		t.Errorf("file written outside the output directory: %v", err)
	}

	stem := generation.FilenameWithoutExtension("../escaped", 1, 42)
	path, err := repo.WriteImage(stem, testResult(t, generation.AllMetadataFields), dir, generation.ImageTypePNG)
	if err != nil {
		t.Fatalf("WriteImage(%q) error: %v", stem, err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("path = %s, want a file in %s", path, dir)
	}
}

func TestEnsureOutputDirectory(t *testing.T) {
	repo := New(nil)

	t.Run("creates nested", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		got, err := repo.EnsureOutputDirectory(dir)
		if err != nil {
			t.Fatalf("EnsureOutputDirectory() error: %v", err)
		}
		if got != dir {
			t.Errorf("dir = %s, want %s", got, dir)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("probe file left behind: %v", entries)
		}
	})

	t.Run("path is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		os.WriteFile(file, []byte("x"), 0o644)
		_, err := repo.EnsureOutputDirectory(file)
		var dirErr *generation.ImageDirectoryError
		if !errors.As(err, &dirErr) {
			t.Fatalf("error = %v, want *ImageDirectoryError", err)
		}
		if dirErr.Path != file {
			t.Errorf("Path = %s, want %s", dirErr.Path, file)
		}
	})

	t.Run("read only", func(t *testing.T) {
		if runtime.GOOS == "windows" || os.Geteuid() == 0 {
			t.Skip("permissions are not enforced")
		}
		dir := t.TempDir()
		if err := os.Chmod(dir, 0o555); err != nil {
			t.Fatalf("chmod: %v", err)
		}
		t.Cleanup(func() { os.Chmod(dir, 0o755) })

		var dirErr *generation.ImageDirectoryError
		if _, err := repo.EnsureOutputDirectory(dir); !errors.As(err, &dirErr) {
			t.Errorf("error = %v, want *ImageDirectoryError", err)
		}
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	repo := New(nil)

	first, err := repo.WriteImage("first", testResult(t, generation.AllMetadataFields), dir, generation.ImageTypePNG)
	if err != nil {
		t.Fatalf("WriteImage() error: %v", err)
	}
	second, err := repo.WriteImage("second", testResult(t, generation.AllMetadataFields), dir, generation.ImageTypeJPEG)
	if err != nil {
		t.Fatalf("WriteImage() error: %v", err)
	}
	older := time.Now().Add(-time.Hour)
	os.Chtimes(second, older, older)

	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "plain.png"), pngData(t), 0o644)
	os.Mkdir(filepath.Join(dir, "sub.png"), 0o755)

	records, err := repo.Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[0].Path != second {
		t.Errorf("oldest = %s, want %s", records[0].Path, second)
	}
	byPath := map[string]Record{}
	for _, r := range records {
		byPath[r.Path] = r
	}
	if !byPath[first].HasMetadata || byPath[first].Metadata.Prompt != "a cat" {
		t.Errorf("first record = %+v", byPath[first])
	}
	if byPath[filepath.Join(dir, "plain.png")].HasMetadata {
		t.Error("plain.png should have no metadata")
	}

	if _, err := repo.Load(filepath.Join(dir, "missing")); err == nil {
		t.Error("Load(missing) expected error")
	}
}

func TestDeleteAndCleanup(t *testing.T) {
	dir := t.TempDir()
	repo := New(nil)

	path, err := repo.WriteImage("x", testResult(t, generation.AllMetadataFields), dir, generation.ImageTypePNG)
	if err != nil {
		t.Fatalf("WriteImage() error: %v", err)
	}
	if err := repo.Delete(path); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still exists after Delete")
	}
	if err := repo.Delete(path); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}

	for _, name := range []string{".mochi-tmp-1", ".mochi-tmp-2", "keep.png"} {
		os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644)
	}
	removed, err := CleanupTempFiles(dir)
	if err != nil {
		t.Fatalf("CleanupTempFiles() error: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.png")); err != nil {
		t.Error("keep.png was removed")
	}
}

func TestTextChunks(t *testing.T) {
	data, err := embedPNGText(pngData(t), []textEntry{{Key: "Include in Image", Value: "café ☕"}})
	if err != nil {
		t.Fatalf("embedPNGText() error: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("png.Decode() error: %v", err)
	}
	entries, err := readPNGText(data)
	if err != nil || len(entries) != 1 {
		t.Fatalf("readPNGText() = %v, %v", entries, err)
	}
	if entries[0].Value != "café ?" {
		t.Errorf("value = %q, want Latin-1 with replacement", entries[0].Value)
	}

	if _, err := embedPNGText([]byte("nope"), nil); err == nil {
		t.Error("embedPNGText(garbage) expected error")
	}
}

func TestParseCaption(t *testing.T) {
	got := parseCaption("Include in Image: a cat; Seed: 7; broken; Generator: Mochi Diffusion")
	if got["Include in Image"] != "a cat" || got["Seed"] != "7" || got["Generator"] != "Mochi Diffusion" {
		t.Errorf("parseCaption() = %v", got)
	}
	if _, ok := got["broken"]; ok {
		t.Error("entry without separator should be skipped")
	}
}

