package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryStoreUploadDownload(t *testing.T) {
	store := NewMemoryStore("http://localhost:8000/reports/files")
	ctx := context.Background()

	meta, err := store.Upload(ctx, Metadata{
		FileName:    "bloodwork.pdf",
		ContentType: "application/pdf",
		PatientID:   "pat-1",
		CreatedBy:   "pat-1",
	}, strings.NewReader("pdf bytes"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if meta.ID == "" {
		t.Error("expected generated id")
	}
	if meta.Size != int64(len("pdf bytes")) {
		t.Errorf("Size = %d", meta.Size)
	}
	if meta.Hash == "" {
		t.Error("expected sha256 hash")
	}
	if !strings.HasPrefix(meta.URL, "http://localhost:8000/reports/files/") {
		t.Errorf("URL = %q", meta.URL)
	}

	rc, got, err := store.Download(ctx, meta.ID)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	defer rc.Close()

	content, _ := io.ReadAll(rc)
	if !bytes.Equal(content, []byte("pdf bytes")) {
		t.Errorf("content = %q", content)
	}
	if got.FileName != "bloodwork.pdf" {
		t.Errorf("FileName = %q", got.FileName)
	}
}

func TestMemoryStoreUploadValidation(t *testing.T) {
	store := NewMemoryStore("http://x")
	ctx := context.Background()

	_, err := store.Upload(ctx, Metadata{ContentType: "application/pdf"}, strings.NewReader("x"))
	if !errors.Is(err, ErrMissingFileName) {
		t.Errorf("missing file name: got %v", err)
	}

	_, err = store.Upload(ctx, Metadata{FileName: "a.exe", ContentType: "application/x-msdownload"}, strings.NewReader("x"))
	if !errors.Is(err, ErrInvalidContentType) {
		t.Errorf("bad content type: got %v", err)
	}
}

func TestMemoryStoreDownloadMissing(t *testing.T) {
	store := NewMemoryStore("http://x")
	if _, _, err := store.Download(context.Background(), "nope"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("got %v, want ErrBlobNotFound", err)
	}
	if err := store.Delete(context.Background(), "nope"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("got %v, want ErrBlobNotFound", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore("http://x")
	ctx := context.Background()

	meta, err := store.Upload(ctx, Metadata{
		FileName:    "scan.png",
		ContentType: "image/png",
	}, strings.NewReader("png"))
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(ctx, meta.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.GetMetadata(ctx, meta.ID); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("metadata after delete: got %v", err)
	}
}

func TestValidateContentType(t *testing.T) {
	if err := ValidateContentType("application/pdf"); err != nil {
		t.Errorf("pdf should be allowed: %v", err)
	}
	if err := ValidateContentType(""); err == nil {
		t.Error("empty content type should be rejected")
	}
	if err := ValidateContentType("video/mp4"); err == nil {
		t.Error("video should be rejected")
	}
}
