package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taliaapp/apiserver/internal/store"
	"github.com/taliaapp/apiserver/types"
)

const testMaxBytes = 1024

func newTestFileService(files *fakeFileRepo, objects *fakeObjectStore) *FileService {
	return NewFileService(
		files, objects,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		testMaxBytes,
		[]string{"jpg", "png", "gif"},
	)
}

func uploader() types.User {
	now := time.Now()
	return types.User{ID: 1, Email: "user@example.com", Username: "user", VerifiedAt: &now}
}

func TestUploadStoresObjectAndRow(t *testing.T) {
	files := newFakeFileRepo()
	objects := newFakeObjectStore()
	svc := newTestFileService(files, objects)

	payload := bytes.Repeat([]byte("x"), 512)
	file, err := svc.Upload(context.Background(), uploader(), bytes.NewReader(payload), int64(len(payload)), "png", "avatar.png")
	require.NoError(t, err)

	assert.NotZero(t, file.ID)
	assert.Equal(t, 1, file.UserID)
	assert.True(t, strings.HasPrefix(file.Key, "tmp/"))
	assert.True(t, strings.HasSuffix(file.Key, ".png"))
	assert.NotEmpty(t, file.Location)
	assert.Equal(t, int64(len(payload)), file.Size)
	assert.Equal(t, "avatar.png", file.OriginalName)
	assert.Equal(t, 1, objects.stored())
	assert.Equal(t, 1, files.count())
}

func TestUploadRejectsUnverifiedBeforeAnyWork(t *testing.T) {
	files := newFakeFileRepo()
	objects := newFakeObjectStore()
	svc := newTestFileService(files, objects)

	_, err := svc.Upload(context.Background(), types.User{ID: 1}, strings.NewReader("data"), 4, "png", "a.png")
	assert.ErrorIs(t, err, ErrNotVerified)
	assert.Zero(t, objects.puts)
	assert.Zero(t, files.count())
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	files := newFakeFileRepo()
	objects := newFakeObjectStore()
	svc := newTestFileService(files, objects)

	_, err := svc.Upload(context.Background(), uploader(), strings.NewReader("data"), 4, "exe", "a.exe")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Zero(t, objects.puts)
}

func TestUploadRejectsDeclaredOversizeBeforeStorage(t *testing.T) {
	files := newFakeFileRepo()
	objects := newFakeObjectStore()
	svc := newTestFileService(files, objects)

	_, err := svc.Upload(context.Background(), uploader(), strings.NewReader("data"), testMaxBytes+1, "png", "a.png")
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Zero(t, objects.puts)
	assert.Zero(t, files.count())
}

func TestUploadCatchesLyingSizeMidStream(t *testing.T) {
	files := newFakeFileRepo()
	objects := newFakeObjectStore()
	svc := newTestFileService(files, objects)

	// Declared size fits but the stream keeps going past the limit.
	payload := bytes.Repeat([]byte("x"), testMaxBytes+100)
	_, err := svc.Upload(context.Background(), uploader(), bytes.NewReader(payload), 100, "png", "a.png")
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Zero(t, files.count())
	assert.NotEmpty(t, objects.deletes, "partial object must be cleaned up")
	assert.Zero(t, objects.stored())
}

func TestUploadCompensatesWhenCommitFails(t *testing.T) {
	files := newFakeFileRepo()
	files.createErr = errors.New("connection reset")
	objects := newFakeObjectStore()
	svc := newTestFileService(files, objects)

	payload := bytes.Repeat([]byte("x"), 100)
	_, err := svc.Upload(context.Background(), uploader(), bytes.NewReader(payload), 100, "png", "a.png")
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.Zero(t, files.count())
	assert.Zero(t, objects.stored(), "object must not outlive the failed commit")
	assert.Len(t, objects.deletes, 1)
}

func TestUploadReportsOrphanWhenCompensationFails(t *testing.T) {
	files := newFakeFileRepo()
	files.createErr = errors.New("connection reset")
	objects := newFakeObjectStore()
	objects.deleteErr = errors.New("storage offline")
	svc := newTestFileService(files, objects)

	payload := bytes.Repeat([]byte("x"), 100)
	_, err := svc.Upload(context.Background(), uploader(), bytes.NewReader(payload), 100, "png", "a.png")
	// The primary failure wins; the orphan is only logged.
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.Equal(t, 1, objects.stored())
}

func TestIngestRemoteSuccess(t *testing.T) {
	payload := bytes.Repeat([]byte("g"), 300)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer remote.Close()

	files := newFakeFileRepo()
	objects := newFakeObjectStore()
	svc := newTestFileService(files, objects)

	file, err := svc.IngestRemote(context.Background(), uploader(), remote.URL+"/pictures/cat.png")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), file.Size)
	assert.Equal(t, "image/png", file.ContentType)
	assert.Equal(t, "png", file.MimeType)
	assert.Equal(t, "/pictures/cat.png", file.OriginalName)
	assert.Equal(t, 1, objects.stored())
}

func TestIngestRemoteRejectsTinyObject(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("tiny"))
	}))
	defer remote.Close()

	svc := newTestFileService(newFakeFileRepo(), newFakeObjectStore())

	_, err := svc.IngestRemote(context.Background(), uploader(), remote.URL)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestIngestRemoteRejectsDeclaredOversize(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", "1000000")
		_, _ = w.Write(bytes.Repeat([]byte("x"), 1000))
	}))
	defer remote.Close()

	objects := newFakeObjectStore()
	svc := newTestFileService(newFakeFileRepo(), objects)

	_, err := svc.IngestRemote(context.Background(), uploader(), remote.URL)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Zero(t, objects.puts)
}

func TestIngestRemoteRejectsUnsupportedContentType(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(bytes.Repeat([]byte("x"), 300))
	}))
	defer remote.Close()

	svc := newTestFileService(newFakeFileRepo(), newFakeObjectStore())

	_, err := svc.IngestRemote(context.Background(), uploader(), remote.URL)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestIngestRemoteRejectsBadStatus(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer remote.Close()

	svc := newTestFileService(newFakeFileRepo(), newFakeObjectStore())

	_, err := svc.IngestRemote(context.Background(), uploader(), remote.URL)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestIngestRemoteRejectsBadURL(t *testing.T) {
	svc := newTestFileService(newFakeFileRepo(), newFakeObjectStore())

	for _, raw := range []string{"", "ftp://example.com/a.png", "not a url", "/relative/path"} {
		_, err := svc.IngestRemote(context.Background(), uploader(), raw)
		assert.ErrorIs(t, err, ErrValidation, "url %q", raw)
	}
}

func seedFile(t *testing.T, files *fakeFileRepo, objects *fakeObjectStore, userID int) types.File {
	t.Helper()
	key := "tmp/seeded.png"
	objects.objects[key] = []byte("data")
	file, err := files.Create(context.Background(), types.File{
		UserID: userID,
		Key:    key,
	})
	require.NoError(t, err)
	return file
}

func TestGetEnforcesOwnership(t *testing.T) {
	files := newFakeFileRepo()
	objects := newFakeObjectStore()
	svc := newTestFileService(files, objects)
	file := seedFile(t, files, objects, 1)

	got, err := svc.Get(context.Background(), uploader(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.ID)

	_, err = svc.Get(context.Background(), types.User{ID: 2}, file.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Get(context.Background(), uploader(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListReturnsOwnFilesOnly(t *testing.T) {
	files := newFakeFileRepo()
	objects := newFakeObjectStore()
	svc := newTestFileService(files, objects)
	seedFile(t, files, objects, 1)
	_, err := files.Create(context.Background(), types.File{UserID: 2, Key: "tmp/other.png"})
	require.NoError(t, err)

	listed, err := svc.List(context.Background(), uploader())
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestDestroyRemovesObjectThenRow(t *testing.T) {
	files := newFakeFileRepo()
	objects := newFakeObjectStore()
	svc := newTestFileService(files, objects)
	file := seedFile(t, files, objects, 1)

	require.NoError(t, svc.Destroy(context.Background(), uploader(), file.ID))
	assert.Zero(t, objects.stored())
	assert.Zero(t, files.count())

	assert.ErrorIs(t, svc.Destroy(context.Background(), uploader(), file.ID), ErrNotFound)
}

func TestDestroyRejectsNonOwner(t *testing.T) {
	files := newFakeFileRepo()
	objects := newFakeObjectStore()
	svc := newTestFileService(files, objects)
	file := seedFile(t, files, objects, 1)

	err := svc.Destroy(context.Background(), types.User{ID: 2}, file.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 1, objects.stored())
	assert.Equal(t, 1, files.count())
}

func TestDestroyKeepsRowWhenStorageFails(t *testing.T) {
	files := newFakeFileRepo()
	objects := newFakeObjectStore()
	objects.deleteErr = errors.New("storage offline")
	svc := newTestFileService(files, objects)
	file := seedFile(t, files, objects, 1)

	err := svc.Destroy(context.Background(), uploader(), file.ID)
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Equal(t, 1, files.count(), "row stays so the delete can be retried")
}

func TestExtFromName(t *testing.T) {
	assert.Equal(t, "png", ExtFromName("photo.PNG"))
	assert.Equal(t, "jpg", ExtFromName("a/b/photo.jpg"))
	assert.Equal(t, "", ExtFromName("noext"))
}

func TestConflictOnCommitPassesThrough(t *testing.T) {
	files := newFakeFileRepo()
	files.createErr = store.ErrConflict
	objects := newFakeObjectStore()
	svc := newTestFileService(files, objects)

	payload := bytes.Repeat([]byte("x"), 100)
	_, err := svc.Upload(context.Background(), uploader(), bytes.NewReader(payload), 100, "png", "a.png")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, objects.deletes, 1)
}
