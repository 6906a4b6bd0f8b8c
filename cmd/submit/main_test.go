package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe-backend/internal/bootstrap"
	"docpipe-backend/internal/intake"
	"docpipe-backend/internal/queue"
	"docpipe-backend/internal/shared/config"
)

func memoryApp(t *testing.T) *bootstrap.App {
	t.Helper()
	app, err := bootstrap.Build(context.Background(), config.Config{
		Env:             "test",
		LocalStoreDir:   t.TempDir(),
		QueueBackend:    "memory",
		OCRProvider:     "stub",
		DefaultTenantID: "tenant-default",
		DefaultUserID:   "user-default",
	})
	require.NoError(t, err)
	return app
}

func execute(t *testing.T, app *bootstrap.App, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context, string) (*bootstrap.App, error) { return app, nil })
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSubmitUsesDefaultTenantAndEnqueues(t *testing.T) {
	app := memoryApp(t)
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text body"), 0o600))

	out, err := execute(t, app, "submit", path)
	require.NoError(t, err)

	var receipt intake.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &receipt))
	assert.NotEmpty(t, receipt.JobID)
	assert.Equal(t, 1, receipt.Version)

	doc, err := app.Documents.GetByID(context.Background(), receipt.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "tenant-default", doc.TenantID)
	assert.Equal(t, "note.txt", doc.OrigFilename)

	mq := app.Queue.(*queue.MemoryQueue)
	assert.Equal(t, 1, mq.Len())
}

func TestReprocessAndBalance(t *testing.T) {
	app := memoryApp(t)
	path := filepath.Join(t.TempDir(), "scan.txt")
	require.NoError(t, os.WriteFile(path, []byte("some words"), 0o600))

	out, err := execute(t, app, "submit", path, "--tenant", "t1", "--user", "u1")
	require.NoError(t, err)
	var first intake.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &first))

	out, err = execute(t, app, "reprocess", first.DocumentID)
	require.NoError(t, err)
	var second intake.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &second))
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, 2, second.Version)

	out, err = execute(t, app, "balance", "t1")
	require.NoError(t, err)
	var bal struct {
		TenantID string `json:"tenantId"`
		Balance  int    `json:"balance"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &bal))
	assert.Equal(t, "t1", bal.TenantID)
	assert.Equal(t, -(first.CreditEstimate + second.CreditEstimate), bal.Balance)
}

func TestSubmitMissingFile(t *testing.T) {
	_, err := execute(t, memoryApp(t), "submit", filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
}
