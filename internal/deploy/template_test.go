package deploy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algomarkets/internal/domain"
	"github.com/alanyoungcy/algomarkets/internal/platform/algorand/algotest"
)

func writeTEAL(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	src := TemplateSource{
		Name:         "market",
		ApprovalPath: writeTEAL(t, dir, "approval.teal", "#pragma version 10\nint 1\n"),
		ClearPath:    writeTEAL(t, dir, "clear.teal", "#pragma version 10\nint 1\n"),
		GlobalSchema: domain.StateSchema{NumUint: 8, NumByteSlice: 4},
		ExtraPages:   1,
	}

	tmpl, err := LoadTemplate(context.Background(), algotest.New(operator, 0), src)
	require.NoError(t, err)
	assert.Equal(t, "market", tmpl.Name)
	assert.NotEmpty(t, tmpl.ApprovalProgram)
	assert.NotEmpty(t, tmpl.ClearProgram)
	assert.Equal(t, uint64(8), tmpl.GlobalSchema.NumUint)
	assert.Equal(t, uint32(1), tmpl.ExtraPages)
}

func TestLoadTemplateFailures(t *testing.T) {
	dir := t.TempDir()
	good := writeTEAL(t, dir, "good.teal", "int 1\n")
	empty := writeTEAL(t, dir, "empty.teal", "  \n")

	_, err := LoadTemplate(context.Background(), algotest.New(operator, 0), TemplateSource{
		ApprovalPath: filepath.Join(dir, "missing.teal"),
		ClearPath:    good,
	})
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadTemplate(context.Background(), algotest.New(operator, 0), TemplateSource{
		ApprovalPath: good,
		ClearPath:    empty,
	})
	require.ErrorIs(t, err, domain.ErrRejected)
	assert.Contains(t, err.Error(), "clear program")
}
