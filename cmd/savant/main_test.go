package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	require.Equal(t, 2, run([]string{"-data", "x.csv"}, &out, &errOut))
	require.Contains(t, errOut.String(), "usage")
}

func TestRun_LoadFailure(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"-data", filepath.Join(t.TempDir(), "missing.csv"), "-q", "How many rows?"}, &out, &errOut)
	require.Equal(t, 1, code)
	require.Contains(t, errOut.String(), "cannot load dataset")
}

func TestRun_MissingCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	p := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(p, []byte("name,age\nAnn,30\n"), 0o600))

	var out, errOut bytes.Buffer
	code := run([]string{"-data", p, "What", "is", "the", "average", "age?"}, &out, &errOut)
	require.Equal(t, 1, code)
	require.Contains(t, errOut.String(), "no API key")
	require.Empty(t, out.String())
}
