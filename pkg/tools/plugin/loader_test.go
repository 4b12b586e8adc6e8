package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDirReturnsNothingForMissingDirectory(t *testing.T) {
	l := NewLoader()
	loaded, errs := l.LoadDir(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Nil(t, loaded)
	assert.Nil(t, errs)
}

func TestLoadDirSkipsNonExecutableFiles(t *testing.T) {
	dir := t.TempDir()
	require := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	require(os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a plugin"), 0644))

	l := NewLoader()
	loaded, errs := l.LoadDir(dir)
	assert.Empty(t, loaded)
	assert.Empty(t, errs)
}
