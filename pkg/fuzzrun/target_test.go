package fuzzrun

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeFile(t *testing.T, path string, contents []byte, mode os.FileMode) {
	t.Helper()
	assert.Nil(t, os.WriteFile(path, contents, mode), "Failed to write test file")
}

func TestIsFuzzTarget(t *testing.T) {
	dir := t.TempDir()

	values := []struct {
		name     string
		contents []byte
		mode     os.FileMode

		expected bool
	}{
		{"parse_fuzzer", []byte("binary"), 0755, true},
		{"parse_fuzzer.exe", []byte("binary"), 0755, true},
		{"harness", []byte("xxLLVMFuzzerTestOneInputxx"), 0755, true},
		// Right name, not executable
		{"checksum_fuzzer", []byte("binary"), 0644, false},
		// Executable but neither named like a target nor linked against the entry point
		{"llvm-symbolizer", []byte("binary"), 0755, false},
		// Disallowed extension
		{"parse_fuzzer.sh", []byte("binary"), 0755, false},
		// Name with characters outside the allowed set
		{"bad~name_fuzzer", []byte("binary"), 0755, false},
	}

	for i, v := range values {
		path := filepath.Join(dir, v.name)
		writeFile(t, path, v.contents, v.mode)

		assert.Equalf(t, v.expected, IsFuzzTarget(path), "Wrong classification for test %d (%s)", i, v.name)
	}
}

func TestIsFuzzTargetDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.Nil(t, os.Mkdir(filepath.Join(dir, "corpus_fuzzer"), 0755))

	assert.False(t, IsFuzzTarget(filepath.Join(dir, "corpus_fuzzer")), "Directories are never targets")
	assert.False(t, IsFuzzTarget(filepath.Join(dir, "missing_fuzzer")), "Missing files are never targets")
}

func TestFindFuzzTargets(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "b_fuzzer"), []byte("binary"), 0755)
	writeFile(t, filepath.Join(dir, "a_fuzzer"), []byte("binary"), 0755)
	writeFile(t, filepath.Join(dir, "harness"), []byte("LLVMFuzzerTestOneInput"), 0755)
	writeFile(t, filepath.Join(dir, "README.txt"), []byte("docs"), 0644)
	writeFile(t, filepath.Join(dir, "seed"), []byte("data"), 0644)

	// Targets in subdirectories are picked up too
	assert.Nil(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	writeFile(t, filepath.Join(dir, "sub", "c_fuzzer"), []byte("binary"), 0755)

	targets, err := FindFuzzTargets(dir)
	assert.Nil(t, err, "FindFuzzTargets returned an error")

	expected := []string{
		filepath.Join(dir, "a_fuzzer"),
		filepath.Join(dir, "b_fuzzer"),
		filepath.Join(dir, "harness"),
		filepath.Join(dir, "sub", "c_fuzzer"),
	}
	assert.Equal(t, expected, targets, "Wrong targets, discovery must be sorted by path")
}

func TestFindFuzzTargetsMissingDir(t *testing.T) {
	targets, err := FindFuzzTargets(filepath.Join(t.TempDir(), "does-not-exist"))

	assert.Nil(t, err, "A missing directory is not an error")
	assert.Empty(t, targets, "A missing directory has no targets")
}

func TestFuzzTargetName(t *testing.T) {
	target := FuzzTarget{Path: "/workspace/out/parse_fuzzer"}
	assert.Equal(t, "parse_fuzzer", target.Name(), "Wrong target name")
}
