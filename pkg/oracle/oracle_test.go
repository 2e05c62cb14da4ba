package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildConfigImage(t *testing.T) {
	config := BuildConfig{
		Project:      "libxml2",
		Repository:   "https://github.com/GNOME/libxml2.git",
		Engine:       "libfuzzer",
		Sanitizer:    "address",
		Architecture: "x86_64",
	}

	image := config.Image()
	assert.Contains(t, image, "crashbisect-libxml2:", "Wrong image name")
	assert.Equal(t, image, config.Image(), "Image must be deterministic")

	// A different sanitizer must never map onto the same image
	changed := config
	changed.Sanitizer = "memory"
	assert.NotEqual(t, image, changed.Image(), "Configs differing in a field must get distinct images")
}

func TestArtifactTargetPath(t *testing.T) {
	artifact := Artifact{Commit: "abc", OutDir: "/workspace/out"}
	assert.Equal(t, "/workspace/out/parse_fuzzer", artifact.TargetPath("parse_fuzzer"), "Wrong target path")
}

func TestBuildErrorUnwrap(t *testing.T) {
	cause := assert.AnError
	err := &BuildError{Commit: "abc", Output: "compile log", Err: cause}

	assert.ErrorIs(t, err, cause, "BuildError must unwrap to its cause")
	assert.Contains(t, err.Error(), "abc", "BuildError must name the commit")
}

func TestReproductionErrorUnwrap(t *testing.T) {
	cause := assert.AnError
	err := &ReproductionError{Binary: "parse_fuzzer", Err: cause}

	assert.ErrorIs(t, err, cause, "ReproductionError must unwrap to its cause")
	assert.Contains(t, err.Error(), "parse_fuzzer", "ReproductionError must name the binary")
}
