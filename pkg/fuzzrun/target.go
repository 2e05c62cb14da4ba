package fuzzrun

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// A FuzzTarget is one discovered fuzz target binary together with its
// allotted share of the run's time budget. Targets live for one scheduler
// run.
type FuzzTarget struct {
	Project  string
	Path     string
	Duration time.Duration
}

// Name returns the base name of the target binary.
func (t FuzzTarget) Name() string {
	return filepath.Base(t.Path)
}

var validTargetName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// fuzzTargetSearchBytes occurs in every binary linked against a libFuzzer
// style entry point.
var fuzzTargetSearchBytes = []byte("LLVMFuzzerTestOneInput")

var allowedTargetExtensions = map[string]bool{"": true, ".exe": true}

// FindFuzzTargets returns the fuzz target binaries below dir, sorted by path
// so that discovery order is deterministic.
func FindFuzzTargets(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var targets []string
	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() && IsFuzzTarget(path) {
			targets = append(targets, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(targets)
	return targets, nil
}

// IsFuzzTarget reports whether the file at path looks like a fuzz target
// binary: an executable regular file with a plain name which either follows
// the _fuzzer naming convention or contains the libFuzzer entry point
// symbol.
func IsFuzzTarget(path string) bool {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]

	if !validTargetName.MatchString(name) {
		return false
	}
	if !allowedTargetExtensions[ext] {
		return false
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Mode()&0o111 == 0 {
		return false
	}

	if len(name) > len("_fuzzer") && name[len(name)-len("_fuzzer"):] == "_fuzzer" {
		return true
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(contents, fuzzTargetSearchBytes)
}
