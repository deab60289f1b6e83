//nolint:gochecknoinits,dogsled
package test

import (
	"os"
	"path"
	"path/filepath"
	"runtime"
)

// ProjectRoot - absolute path of the module root, resolved from this file's location.
func ProjectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	return path.Join(path.Dir(filename), "..")
}

// ProjectFile - path of a file given relative to the module root.
func ProjectFile(rel string) string {
	return filepath.Join(ProjectRoot(), filepath.FromSlash(rel))
}

// ConfigTestRootPath - go test runs with the package folder as working directory.
// This moves it to the module root so resources such as init scripts and property
// files resolve the same way from every package.
func ConfigTestRootPath() {
	if err := os.Chdir(ProjectRoot()); err != nil {
		panic(err)
	}
}
