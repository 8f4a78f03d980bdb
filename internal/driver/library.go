package driver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// Binder resolves the vendor entry points from a library file into an API.
type Binder func(path string) (API, error)

// LibraryLoader locates the vendor runtime library on disk and hands it to a Binder.
type LibraryLoader struct {
	// Path overrides the search when set.
	Path string
	// SearchDirs are scanned in order when Path is empty.
	SearchDirs []string
	// LibraryName is the file looked for inside SearchDirs.
	LibraryName string
	Bind        Binder

	found string
}

// NewLibraryLoader returns a loader with the platform's default search locations.
func NewLibraryLoader(path string, bind Binder) *LibraryLoader {
	return &LibraryLoader{
		Path:        path,
		SearchDirs:  DefaultSearchDirs(runtime.GOOS),
		LibraryName: DefaultLibraryName(runtime.GOOS),
		Bind:        bind,
	}
}

// DefaultLibraryName returns the vendor runtime file name for goos.
func DefaultLibraryName(goos string) string {
	if goos == "windows" {
		return "nvEncodeAPI64.dll"
	}
	return "libnvidia-encode.so.1"
}

// DefaultSearchDirs returns the directories the vendor installer uses on goos.
func DefaultSearchDirs(goos string) []string {
	switch goos {
	case "windows":
		return []string{
			`C:\Windows\System32`,
			`C:\Windows\SysWOW64`,
			`C:\Program Files\NVIDIA Corporation\NVSMI`,
			`C:\Program Files (x86)\NVIDIA Corporation\NVSMI`,
		}
	case "linux":
		return []string{
			"/usr/lib/x86_64-linux-gnu",
			"/usr/lib/aarch64-linux-gnu",
			"/usr/lib64",
			"/usr/lib",
			"/usr/local/nvidia/lib64",
		}
	default:
		return nil
	}
}

// Find returns the first existing library path.
func (l *LibraryLoader) Find() (string, error) {
	if l.Path != "" {
		if isRegularFile(l.Path) {
			return l.Path, nil
		}
		return "", fmt.Errorf("%w: %s", ErrLibraryNotFound, l.Path)
	}
	for _, dir := range l.SearchDirs {
		candidate := filepath.Join(dir, l.LibraryName)
		if isRegularFile(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s not in %d search dirs", ErrLibraryNotFound, l.LibraryName, len(l.SearchDirs))
}

// Available reports whether the library exists without loading it.
func (l *LibraryLoader) Available() bool {
	_, err := l.Find()
	return err == nil
}

// FoundPath returns the path used by the last successful Load.
func (l *LibraryLoader) FoundPath() string {
	return l.found
}

// Load implements Loader.
func (l *LibraryLoader) Load() (API, error) {
	path, err := l.Find()
	if err != nil {
		return nil, err
	}
	if l.Bind == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoBinder, path)
	}
	api, err := l.Bind(path)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}
	l.found = path
	return api, nil
}

// Unload implements Loader. APIs that hold OS resources release them through io.Closer.
func (l *LibraryLoader) Unload(api API) error {
	l.found = ""
	if c, ok := api.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Name implements Loader.
func (l *LibraryLoader) Name() string {
	return "library"
}

func isRegularFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
