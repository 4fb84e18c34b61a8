package ninjago

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

type DiskStatus int8

const (
	DiskOkay DiskStatus = iota
	DiskNotFound
	DiskOtherError
)

// FileReader is an interface for reading files from disk.  See
// DiskInterface for details.  This base offers the minimum interface
// needed just to read files.
type FileReader interface {
	// ReadFile reads and returns the named file's contents.
	ReadFile(path string) ([]byte, DiskStatus, error)
}

// DiskInterface is an interface for accessing the disk.
//
// Abstract so it can be mocked out for tests.  The real implementation is
// RealDiskInterface.
type DiskInterface interface {
	FileReader

	// Stat stats the given path, returning the file's mtime, 0 if the
	// file does not exist, or -1 with an error on other failures.
	Stat(path string) (TimeStamp, error)

	// MakeDir creates the given directory.
	MakeDir(path string) error

	// MakeDirs creates all the parent directories for path; like
	// `mkdir -p $(dirname path)`.
	MakeDirs(path string) error

	// WriteFile creates a file with the given contents.
	WriteFile(path, contents string) error

	// RemoveFile removes the given file; the bool result reports whether
	// the file existed.
	RemoveFile(path string) (bool, error)
}

// DirName returns the directory portion of the given path, without the
// trailing slash, or "" if the path has no directory.
func DirName(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// makeDirs is the shared MakeDirs walk, parameterized over the concrete
// disk.
func makeDirs(di DiskInterface, path string) error {
	dir := DirName(path)
	if dir == "" {
		return nil // Reached root; assume it's there.
	}
	mtime, err := di.Stat(dir)
	if mtime < 0 {
		return err
	}
	if mtime > 0 {
		return nil // Exists already; we're done.
	}

	// Directory doesn't exist.  Try creating its parent first.
	if err := makeDirs(di, dir); err != nil {
		return err
	}
	return di.MakeDir(dir)
}

type dirCache map[string]TimeStamp

// RealDiskInterface implements DiskInterface over the actual disk.
type RealDiskInterface struct {
	// Whether stat information can be cached.
	useCache bool

	// Mapping of directory path => populated mtime cache.
	cache map[string]dirCache
}

func NewRealDiskInterface() *RealDiskInterface {
	return &RealDiskInterface{}
}

func (d *RealDiskInterface) Stat(path string) (TimeStamp, error) {
	defer MetricRecord("node stat")()

	if d.useCache {
		dir := DirName(path)
		base := path
		if dir != "" {
			base = path[len(dir)+1:]
		}
		if dir == "" {
			dir = "."
		}

		ci, ok := d.cache[dir]
		if !ok {
			ci = dirCache{}
			entries, err := os.ReadDir(dir)
			if err != nil && !os.IsNotExist(err) {
				return -1, fmt.Errorf("stat(%s): %s", path, err)
			}
			for _, entry := range entries {
				info, err := entry.Info()
				if err != nil {
					continue
				}
				ci[entry.Name()] = TimeStamp(info.ModTime().UnixNano())
			}
			d.cache[dir] = ci
		}
		return ci[base], nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, fmt.Errorf("stat(%s): %s", path, err)
	}
	return TimeStamp(info.ModTime().UnixNano()), nil
}

// AllowStatCache enables or disables stat information being cached; it
// also clears the current cache.
func (d *RealDiskInterface) AllowStatCache(allow bool) {
	d.useCache = allow
	if d.useCache {
		d.cache = make(map[string]dirCache)
	} else {
		d.cache = nil
	}
}

func (d *RealDiskInterface) WriteFile(path, contents string) error {
	if err := os.WriteFile(path, []byte(contents), 0666); err != nil {
		return fmt.Errorf("WriteFile(%s): Unable to create file. %s", path, err)
	}
	return nil
}

func (d *RealDiskInterface) MakeDir(path string) error {
	if err := os.Mkdir(path, 0777); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("mkdir(%s): %s", path, err)
	}
	return nil
}

func (d *RealDiskInterface) MakeDirs(path string) error {
	return makeDirs(d, path)
}

func (d *RealDiskInterface) ReadFile(path string) ([]byte, DiskStatus, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, DiskNotFound, fmt.Errorf("%s: %s", path, err)
		}
		return nil, DiskOtherError, fmt.Errorf("%s: %s", path, err)
	}
	return contents, DiskOkay, nil
}

func (d *RealDiskInterface) RemoveFile(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("remove(%s): %s", path, err)
}

// SortedFileNames returns the keys of a path-keyed map in sorted order,
// for stable tool output.
func SortedFileNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
