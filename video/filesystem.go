package video

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	ExtVideo = ".mp4"

	// FileTimeLayout defines the format of filenames.
	// See https://golang.org/src/time/format.go.
	FileTimeLayout = "cam_2006-01-02_15-04-05"
)

type FilesystemOptions struct {
	// BasePath is the directory clips are written to. It may be a mounted
	// network share.
	BasePath string
	// MinFreeBytes is the free space required at startup.
	MinFreeBytes uint64
}

// Filesystem hands out unique clip paths inside the output directory.
type Filesystem struct {
	BasePath string

	l    sync.Mutex
	used map[string]int
}

// NewFilesystem validates the output directory: it must exist, be a writable
// directory and have at least MinFreeBytes available.
func NewFilesystem(o FilesystemOptions) (*Filesystem, error) {
	path, err := filepath.Abs(o.BasePath)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("directory %q does not exist, please create it or specify a different directory", path)
	} else if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", path)
	}
	if err := unix.Access(path, unix.W_OK); err != nil {
		return nil, fmt.Errorf("directory %q is not writable: %w", path, err)
	}
	free, err := FreeBytes(path)
	if err != nil {
		return nil, err
	}
	if free < o.MinFreeBytes {
		return nil, fmt.Errorf("directory %q has %d bytes free, need at least %d", path, free, o.MinFreeBytes)
	}
	log.Infof("Storing clips in %s (%d MiB free)", path, free>>20)

	return &Filesystem{
		BasePath: path,
		used:     make(map[string]int),
	}, nil
}

// FreeBytes returns the space available to unprivileged users at path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %q: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// NewPath returns the clip path for a recording started at t, named
// cam_<YYYY>-<MM>-<DD>_<HH>-<mm>-<ss>.mp4. Names only have one second
// resolution, so a second clip started in the same second (or colliding with
// a file already on disk) gets a _2, _3, ... suffix.
func (f *Filesystem) NewPath(t time.Time) string {
	f.l.Lock()
	defer f.l.Unlock()

	base := t.Format(FileTimeLayout)
	for {
		f.used[base]++
		n := f.used[base]
		name := base + ExtVideo
		if n > 1 {
			name = fmt.Sprintf("%s_%d%s", base, n, ExtVideo)
		}
		p := filepath.Join(f.BasePath, name)
		// Anything but an existing file is left for the encoder to report.
		if _, err := os.Stat(p); err != nil {
			return p
		}
	}
}
