package util

import (
	"fmt"
	"os"
	"os/exec"
)

// LocateFFmpeg returns the ffmpeg binary named by $FFMPEG, or the first one
// found in $PATH.
func LocateFFmpeg() (string, error) {
	if p := os.Getenv("FFMPEG"); p != "" {
		fi, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("FFMPEG=%s: %w", p, err)
		}
		if fi.IsDir() || fi.Mode()&0111 == 0 {
			return "", fmt.Errorf("FFMPEG=%s is not an executable file", p)
		}
		return p, nil
	}
	return exec.LookPath("ffmpeg")
}
