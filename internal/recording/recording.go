// Package recording finds input videos and recovers when each recording
// started, so clips can be named by wall-clock time.
package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Recording is one input video file
type Recording struct {
	Path    string
	Name    string // base name without extension
	Ext     string // extension as found, including the dot
	Size    int64
	ModTime time.Time
}

// StartSource tells where a start time came from
type StartSource string

const (
	FromFilename StartSource = "filename"
	FromModTime  StartSource = "mtime"
)

// Matches e.g. 20240501_101500, 2024-05-01T10-15-00, 2024-05-01 10:15:00
var stampRe = regexp.MustCompile(`(?:^|\D)(\d{4})-?(\d{2})-?(\d{2})[_T -]?(\d{2})[-:_]?(\d{2})[-:_]?(\d{2})(?:\D|$)`)

// List returns the regular files in dir whose extension is one of exts
// (case-insensitive), sorted by file name.
func List(dir string, exts []string) ([]Recording, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		want[strings.ToLower(e)] = true
	}

	var recs []Recording
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if !want[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		recs = append(recs, fromInfo(filepath.Join(dir, entry.Name()), info))
	}
	return recs, nil
}

// Stat describes a single video file
func Stat(path string) (Recording, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Recording{}, err
	}
	if !info.Mode().IsRegular() {
		return Recording{}, fmt.Errorf("%s is not a regular file", path)
	}
	return fromInfo(path, info), nil
}

func fromInfo(path string, info os.FileInfo) Recording {
	ext := filepath.Ext(info.Name())
	return Recording{
		Path:    path,
		Name:    strings.TrimSuffix(info.Name(), ext),
		Ext:     ext,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

// StartTime returns the wall-clock time at which the recording started. A
// timestamp embedded in the file name wins when useFilename is set;
// otherwise, or when none parses, the modification time is used.
func StartTime(rec Recording, loc *time.Location, useFilename bool) (time.Time, StartSource) {
	if loc == nil {
		loc = time.Local
	}
	if useFilename {
		if t, ok := ParseStamp(rec.Name, loc); ok {
			return t, FromFilename
		}
	}
	return rec.ModTime.In(loc), FromModTime
}

// ParseStamp finds the first valid date-time stamp in name
func ParseStamp(name string, loc *time.Location) (time.Time, bool) {
	for _, m := range stampRe.FindAllStringSubmatch(name, -1) {
		var n [6]int
		for i := range n {
			n[i], _ = strconv.Atoi(m[i+1])
		}
		y, mo, d, hh, mm, ss := n[0], n[1], n[2], n[3], n[4], n[5]
		if mo < 1 || mo > 12 || d < 1 || hh > 23 || mm > 59 || ss > 59 {
			continue
		}
		t := time.Date(y, time.Month(mo), d, hh, mm, ss, 0, loc)
		if t.Day() != d {
			// e.g. Feb 30 normalised into March
			continue
		}
		return t, true
	}
	return time.Time{}, false
}
