package core

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Video is one scraped item. Workers write one per line to the job's
// JSON Lines artifact.
type Video struct {
	VideoURL    string     `json:"video_url"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Views       int64      `json:"views"`
	Likes       int64      `json:"likes"`
	Bookmarks   int64      `json:"bookmarks"`
	Comments    int64      `json:"comments"`
	UploadDate  *time.Time `json:"upload_date,omitempty"`
	ScrapedAt   time.Time  `json:"scraped_at"`
}

const maxVideoLine = 1 << 20

// ReadVideos decodes the artifact at path and returns the records in
// [offset, offset+limit) along with the total number of records. A limit
// of zero returns everything after offset.
func ReadVideos(path string, offset, limit int) ([]Video, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%s: %w", path, ErrResultNotFound)
		}
		return nil, 0, fmt.Errorf("open results: %w", err)
	}
	defer f.Close()

	videos := []Video{}
	total := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxVideoLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		total++
		if total <= offset || (limit > 0 && len(videos) >= limit) {
			continue
		}
		var v Video
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, 0, fmt.Errorf("decode %s line %d: %w", path, total, err)
		}
		videos = append(videos, v)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("read results: %w", err)
	}
	return videos, total, nil
}
