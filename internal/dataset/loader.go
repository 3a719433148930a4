// Package dataset reads spreadsheet manifests of call recordings for batch
// submission.
package dataset

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"audio-insights-go/internal/audio"
)

var ErrNoRows = errors.New("manifest has no data rows")

// Record is one manifest row that points at a recording.
type Record struct {
	Row      int    `json:"row"`
	CallID   string `json:"call_id,omitempty"`
	AudioURL string `json:"audio_url"`
}

func Load(path string) ([]Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return read(f)
}

func LoadReader(r io.Reader) ([]Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return read(f)
}

// read auto-detects the audio URL and call id columns by header
// heuristics on the first sheet. Rows without an http(s) link are skipped.
func read(f *excelize.File) ([]Record, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, ErrNoRows
	}

	audioIdx, callIDIdx := -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "audio") || strings.Contains(l, "record") || strings.Contains(l, "link") || strings.Contains(l, "url"):
			if audioIdx == -1 {
				audioIdx = i
			}
		case strings.Contains(l, "call id") || strings.Contains(l, "callid") || l == "id":
			if callIDIdx == -1 {
				callIDIdx = i
			}
		}
	}
	if audioIdx == -1 {
		return nil, fmt.Errorf("no audio link column in header %v", rows[0])
	}

	var out []Record
	for i, r := range rows[1:] {
		rec := Record{Row: i + 2}
		if audioIdx < len(r) {
			rec.AudioURL = strings.TrimSpace(r[audioIdx])
		}
		if callIDIdx >= 0 && callIDIdx < len(r) {
			rec.CallID = strings.TrimSpace(r[callIDIdx])
		}
		if !audio.IsURL(rec.AudioURL) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
