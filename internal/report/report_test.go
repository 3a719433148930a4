package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"audio-insights-go/internal/aggregator"
	"audio-insights-go/internal/types"
)

func TestWrite(t *testing.T) {
	now := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
	ok := types.NewJob("j1", "a.wav", "call.wav", now)
	ok.Status = types.StatusSucceeded
	ok.Insight = &types.Insight{Summary: "Refund asked", Topics: []string{"billing", "refund"}, Sentiment: types.SentimentNegative, ActionItems: []string{"refund"}}
	bad := types.NewJob("j2", "b.wav", "", now)
	bad.Status = types.StatusFailed
	bad.Error = &types.ErrorInfo{Kind: types.ErrKindTranscription, Reason: "transcription failed: audio file is empty"}
	jobs := []types.Job{ok, bad}

	var buf bytes.Buffer
	if err := Write(&buf, jobs, aggregator.Aggregate(jobs, 5)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Insights")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[1][4] != "billing, refund" || rows[1][3] != "negative" {
		t.Fatalf("row 2 = %v", rows[1])
	}
	if rows[2][8] != "transcription failed: audio file is empty" {
		t.Fatalf("row 3 = %v", rows[2])
	}
	if v, _ := f.GetCellValue("Summary", "B2"); v != "2" {
		t.Fatalf("Summary!B2 = %q, want 2", v)
	}
}
