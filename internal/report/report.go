// Package report renders jobs and their insights as an xlsx workbook.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"audio-insights-go/internal/aggregator"
	"audio-insights-go/internal/types"
)

const (
	insightsSheet = "Insights"
	summarySheet  = "Summary"
)

var insightHeader = []any{
	"ID", "Filename", "Status", "Sentiment", "Topics", "Summary",
	"Action Items", "Language", "Error", "Created At", "Updated At",
}

// Write emits one row per job plus a summary sheet.
func Write(w io.Writer, jobs []types.Job, s aggregator.Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", insightsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := setRow(f, insightsSheet, 1, insightHeader); err != nil {
		return err
	}
	for i, j := range jobs {
		if err := setRow(f, insightsSheet, i+2, jobRow(j)); err != nil {
			return err
		}
	}
	if err := f.SetPanes(insightsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("add summary sheet: %w", err)
	}
	if err := writeSummary(f, s); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func jobRow(j types.Job) []any {
	row := []any{j.ID, j.Filename, string(j.Status), "", "", "", "", "", "",
		j.CreatedAt.UTC().Format(time.RFC3339), j.UpdatedAt.UTC().Format(time.RFC3339)}
	if in := j.Insight; in != nil {
		row[3] = string(in.Sentiment)
		row[4] = strings.Join(in.Topics, ", ")
		row[5] = in.Summary
		row[6] = strings.Join(in.ActionItems, "\n")
		row[7] = in.Language
	}
	if j.Error != nil {
		row[8] = j.Error.Reason
	}
	return row
}

func writeSummary(f *excelize.File, s aggregator.Summary) error {
	rows := [][]any{
		{"Metric", "Value"},
		{"Total jobs", s.TotalJobs},
		{"Action items", s.ActionItemTotal},
	}
	for _, st := range []types.Status{types.StatusQueued, types.StatusTranscribing, types.StatusExtracting, types.StatusSucceeded, types.StatusFailed} {
		rows = append(rows, []any{"Status: " + string(st), s.ByStatus[st]})
	}
	for _, se := range []types.Sentiment{types.SentimentPositive, types.SentimentNeutral, types.SentimentNegative} {
		rows = append(rows, []any{"Sentiment: " + string(se), s.BySentiment[se]})
	}
	for _, tc := range s.TopTopics {
		rows = append(rows, []any{"Topic: " + tc.Topic, tc.Count})
	}
	for i, r := range rows {
		if err := setRow(f, summarySheet, i+1, r); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
