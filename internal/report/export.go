// Package report renders admin exports of the post table.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/umt-belongings/hub/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	postsSheet   = "Posts"
	summarySheet = "Summary"
)

// ContentType is the MIME type of the XLSX workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var postHeader = []any{
	"ID", "Type", "Title", "Category", "Location", "Date", "Status",
	"Images", "Has Vector", "User", "Created",
}

// WritePosts writes an XLSX workbook with one row per post and a summary sheet of
// counts by type and status.
func WritePosts(w io.Writer, posts []*models.Post) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", postsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(postsSheet, "A1", &postHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, p := range posts {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			p.ID,
			string(p.Type),
			p.Title,
			string(p.Category),
			p.Location,
			p.Date.UTC().Format(time.DateOnly),
			string(p.Status),
			strings.Join(p.Images, "\n"),
			p.HasFeatures(),
			p.UserID,
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow(postsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(postsSheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	if err := writeSummary(f, posts); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, posts []*models.Post) error {
	counts := make(map[string]int)
	withVector := 0
	for _, p := range posts {
		counts[string(p.Type)+"/"+string(p.Status)]++
		if p.HasFeatures() {
			withVector++
		}
	}
	rows := [][]any{{"Type", "Status", "Posts"}}
	for _, t := range []models.ItemType{models.ItemLost, models.ItemFound} {
		for _, s := range []models.PostStatus{models.StatusActive, models.StatusClaimed, models.StatusArchived} {
			rows = append(rows, []any{string(t), string(s), counts[string(t)+"/"+string(s)]})
		}
	}
	rows = append(rows, []any{}, []any{"Total", "", len(posts)}, []any{"With vector", "", withVector})
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	return nil
}
