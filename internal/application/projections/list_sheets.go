package projections

import (
	"context"
	"fmt"
	"sort"

	"permappel/internal/domain/sheet"
)

// SheetSummary is one sheet's line in the sheet list.
type SheetSummary struct {
	SheetID      string      `json:"sheetId"`
	Date         string      `json:"date"`
	TimeslotID   string      `json:"timeslotId"`
	TimeslotName string      `json:"timeslotName"`
	Classes      []string    `json:"classes"`
	Groups       []string    `json:"groups"`
	Stats        sheet.Stats `json:"stats"`
}

// ListSheetsQuery carries query parameters.
type ListSheetsQuery struct {
	Date string // optional, filters to one day
}

// ListSheetsDeps holds dependencies for ListSheets.
type ListSheetsDeps struct {
	SheetStore    SheetStore
	TimeslotStore TimeslotStore // optional: nil skips timeslot names
}

// QueryListSheets lists sheets with their per-status tallies, most
// recent date first.
func QueryListSheets(ctx context.Context, query ListSheetsQuery, deps ListSheetsDeps) ([]SheetSummary, error) {
	sheets, err := deps.SheetStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sheets: %w", err)
	}

	names := map[string]string{}
	if deps.TimeslotStore != nil {
		if slots, err := deps.TimeslotStore.List(ctx); err == nil {
			for _, ts := range slots {
				names[ts.ID] = ts.Name
			}
		}
	}

	summaries := make([]SheetSummary, 0, len(sheets))
	for _, s := range sheets {
		if query.Date != "" && s.Date != query.Date {
			continue
		}
		summary := SheetSummary{
			SheetID:      s.PublicID(),
			Date:         s.Date,
			TimeslotID:   s.TimeslotID,
			TimeslotName: s.TimeslotName,
			Classes:      s.Classes,
			Groups:       s.Groups,
		}
		if summary.TimeslotName == "" {
			summary.TimeslotName = names[s.TimeslotID]
		}
		records, err := deps.SheetStore.ListRecords(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list records for sheet %s: %w", s.ID, err)
		}
		for _, r := range records {
			summary.Stats.Add(r.Status)
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Date != summaries[j].Date {
			return summaries[i].Date > summaries[j].Date
		}
		return summaries[i].TimeslotID < summaries[j].TimeslotID
	})

	return summaries, nil
}
