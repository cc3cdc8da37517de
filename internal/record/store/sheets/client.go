// Package sheets stores records, audit entries and search history in a
// Google spreadsheet. Every worksheet keeps its headers in row 1.
package sheets

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"kycvault/internal/platform/config"
)

// Client is the slice of the Sheets API the store needs. Ranges use A1
// notation: "Sheet" is the whole worksheet, "Sheet!1:1" the header row and
// "Sheet!A7" the row starting at A7.
type Client interface {
	Read(ctx context.Context, rng string) ([][]string, error)
	Update(ctx context.Context, rng string, rows [][]string) error
	Append(ctx context.Context, sheet string, rows [][]string) error
	EnsureSheet(ctx context.Context, sheet string) error
}

// API is the Client backed by the Google Sheets API.
type API struct {
	svc           *gsheets.Service
	spreadsheetID string
}

// Open connects with a service account credentials file. Without a
// spreadsheet id a new spreadsheet is created and, when a Drive folder is
// configured, moved into it.
func Open(ctx context.Context, cfg config.SheetsConfig) (*API, error) {
	opts := []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsPath)}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}

	id := cfg.SpreadsheetID
	if id == "" {
		created, err := svc.Spreadsheets.Create(&gsheets.Spreadsheet{
			Properties: &gsheets.SpreadsheetProperties{Title: cfg.SpreadsheetName},
		}).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("create spreadsheet %q: %w", cfg.SpreadsheetName, err)
		}
		id = created.SpreadsheetId

		if cfg.DriveFolderID != "" {
			if err := moveToFolder(ctx, opts, id, cfg.DriveFolderID); err != nil {
				return nil, err
			}
		}
	}
	return &API{svc: svc, spreadsheetID: id}, nil
}

func moveToFolder(ctx context.Context, opts []option.ClientOption, fileID, folderID string) error {
	d, err := drive.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("drive client: %w", err)
	}
	f, err := d.Files.Get(fileID).Fields("parents").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet parents: %w", err)
	}
	_, err = d.Files.Update(fileID, &drive.File{}).
		AddParents(folderID).
		RemoveParents(strings.Join(f.Parents, ",")).
		SupportsAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("move spreadsheet to folder %s: %w", folderID, err)
	}
	return nil
}

// SpreadsheetID returns the id in use, which is new when Open created it.
func (a *API) SpreadsheetID() string { return a.spreadsheetID }

func (a *API) Read(ctx context.Context, rng string) ([][]string, error) {
	resp, err := a.svc.Spreadsheets.Values.Get(a.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		out[i] = cells
	}
	return out, nil
}

func (a *API) Update(ctx context.Context, rng string, rows [][]string) error {
	_, err := a.svc.Spreadsheets.Values.Update(a.spreadsheetID, rng, valueRange(rows)).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func (a *API) Append(ctx context.Context, sheet string, rows [][]string) error {
	_, err := a.svc.Spreadsheets.Values.Append(a.spreadsheetID, sheet, valueRange(rows)).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", sheet, err)
	}
	return nil
}

func (a *API) EnsureSheet(ctx context.Context, sheet string) error {
	ss, err := a.svc.Spreadsheets.Get(a.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read worksheets: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == sheet {
			return nil
		}
	}
	_, err = a.svc.Spreadsheets.BatchUpdate(a.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{Properties: &gsheets.SheetProperties{Title: sheet}},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("add worksheet %s: %w", sheet, err)
	}
	return nil
}

func valueRange(rows [][]string) *gsheets.ValueRange {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		values[i] = cells
	}
	return &gsheets.ValueRange{Values: values}
}
