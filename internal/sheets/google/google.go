package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"livespese/internal/sheets"
)

// Config selects the spreadsheet and the service account used to write it.
type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
}

// Client writes snapshots to one sheet of a Google spreadsheet.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger
}

var _ sheets.SnapshotWriter = (*Client)(nil)

// New creates a Sheets client. Extra options are appended after the
// credentials, so callers can point the client at another endpoint.
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		sheetName = "Expenses"
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := newSheetsService(ctx, cfg, logger, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        logger,
	}, nil
}

// newSheetsService initializes a Sheets Service with service account
// credentials, inline JSON first, then the file. With neither, application
// default credentials apply.
func newSheetsService(ctx context.Context, cfg Config, logger *slog.Logger, extra []goption.ClientOption) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(cfg.ServiceAccountJSON)
	serviceAccountFile := strings.TrimSpace(cfg.ServiceAccountFile)

	var opts []goption.ClientOption
	switch {
	case serviceAccountJSON != "":
		logger.DebugContext(ctx, "Using inline service account credentials", "json_length", len(serviceAccountJSON))
		opts = append(opts, goption.WithCredentialsJSON([]byte(serviceAccountJSON)))
	case serviceAccountFile != "":
		credentialsJSON, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		logger.DebugContext(ctx, "Read service account file", "path", serviceAccountFile, "size", len(credentialsJSON))
		opts = append(opts, goption.WithCredentialsJSON(credentialsJSON))
	}
	opts = append(opts, goption.WithScopes(gsheet.SpreadsheetsScope))
	opts = append(opts, extra...)

	service, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// WriteSnapshot clears the mirrored columns and writes the snapshot from A1.
// The two calls are not atomic; a failed update leaves the sheet empty until
// the next snapshot is written.
func (c *Client) WriteSnapshot(ctx context.Context, s sheets.Snapshot) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	clearRange := a1Range(c.sheetName, "A:C")
	_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, clearRange, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear %s: %w", clearRange, err)
	}

	rows := sheets.Rows(s)
	dataRange := a1Range(c.sheetName, fmt.Sprintf("A1:C%d", len(rows)))
	vr := &gsheet.ValueRange{MajorDimension: "ROWS", Values: rows}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, dataRange, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", dataRange, err)
	}

	c.logger.DebugContext(ctx, "Snapshot written to sheet",
		"sheet", c.sheetName,
		"rows", len(rows),
		"total", s.Total.StringFixed(2))
	return nil
}

// a1Range quotes the sheet name so names with spaces or quotes stay valid.
func a1Range(sheet, cells string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(sheet, "'", "''"), cells)
}
