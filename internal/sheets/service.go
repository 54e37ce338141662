// Package sheets exports batch tamper-check reports to Google Sheets.
//
// Credentials are resolved in order: GOOGLE_CREDENTIALS (inline JSON),
// GOOGLE_APPLICATION_CREDENTIALS (file), then application default
// credentials. The account needs edit access to the spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"invoiceguard/internal/logger"
)

// DefaultSheetName is the tab batch reports are appended to.
const DefaultSheetName = "Tamper Checks"

var (
	// ErrInvalidURL is returned for URLs that do not name a spreadsheet.
	ErrInvalidURL = errors.New("not a Google Sheets URL")

	// ErrExportFailed is returned when the Sheets API rejects a call.
	ErrExportFailed = errors.New("sheet export failed")
)

// ReportError records which Sheets call failed.
type ReportError struct {
	Op    string
	Sheet string
	Err   error
}

func (e *ReportError) Error() string {
	if e.Sheet != "" {
		return fmt.Sprintf("sheets: %s on %q: %v", e.Op, e.Sheet, e.Err)
	}
	return fmt.Sprintf("sheets: %s: %v", e.Op, e.Err)
}

func (e *ReportError) Unwrap() error { return e.Err }

func (e *ReportError) Is(target error) bool { return target == ErrExportFailed }

// columns is the report layout, one per Row field plus the export time.
var columns = []string{
	"File", "Status", "Outcome", "Message", "Missing Fields", "Matched Keywords",
	"Max Difference", "Evidence", "Page", "Run ID", "Checked At",
}

var idPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// Row is one document of a batch report.
type Row struct {
	File            string
	Status          string // authentic, altered or error
	Outcome         string
	Message         string // verdict message, or the error for failed documents
	MissingFields   []string
	MatchedKeywords []string
	MaxDifference   *int
	Evidence        string
	Page            string
	RunID           string
}

// Reporter appends report rows to one spreadsheet.
type Reporter struct {
	api           *sheets.Service
	spreadsheetID string
	log           zerolog.Logger
	now           func() time.Time
}

// NewReporter connects to the spreadsheet at sheetURL.
func NewReporter(ctx context.Context, sheetURL string) (*Reporter, error) {
	id, err := SpreadsheetID(sheetURL)
	if err != nil {
		return nil, err
	}

	ts, err := tokenSource(ctx)
	if err != nil {
		return nil, &ReportError{Op: "credentials", Err: err}
	}

	api, err := sheets.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, &ReportError{Op: "connect", Err: err}
	}

	r := &Reporter{
		api:           api,
		spreadsheetID: id,
		log:           logger.WithComponent("sheets").With().Str("spreadsheet_id", id).Logger(),
		now:           time.Now,
	}
	r.log.Debug().Msg("Connected to spreadsheet")
	return r, nil
}

func tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	var creds []byte
	if inline := os.Getenv("GOOGLE_CREDENTIALS"); inline != "" {
		creds = []byte(inline)
	} else if path := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		creds = data
	}

	if creds == nil {
		found, err := google.FindDefaultCredentials(ctx, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, err
		}
		return found.TokenSource, nil
	}

	jwt, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	return jwt.TokenSource(ctx), nil
}

// SpreadsheetID pulls the document ID out of a spreadsheet URL.
func SpreadsheetID(sheetURL string) (string, error) {
	m := idPattern.FindStringSubmatch(sheetURL)
	if m == nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, sheetURL)
	}
	return m[1], nil
}

// AppendRows appends rows to the tab, creating it with a header row first
// if needed. An empty tab name selects DefaultSheetName.
func (r *Reporter) AppendRows(ctx context.Context, rows []Row, tab string) error {
	if tab == "" {
		tab = DefaultSheetName
	}
	if err := r.prepareTab(ctx, tab); err != nil {
		return err
	}

	checkedAt := r.now().UTC().Format(time.RFC3339)
	values := make([][]interface{}, len(rows))
	for i := range rows {
		values[i] = rows[i].cells(checkedAt)
	}

	_, err := r.api.Spreadsheets.Values.
		Append(r.spreadsheetID, tab+"!A:K", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return &ReportError{Op: "append rows", Sheet: tab, Err: err}
	}

	r.log.Info().Str("sheet", tab).Int("rows", len(values)).Msg("Appended batch report")
	return nil
}

// cells renders the row in column order.
func (row Row) cells(checkedAt string) []interface{} {
	var maxDifference interface{} = ""
	if row.MaxDifference != nil {
		maxDifference = *row.MaxDifference
	}
	return []interface{}{
		row.File,
		row.Status,
		row.Outcome,
		row.Message,
		strings.Join(row.MissingFields, ", "),
		strings.Join(row.MatchedKeywords, ", "),
		maxDifference,
		row.Evidence,
		row.Page,
		row.RunID,
		checkedAt,
	}
}

// prepareTab makes sure the tab exists and starts with the column header.
func (r *Reporter) prepareTab(ctx context.Context, tab string) error {
	doc, err := r.api.Spreadsheets.Get(r.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return &ReportError{Op: "read spreadsheet", Err: err}
	}

	tabID, found := findSheet(doc, tab)
	if !found {
		reply, err := r.api.Spreadsheets.BatchUpdate(r.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: tab}},
			}},
		}).Context(ctx).Do()
		if err != nil {
			return &ReportError{Op: "add tab", Sheet: tab, Err: err}
		}
		tabID = reply.Replies[0].AddSheet.Properties.SheetId
		r.log.Info().Str("sheet", tab).Msg("Created report tab")
	} else {
		first, err := r.api.Spreadsheets.Values.Get(r.spreadsheetID, tab+"!A1:K1").Context(ctx).Do()
		if err != nil {
			return &ReportError{Op: "read header", Sheet: tab, Err: err}
		}
		if len(first.Values) > 0 {
			return nil
		}
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	_, err = r.api.Spreadsheets.Values.
		Update(r.spreadsheetID, tab+"!A1:K1", &sheets.ValueRange{Values: [][]interface{}{header}}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return &ReportError{Op: "write header", Sheet: tab, Err: err}
	}

	// Styling is cosmetic; a failure here leaves a usable report.
	_, err = r.api.Spreadsheets.BatchUpdate(r.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: headerStyle(tabID),
	}).Context(ctx).Do()
	if err != nil {
		r.log.Warn().Err(err).Str("sheet", tab).Msg("Could not style header row")
	}
	return nil
}

func findSheet(doc *sheets.Spreadsheet, title string) (int64, bool) {
	for _, s := range doc.Sheets {
		if s.Properties != nil && s.Properties.Title == title {
			return s.Properties.SheetId, true
		}
	}
	return 0, false
}

// headerStyle bolds and freezes the first row.
func headerStyle(tabID int64) []*sheets.Request {
	return []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{SheetId: tabID, EndRowIndex: 1, EndColumnIndex: int64(len(columns))},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{TextFormat: &sheets.TextFormat{Bold: true}},
				},
				Fields: "userEnteredFormat.textFormat.bold",
			},
		},
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId:        tabID,
					GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}
}
