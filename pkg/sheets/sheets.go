package sheets

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// Credentials identify the spreadsheet and the service account used to reach it.
type Credentials struct {
	SpreadsheetID       string
	ServiceAccountEmail string
	PrivateKey          string
}

// Validate fails with a configuration error when any field is empty.
func (c Credentials) Validate() error {
	var missing []string
	if c.SpreadsheetID == "" {
		missing = append(missing, "spreadsheet id")
	}
	if c.ServiceAccountEmail == "" {
		missing = append(missing, "service account email")
	}
	if c.PrivateKey == "" {
		missing = append(missing, "service account private key")
	}
	if len(missing) > 0 {
		return Errorf(KindConfiguration, "credentials", "", "missing %v", missing)
	}
	return nil
}

// SheetClient implements Store on top of the Google Sheets v4 API. One client
// is meant to be shared by the whole process.
type SheetClient struct {
	service       *sheetsapi.Service
	spreadsheetID string
	limiter       *rate.Limiter
}

// NewSheetClient authenticates with the service account and returns a client.
// requestsPerMinute <= 0 disables outbound throttling.
func NewSheetClient(ctx context.Context, creds Credentials, requestsPerMinute int) (*SheetClient, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	conf := &jwt.Config{
		Email:      creds.ServiceAccountEmail,
		PrivateKey: []byte(creds.PrivateKey),
		Scopes:     []string{sheetsapi.SpreadsheetsScope},
		TokenURL:   google.JWTTokenURL,
	}
	srv, err := sheetsapi.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Op: "new service", Err: err}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		burst := max(requestsPerMinute/10, 1)
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), burst)
	}
	return &SheetClient{
		service:       srv,
		spreadsheetID: creds.SpreadsheetID,
		limiter:       limiter,
	}, nil
}

func (s *SheetClient) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for quota: %w", err)
	}
	return nil
}

func (s *SheetClient) GetRange(ctx context.Context, r Range) ([][]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, r.A1()).Context(ctx).Do()
	if err != nil {
		return nil, Classify("get range", r.Sheet, err)
	}
	return toStrings(resp.Values), nil
}

func (s *SheetClient) BatchGetRanges(ctx context.Context, ranges []Range) ([][][]string, error) {
	if len(ranges) == 0 {
		return nil, nil
	}
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	a1 := make([]string, len(ranges))
	for i, r := range ranges {
		a1[i] = r.A1()
	}
	resp, err := s.service.Spreadsheets.Values.BatchGet(s.spreadsheetID).Ranges(a1...).Context(ctx).Do()
	if err != nil {
		return nil, Classify("batch get", ranges[0].Sheet, err)
	}
	out := make([][][]string, len(ranges))
	for i, vr := range resp.ValueRanges {
		if i >= len(out) {
			break
		}
		if vr != nil {
			out[i] = toStrings(vr.Values)
		}
	}
	return out, nil
}

func (s *SheetClient) UpdateRange(ctx context.Context, r Range, values [][]string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err := s.service.Spreadsheets.Values.Update(
		s.spreadsheetID,
		r.A1(),
		&sheetsapi.ValueRange{Values: toInterfaces(values)},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return Classify("update range", r.Sheet, err)
}

func (s *SheetClient) AppendRow(ctx context.Context, sheet string, row []string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err := s.service.Spreadsheets.Values.Append(
		s.spreadsheetID,
		QuoteSheet(sheet),
		&sheetsapi.ValueRange{Values: toInterfaces([][]string{row})},
	).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return Classify("append row", sheet, err)
}

func (s *SheetClient) ClearRange(ctx context.Context, r Range) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err := s.service.Spreadsheets.Values.Clear(
		s.spreadsheetID,
		r.A1(),
		&sheetsapi.ClearValuesRequest{},
	).Context(ctx).Do()
	return Classify("clear range", r.Sheet, err)
}

func (s *SheetClient) ListSheets(ctx context.Context) ([]SheetInfo, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	ss, err := s.service.Spreadsheets.Get(s.spreadsheetID).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).Do()
	if err != nil {
		return nil, Classify("list sheets", "", err)
	}
	out := make([]SheetInfo, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties == nil {
			continue
		}
		out = append(out, SheetInfo{Title: sh.Properties.Title, GridID: sh.Properties.SheetId})
	}
	return out, nil
}

func (s *SheetClient) AddSheet(ctx context.Context, title string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	req := &sheetsapi.Request{
		AddSheet: &sheetsapi.AddSheetRequest{
			Properties: &sheetsapi.SheetProperties{Title: title},
		},
	}
	_, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{req},
	}).Context(ctx).Do()
	if err == nil {
		log.WithField("sheet", title).Info("Created sheet")
	}
	return Classify("add sheet", title, err)
}

func (s *SheetClient) DeleteRows(ctx context.Context, gridID int64, start, end int) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	req := &sheetsapi.Request{
		DeleteDimension: &sheetsapi.DeleteDimensionRequest{
			Range: &sheetsapi.DimensionRange{
				SheetId:    gridID,
				Dimension:  "ROWS",
				StartIndex: int64(start),
				EndIndex:   int64(end),
				// The first sheet has id 0, which would otherwise be dropped.
				ForceSendFields: []string{"SheetId", "StartIndex"},
			},
		},
	}
	_, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{req},
	}).Context(ctx).Do()
	return Classify("delete rows", "", err)
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		cells := make([]string, len(row))
		for j, v := range row {
			if s, ok := v.(string); ok {
				cells[j] = s
			} else if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		out[i] = cells
	}
	return out
}

func toInterfaces(values [][]string) [][]interface{} {
	out := make([][]interface{}, len(values))
	for i, row := range values {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}
