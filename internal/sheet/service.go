package sheet

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"chatsync/internal/config"
	"chatsync/internal/storage"
	logx "chatsync/pkg/logx"
)

// Fetcher returns the raw worksheet grid. Production uses the Sheets API;
// tests inject a fake.
type Fetcher func(ctx context.Context) ([][]string, error)

type Service struct {
	store *storage.Store
	cfg   config.SheetConfig
	log   logx.Logger
	fetch Fetcher
	now   func() time.Time
}

func New(store *storage.Store, cfg config.SheetConfig, log logx.Logger) *Service {
	s := &Service{store: store, cfg: cfg, log: log, now: time.Now}
	s.fetch = s.fetchAPI
	return s
}

// SetFetcher overrides the worksheet source.
func (s *Service) SetFetcher(f Fetcher) { s.fetch = f }

// SetNow overrides the clock.
func (s *Service) SetNow(fn func() time.Time) { s.now = fn }

func (s *Service) fetchAPI(ctx context.Context) ([][]string, error) {
	var opts []option.ClientOption
	switch {
	case s.cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(s.cfg.CredentialsFile))
	case os.Getenv("GOOGLE_CREDENTIALS_JSON") != "":
		creds, err := google.CredentialsFromJSON(ctx,
			[]byte(os.Getenv("GOOGLE_CREDENTIALS_JSON")), sheets.SpreadsheetsReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("parse GOOGLE_CREDENTIALS_JSON: %w", err)
		}
		opts = append(opts, option.WithTokenSource(creds.TokenSource))
	default:
		return nil, fmt.Errorf("google credentials not found: set sheet.credentials_file or GOOGLE_CREDENTIALS_JSON")
	}
	opts = append(opts, option.WithScopes(sheets.SpreadsheetsReadonlyScope))

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	resp, err := srv.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, s.cfg.Worksheet).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read worksheet %q: %w", s.cfg.Worksheet, err)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, 0, len(raw))
		for _, cell := range raw {
			row = append(row, fmt.Sprint(cell))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type Options struct {
	// Date restricts the sync to one YYYY-MM-DD date.
	Date      string
	DaysAhead int
	DryRun    bool
}

type Summary struct {
	Updates int
	Unknown []string
}

// Sync pulls the roster worksheet and writes schedule updates into daily
// stats rows. Dry-run logs the first updates and writes nothing.
func (s *Service) Sync(ctx context.Context, opts Options) (Summary, error) {
	rows, err := s.fetch(ctx)
	if err != nil {
		return Summary{}, err
	}
	if len(rows) < 3 {
		s.log.Warn("worksheet has too little data", logx.Int("rows", len(rows)))
		return Summary{}, nil
	}

	pivot, ok := ParsePivot(rows)
	if !ok {
		return Summary{}, fmt.Errorf("could not find header row with SMA column")
	}
	s.log.Info("parsed roster worksheet",
		logx.Int("data_rows", len(pivot.DataRows)),
		logx.Int("date_columns", len(pivot.DateCols)))

	agents, err := s.store.Agents(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load agents: %w", err)
	}
	byLower := make(map[string]int64, len(agents))
	for _, a := range agents {
		byLower[strings.ToLower(a.Name)] = a.ID
	}

	daysAhead := opts.DaysAhead
	if daysAhead <= 0 {
		daysAhead = s.cfg.DaysAhead
	}
	dates := SyncDates(s.now(), opts.Date, daysAhead)

	updates, unknown := BuildUpdates(pivot, ResolveByMap(byLower), dates)
	for _, name := range unknown {
		s.log.Warn("agent not found in database", logx.String("agent", name))
	}

	if opts.DryRun {
		s.log.Info("dry run, no changes will be made", logx.Int("updates", len(updates)))
		for i, u := range updates {
			if i >= 15 {
				s.log.Info("more updates elided", logx.Int("count", len(updates)-15))
				break
			}
			s.log.Info("would update",
				logx.String("agent", u.AgentName),
				logx.String("date", u.Date),
				logx.String("status", u.Status),
				logx.String("shift", u.Shift))
		}
		return Summary{Updates: len(updates), Unknown: unknown}, nil
	}

	stUpdates := make([]storage.ScheduleUpdate, 0, len(updates))
	for _, u := range updates {
		stUpdates = append(stUpdates, storage.ScheduleUpdate{
			AgentID:   u.AgentID,
			Date:      u.Date,
			Status:    u.Status,
			Shift:     u.Shift,
			DutyHours: u.DutyHours,
		})
	}
	if err := s.store.ApplyScheduleUpdates(ctx, stUpdates); err != nil {
		return Summary{}, fmt.Errorf("apply schedule updates: %w", err)
	}
	s.log.Info("schedule sync complete", logx.Int("updates", len(updates)), logx.Int("unknown_agents", len(unknown)))
	return Summary{Updates: len(updates), Unknown: unknown}, nil
}
