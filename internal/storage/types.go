package storage

import "time"

type Page struct {
	ID   string
	Name string
}

type Conversation struct {
	ID              string
	PageID          string
	ParticipantID   string
	ParticipantName string
	UpdatedTime     time.Time
	MessageCount    int
}

type Message struct {
	MessageID      string
	ConversationID string
	PageID         string
	SenderID       string
	SenderName     string
	Text           string
	Time           time.Time
	FromPage       bool
	// ResponseSeconds is nil until a response-time pass fills it in.
	ResponseSeconds *int64
}

type Comment struct {
	ID         string
	PageID     string
	Time       time.Time
	ReplyCount int
}

type Agent struct {
	ID     int64
	Name   string
	Active bool
}

type Assignment struct {
	AgentID int64
	PageID  string
	Shift   string
}

// DailyStats is one agent_daily_stats row. Date is YYYY-MM-DD in the
// reporting timezone.
type DailyStats struct {
	AgentID         int64
	AgentName       string
	Date            string
	Shift           string
	ScheduleStatus  string
	DutyHours       float64
	Received        int
	Sent            int
	AvgResponseSecs float64
	CommentReplies  int
	OpeningSpiels   int
	ClosingSpiels   int
}

type SyncState struct {
	PageID        string
	LastSync      time.Time
	Conversations int
	Messages      int
}

// SyncRun is the persisted audit record of one sync invocation.
type SyncRun struct {
	RunID         string
	Kind          string
	StartedAt     time.Time
	PagesOK       int
	PagesFailed   int
	Conversations int
	Messages      int
	Skipped       int
	APICalls      int64
	Took          time.Duration
	Error         string
}
