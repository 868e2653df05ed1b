package model

import "time"

type ReportStatus string

const (
	ReportAppending ReportStatus = "Appending"
	ReportFinalized ReportStatus = "Finalized"
)

type Category string

const (
	CategoryEssential    Category = "Essential"
	CategoryNonEssential Category = "NonEssential"
)

func (c Category) Valid() bool {
	return c == CategoryEssential || c == CategoryNonEssential
}

type Action string

const (
	ActionRead   Action = "Read"
	ActionDelete Action = "Delete"
	ActionReply  Action = "Reply"
	ActionIgnore Action = "Ignore"
)

func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionDelete, ActionReply, ActionIgnore:
		return true
	}
	return false
}

// ActionResult is empty while the action is still pending.
type ActionResult string

const (
	ActionResultPending ActionResult = ""
	ActionResultSuccess ActionResult = "Success"
	ActionResultError   ActionResult = "Error"
)

// RichText is one fragment of the report summary.
type RichText struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

// MailReportItem is one email's classification inside a report.
type MailReportItem struct {
	EmailID      string       `json:"email_id"`
	Subject      string       `json:"subject"`
	Sender       string       `json:"sender"`
	Summary      string       `json:"summary"`
	Category     Category     `json:"category"`
	Action       Action       `json:"action"`
	ActionResult ActionResult `json:"action_result,omitempty"`
	ReplyMessage *string      `json:"reply_message,omitempty"`
}

// Immutable reports whether the backend already applied the item's action.
func (i MailReportItem) Immutable() bool {
	return i.ActionResult == ActionResultSuccess
}

// Account groups the items of one connected mailbox.
type Account struct {
	Email string           `json:"email"`
	Items []MailReportItem `json:"items"`
}

type MailboxContent struct {
	Gmail   []Account `json:"gmail"`
	Outlook []Account `json:"outlook"`
}

type ReportContent struct {
	Summary []RichText     `json:"summary"`
	Content MailboxContent `json:"content"`
}

type Report struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	Content       ReportContent `json:"content"`
	Status        ReportStatus  `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	FinalizedAt   *time.Time    `json:"finalized_at,omitempty"`
	LastUpdatedAt *time.Time    `json:"last_updated_at,omitempty"`
}

func (r *Report) Finalized() bool {
	return r != nil && r.Status == ReportFinalized
}

// Items returns every item across all gmail and outlook accounts.
func (r *Report) Items() []MailReportItem {
	if r == nil {
		return nil
	}
	var items []MailReportItem
	for _, accounts := range [][]Account{r.Content.Content.Gmail, r.Content.Content.Outlook} {
		for _, acc := range accounts {
			items = append(items, acc.Items...)
		}
	}
	return items
}

// FindItem looks up an item by email id.
func (r *Report) FindItem(emailID string) (MailReportItem, bool) {
	for _, item := range r.Items() {
		if item.EmailID == emailID {
			return item, true
		}
	}
	return MailReportItem{}, false
}

// ReportSummary is one row of the report history listing.
type ReportSummary struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Status      ReportStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	FinalizedAt *time.Time   `json:"finalized_at,omitempty"`
}

type HistoryPage struct {
	Items    []ReportSummary `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// ItemUpdate is a single item change sent with PUT /report/:id.
// Nil fields are left untouched by the backend.
type ItemUpdate struct {
	EmailID      string    `json:"email_id"`
	Category     *Category `json:"category,omitempty"`
	Action       *Action   `json:"action,omitempty"`
	ReplyMessage *string   `json:"reply_message,omitempty"`
}

type MessageContent struct {
	EmailID string `json:"email_id"`
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Body    string `json:"body"`
	HTML    string `json:"html,omitempty"`
}
