package mq

import "time"

// Routing keys on the haper.events exchange.
const (
	RoutingAccountConnected     = "account.connected"
	RoutingReportGenerated      = "report.generated"
	RoutingBatchActionCompleted = "report.batch_action.completed"
)

// AccountConnectedPayload 用户授权邮箱后发布
type AccountConnectedPayload struct {
	Provider  string    `json:"provider"`
	Email     string    `json:"email"`
	AccountID string    `json:"account_id"`
	UserEmail string    `json:"user_email"`
	At        time.Time `json:"at"`
}

type ReportGeneratedPayload struct {
	ReportID  string    `json:"report_id"`
	UserEmail string    `json:"user_email"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

// BatchActionCompletedPayload carries the last snapshot the status stream reported.
type BatchActionCompletedPayload struct {
	ReportID string    `json:"report_id"`
	Total    int       `json:"total"`
	Succeed  int       `json:"succeed"`
	Failed   int       `json:"failed"`
	Status   string    `json:"status"`
	At       time.Time `json:"at"`
}
