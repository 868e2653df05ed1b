package report

import (
	"context"

	"haper/internal/model"
)

// ReplyEdit is the latest reply draft typed for one item.
type ReplyEdit struct {
	Token    string
	ReportID string
	EmailID  string
	Message  string
}

// ReplyKey identifies the item a draft belongs to. owner is the session the draft was typed in,
// so two users editing the same item never coalesce.
func ReplyKey(owner, reportID, emailID string) string {
	return owner + "/" + reportID + "/" + emailID
}

// SaveReply writes a draft to the backend. It has the debouncer's flush signature.
func (s *Service) SaveReply(ctx context.Context, _ string, e ReplyEdit) error {
	msg := e.Message
	_, err := s.UpdateItems(ctx, e.Token, e.ReportID, []model.ItemUpdate{{EmailID: e.EmailID, ReplyMessage: &msg}})
	return err
}
