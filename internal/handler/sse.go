package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// eventStream writes Server-Sent Events to a gin response.
type eventStream struct {
	c *gin.Context
}

func newEventStream(c *gin.Context) *eventStream {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return &eventStream{c: c}
}

// send writes one event and flushes it. It reports false once the client has gone away.
func (s *eventStream) send(event string, data any) bool {
	if s.c.Request.Context().Err() != nil {
		return false
	}
	s.c.SSEvent(event, data)
	s.c.Writer.Flush()
	return true
}

func (s *eventStream) fail(err error) {
	_, n := NoticeFor(err)
	s.send("error", noticeBody{Error: n})
}
