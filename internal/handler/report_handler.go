package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"haper/internal/debounce"
	"haper/internal/model"
	"haper/internal/reply"
	"haper/internal/report"
	"haper/internal/session"
)

type ReportHandler struct {
	reports  *report.Service
	replies  *reply.Generator
	drafts   *debounce.Debouncer[report.ReplyEdit]
	sessions SessionClearer
	logger   *zap.Logger
}

func NewReportHandler(reports *report.Service, replies *reply.Generator, drafts *debounce.Debouncer[report.ReplyEdit], sessions SessionClearer, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{
		reports:  reports,
		replies:  replies,
		drafts:   drafts,
		sessions: sessions,
		logger:   logger,
	}
}

func (h *ReportHandler) fail(c *gin.Context, err error) {
	abortWithError(c, h.sessions, h.logger, err)
}

// Dashboard handles GET /api/v1/dashboard.
func (h *ReportHandler) Dashboard(c *gin.Context) {
	sess := mustSession(c)
	d, err := h.reports.Dashboard(c.Request.Context(), sess.BackendToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *ReportHandler) Newest(c *gin.Context) {
	sess := mustSession(c)
	r, err := h.reports.Newest(c.Request.Context(), sess.BackendToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": r, "stats": model.ComputeStats(r)})
}

func (h *ReportHandler) Generate(c *gin.Context) {
	sess := mustSession(c)
	r, err := h.reports.Generate(c.Request.Context(), sess.BackendToken, sess.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *ReportHandler) History(c *gin.Context) {
	sess := mustSession(c)
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))

	hp, err := h.reports.History(c.Request.Context(), sess.BackendToken, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, hp)
}

func (h *ReportHandler) Get(c *gin.Context) {
	sess := mustSession(c)
	r, err := h.reports.Get(c.Request.Context(), sess.BackendToken, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": r, "stats": model.ComputeStats(r)})
}

type updateItemsRequest struct {
	Items []model.ItemUpdate `json:"items" binding:"required,min=1,dive"`
}

// Update handles PUT /api/v1/reports/:id with category, action and reply edits.
func (h *ReportHandler) Update(c *gin.Context) {
	var req updateItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithNotice(c, http.StatusBadRequest, "Invalid update request")
		return
	}

	sess := mustSession(c)
	r, err := h.reports.UpdateItems(c.Request.Context(), sess.BackendToken, c.Param("id"), req.Items)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *ReportHandler) MessageContent(c *gin.Context) {
	emailID := c.Query("email_id")
	if emailID == "" {
		abortWithNotice(c, http.StatusBadRequest, "email_id is required")
		return
	}

	sess := mustSession(c)
	m, err := h.reports.MessageContent(c.Request.Context(), sess.BackendToken, c.Param("id"), emailID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Wait handles GET /api/v1/reports/:id/wait, holding the request until the report is finalized.
func (h *ReportHandler) Wait(c *gin.Context) {
	sess := mustSession(c)
	r, err := h.reports.WaitFinalized(c.Request.Context(), sess.BackendToken, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *ReportHandler) StartBatchAction(c *gin.Context) {
	sess := mustSession(c)
	s, err := h.reports.StartBatchAction(c.Request.Context(), sess.BackendToken, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s)
}

// BatchActionStatus streams "status" events, then one "report" event with the refetched report.
func (h *ReportHandler) BatchActionStatus(c *gin.Context) {
	sess := mustSession(c)
	stream := newEventStream(c)

	r, err := h.reports.WatchBatchAction(c.Request.Context(), sess.BackendToken, c.Param("id"), func(s model.BatchActionStatus) {
		stream.send("status", s)
	})
	if err != nil {
		stream.fail(err)
		return
	}
	stream.send("report", gin.H{"report": r, "stats": model.ComputeStats(r)})
}

// MessageProcessingStatus streams "status" events with the remaining-messages counter.
func (h *ReportHandler) MessageProcessingStatus(c *gin.Context) {
	sess := mustSession(c)
	stream := newEventStream(c)

	last, err := h.reports.WatchMessageProcessing(c.Request.Context(), sess.BackendToken, c.Param("id"), func(s model.MessageProcessingStatus) {
		stream.send("status", s)
	})
	if err != nil {
		stream.fail(err)
		return
	}
	stream.send("done", last)
}

// GenerateReply streams "chunk" events and a final "done" event with the whole text.
func (h *ReportHandler) GenerateReply(c *gin.Context) {
	sess := mustSession(c)
	stream := newEventStream(c)

	res, err := h.replies.Start(c.Request.Context(), sess.ID, sess.BackendToken, c.Param("id"), c.Param("email_id"), func(chunk string) {
		stream.send("chunk", gin.H{"text": chunk})
	})
	if err != nil {
		stream.fail(err)
		return
	}
	stream.send("done", res)
}

func (h *ReportHandler) CancelReply(c *gin.Context) {
	sess := mustSession(c)
	cancelled := h.replies.Cancel(sess.ID, c.Param("id"), c.Param("email_id"))
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

type saveReplyRequest struct {
	ReplyMessage *string `json:"reply_message" binding:"required"`
}

// SaveReply handles PUT /api/v1/reports/:id/items/:email_id/reply. The write is debounced per item.
func (h *ReportHandler) SaveReply(c *gin.Context) {
	var req saveReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithNotice(c, http.StatusBadRequest, "reply_message is required")
		return
	}

	sess := mustSession(c)
	reportID, emailID := c.Param("id"), c.Param("email_id")
	h.drafts.Set(report.ReplyKey(sess.ID, reportID, emailID), report.ReplyEdit{
		Token:    sess.BackendToken,
		ReportID: reportID,
		EmailID:  emailID,
		Message:  *req.ReplyMessage,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
}

// mustSession returns the session set by the auth middleware.
func mustSession(c *gin.Context) *session.Session {
	s, ok := session.FromContext(c)
	if !ok {
		panic("handler: route registered without session middleware")
	}
	return s
}
