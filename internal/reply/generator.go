// Package reply streams AI-generated reply drafts and lets the user abort them.
package reply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"haper/internal/model"
	"haper/pkg/logger"
	"haper/pkg/metrics"
)

// Backend is the slice of the backend client the generator uses.
type Backend interface {
	OpenReplyGeneration(ctx context.Context, token, reportID, emailID string) (io.ReadCloser, error)
	UpdateReport(ctx context.Context, token, reportID string, items []model.ItemUpdate) (*model.Report, error)
}

// Result is the text produced by one generation.
type Result struct {
	Message   string `json:"message"`
	Cancelled bool   `json:"cancelled"`
	Persisted bool   `json:"persisted"`
}

type inflight struct {
	cancel context.CancelFunc
	// superseded is set under Generator.mu when a newer Start replaces this one.
	superseded bool
	done       chan struct{}
}

// Generator tracks one in-flight generation per owner and report item.
type Generator struct {
	backend Backend
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[string]*inflight
}

func NewGenerator(backend Backend, logger *zap.Logger) *Generator {
	return &Generator{
		backend:  backend,
		logger:   logger,
		inflight: make(map[string]*inflight),
	}
}

func key(owner, reportID, emailID string) string {
	return owner + "/" + reportID + "/" + emailID
}

// Start streams a reply for one item, calling emit for every chunk of text.
// owner scopes the generation, normally the session ID. A second Start for the
// same owner and item cancels the first, and the first then saves nothing.
// Otherwise a cancelled generation keeps the text received so far and, if
// non-empty, saves it.
func (g *Generator) Start(ctx context.Context, owner, token, reportID, emailID string, emit func(chunk string)) (Result, error) {
	genCtx, cancel := context.WithCancel(ctx)
	k := key(owner, reportID, emailID)
	self := &inflight{cancel: cancel, done: make(chan struct{})}
	// 最后执行: 后继的保存要等本次结束
	defer close(self.done)

	var prevDone chan struct{}
	g.mu.Lock()
	if prev, ok := g.inflight[k]; ok {
		prev.superseded = true
		prev.cancel()
		prevDone = prev.done
	}
	g.inflight[k] = self
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.inflight[k] == self {
			delete(g.inflight, k)
		}
		g.mu.Unlock()
		cancel()
	}()

	log := logger.WithTrace(ctx, g.logger).With(zap.String("report_id", reportID), zap.String("email_id", emailID))

	text, err := g.accumulate(genCtx, token, reportID, emailID, emit)
	res := Result{Message: text}

	switch {
	case err == nil:
	case genCtx.Err() != nil && ctx.Err() == nil:
		// cancelled through Cancel or a newer Start
		res.Cancelled = true
		err = nil
	case ctx.Err() != nil:
		res.Cancelled = true
		err = ctx.Err()
	default:
		return res, err
	}

	if res.Message == "" {
		log.Info("Reply generation ended without text", zap.Bool("cancelled", res.Cancelled))
		return res, err
	}

	// a replaced generation may still be saving its partial text
	if prevDone != nil {
		<-prevDone
	}
	g.mu.Lock()
	superseded := self.superseded
	g.mu.Unlock()
	if superseded {
		log.Info("Reply generation superseded, partial text not saved")
		res.Cancelled = true
		return res, nil
	}

	// the caller may be gone; save with a context that outlives it
	saveCtx := context.WithoutCancel(ctx)
	msg := res.Message
	if _, saveErr := g.backend.UpdateReport(saveCtx, token, reportID, []model.ItemUpdate{{EmailID: emailID, ReplyMessage: &msg}}); saveErr != nil {
		log.Warn("Failed to save generated reply", zap.Error(saveErr))
		return res, errors.Join(err, fmt.Errorf("save reply: %w", saveErr))
	}
	res.Persisted = true
	return res, err
}

// Cancel aborts owner's in-flight generation for one item. It reports whether one was running.
func (g *Generator) Cancel(owner, reportID, emailID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, ok := g.inflight[key(owner, reportID, emailID)]
	if ok {
		f.cancel()
	}
	return ok
}

func (g *Generator) accumulate(ctx context.Context, token, reportID, emailID string, emit func(string)) (string, error) {
	body, err := g.backend.OpenReplyGeneration(ctx, token, reportID, emailID)
	if err != nil {
		return "", err
	}
	defer body.Close()
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	var sb strings.Builder
	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return sb.String(), ctx.Err()
			}
			pending = append(pending, buf[:n]...)
			cut := completeRunes(pending)
			if cut > 0 {
				chunk := string(pending[:cut])
				pending = append(pending[:0], pending[cut:]...)
				sb.WriteString(chunk)
				metrics.IncrementStreamChunk("reply")
				if emit != nil {
					emit(chunk)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			sb.Write(pending)
			return sb.String(), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return sb.String(), ctx.Err()
			}
			return sb.String(), fmt.Errorf("read reply stream: %w", err)
		}
	}
}

// completeRunes returns the length of the prefix of b that does not end inside a UTF-8 sequence.
func completeRunes(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}
