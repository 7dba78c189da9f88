package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/event"
)

// LarkConfig holds Lark app credentials
type LarkConfig struct {
	AppID     string
	AppSecret string
	Timeout   time.Duration
}

// NewLarkClient creates a Lark SDK client with token caching
func NewLarkClient(cfg LarkConfig) *lark.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
		lark.WithReqTimeout(timeout),
	)
}

// LarkSender sends IM text messages by open_id. It implements port.MessageSender.
type LarkSender struct {
	client *lark.Client
	logger *zap.Logger
}

func NewLarkSender(client *lark.Client, logger *zap.Logger) *LarkSender {
	return &LarkSender{client: client, logger: logger}
}

func (s *LarkSender) SendText(ctx context.Context, openID, text string) error {
	if openID == "" {
		return fmt.Errorf("openID cannot be empty")
	}
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal message content: %w", err)
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType("open_id").
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(openID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := s.client.Im.Message.Create(ctx, req)
	if err != nil {
		s.logger.Error("Failed to send Lark message", zap.String("open_id", openID), zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}
	if !resp.Success() {
		s.logger.Error("Lark API returned failure",
			zap.String("open_id", openID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	if resp.Data != nil && resp.Data.MessageId != nil {
		s.logger.Debug("Lark message sent", zap.String("message_id", *resp.Data.MessageId))
	}
	return nil
}

// Lark messages the recipient through their Lark account. Recipients without
// a linked open_id are skipped.
type Lark struct {
	sender    port.MessageSender
	directory port.UserDirectory
	logger    *zap.Logger
}

func NewLark(sender port.MessageSender, directory port.UserDirectory, logger *zap.Logger) *Lark {
	return &Lark{sender: sender, directory: directory, logger: logger}
}

func (l *Lark) Name() string { return "lark" }

func (l *Lark) Notify(ctx context.Context, evt *event.Event) error {
	if evt.RecipientUserID == "" {
		return nil
	}
	user, err := l.directory.GetUser(ctx, evt.RecipientUserID)
	if err != nil {
		return fmt.Errorf("lookup recipient %s: %w", evt.RecipientUserID, err)
	}
	if user == nil || user.LarkOpenID == "" {
		l.logger.Debug("Recipient has no Lark account, skipping",
			zap.String("recipient", evt.RecipientUserID),
			zap.String("event_type", string(evt.Type)))
		return nil
	}

	title, body := Compose(evt)
	return l.sender.SendText(ctx, user.LarkOpenID, title+"\n"+body)
}
