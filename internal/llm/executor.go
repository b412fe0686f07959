package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/chatfront/chatfront/internal/models"
	"github.com/chatfront/chatfront/internal/store"
)

// ErrNoModel is returned when a submission arrives with no online model
// bound; the record is left untouched.
var ErrNoModel = errors.New("no online model available")

const errorTurnPrefix = "LLM Manager error: "

// Attachment is an uploaded file whose text gets spliced into the prompt.
type Attachment struct {
	Name string
	Data []byte
}

// TurnResult reports one executed conversation turn.
type TurnResult struct {
	Record *models.ChatRecord
	// GatewayErr is set when the assistant turn is a synthesized error
	// turn; the turn is still persisted, this is the transient warning.
	GatewayErr error
	// NoOp means nothing was submitted: no turn appended, nothing saved.
	NoOp bool
}

// Submit executes one conversation turn against the bound model: append the
// user message, send the full accumulated history to the gateway, append the
// assistant reply (or an error turn), and persist. The whole mutation runs
// under the record's lock, so concurrent submissions to one chat serialize.
func (s *Service) Submit(ctx context.Context, user, chatID, prompt string, att *Attachment, boundModel string) (*TurnResult, error) {
	if boundModel == "" {
		return nil, ErrNoModel
	}

	effective := EffectivePrompt(prompt, att)
	if effective == "" {
		return &TurnResult{NoOp: true}, nil
	}

	var gatewayErr error
	rec, err := s.store.Update(user, chatID, func(rec *models.ChatRecord) (store.SaveOptions, error) {
		rec.Messages = append(rec.Messages, models.Message{Role: models.RoleUser, Content: effective})

		s.logger.Info("submitting turn",
			zap.String("user", user),
			zap.String("chat", chatID),
			zap.String("model", boundModel),
			zap.Int("history", len(rec.Messages)),
			zap.Int("tokens", s.countTokens(rec.Messages)))

		reply, err := s.complete(ctx, boundModel, rec.Messages)
		if err != nil {
			gatewayErr = err
			reply = errorTurn(err)
			s.logger.Warn("gateway completion failed", zap.String("chat", chatID), zap.Error(err))
		}
		rec.Messages = append(rec.Messages, models.Message{Role: models.RoleAssistant, Content: reply})

		return store.SaveOptions{Model: boundModel}, nil
	})
	if err != nil {
		return nil, err
	}
	return &TurnResult{Record: rec, GatewayErr: gatewayErr}, nil
}

// EffectivePrompt builds the text actually sent as the user turn. Attachment
// content is decoded permissively (invalid bytes replaced) and wrapped in
// begin/end markers naming the file, ahead of the literal prompt.
func EffectivePrompt(prompt string, att *Attachment) string {
	prompt = strings.TrimSpace(prompt)
	if att == nil || att.Name == "" {
		return prompt
	}
	content := string(att.Data)
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "�")
	}
	return fmt.Sprintf("--- FILE %s ---\n%s\n--- END ---\n%s", att.Name, content, prompt)
}

// errorTurn converts a gateway failure into the durable assistant turn. The
// format is stable: the fixed prefix, a category, and the detail.
func errorTurn(err error) string {
	category := "request failed"
	if errors.Is(err, context.DeadlineExceeded) {
		category = "timeout"
	}
	return errorTurnPrefix + category + ": " + err.Error()
}
