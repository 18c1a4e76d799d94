package chat

import (
	"context"
	"fmt"

	"github.com/guiIerme/JobFinder-sub003/internal/adapter/identity"
	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
	"github.com/rs/zerolog"
)

const internalErrorText = "Não foi possível processar sua mensagem agora. Tente novamente em instantes."

// GetMessages returns messages of a session with seq greater than afterSeq.
func (s *Service) GetMessages(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]domain.Message, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	messages, err := s.sessions.Messages(ctx, sessionID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

// CloseSession ends a session on behalf of the client or an operator.
func (s *Service) CloseSession(ctx context.Context, sessionID string, reason domain.CloseReason) (bool, error) {
	return s.sessions.Close(ctx, sessionID, reason)
}

func loggerFor(sessionID string, id *identity.Identity) *zerolog.Logger {
	who := ""
	if id != nil {
		who = id.String()
	}
	l := logging.Session(sessionID, who)
	return &l
}
