package llm

import (
	"strings"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/logging"
)

// ModeMock selects the mock generator.
const ModeMock = "MOCK"

// NewGenerator returns a MockClient when mode is MOCK, otherwise a Client for
// baseURL.
func NewGenerator(mode, baseURL, apiKey string, timeout time.Duration) Generator {
	if strings.EqualFold(mode, ModeMock) {
		logging.Info().Msg("ASSISTANT_MODE=MOCK, using mock generator")
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
