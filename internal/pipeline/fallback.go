package pipeline

import (
	"sync/atomic"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
)

// Fallback reasons.
const (
	ReasonBreakerOpen = "breaker_open"
	ReasonTimeout     = "timeout"
	ReasonTransport   = "transport"
	ReasonEmpty       = "empty"
)

var fallbackTable = map[domain.Intent][]string{
	domain.IntentServiceInquiry: {
		"No momento não consigo consultar os detalhes desse serviço. Você pode ver profissionais e faixas de preço na página Serviços.",
		"Estou com instabilidade para responder sobre serviços agora. Tente buscar o serviço pela barra de pesquisa em Serviços.",
	},
	domain.IntentNavigationHelp: {
		"Não consegui carregar as instruções agora. O menu principal dá acesso a Serviços, Mensagens e Perfil.",
		"Estou com dificuldade para responder agora. Use a busca no topo da página para encontrar o que procura.",
	},
	domain.IntentProviderQuestion: {
		"Não consigo consultar as regras da plataforma neste momento. As políticas completas estão na Central de Ajuda.",
		"Estou com instabilidade agora. Para dúvidas de prestadores, acesse Perfil > Central do prestador.",
	},
	domain.IntentTroubleshooting: {
		"Sinto muito pelo problema. Tente atualizar a página; se continuar, nossa equipe de suporte pode ajudar.",
		"Estou com instabilidade para analisar isso agora. Tente novamente em alguns minutos ou fale com o suporte.",
	},
	domain.IntentGeneral: {
		"Estou com dificuldade para responder agora. Tente novamente em instantes.",
		"No momento não consigo responder. Enquanto isso, você pode navegar pelos serviços disponíveis.",
	},
}

// Fallbacks rotates through the pre-authored replies of each intent.
type Fallbacks struct {
	next atomic.Uint64
}

// Pick returns a non-empty reply for intent.
func (f *Fallbacks) Pick(intent domain.Intent) string {
	options, ok := fallbackTable[intent]
	if !ok {
		options = fallbackTable[domain.IntentGeneral]
	}
	n := f.next.Add(1) - 1
	return options[n%uint64(len(options))]
}

// IsFallbackText reports whether text is one of the table entries.
func IsFallbackText(text string) bool {
	for _, options := range fallbackTable {
		for _, o := range options {
			if o == text {
				return true
			}
		}
	}
	return false
}
