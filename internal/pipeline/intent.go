package pipeline

import (
	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/knowledge"
)

var intentKeywords = map[domain.Intent][]string{
	domain.IntentServiceInquiry: {
		"encanador", "eletricista", "diarista", "faxina", "pintor", "jardineiro", "servico", "servicos",
		"preco", "precos", "quanto", "custa", "orcamento", "contratar", "valor", "conserto", "reparo",
		"instalacao", "plumber", "electrician", "cleaning", "price", "cost", "hire",
	},
	domain.IntentNavigationHelp: {
		"onde", "encontrar", "encontro", "buscar", "busca", "procurar", "pesquisar", "pagina", "menu",
		"perfil", "botao", "clicar", "navegar", "tela", "link", "find", "where", "page", "search",
	},
	domain.IntentProviderQuestion: {
		"prestador", "prestar", "cadastrar", "cadastro", "anunciar", "anuncio", "comissao", "taxa",
		"politica", "cancelamento", "cancelar", "reembolso", "regras", "avaliacao", "receber",
		"recebimento", "provider", "policy", "refund", "fee",
	},
	domain.IntentTroubleshooting: {
		"erro", "problema", "bug", "travando", "trava", "carrega", "funciona", "consigo", "senha",
		"login", "recusado", "falha", "error", "problem", "broken", "crash", "cannot",
	},
}

var intentIndex = func() map[string][]domain.Intent {
	idx := make(map[string][]domain.Intent)
	for intent, words := range intentKeywords {
		for _, w := range words {
			idx[w] = append(idx[w], intent)
		}
	}
	return idx
}()

// Classify scores text against each intent's keyword set and returns the
// best match. Ties resolve in domain.Intents order; no hit yields general.
func Classify(text string) domain.Intent {
	scores := make(map[domain.Intent]int, len(intentKeywords))
	for _, tok := range knowledge.Tokens(text) {
		for _, intent := range intentIndex[tok] {
			scores[intent]++
		}
	}

	best, bestScore := domain.IntentGeneral, 0
	for _, intent := range domain.Intents {
		if scores[intent] > bestScore {
			best, bestScore = intent, scores[intent]
		}
	}
	return best
}
