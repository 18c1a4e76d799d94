// Package assembler builds the generator request context for a chat turn.
package assembler

import (
	"fmt"
	"strings"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/knowledge"
)

const basePersona = `Você é o assistente virtual de um marketplace de serviços residenciais.
Responda em português do Brasil, de forma curta e cordial.
Use apenas as informações da base de conhecimento abaixo para preços e políticas; se não souber, diga que vai encaminhar ao suporte.`

// KnowledgeHeader opens the knowledge block in the system prompt.
const KnowledgeHeader = "Base de conhecimento:"

var roleInstructions = map[domain.Role]string{
	domain.RoleClient:    "O usuário é um cliente procurando contratar serviços. Ajude a encontrar o profissional certo e explique preços e etapas.",
	domain.RoleProvider:  "O usuário é um prestador de serviços. Ajude com cadastro, anúncios, agenda e recebimentos.",
	domain.RoleAnonymous: "O usuário ainda não entrou na conta. Responda dúvidas gerais e sugira criar uma conta quando fizer sentido.",
}

var intentInstructions = map[domain.Intent]string{
	domain.IntentServiceInquiry:   "A pergunta é sobre um serviço. Informe o que o profissional faz e a faixa de preço.",
	domain.IntentNavigationHelp:   "A pergunta é sobre como usar o site. Indique o caminho exato na interface.",
	domain.IntentProviderQuestion: "A pergunta é sobre regras da plataforma ou sobre ser prestador. Cite a política aplicável.",
	domain.IntentTroubleshooting:  "O usuário está com um problema. Dê passos objetivos para resolver.",
	domain.IntentGeneral:          "Responda de forma geral e ofereça ajuda com serviços, navegação ou suporte.",
}

var intentCategories = map[domain.Intent][]domain.Category{
	domain.IntentServiceInquiry:   {domain.CategoryService},
	domain.IntentNavigationHelp:   {domain.CategoryNavigation},
	domain.IntentProviderQuestion: {domain.CategoryFAQ, domain.CategoryPolicy},
	domain.IntentTroubleshooting:  {domain.CategoryTroubleshooting},
	domain.IntentGeneral:          nil,
}

// CategoriesFor returns the knowledge categories searched for intent; nil
// means every category.
func CategoriesFor(intent domain.Intent) []domain.Category {
	return intentCategories[intent]
}

// Turn is one message of the request transcript.
type Turn struct {
	Role    string
	Content string
}

// Input is what a chat turn contributes to the prompt.
type Input struct {
	Session *domain.Session
	Message string
	Intent  domain.Intent
	History []domain.Message
}

// Prompt is the assembled request context.
type Prompt struct {
	System   string
	Messages []Turn
	Entries  []domain.KnowledgeEntry
}

// Links returns the service references of the chosen entries, deduplicated.
func (p *Prompt) Links() []string {
	seen := make(map[string]struct{})
	var links []string
	for _, e := range p.Entries {
		for _, ref := range e.ServiceRefs {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			links = append(links, ref)
		}
	}
	return links
}

// Searcher finds knowledge entries.
type Searcher interface {
	SearchIn(query string, cats []domain.Category, k int) []domain.KnowledgeEntry
}

var _ Searcher = (*knowledge.Index)(nil)

// Assembler combines persona, role, intent, navigation state, knowledge and
// history into a Prompt.
type Assembler struct {
	search       Searcher
	topK         int
	historyTurns int
}

// New creates an assembler.
func New(search Searcher, topK, historyTurns int) *Assembler {
	if topK <= 0 {
		topK = 3
	}
	if historyTurns < 0 {
		historyTurns = 0
	}
	return &Assembler{search: search, topK: topK, historyTurns: historyTurns}
}

// Build assembles the prompt for in.
func (a *Assembler) Build(in Input) *Prompt {
	entries := a.search.SearchIn(in.Message, CategoriesFor(in.Intent), a.topK)

	var b strings.Builder
	b.WriteString(basePersona)

	role := domain.RoleAnonymous
	if in.Session != nil && in.Session.Role.Valid() {
		role = in.Session.Role
	}
	b.WriteString("\n\n")
	b.WriteString(roleInstructions[role])

	if inst, ok := intentInstructions[in.Intent]; ok {
		b.WriteString("\n")
		b.WriteString(inst)
	}

	if in.Session != nil {
		if page := in.Session.Page(); page != "" {
			fmt.Fprintf(&b, "\nPágina atual do usuário: %s.", page)
		}
		if topic := in.Session.Topic(); topic != "" {
			fmt.Fprintf(&b, "\nAssunto da conversa: %s.", topic)
		}
	}

	if len(entries) > 0 {
		b.WriteString("\n\n")
		b.WriteString(KnowledgeHeader)
		for _, e := range entries {
			fmt.Fprintf(&b, "\n- [%s] %s: %s", e.EntryID, e.Title, strings.TrimSpace(e.Content))
		}
	}

	p := &Prompt{System: b.String(), Entries: entries}
	for _, m := range tail(in.History, a.historyTurns) {
		switch m.Sender {
		case domain.SenderUser:
			p.Messages = append(p.Messages, Turn{Role: "user", Content: m.Content})
		case domain.SenderAssistant:
			p.Messages = append(p.Messages, Turn{Role: "assistant", Content: m.Content})
		}
	}
	p.Messages = append(p.Messages, Turn{Role: "user", Content: in.Message})
	return p
}

func tail(msgs []domain.Message, n int) []domain.Message {
	if n <= 0 {
		return nil
	}
	if len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}
