package policy

import (
	"strings"

	"github.com/guiIerme/JobFinder-sub003/internal/knowledge"
)

// Phrases are matched on normalized text, so accents and case do not matter.
var frustrationPhrases = []string{
	"falar com humano", "falar com atendente", "falar com uma pessoa", "atendente humano",
	"nao resolve", "nao resolveu", "nao ajuda", "nao ajudou", "nao entende", "voce nao entende",
	"pessimo", "horrivel", "ridiculo", "absurdo", "palhacada", "inutil", "lixo", "raiva",
	"cansei", "desisto", "reclamacao", "procon",
	"human agent", "talk to a human", "real person", "useless", "terrible", "awful",
	"ridiculous", "not helpful", "doesnt help", "this is stupid", "frustrated",
}

// FrustrationHits counts the frustration phrases found in text.
func FrustrationHits(text string) int {
	padded := " " + knowledge.Normalize(text) + " "
	hits := 0
	for _, p := range frustrationPhrases {
		if strings.Contains(padded, " "+p+" ") {
			hits++
		}
	}
	return hits
}
