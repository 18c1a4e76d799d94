// Package domain defines the core domain models for the assistant.
package domain

// Role classifies who owns a session.
type Role string

const (
	RoleClient    Role = "client"
	RoleProvider  Role = "provider"
	RoleAnonymous Role = "anonymous"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleProvider, RoleAnonymous:
		return true
	}
	return false
}

// SenderKind identifies the author of a message.
type SenderKind string

const (
	SenderUser      SenderKind = "user"
	SenderAssistant SenderKind = "assistant"
	SenderSystem    SenderKind = "system"
)

// Intent is the classification of a user message. The set is closed.
type Intent string

const (
	IntentServiceInquiry   Intent = "service_inquiry"
	IntentNavigationHelp   Intent = "navigation_help"
	IntentProviderQuestion Intent = "provider_question"
	IntentTroubleshooting  Intent = "troubleshooting"
	IntentGeneral          Intent = "general"
)

// Intents lists every intent in classification priority order.
var Intents = []Intent{
	IntentServiceInquiry,
	IntentNavigationHelp,
	IntentProviderQuestion,
	IntentTroubleshooting,
	IntentGeneral,
}

// Category is the knowledge base partition an entry belongs to.
type Category string

const (
	CategoryService         Category = "service"
	CategoryFAQ             Category = "faq"
	CategoryNavigation      Category = "navigation"
	CategoryPolicy          Category = "policy"
	CategoryTroubleshooting Category = "troubleshooting"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryService, CategoryFAQ, CategoryNavigation, CategoryPolicy, CategoryTroubleshooting:
		return true
	}
	return false
}

// ReplyAction records how an assistant reply was produced.
type ReplyAction string

const (
	ActionGenerated ReplyAction = "ai"
	ActionCached    ReplyAction = "cached"
	ActionFallback  ReplyAction = "fallback"
	ActionHandoff   ReplyAction = "handoff"
)

// CloseReason explains why a session was closed.
type CloseReason string

const (
	CloseReasonClient  CloseReason = "client"
	CloseReasonExpired CloseReason = "expired"
	CloseReasonAdmin   CloseReason = "admin"
)

// Message metadata keys.
const (
	MetaIntent   = "intent"
	MetaCached   = "cached"
	MetaFallback = "fallback"
	MetaLinks    = "links"
	MetaTerminal = "terminal"
	MetaHandoff  = "handoff"
	MetaNotice   = "notice"
)
