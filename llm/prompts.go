package llm

// Agent configuration keys recognized by providers and the workflow engine.
const (
	ConfigKeyClassificationPrompt = "prompt.classification"
	ConfigKeyPromptSupport        = "prompt.support"
	ConfigKeyPromptSales          = "prompt.sales"
	ConfigKeyPromptGeneral        = "prompt.general"
	ConfigKeyEscalationMessage    = "escalation.acknowledgment"
)

const ClassificationPrompt = `You are an AI assistant that classifies customer messages into intents.

Analyze the following message and classify it into ONE of these categories:
- SUPPORT: Customer support queries, issues, complaints, or requests for help
- SALES: Sales inquiries, pricing questions, product information requests
- GENERAL: General questions, greetings, or casual conversation
- URGENT: Messages indicating urgency, frustration, or requiring immediate human attention

Message: %s

Previous context (if any): %s

Respond with ONLY the classification (SUPPORT, SALES, GENERAL, or URGENT) and a brief reason.
Format: CLASSIFICATION: <category>
REASON: <brief explanation>`

const SupportResponsePrompt = `You are a professional and empathetic customer support agent.
Respond to the customer's support query with empathy, a professional tone,
clear information, and a request for additional details if needed.

Customer Message: %s

Conversation Context: %s

Generate a helpful and empathetic response. Keep it concise (2-3 sentences).`

const SalesResponsePrompt = `You are a persuasive and informative sales agent.
Respond to the customer's sales inquiry with an enthusiastic, professional
tone, clear product or pricing information, and a call to action.

Customer Message: %s

Conversation Context: %s

Generate a persuasive sales response. Keep it concise (2-3 sentences).`

const GeneralResponsePrompt = `You are a friendly and helpful assistant.
Respond to general inquiries with a friendly tone and an offer to assist.

Customer Message: %s

Conversation Context: %s

Generate a friendly response. Keep it concise (1-2 sentences).`

// EscalationMessage is the fixed acknowledgment sent when a conversation is
// handed to a human.
const EscalationMessage = `I understand this is important to you, and I want to make sure you get the best possible assistance. I'm connecting you with a human agent who will be able to help you right away. They'll be with you shortly.

In the meantime, your case has been flagged as high priority.`

// MockResponses are the deterministic replies used by the mock provider.
var MockResponses = map[string]string{
	"support": "Thank you for reaching out! I understand your concern. Could you please provide your order number or account email so I can look into this for you right away?",
	"sales":   "Thank you for your interest in our enterprise plan! I'd be happy to schedule a demo to walk you through pricing and features. Would that work for you?",
	"general": "Hello! Thanks for getting in touch. How can I assist you today?",
	"urgent":  EscalationMessage,
}

// DefaultAgentConfig is the seedable default configuration set.
func DefaultAgentConfig() map[string]string {
	return map[string]string{
		ConfigKeyClassificationPrompt: ClassificationPrompt,
		ConfigKeyPromptSupport:        SupportResponsePrompt,
		ConfigKeyPromptSales:          SalesResponsePrompt,
		ConfigKeyPromptGeneral:        GeneralResponsePrompt,
		ConfigKeyEscalationMessage:    EscalationMessage,
	}
}

// PromptForIntent resolves the configured prompt variant for an intent,
// falling back to the built-in templates.
func PromptForIntent(cfg map[string]string, intent string) string {
	var key, fallback string
	switch intent {
	case "support":
		key, fallback = ConfigKeyPromptSupport, SupportResponsePrompt
	case "sales":
		key, fallback = ConfigKeyPromptSales, SalesResponsePrompt
	default:
		key, fallback = ConfigKeyPromptGeneral, GeneralResponsePrompt
	}
	if cfg != nil {
		if v, ok := cfg[key]; ok && v != "" {
			return v
		}
	}
	return fallback
}
