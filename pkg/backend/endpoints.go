package backend

// Endpoints holds the two remote surfaces the bridge talks to: the
// conversation REST API and the chat webhook. Both are full URLs.
type Endpoints struct {
	APIBaseURL string `yaml:"api_base_url"`
	WebhookURL string `yaml:"webhook_url"`
}

func (e Endpoints) Conversations() string {
	return e.APIBaseURL + "/api/conversations"
}

func (e Endpoints) ConversationHistory(id string) string {
	return e.APIBaseURL + "/api/conversations/" + id
}

func (e Endpoints) SaveConversation() string {
	return e.APIBaseURL + "/api/conversations/save"
}
