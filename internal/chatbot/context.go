package chatbot

import (
	"strings"

	"github.com/tidwall/gjson"

	"RedChat/internal/session"
)

// HistoryEntry is one caller-supplied turn of an incognito conversation.
// Entries that are not objects or whose content is not a string decode to
// an empty entry and are skipped by the context builder.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON decodes leniently so one bad entry does not reject the request
func (e *HistoryEntry) UnmarshalJSON(data []byte) error {
	*e = HistoryEntry{}

	entry := gjson.ParseBytes(data)
	if !entry.IsObject() {
		return nil
	}
	content := entry.Get("content")
	if content.Type != gjson.String {
		return nil
	}
	e.Role = entry.Get("role").String()
	e.Content = content.String()
	return nil
}

// BuildContext assembles the messages sent to the completion service:
// the persona as a system message, the prior turns, then the prompt.
func BuildContext(persona string, prior []session.Message, prompt string) []session.Message {
	messages := make([]session.Message, 0, len(prior)+2)
	messages = append(messages, session.Message{Role: session.RoleSystem, Content: persona})
	messages = append(messages, prior...)
	messages = append(messages, session.Message{Role: session.RoleUser, Content: prompt})
	return messages
}

// normalizeHistory converts incognito history into messages. Roles other
// than assistant become user; entries with blank content are dropped.
func normalizeHistory(entries []HistoryEntry) []session.Message {
	messages := make([]session.Message, 0, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Content) == "" {
			continue
		}
		role := session.RoleUser
		if strings.EqualFold(strings.TrimSpace(entry.Role), session.RoleAssistant) {
			role = session.RoleAssistant
		}
		messages = append(messages, session.Message{Role: role, Content: entry.Content})
	}
	return messages
}
