package transition

import (
	"strings"

	"funnel_builder_backend/internal/conversation/repository"
	"funnel_builder_backend/internal/funnel/domain"
)

// Placeholders substituted into the hand-off template.
const (
	PlaceholderLink            = "[LINK]"
	PlaceholderUsername        = "[USERNAME]"
	PlaceholderExperienceLevel = "[EXPERIENCE_LEVEL]"
	PlaceholderSelectedValue   = "[SELECTED_VALUE]"
)

const defaultUsername = "there"

// HandoffValues fills the hand-off template.
type HandoffValues struct {
	Link            string
	Username        string
	ExperienceLevel string
	SelectedValue   string
}

// RenderHandoff substitutes every placeholder in template. Unknown values
// render as empty strings.
func RenderHandoff(template string, v HandoffValues) string {
	username := strings.TrimSpace(v.Username)
	if username == "" {
		username = defaultUsername
	}
	return strings.NewReplacer(
		PlaceholderLink, v.Link,
		PlaceholderUsername, username,
		PlaceholderExperienceLevel, v.ExperienceLevel,
		PlaceholderSelectedValue, v.SelectedValue,
	).Replace(template)
}

// ConversationLink is the in-app URL of a conversation.
func ConversationLink(baseURL, experienceID, conversationID string) string {
	return strings.TrimRight(baseURL, "/") + "/experiences/" + experienceID + "/conversations/" + conversationID
}

// selections returns the last option picked in the qualification and value
// delivery stages of flow.
func selections(flow *domain.Flow, interactions []repository.Interaction) (level, value string) {
	if flow == nil {
		return "", ""
	}
	for _, it := range interactions {
		stage, ok := flow.StageOf(it.BlockID)
		if !ok {
			continue
		}
		switch stage.Name {
		case domain.StageExperienceQualification:
			level = it.OptionText
		case domain.StageValueDelivery:
			value = it.OptionText
		}
	}
	return level, value
}
