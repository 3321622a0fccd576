package consultation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"diagnostic-assistant/internal/agent"
	"diagnostic-assistant/internal/diagnosis"
)

func TestConversation(t *testing.T) {
	id := uuid.New()
	category := diagnosis.CategoryQuestion
	msgs := []Message{
		{ID: uuid.New(), ConsultationID: id, Role: agent.RoleUser, Content: "My ear hurts"},
		{ID: uuid.New(), ConsultationID: id, Role: agent.RoleAssistant, Content: "Since when?", Category: &category},
	}

	assert.Equal(t, []agent.Message{
		{Role: agent.RoleUser, Content: "My ear hurts"},
		{Role: agent.RoleAssistant, Content: "Since when?"},
	}, Conversation(msgs))
	assert.Empty(t, Conversation(nil))
}
