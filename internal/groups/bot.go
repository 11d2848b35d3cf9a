package groups

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/apperr"
)

const botWelcome = "🤖 Hello everyone! I'm Zenny, your AI assistant. I'm here to help with questions, provide information, and make your group chat more engaging! Just mention 'zenny' and ask me anything!"

const botHelp = "🤖 Zenny Commands:\n• Just mention 'zenny' and ask me anything!\n• I can help with group stats, jokes, facts, and general questions\n• I'm here to make your chat more fun and engaging!"

var botJokes = []string{
	"Why don't scientists trust atoms? Because they make up everything! 😄",
	"Why did the developer go broke? Because he used up all his cache! 💸",
	"What do you call a fake noodle? An impasta! 🍝",
	"Why don't eggs tell jokes? They'd crack each other up! 🥚",
	"What's a computer's favorite snack? Microchips! 💻",
}

var botFacts = []string{
	"🌟 Did you know? Honey never spoils! Archaeologists have found pots of honey in ancient Egyptian tombs that are over 3,000 years old and still perfectly edible.",
	"🐙 Octopuses have three hearts and blue blood!",
	"🌍 A day on Venus is longer than its year!",
	"🧠 Your brain uses about 20% of your body's total energy.",
	"🦋 Butterflies taste with their feet!",
}

// AddBot adds the group bot and posts its welcome message. It returns false
// when the bot is already in the group.
func (s *Service) AddBot(ctx context.Context, groupID, actorID string) (bool, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	if !g.IsAdmin(actorID) {
		return false, fmt.Errorf("%w: only admins can add bots", apperr.ErrForbidden)
	}
	if !g.Settings.AllowBots {
		return false, fmt.Errorf("%w: bots are not allowed in this group", apperr.ErrForbidden)
	}
	if g.IsMember(models.GroupBotID) {
		return false, nil
	}
	if err := s.store.AddGroupMember(ctx, groupID, models.GroupBotID, s.now()); err != nil {
		return false, err
	}
	if err := s.post(ctx, g, models.SystemBody{Text: botWelcome}); err != nil {
		return true, err
	}
	if _, err := s.reload(ctx, groupID); err != nil {
		return true, err
	}
	return true, nil
}

// BotReply answers the first bot command mentioned in text, matched
// case-insensitively. It returns "" when text holds no command.
func (s *Service) BotReply(ctx context.Context, g *models.Group, text string) (string, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "zenny help"):
		return botHelp, nil
	case strings.Contains(lower, "zenny stats"):
		count, err := s.store.RoomMessageCount(ctx, g.RoomID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("📊 Group Stats:\n• Members: %d\n• Messages: %d\n• Created: %s",
			len(g.Members), count, g.CreatedAt.Format("Jan 2, 2006")), nil
	case strings.Contains(lower, "zenny joke"):
		return botJokes[s.pick(len(botJokes))], nil
	case strings.Contains(lower, "zenny fact"):
		return botFacts[s.pick(len(botFacts))], nil
	}
	return "", nil
}

// HandleMessage lets the bot answer commands posted in a group it belongs
// to. Failures are logged; the original message is already stored.
func (s *Service) HandleMessage(ctx context.Context, m *models.Message) {
	if m.SenderID == models.GroupBotID {
		return
	}
	body, ok := m.Body.(models.TextBody)
	if !ok || !strings.Contains(strings.ToLower(body.Text), "zenny") {
		return
	}
	g, err := s.store.GetGroupByRoomID(ctx, m.RoomID)
	if err != nil {
		log.Printf("groups: bot lookup failed room=%s err=%v", m.RoomID, err)
		return
	}
	if !g.IsMember(models.GroupBotID) {
		return
	}
	reply, err := s.BotReply(ctx, g, body.Text)
	if err != nil {
		log.Printf("groups: bot reply failed group=%s err=%v", g.ID, err)
		return
	}
	if reply == "" {
		return
	}
	if err := s.post(ctx, g, models.TextBody{Text: reply}); err != nil {
		log.Printf("groups: bot post failed group=%s err=%v", g.ID, err)
	}
}

// post appends a message from the group bot to the group room.
func (s *Service) post(ctx context.Context, g *models.Group, body models.Body) error {
	m := &models.Message{
		ID:        uuid.NewString(),
		RoomID:    g.RoomID,
		SenderID:  models.GroupBotID,
		Body:      body,
		Status:    models.StatusSent,
		CreatedAt: s.now(),
	}
	if _, err := s.store.AppendMessage(ctx, m); err != nil {
		return err
	}
	s.publish(g)
	return nil
}
