package models

import "time"

const (
	BotUserID      = "zentro_bot"
	BotChatID      = "zentro_bot_chat"
	BotDisplayName = "Zentro Bot"
	BotPreview     = "🤖 AI Assistant - Ask me anything!"

	GroupBotID   = "zenny_bot"
	GroupBotName = "Zenny"

	UnknownDisplayName = "Unknown User"
)

type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile is the display subset of a user that chat lists embed.
type Profile struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Online      bool    `json:"online"`
	IsBot       bool    `json:"is_bot,omitempty"`
}

func (u *User) Profile() Profile {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return Profile{ID: u.ID, DisplayName: name, AvatarURL: u.AvatarURL, Online: u.Online}
}

// PlaceholderProfile stands in for a user id with no backing record.
func PlaceholderProfile(id string) Profile {
	return Profile{ID: id, DisplayName: UnknownDisplayName}
}

type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomGroup  RoomKind = "group"
)

type Room struct {
	ID              string         `json:"id"`
	Kind            RoomKind       `json:"kind"`
	Participants    []string       `json:"participants"`
	UnreadCounts    map[string]int `json:"unread_counts"`
	LastMessage     string         `json:"last_message"`
	LastMessageTime *time.Time     `json:"last_message_time,omitempty"`
	LastSenderID    string         `json:"last_sender_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// OtherParticipant returns the first participant that is not userID.
func (r *Room) OtherParticipant(userID string) string {
	for _, p := range r.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ChatSummary is one row of a user's chat list.
type ChatSummary struct {
	RoomID          string     `json:"room_id"`
	OtherUser       Profile    `json:"other_user"`
	LastMessage     string     `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
	UnreadCount     int        `json:"unread_count"`
	IsBot           bool       `json:"is_bot,omitempty"`
}

// BotSummary is the assistant entry pinned to the top of every chat list.
func BotSummary() ChatSummary {
	return ChatSummary{
		RoomID: BotChatID,
		OtherUser: Profile{
			ID:          BotUserID,
			DisplayName: BotDisplayName,
			Online:      true,
			IsBot:       true,
		},
		LastMessage: BotPreview,
		IsBot:       true,
	}
}

type FriendRequestStatus string

const (
	RequestPending  FriendRequestStatus = "pending"
	RequestAccepted FriendRequestStatus = "accepted"
	RequestRejected FriendRequestStatus = "rejected"
)

type FriendRequest struct {
	ID         string              `json:"id"`
	SenderID   string              `json:"sender_id"`
	ReceiverID string              `json:"receiver_id"`
	Status     FriendRequestStatus `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
	Sender     *Profile            `json:"sender,omitempty"`
	Receiver   *Profile            `json:"receiver,omitempty"`
}

type Friend struct {
	Profile
	Since time.Time `json:"since"`
}

// FriendshipStatus describes how user A relates to user B.
type FriendshipStatus string

const (
	FriendshipSelf            FriendshipStatus = "self"
	FriendshipFriends         FriendshipStatus = "friends"
	FriendshipRequestSent     FriendshipStatus = "request_sent"
	FriendshipRequestReceived FriendshipStatus = "request_received"
	FriendshipNone            FriendshipStatus = "none"
)

type PushSubscription struct {
	Endpoint  string `json:"endpoint"`
	KeyP256dh string `json:"p256dh"`
	KeyAuth   string `json:"auth"`
}
