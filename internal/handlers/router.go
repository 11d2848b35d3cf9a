package handlers

import "github.com/gin-gonic/gin"

// Limits holds the rate limiting middleware per route class. Nil entries
// disable limiting for that class.
type Limits struct {
	Register gin.HandlerFunc
	Login    gin.HandlerFunc
	Write    gin.HandlerFunc
}

type API struct {
	Auth    *AuthHandler
	Chat    *ChatHandler
	Friends *FriendHandler
	Groups  *GroupHandler
	Local   *LocalHandler
	Limits  Limits
}

func limited(mw gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	if mw == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{mw, h}
}

// Routes mounts the JSON API under /api.
func (a *API) Routes(router gin.IRouter) {
	api := router.Group("/api")
	{
		api.POST("/auth/register", limited(a.Limits.Register, a.Auth.Register)...)
		api.POST("/auth/login", limited(a.Limits.Login, a.Auth.Login)...)
	}

	protected := api.Group("")
	protected.Use(a.Auth.AuthMiddleware())
	{
		// Profile and users
		protected.GET("/profile", a.Chat.GetMyProfile)
		protected.PUT("/profile", a.Chat.UpdateProfile)
		protected.GET("/users/search", a.Friends.SearchUsers)
		protected.GET("/users/:id", a.Chat.GetUser)

		// Rooms and messages
		protected.POST("/rooms", a.Chat.ResolveRoom)
		protected.GET("/chats", a.Chat.GetChats)
		protected.GET("/rooms/:id/messages", a.Chat.GetMessages)
		protected.POST("/rooms/:id/messages", limited(a.Limits.Write, a.Chat.SendMessage)...)
		protected.DELETE("/rooms/:id", a.Chat.DeleteChat)
		protected.POST("/rooms/:id/read", a.Chat.MarkRoomRead)
		protected.PUT("/messages/:id", a.Chat.EditMessage)
		protected.DELETE("/messages/:id", a.Chat.DeleteMessage)
		protected.POST("/messages/:id/reactions", a.Chat.ToggleReaction)
		protected.PUT("/messages/:id/status", a.Chat.UpdateStatus)

		// Friends
		protected.GET("/friends", a.Friends.ListFriends)
		protected.DELETE("/friends/:id", a.Friends.RemoveFriend)
		protected.GET("/friends/status/:id", a.Friends.Status)
		protected.GET("/friends/suggestions", a.Friends.Suggestions)
		protected.GET("/friends/requests", a.Friends.ListRequests)
		protected.POST("/friends/requests", limited(a.Limits.Write, a.Friends.SendRequest)...)
		protected.POST("/friends/requests/:id/accept", a.Friends.AcceptRequest)
		protected.POST("/friends/requests/:id/reject", a.Friends.RejectRequest)
		protected.DELETE("/friends/requests/:id", a.Friends.CancelRequest)

		// Groups
		protected.GET("/groups", a.Groups.ListGroups)
		protected.POST("/groups", limited(a.Limits.Write, a.Groups.CreateGroup)...)
		protected.GET("/groups/search", a.Groups.SearchGroups)
		protected.POST("/groups/join", a.Groups.JoinGroup)
		protected.GET("/groups/:id", a.Groups.GetGroup)
		protected.PUT("/groups/:id", a.Groups.UpdateGroup)
		protected.DELETE("/groups/:id", a.Groups.DeleteGroup)
		protected.GET("/groups/:id/role", a.Groups.MyRole)
		protected.POST("/groups/:id/leave", a.Groups.LeaveGroup)
		protected.DELETE("/groups/:id/messages", a.Groups.ClearMessages)
		protected.POST("/groups/:id/members", a.Groups.AddMember)
		protected.DELETE("/groups/:id/members/:userId", a.Groups.RemoveMember)
		protected.PUT("/groups/:id/members/:userId/role", a.Groups.AssignRole)
		protected.POST("/groups/:id/admins/:userId", a.Groups.PromoteAdmin)
		protected.DELETE("/groups/:id/admins/:userId", a.Groups.DemoteAdmin)
		protected.PUT("/groups/:id/roles", a.Groups.SetRoles)
		protected.POST("/groups/:id/bot", a.Groups.AddBot)

		// Device state and safety
		protected.GET("/local/:namespace", a.Local.ListLocal)
		protected.GET("/local/:namespace/:key", a.Local.GetLocal)
		protected.PUT("/local/:namespace/:key", a.Local.SetLocal)
		protected.DELETE("/local/:namespace/:key", a.Local.RemoveLocal)
		protected.GET("/blocks", a.Local.ListBlocks)
		protected.POST("/blocks/:id", a.Local.Block)
		protected.DELETE("/blocks/:id", a.Local.Unblock)
		protected.POST("/reports", limited(a.Limits.Write, a.Local.Report)...)

		// Web Push
		protected.GET("/push/vapid", a.Local.VAPIDKey)
		protected.POST("/push/subscribe", a.Local.Subscribe)
	}
}
