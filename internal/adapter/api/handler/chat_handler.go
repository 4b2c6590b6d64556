package handler

import (
	"github.com/labstack/echo/v4"

	"adoptme/internal/adapter/api/middleware"
	"adoptme/internal/usecase"
	"adoptme/pkg/errors"
	"adoptme/pkg/response"
	"adoptme/pkg/utils"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type conversationQuery struct {
	User1 int64 `query:"user1" validate:"required,gt=0"`
	User2 int64 `query:"user2" validate:"required,gt=0"`
}

// GetConversation returns the messages between user1 and user2, oldest first.
func (h *ChatHandler) GetConversation(c echo.Context) error {
	var req conversationQuery
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("user1 and user2 must be numeric user ids", err))
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	messages, err := h.chatUseCase.GetConversation(c.Request().Context(), req.User1, req.User2)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, messages)
}

// GetInbox lists the authenticated user's conversations, most recent first.
// ?page and ?limit select one page of the list.
func (h *ChatHandler) GetInbox(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return response.Error(c, errors.Unauthorized("Authentication required", nil))
	}

	inbox, err := h.chatUseCase.GetInbox(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	if page, ok := utils.GetPaginationParams(c); ok {
		start, end := page.Window(len(inbox))
		inbox = inbox[start:end]
	}

	return response.Success(c, inbox)
}
