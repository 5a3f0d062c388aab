package delivery

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	authdelivery "github.com/salutethegenius/kemiscrm-sub000/internal/auth/delivery"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
	mailboxdto "github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/dto"
	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/usecase"

	"github.com/gin-gonic/gin"
)

type MailboxHandler struct {
	accountUsecase usecase.AccountUsecase
	syncUsecase    usecase.SyncUsecase
	sendUsecase    usecase.SendUsecase
}

func NewMailboxHandler(accountUsecase usecase.AccountUsecase, syncUsecase usecase.SyncUsecase, sendUsecase usecase.SendUsecase) *MailboxHandler {
	return &MailboxHandler{
		accountUsecase: accountUsecase,
		syncUsecase:    syncUsecase,
		sendUsecase:    sendUsecase,
	}
}

// RegisterRoutes mounts the mailbox API on an authenticated group.
func (h *MailboxHandler) RegisterRoutes(rg *gin.RouterGroup) {
	mailboxes := rg.Group("/mailboxes")
	mailboxes.GET("", h.ListAccounts)
	mailboxes.GET("/gmail/connect", h.GmailConnect)
	mailboxes.GET("/gmail/callback", h.GmailCallback)
	mailboxes.POST("/imap", h.ConnectIMAP)
	mailboxes.GET("/:id", h.GetAccount)
	mailboxes.PATCH("/:id/backfill", h.UpdateBackfill)
	mailboxes.POST("/:id/sync/initial", h.InitialSync)
	mailboxes.POST("/:id/sync/incremental", h.IncrementalSync)
	mailboxes.GET("/:id/messages", h.ListMessages)
	mailboxes.GET("/:id/sync-runs", h.ListSyncRuns)
	mailboxes.POST("/:id/send", h.SendEmail)
}

func (h *MailboxHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.accountUsecase.ListAccounts(c.Request.Context(), authdelivery.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mailboxdto.AccountsResponse{Accounts: accounts})
}

func (h *MailboxHandler) GetAccount(c *gin.Context) {
	account, err := h.accountUsecase.GetAccount(c.Request.Context(), authdelivery.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *MailboxHandler) GmailConnect(c *gin.Context) {
	url, err := h.accountUsecase.GmailAuthURL(authdelivery.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mailboxdto.AuthURLResponse{AuthURL: url})
}

func (h *MailboxHandler) GmailCallback(c *gin.Context) {
	account, err := h.accountUsecase.CompleteGmailConnect(c.Request.Context(), authdelivery.UserID(c), c.Query("code"), c.Query("state"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *MailboxHandler) ConnectIMAP(c *gin.Context) {
	var req mailboxdto.ConnectIMAPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accountUsecase.ConnectIMAPSMTP(c.Request.Context(), authdelivery.UserID(c), usecase.ConnectIMAPSMTPInput{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		IMAPHost:     req.IMAPHost,
		IMAPPort:     req.IMAPPort,
		IMAPTLS:      req.IMAPTLS,
		SMTPHost:     req.SMTPHost,
		SMTPPort:     req.SMTPPort,
		SMTPTLS:      req.SMTPTLS,
		Username:     req.Username,
		Password:     req.Password,
		BackfillDays: req.BackfillDays,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (h *MailboxHandler) UpdateBackfill(c *gin.Context) {
	var req mailboxdto.UpdateBackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accountUsecase.UpdateBackfillDays(c.Request.Context(), authdelivery.UserID(c), c.Param("id"), req.Days)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *MailboxHandler) InitialSync(c *gin.Context) {
	h.runSync(c, h.syncUsecase.InitialSync)
}

func (h *MailboxHandler) IncrementalSync(c *gin.Context) {
	h.runSync(c, h.syncUsecase.IncrementalSync)
}

func (h *MailboxHandler) runSync(c *gin.Context, run func(ctx context.Context, accountID string) (*domain.SyncRun, error)) {
	account, ok := h.ownedAccount(c)
	if !ok {
		return
	}

	syncRun, err := run(c.Request.Context(), account.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, syncRun)
}

func (h *MailboxHandler) ListMessages(c *gin.Context) {
	account, ok := h.ownedAccount(c)
	if !ok {
		return
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	messages, total, err := h.syncUsecase.ListMessages(c.Request.Context(), account.ID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mailboxdto.MessagesResponse{
		Messages: messages,
		Limit:    limit,
		Offset:   offset,
		Total:    total,
	})
}

func (h *MailboxHandler) ListSyncRuns(c *gin.Context) {
	account, ok := h.ownedAccount(c)
	if !ok {
		return
	}

	runs, err := h.syncUsecase.ListRuns(c.Request.Context(), account.ID, queryInt(c, "limit", 20))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mailboxdto.SyncRunsResponse{Runs: runs})
}

func (h *MailboxHandler) SendEmail(c *gin.Context) {
	var req mailboxdto.SendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.sendUsecase.SendEmail(c.Request.Context(), authdelivery.UserID(c), c.Param("id"), usecase.SendInput{
		To:      req.To,
		Subject: req.Subject,
		HTML:    req.HTML,
		Text:    req.Text,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *MailboxHandler) ownedAccount(c *gin.Context) (*domain.MailboxAccount, bool) {
	account, err := h.accountUsecase.GetAccount(c.Request.Context(), authdelivery.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return account, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if raw := c.Query(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

// StatusFor maps usecase errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrStateMismatch):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrMissingAuthCode),
		errors.Is(err, domain.ErrUnsupportedProvider),
		errors.Is(err, domain.ErrConnectionFailed):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOAuthNotConfigured):
		return http.StatusServiceUnavailable
	case domain.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSyncFailed), errors.Is(err, domain.ErrSendFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(StatusFor(err), gin.H{"error": err.Error()})
}
