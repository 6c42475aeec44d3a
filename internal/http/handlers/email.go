package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	repos "github.com/yungbote/mailscope-backend/internal/data/repos/mail"
	"github.com/yungbote/mailscope-backend/internal/http/middleware"
	"github.com/yungbote/mailscope-backend/internal/http/response"
	"github.com/yungbote/mailscope-backend/internal/pipeline"
	"github.com/yungbote/mailscope-backend/internal/pkg/dbctx"
	msync "github.com/yungbote/mailscope-backend/internal/sync"
)

type EmailHandler struct {
	emails  repos.EmailRepo
	enqueue msync.Enqueuer
}

func NewEmailHandler(emails repos.EmailRepo, enqueue msync.Enqueuer) *EmailHandler {
	return &EmailHandler{emails: emails, enqueue: enqueue}
}

// GET /v1/emails/:id
func (h *EmailHandler) GetEmail(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", errors.New("no user on request"))
		return
	}
	emailID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_email_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	email, err := h.emails.GetByID(dbc, userID, emailID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "email_lookup_failed", err)
		return
	}
	if email == nil {
		response.RespondError(c, http.StatusNotFound, "email_not_found", errors.New("email not found"))
		return
	}
	response.RespondOK(c, gin.H{"email": email})
}

// POST /v1/emails/:id/reprocess
//
// Clears the terminal failure state and re-enqueues the email at ingest.
// Only emails that actually failed can be reprocessed.
func (h *EmailHandler) Reprocess(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", errors.New("no user on request"))
		return
	}
	emailID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_email_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	email, err := h.emails.GetByID(dbc, userID, emailID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "email_lookup_failed", err)
		return
	}
	if email == nil {
		response.RespondError(c, http.StatusNotFound, "email_not_found", errors.New("email not found"))
		return
	}

	cleared, err := h.emails.ClearFailure(dbc, userID, emailID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "clear_failure_failed", err)
		return
	}
	if !cleared {
		response.RespondError(c, http.StatusConflict, "email_not_failed", errors.New("email is not in a failed state"))
		return
	}

	env := pipeline.Envelope{
		UserID:    userID,
		EmailID:   emailID,
		MessageID: email.MessageID,
		FolderID:  email.FolderID,
	}
	if err := h.enqueue.EnqueueIngest(c.Request.Context(), env); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}

	response.RespondAccepted(c, gin.H{"email_id": emailID, "status": "queued"})
}
