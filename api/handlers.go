package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opd-ai/netchat/file"
	"github.com/opd-ai/netchat/mail"
	"github.com/opd-ai/netchat/registry"
)

// HealthResponse reports which services are attached.
type HealthResponse struct {
	Status  string    `json:"status"`
	Clients int       `json:"clients"`
	Files   bool      `json:"files"`
	Mail    bool      `json:"mail"`
	Events  bool      `json:"events"`
	Time    time.Time `json:"time"`
}

// ClientsResponse lists connected control clients.
type ClientsResponse struct {
	Count   int                   `json:"count"`
	Clients []registry.ClientInfo `json:"clients"`
}

// FilesResponse lists stored files.
type FilesResponse struct {
	Count int          `json:"count"`
	Files []file.Entry `json:"files"`
}

// CreateUserRequest is the body of POST /mail/users.
type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

// LoginRequest is the body of POST /mail/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SendMessageRequest is the body of POST /mail/messages. The sender must
// authenticate with its password.
type SendMessageRequest struct {
	Sender      string   `json:"sender" binding:"required"`
	Password    string   `json:"password" binding:"required"`
	Recipient   string   `json:"recipient" binding:"required"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
}

// MailboxResponse is a list of messages plus the unread count.
type MailboxResponse struct {
	User     string         `json:"user"`
	Unread   int            `json:"unread"`
	Messages []mail.Message `json:"messages"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status: "ok",
		Files:  s.deps.Files != nil,
		Mail:   s.deps.Mail != nil,
		Events: s.deps.Bus != nil,
		Time:   time.Now(),
	}
	if s.deps.Registry != nil {
		resp.Clients = s.deps.Registry.Len()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleClients(c *gin.Context) {
	if s.deps.Registry == nil {
		unavailable(c, "control")
		return
	}
	clients := s.deps.Registry.Clients()
	c.JSON(http.StatusOK, ClientsResponse{Count: len(clients), Clients: clients})
}

func (s *Server) handleListFiles(c *gin.Context) {
	if s.deps.Files == nil {
		unavailable(c, "file")
		return
	}
	entries, err := s.deps.Files.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Listing failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, FilesResponse{Count: len(entries), Files: entries})
}

// handleDownloadFile handles GET /api/v1/files/:name
func (s *Server) handleDownloadFile(c *gin.Context) {
	if s.deps.Files == nil {
		unavailable(c, "file")
		return
	}

	r, err := s.deps.Files.Open(c.Param("name"))
	if err != nil {
		switch {
		case errors.Is(err, file.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "File not found"})
		case errors.Is(err, file.ErrInvalidFileName), errors.Is(err, file.ErrFileNameTooLong):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid file name", Message: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Open failed", Message: err.Error()})
		}
		return
	}
	defer r.Close()

	entry := r.Entry()
	c.DataFromReader(http.StatusOK, entry.Size, "application/octet-stream", r, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", entry.Name),
	})
}

func (s *Server) handleCreateUser(c *gin.Context) {
	if s.deps.Mail == nil {
		unavailable(c, "mail")
		return
	}

	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := s.deps.Mail.CreateUser(req.Username, req.Password, req.FullName); err != nil {
		mailError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"username": req.Username})
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.deps.Mail == nil {
		unavailable(c, "mail")
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := s.deps.Mail.Authenticate(req.Username, req.Password); err != nil {
		mailError(c, err)
		return
	}
	unread, err := s.deps.Mail.UnreadCount(req.Username)
	if err != nil {
		mailError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": req.Username, "unread": unread})
}

func (s *Server) handleSendMessage(c *gin.Context) {
	if s.deps.Mail == nil {
		unavailable(c, "mail")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := s.deps.Mail.Authenticate(req.Sender, req.Password); err != nil {
		mailError(c, err)
		return
	}

	msg := &mail.Message{
		Sender:      req.Sender,
		Recipient:   req.Recipient,
		Subject:     req.Subject,
		Body:        req.Body,
		Attachments: req.Attachments,
	}
	if err := s.deps.Mail.Send(msg); err != nil {
		mailError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleInbox(c *gin.Context) {
	s.mailbox(c, false)
}

func (s *Server) handleSent(c *gin.Context) {
	s.mailbox(c, true)
}

func (s *Server) mailbox(c *gin.Context, sent bool) {
	if s.deps.Mail == nil {
		unavailable(c, "mail")
		return
	}

	user := c.Param("user")
	load := s.deps.Mail.Inbox
	if sent {
		load = s.deps.Mail.Sent
	}
	msgs, err := load(user)
	if err != nil {
		mailError(c, err)
		return
	}
	unread, err := s.deps.Mail.UnreadCount(user)
	if err != nil {
		mailError(c, err)
		return
	}
	if msgs == nil {
		msgs = []mail.Message{}
	}
	c.JSON(http.StatusOK, MailboxResponse{User: user, Unread: unread, Messages: msgs})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	if s.deps.Mail == nil {
		unavailable(c, "mail")
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid message ID", Message: "Message ID must be a number"})
		return
	}
	if err := s.deps.Mail.MarkRead(id); err != nil {
		mailError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func unavailable(c *gin.Context, service string) {
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error:   "Service unavailable",
		Message: service + " service is not configured",
	})
}

// mailError maps mail sentinels to HTTP status codes.
func mailError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, mail.ErrUserExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "User exists", Message: err.Error()})
	case errors.Is(err, mail.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid credentials"})
	case errors.Is(err, mail.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found", Message: err.Error()})
	case errors.Is(err, mail.ErrInvalidMessage):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid message", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Message: err.Error()})
	}
}
