package client

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	mail "gopkg.in/mail.v2"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/model"
)

// EmailClient sends engine emails over SMTP. Template rendering happens
// upstream; the client expects pre-rendered "subject" and "body" entries in
// the request data and records the template name as a header for tracking.
type EmailClient struct {
	host     string
	port     int
	username string
	password string
	from     string
	logger   *zap.Logger
}

// NewEmailClient creates a new SMTP email client
func NewEmailClient(host string, port int, username, password, from string, logger *zap.Logger) *EmailClient {
	return &EmailClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		logger:   logger,
	}
}

// Send delivers one email and returns a generated email id on success.
func (c *EmailClient) Send(req model.EmailRequest) (string, error) {
	subject, _ := req.Data["subject"].(string)
	body, _ := req.Data["body"].(string)
	if subject == "" {
		subject = req.Template
	}

	message := mail.NewMessage()
	message.SetHeader("From", c.from)
	message.SetHeader("To", req.To)
	message.SetHeader("Subject", subject)
	message.SetHeader("X-Template", req.Template)
	if req.Priority == model.PriorityHigh {
		message.SetHeader("X-Priority", "1")
	}
	message.SetBody("text/html", body)

	dialer := mail.NewDialer(c.host, c.port, c.username, c.password)

	if err := dialer.DialAndSend(message); err != nil {
		c.logger.Error("Failed to send email",
			zap.String("to", req.To),
			zap.String("template", req.Template),
			zap.Error(err))
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	emailID := uuid.New().String()
	c.logger.Info("Email sent",
		zap.String("email_id", emailID),
		zap.String("template", req.Template))

	return emailID, nil
}
