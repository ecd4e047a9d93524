package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/Dan9191/bankcards/internal/config"
	"github.com/Dan9191/bankcards/internal/models"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg     *config.Config
	logger  *logrus.Logger
	now     func() time.Time
	deliver func(e *email.Email) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	s.deliver = s.sendSMTP
	return s
}

// SendTransferNotification sends a receipt for one leg of a card transfer
func (s *Sender) SendTransferNotification(to, username, maskedNumber string, amount decimal.Decimal, direction string, balance decimal.Decimal) error {
	e := s.newEmail(to)
	e.Subject = fmt.Sprintf("Card %s Notification", direction)

	// Format email body
	body := fmt.Sprintf("Dear %s,\n\n", username)
	if direction == "Credit" {
		body += fmt.Sprintf(
			"Your card %s has been credited with %s RUB.\n",
			maskedNumber, amount.StringFixed(2),
		)
	} else {
		body += fmt.Sprintf(
			"An amount of %s RUB has been debited from your card %s.\n",
			amount.StringFixed(2), maskedNumber,
		)
	}
	body += fmt.Sprintf(
		"Transaction time: %s\n"+
			"Current balance: %s RUB\n",
		s.now().Format("2006-01-02 15:04:05"), balance.StringFixed(2),
	)
	body += "\nBest regards,\nBank Cards"
	e.Text = []byte(body)

	return s.send(e, to)
}

// SendExpiryReminder tells the owner that a card expires at the end of the month
func (s *Sender) SendExpiryReminder(to, username, maskedNumber string, expiration models.YearMonth) error {
	e := s.newEmail(to)
	e.Subject = "Card Expiry Reminder"

	body := fmt.Sprintf("Dear %s,\n\n", username)
	body += fmt.Sprintf(
		"Your card %s expires at the end of %s.\n"+
			"Please contact the bank to have a replacement card issued.\n",
		maskedNumber, expiration.Time().Format("January 2006"),
	)
	body += "\nBest regards,\nBank Cards"
	e.Text = []byte(body)

	return s.send(e, to)
}

func (s *Sender) newEmail(to string) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	return e
}

func (s *Sender) send(e *email.Email, to string) error {
	if err := s.deliver(e); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}

func (s *Sender) sendSMTP(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	return e.Send(addr, auth)
}
