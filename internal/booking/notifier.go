package booking

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

type Notification struct {
	To      string
	Subject string
	Body    string
}

// Notifier tells patients about their bookings. Delivery failures are
// logged by the controller and never fail the booking itself.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier only logs. Used when no SMTP server is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Logger.Info("notification (not sent, smtp disabled)",
		zap.String("to", n.To),
		zap.String("subject", n.Subject),
	)
	return nil
}

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailNotifier sends plain text mail over SMTP.
type MailNotifier struct {
	sender mailSender
	from   string
}

func NewMailNotifier(host string, port int, username, password, from string) *MailNotifier {
	return &MailNotifier{
		sender: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (m *MailNotifier) Notify(_ context.Context, n Notification) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", n.To)
	msg.SetHeader("Subject", n.Subject)
	msg.SetBody("text/plain", n.Body)

	if err := m.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", n.To, err)
	}
	return nil
}

const timeLayout = "Mon 02 Jan 2006 15:04 MST"

func bookedNotification(to string, a appointment.Appointment) Notification {
	return Notification{
		To:      to,
		Subject: "Appointment booked: " + a.Title,
		Body: fmt.Sprintf("Hello %s,\n\nYour appointment with %s is booked for %s until %s.\nStatus: %s\n",
			a.PatientName, a.DoctorName,
			a.Start.Time().Format(timeLayout), a.End.Time().Format(timeLayout), a.Status),
	}
}

func statusNotification(to string, a appointment.Appointment, from appointment.Status) Notification {
	return Notification{
		To:      to,
		Subject: fmt.Sprintf("Appointment %s: %s", a.Status, a.Title),
		Body: fmt.Sprintf("Hello %s,\n\nYour appointment with %s on %s changed from %s to %s.\n",
			a.PatientName, a.DoctorName, a.Start.Time().Format(timeLayout), from, a.Status),
	}
}
