package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/stocksync/internal/inventory"
	"github.com/odyssey-erp/stocksync/jobs"
)

// MailQueue enqueues outgoing mail.
type MailQueue interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error)
}

// EmailNotifier queues a mail for every critical alert raised.
type EmailNotifier struct {
	queue   MailQueue
	to      []string
	printer *message.Printer
	logger  *slog.Logger
}

// NewEmailNotifier constructs the notifier. Recipients are comma separated.
func NewEmailNotifier(queue MailQueue, recipients string, logger *slog.Logger) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	var to []string
	for _, addr := range strings.Split(recipients, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return &EmailNotifier{queue: queue, to: to, printer: message.NewPrinter(language.English), logger: logger}
}

// Publish implements inventory.EventPublisher.
func (n *EmailNotifier) Publish(ctx context.Context, events []inventory.Event) error {
	if n.queue == nil || len(n.to) == 0 {
		return nil
	}
	var errs []error
	for _, evt := range events {
		if evt.Kind != inventory.EventAlertRaised || evt.Alert == nil || evt.Alert.Severity != inventory.SeverityCritical {
			continue
		}
		subject, body := n.render(evt)
		for _, to := range n.to {
			info, err := n.queue.EnqueueSendEmail(ctx, jobs.SendEmailPayload{To: to, Subject: subject, Body: body})
			if err != nil {
				errs = append(errs, fmt.Errorf("notify: enqueue alert mail: %w", err))
				continue
			}
			if info != nil {
				n.logger.Debug("alert mail queued", slog.String("task_id", info.ID), slog.String("alert", evt.Alert.ID))
			}
		}
	}
	return errors.Join(errs...)
}

func (n *EmailNotifier) render(evt inventory.Event) (string, string) {
	a := evt.Alert
	subject := n.printer.Sprintf("[stocksync] %s on %s", a.Type, evt.SKU)
	var b strings.Builder
	b.WriteString(n.printer.Sprintf("SKU:       %s\n", evt.SKU))
	if a.WarehouseID != "" {
		b.WriteString(n.printer.Sprintf("Warehouse: %s\n", a.WarehouseID))
	}
	if a.Channel != "" {
		b.WriteString(n.printer.Sprintf("Channel:   %s\n", a.Channel))
	}
	b.WriteString(n.printer.Sprintf("Quantity:  %d\n", a.Quantity))
	b.WriteString(n.printer.Sprintf("Raised:    %s\n\n", a.TriggeredAt.Format("2006-01-02 15:04 MST")))
	b.WriteString(a.Message)
	b.WriteString("\n")
	return subject, b.String()
}
