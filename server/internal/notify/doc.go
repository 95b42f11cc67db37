// Package notify implements the alert notification channels: console,
// email (SMTP), webhooks (Slack, Teams, PagerDuty, generic HTTP), Kafka and
// Redis pub/sub. Every channel satisfies alerts.Notifier and reports failures
// as *alerts.DeliveryError.
package notify
