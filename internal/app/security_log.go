package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quizroom/internal/domain"
)

var (
	securityNamespace = uuid.MustParse("6f1c2a52-8d0e-4d57-9a4b-3f0b7c1e5a10")
	alertNamespace    = uuid.MustParse("0b7e4c9d-2f61-4a8e-b3d5-9c8a1e6f4d27")
)

// SecurityListener is called after an entry is durably appended.
type SecurityListener interface {
	OnSecurityEntry(ctx context.Context, entry domain.SecurityLogEntry)
}

// SecurityLog is the append-only anomaly record shared by every rejection path.
type SecurityLog struct {
	sink      AuditSink
	logger    *slog.Logger
	now       func() time.Time
	listeners []SecurityListener
}

func NewSecurityLog(sink AuditSink, logger *slog.Logger, now func() time.Time) *SecurityLog {
	if now == nil {
		now = time.Now
	}
	return &SecurityLog{sink: sink, logger: logger, now: now}
}

// AddListener registers l for every subsequent entry.
func (s *SecurityLog) AddListener(l SecurityListener) {
	s.listeners = append(s.listeners, l)
}

// Record appends an entry whose severity is derived from its type.
func (s *SecurityLog) Record(ctx context.Context, eventType string, payload map[string]any) (domain.SecurityLogEntry, error) {
	return s.RecordWithSeverity(ctx, eventType, domain.SeverityFor(eventType), payload)
}

// RecordFor appends at most one entry of eventType per subject, however many
// handlers or redeliveries report it. Listeners only see the first.
func (s *SecurityLog) RecordFor(ctx context.Context, subject, eventType string, payload map[string]any) (domain.SecurityLogEntry, error) {
	id := uuid.NewSHA1(securityNamespace, []byte(eventType+"/"+subject)).String()
	return s.append(ctx, id, eventType, domain.SeverityFor(eventType), payload)
}

// RecordWithSeverity appends an entry with an explicit severity.
func (s *SecurityLog) RecordWithSeverity(ctx context.Context, eventType string, severity domain.Severity, payload map[string]any) (domain.SecurityLogEntry, error) {
	return s.append(ctx, uuid.NewString(), eventType, severity, payload)
}

func (s *SecurityLog) append(ctx context.Context, id, eventType string, severity domain.Severity, payload map[string]any) (domain.SecurityLogEntry, error) {
	entry := domain.SecurityLogEntry{
		ID:        id,
		Type:      eventType,
		Payload:   payload,
		Severity:  severity,
		Timestamp: s.now(),
	}
	inserted, err := s.sink.AppendSecurityLog(ctx, entry)
	if err != nil {
		return entry, fmt.Errorf("append security log: %w", err)
	}
	if !inserted {
		return entry, nil
	}
	s.logger.Warn("security event",
		slog.String("type", entry.Type),
		slog.String("severity", string(entry.Severity)),
		slog.Any("payload", entry.Payload))
	for _, l := range s.listeners {
		l.OnSecurityEntry(ctx, entry)
	}
	return entry, nil
}

// AlertDispatcher turns HIGH severity entries into alerts records flagged
// notified=false and, when configured, hands them to a pager queue.
type AlertDispatcher struct {
	sink     AuditSink
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewAlertDispatcher(sink AuditSink, notifier Notifier, logger *slog.Logger, now func() time.Time) *AlertDispatcher {
	if now == nil {
		now = time.Now
	}
	return &AlertDispatcher{sink: sink, notifier: notifier, logger: logger, now: now}
}

func (d *AlertDispatcher) OnSecurityEntry(ctx context.Context, entry domain.SecurityLogEntry) {
	if entry.Severity != domain.SeverityHigh {
		return
	}
	alert := domain.Alert{
		ID:         uuid.NewSHA1(alertNamespace, []byte(entry.ID)).String(),
		SecurityID: entry.ID,
		Type:       entry.Type,
		Severity:   entry.Severity,
		Payload:    entry.Payload,
		Notified:   false,
		CreatedAt:  d.now(),
	}
	inserted, err := d.sink.CreateAlert(ctx, alert)
	if err != nil {
		d.logger.Error("create alert failed", slog.String("type", entry.Type), slog.Any("err", err))
		return
	}
	if !inserted || d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, alert); err != nil {
		d.logger.Error("alert notify failed", slog.String("alert", alert.ID), slog.Any("err", err))
	}
}
