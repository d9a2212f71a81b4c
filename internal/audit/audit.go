// Package audit writes an append-only, one-line-per-event trace of every
// opportunity, dispatch, result, recovery action, and risk event the
// engine produces — structured the same way the rest of the engine logs,
// just pointed at a dedicated file so the trail survives log rotation of
// the operational logger.
package audit

import (
	"log/slog"
	"os"
	"time"

	"arbiter/pkg/types"
)

// Log writes types.AuditRecord values as JSON lines to a dedicated file.
type Log struct {
	file   *os.File
	logger *slog.Logger
}

// Open opens (creating if necessary) the audit file at path for appending
// and wraps it in a JSON slog.Logger.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Log{file: f, logger: slog.New(handler)}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.file.Close()
}

// Write appends one AuditRecord to the log.
func (l *Log) Write(record types.AuditRecord) {
	attrs := []any{"kind", record.Kind, "at", record.At}
	if record.Opportunity != nil {
		attrs = append(attrs, "opportunity_id", record.Opportunity.ID, "opportunity_kind", record.Opportunity.Kind, "net_ev", record.Opportunity.NetEV.String())
	}
	if record.Result != nil {
		attrs = append(attrs, "fully_filled", record.Result.FullyFilled, "realized_profit", record.Result.RealizedProfit.String(), "recovery_action", record.Result.RecoveryAction)
	}
	for k, v := range record.Fields {
		attrs = append(attrs, k, v)
	}
	l.logger.Info("audit", attrs...)
}

// Opportunity logs an opportunity detection event.
func (l *Log) Opportunity(opp types.Opportunity) {
	l.Write(types.AuditRecord{Kind: "opportunity", At: opp.DetectedAt, Opportunity: &opp})
}

// Result logs a completed execution attempt.
func (l *Log) Result(result types.ExecutionResult) {
	l.Write(types.AuditRecord{Kind: "result", At: result.FinishedAt, Result: &result})
}

// Event logs a free-form event (recovery, risk, etc.) with arbitrary
// structured fields.
func (l *Log) Event(kind string, fields map[string]any) {
	l.Write(types.AuditRecord{Kind: kind, At: time.Now(), Fields: fields})
}
