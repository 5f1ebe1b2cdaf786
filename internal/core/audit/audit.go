// Package audit defines the change journal used by posting and remittance.
package audit

import "context"

// Action is the kind of change recorded.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionPost   Action = "post"
	ActionCancel Action = "cancel"
	ActionRemit  Action = "remit"
)

// Logger records a change. It must join the transaction carried by ctx.
type Logger interface {
	LogChange(ctx context.Context, entityType, entityID string, action Action, changes map[string]any) error
}

// NopLogger discards audit records.
type NopLogger struct{}

func (NopLogger) LogChange(context.Context, string, string, Action, map[string]any) error {
	return nil
}
