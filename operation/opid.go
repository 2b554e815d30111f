// Package operation tracks the commands issued to the gripper and serializes long running ones.
package operation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type opidKeyType string

const opidKey = opidKeyType("opid")

// Operation is one public call on a gripper controller. Every round trip issued while serving
// it is logged with its ID.
type Operation struct {
	ID      uuid.UUID
	Method  string
	Started time.Time
}

// Create attaches a new Operation to ctx. If ctx already carries one, the existing operation is
// returned so nested calls (Open -> MoveToPercent -> MoveToRaw) share a single ID.
func Create(ctx context.Context, method string, now time.Time) (context.Context, *Operation) {
	if op := Get(ctx); op != nil {
		return ctx, op
	}
	op := &Operation{
		ID:      uuid.New(),
		Method:  method,
		Started: now,
	}
	return context.WithValue(ctx, opidKey, op), op
}

// Get returns the current operation from a context, nil if none.
func Get(ctx context.Context) *Operation {
	o := ctx.Value(opidKey)
	if o == nil {
		return nil
	}
	return o.(*Operation)
}
