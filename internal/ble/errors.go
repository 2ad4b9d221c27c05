package ble

import (
	"context"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

// Fault kinds attached to errors crossing the BLE boundary.
const (
	KindPermission     ftag.Kind = "PERMISSION_MISSING"
	KindDiscovery      ftag.Kind = "DISCOVERY_FAILED"
	KindLink           ftag.Kind = "LINK_FAULT"
	KindServiceMissing ftag.Kind = "SERVICE_MISSING"
	KindWrite          ftag.Kind = "WRITE_FAULT"
)

// WrapFault tags err with kind, the operation it happened at and a
// human readable message. It returns nil for a nil err.
func WrapFault(err error, kind ftag.Kind, at, msg string) error {
	if err == nil {
		return nil
	}
	return fault.Wrap(err,
		fctx.With(context.Background(), "error_at", at),
		ftag.With(kind),
		fmsg.With(msg),
	)
}

// KindOf returns the fault kind attached to err, if any.
func KindOf(err error) ftag.Kind {
	return ftag.Get(err)
}
