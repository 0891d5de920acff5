package session

import (
	"github.com/pushpaanand/teleconsult/internal/models"
	"github.com/pushpaanand/teleconsult/internal/uitree"
)

// event is anything the machine's goroutine processes from its mailbox
type event interface{}

type resolvedEvent struct {
	appt models.AppointmentContext
	err  error
}

type pageEvent struct {
	page *uitree.Page
}

type joinedEvent struct {
	attempt int
}

type joinFailedEvent struct {
	attempt int
	err     error
}

type leftEvent struct {
	attempt int
	err     error
}

type leaveRequestedEvent struct {
	attempt int
}

type fallbackEvent struct {
	attempt int
}

type roomStatusEvent struct {
	snapshot models.RoomStatusSnapshot
}

type commandKind int

const (
	cmdRequestEnd commandKind = iota
	cmdConfirmEnd
	cmdCancelEnd
	cmdRetryConnect
)

func (c commandKind) String() string {
	switch c {
	case cmdRequestEnd:
		return "request_end"
	case cmdConfirmEnd:
		return "confirm_end"
	case cmdCancelEnd:
		return "cancel_end"
	case cmdRetryConnect:
		return "retry_connect"
	default:
		return "unknown"
	}
}

type commandEvent struct {
	kind  commandKind
	reply chan error
}

type closeEvent struct{}
