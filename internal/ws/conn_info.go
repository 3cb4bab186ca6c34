package ws

import (
	"time"

	"support-chat/internal/observability"
)

type ConnInfo struct {
	ConnID      string
	UserID      string
	Client      observability.ClientInfo
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) eventFields(reason string) observability.WSEventFields {
	return observability.WSEventFields{
		ConnID:      i.ConnID,
		UserID:      i.UserID,
		Client:      i.Client,
		ConnectedAt: i.ConnectedAt,
		Reason:      reason,
	}
}
