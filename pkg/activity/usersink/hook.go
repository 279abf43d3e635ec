// Package usersink adapts experience events to a go-users ActivitySink so
// served experiences land in the same activity stream as the rest of a
// user's history.
package usersink

import (
	"context"
	"strings"
	"time"

	"github.com/adobe/aem-experimentation/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook adapts experience events to a go-users ActivitySink.
type Hook struct {
	Sink usertypes.ActivitySink
}

// Notify maps the event into an ActivityRecord and forwards it to the sink.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}

	normalized := activity.NormalizeEvent(event)
	if normalized.Verb == "" || normalized.Scope == "" || normalized.ScopeID == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	data := cloneMap(normalized.Metadata)
	if data == nil {
		data = map[string]any{}
	}
	data["scope"] = normalized.Scope
	if normalized.Selection != "" {
		data["selection"] = normalized.Selection
	}
	if normalized.Selector != "" {
		data["selector"] = normalized.Selector
	}
	if normalized.URL != "" {
		data["url"] = normalized.URL
	}
	if normalized.Page != "" {
		data["page"] = normalized.Page
	}

	record := usertypes.ActivityRecord{
		ActorID:    parseUUID(normalized.VisitorID),
		UserID:     parseUUID(normalized.UserID),
		TenantID:   parseUUID(normalized.TenantID),
		Verb:       normalized.Verb,
		ObjectType: "experience." + normalized.Scope,
		ObjectID:   normalized.ScopeID,
		Channel:    normalized.Channel,
		Data:       data,
		OccurredAt: normalized.OccurredAt,
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}

	return h.Sink.Log(ctx, record)
}

func parseUUID(input string) uuid.UUID {
	value := strings.TrimSpace(input)
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
