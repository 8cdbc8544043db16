package alert

import (
	"context"
	"encoding/json"
	"fmt"
)

// Severity - ...
type Severity string

const (
	INFO   Severity = "info"
	URGENT Severity = "urgent"
)

// Alert - one operator-facing notification.
type Alert struct {
	Severity Severity          `json:"severity"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// JSON - convert struct to json
func (a *Alert) JSON() (string, error) {
	bin, err := json.Marshal(a)
	return string(bin), err
}

// FromJSON - convert json to struct
func (a *Alert) FromJSON(jsonString string) error {
	return json.Unmarshal([]byte(jsonString), a)
}

// String representation
func (a *Alert) String() string {
	return fmt.Sprintf("severity=%s title=%s message=%s", a.Severity, a.Title, a.Message)
}

// Sink - fire-and-forget alert delivery. Implementations swallow
// their own transport errors; a broken sink must never fail a task.
type Sink interface {
	Notify(ctx context.Context, alert Alert)
}
