package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// urgencyCritical keeps the notification up until its expiry on most servers.
const urgencyCritical byte = 2

// notification is one org.freedesktop.Notifications.Notify call. A non-zero
// ReplaceID updates an earlier notification in place.
type notification struct {
	AppName   string
	ReplaceID uint32
	Icon      string
	Summary   string
	Body      string
	Urgency   byte
	Expire    time.Duration
}

// busctlArgs encodes the call for `busctl call`, which takes container
// lengths inline: no actions, one urgency hint.
func (n notification) busctlArgs() []string {
	return []string{
		"--user", "call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		"Notify", "susssasa{sv}i",
		n.AppName,
		strconv.FormatUint(uint64(n.ReplaceID), 10),
		n.Icon,
		n.Summary,
		n.Body,
		"0",
		"1", "urgency", "y", strconv.Itoa(int(n.Urgency)),
		strconv.FormatInt(n.Expire.Milliseconds(), 10),
	}
}

// desktopNotify shows n via busctl and returns the server-assigned id.
func desktopNotify(ctx context.Context, n notification) (uint32, error) {
	out, err := exec.CommandContext(ctx, "busctl", n.busctlArgs()...).CombinedOutput()
	reply := strings.TrimSpace(string(out))
	if err != nil {
		if reply == "" {
			return 0, fmt.Errorf("desktop notify: %w", err)
		}
		return 0, fmt.Errorf("desktop notify: %w (%s)", err, reply)
	}
	return parseNotifyReply(reply)
}

// parseNotifyReply reads busctl's "u <id>" output.
func parseNotifyReply(reply string) (uint32, error) {
	typ, value, ok := strings.Cut(reply, " ")
	if !ok || typ != "u" {
		return 0, fmt.Errorf("desktop notify: unexpected reply %q", reply)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify: parse id %q: %w", value, err)
	}
	return uint32(id), nil
}
