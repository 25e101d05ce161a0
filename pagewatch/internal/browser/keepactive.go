package browser

import (
	"context"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// KeepActiveInterval is how often the lifecycle state is re-asserted.
// Chrome re-freezes backgrounded tabs, so a one-shot call is not enough.
const KeepActiveInterval = 20 * time.Second

// KeepActive holds the chat page in the active web lifecycle state so
// background-tab throttling does not starve its timers while the user
// works elsewhere. Blocks until ctx is done.
func (t *ChatTab) KeepActive(ctx context.Context) {
	ticker := time.NewTicker(KeepActiveInterval)
	defer ticker.Stop()

	t.setActive()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.setActive()
		}
	}
}

func (t *ChatTab) setActive() {
	err := proto.PageSetWebLifecycleState{
		State: proto.PageSetWebLifecycleStateStateActive,
	}.Call(t.page)
	if err != nil {
		t.logger.Debug("browser: set lifecycle active failed", "error", err)
	}
}
