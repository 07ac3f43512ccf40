package watchparty

// Destination conventions. Every participant subscribes to the room topic;
// SYNC_STATE, PONG and targeted errors arrive on the per-user queue.
func roomTopic(roomID string) string { return "/topic/room." + roomID }

func userQueue(userID string) string { return "/queue/user." + userID }

func roomAction(roomID, action string) string { return "/app/room." + roomID + "." + action }

const (
	actionJoin        = "join"
	actionLeave       = "leave"
	actionChat        = "chat"
	actionControl     = "control"
	actionPing        = "ping"
	actionSyncRequest = "sync-request"
)
