// Package caching provides the cache wrapper, key layout and per-room locking
// shared by every cache-first repository.
package caching

import "strings"

const namespace = "livedesk"

// Key joins parts under the livedesk namespace: Key("room", id) = "livedesk:room:<id>".
func Key(parts ...string) string {
	return namespace + ":" + strings.Join(parts, ":")
}

// EntityKey is the primary key of a cached entity.
func EntityKey(family, id string) string { return Key(family, id) }

// IndexKey is the secondary index set for family entities sharing value under name.
func IndexKey(family, name, value string) string { return Key(family, "idx", name, value) }

func RoomLockKey(roomID string) string { return Key("lock", "room", roomID) }

func PrimaryPointerKey(roomID string) string { return Key("room", roomID, "primary") }

func AgentStatusKey(userID string) string { return Key("agent_status", userID) }

func AnalyticsKey(roomID string) string { return Key("analytics", roomID) }

func EngagementKey(sessionID string) string { return Key("engagement", sessionID) }

func TypingKey(roomID, participantID string) string { return Key("typing", roomID, participantID) }

func TypingIndexKey(roomID string) string { return Key("typing", roomID) }

func TransferKey(roomID string) string { return Key("transfer", roomID) }

func InvitationKey(roomID string, kind, targetID string) string {
	return Key("invitation", roomID, kind, targetID)
}

func OpenHistoryKey(roomID, participantID string) string {
	return Key("history", "open", roomID, participantID)
}

func RateLimitKey(scope, tenantID string) string { return Key("ratelimit", scope, tenantID) }

func NotifySentKey(jobKey string) string { return Key("notify", "sent", jobKey) }

func NotifyVerdictKey(jobKey string) string { return Key("notify", "charged", jobKey) }

func JobLogKey(queue, state string) string { return Key("jobs", queue, state) }
