package redis

import (
	"meetsignal/internal/core/domain"
)

const keyPrefix = "meet:"

func presenceKey(room domain.RoomID) string {
	return keyPrefix + "room:" + string(room) + ":presence"
}

func clockKey(room domain.RoomID) string {
	return keyPrefix + "room:" + string(room) + ":clock"
}

func clockMarksKey(room domain.RoomID) string {
	return keyPrefix + "room:" + string(room) + ":clock:marks"
}

func assignmentsKey(room domain.RoomID) string {
	return keyPrefix + "room:" + string(room) + ":breakout:assignments"
}

func requestKey(room domain.RoomID, p domain.ParticipantID) string {
	return keyPrefix + "approval:request:" + string(room) + ":" + string(p)
}

func pendingKey(room domain.RoomID, p domain.ParticipantID) string {
	return keyPrefix + "approval:pending:" + string(room) + ":" + string(p)
}
