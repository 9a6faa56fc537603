package domain

// GroupKey names a broadcast audience on the group bus.
type GroupKey string

// RoomGroup holds every connection of a room.
func RoomGroup(roomID RoomID) GroupKey {
	return GroupKey("room:" + string(roomID))
}

// UserGroup is the out-of-band notification channel of one identity.
func UserGroup(participantID ParticipantID) GroupKey {
	return GroupKey("user:" + string(participantID))
}

// ParticipantGroup reaches every room connection of one identity inside one room.
func ParticipantGroup(roomID RoomID, participantID ParticipantID) GroupKey {
	return GroupKey("room:" + string(roomID) + ":participant:" + string(participantID))
}

// BreakoutGroup holds the connections currently inside a breakout.
func BreakoutGroup(roomID RoomID, breakoutID BreakoutID) GroupKey {
	return GroupKey("room:" + string(roomID) + ":breakout:" + string(breakoutID))
}
