package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"meetsignal/internal/core/domain"
	"meetsignal/pkg/utils"
)

const maxChatLength = 4000

type roomHandler struct {
	fn func(ctx context.Context, rs *roomSession, in domain.Inbound) error
	// lobby handlers also run for sockets still waiting for approval.
	lobby bool
}

// Inbound payloads.

type joinData struct {
	Username string `json:"username"`
}

type chatData struct {
	Message string `json:"message"`
}

type colorData struct {
	Color string `json:"color"`
}

type muteData struct {
	Muted bool `json:"muted"`
}

type decisionData struct {
	RequestingUserID domain.ParticipantID `json:"requesting_user_id"`
	UserID           domain.ParticipantID `json:"user_id"`
	Approved         bool                 `json:"approved"`
}

type kickData struct {
	TargetUserID domain.ParticipantID `json:"targetUserId"`
}

type breakoutCreateData struct {
	Names []string `json:"names"`
}

type breakoutAssignData struct {
	Assignments []domain.Assignment `json:"assignments"`
}

type breakoutJoinData struct {
	BreakoutID domain.BreakoutID `json:"breakout_id"`
}

type breakoutMessageData struct {
	Message string `json:"message"`
}

// decode reads the frame's data object into v. Missing data leaves v zero.
func decode(in domain.Inbound, v any) error {
	if len(in.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", domain.ErrInvalidEvent, in.Type, err)
	}
	return nil
}

func (s *Server) roomHandlers() map[domain.EventType]roomHandler {
	userNotice := func(out domain.EventType) roomHandler {
		return roomHandler{fn: func(ctx context.Context, rs *roomSession, _ domain.Inbound) error {
			return rs.relay(ctx, out, domain.UserPayload{UserID: rs.ident.participant})
		}}
	}
	moderated := func(op func(ctx context.Context, rs *roomSession) error) roomHandler {
		return roomHandler{fn: func(ctx context.Context, rs *roomSession, _ domain.Inbound) error {
			return op(ctx, rs)
		}}
	}

	return map[domain.EventType]roomHandler{
		domain.EventPing: {lobby: true, fn: func(_ context.Context, rs *roomSession, _ domain.Inbound) error {
			send(rs.conn, domain.EventPong, nil)
			return nil
		}},
		domain.EventJoinRoom: {lobby: true, fn: handleJoinRoom},
		domain.EventAlert:    {lobby: true, fn: handleAlert},

		domain.EventAlertResponse: {fn: handleAlertResponse},

		domain.EventVideoOff:         userNotice(domain.EventVideoOffNotice),
		domain.EventVideoOn:          userNotice(domain.EventVideoOn),
		domain.EventScreenShareOff:   userNotice(domain.EventScreenShareOff),
		domain.EventWhiteboardShared: userNotice(domain.EventWhiteboardShared),
		domain.EventWhiteboardClosed: userNotice(domain.EventWhiteboardClosed),
		domain.EventRequestInfo:      userNotice(domain.EventRequestInfo),

		domain.EventNewChat:     {fn: handleChat},
		domain.EventMouseUp:     {fn: handleStroke},
		domain.EventMouseDown:   {fn: handleStroke},
		domain.EventMouseMove:   {fn: handleStroke},
		domain.EventColorChange: {fn: handleColor},
		domain.EventMuteStatus:  {fn: handleMuteStatus},
		domain.EventShareInfo:   {fn: handleShareInfo},

		domain.EventRecordingStarted: moderated(func(ctx context.Context, rs *roomSession) error {
			return rs.srv.deps.Moderation.SetRecording(ctx, rs.roomID, rs.actor, true)
		}),
		domain.EventRecordingStopped: moderated(func(ctx context.Context, rs *roomSession) error {
			return rs.srv.deps.Moderation.SetRecording(ctx, rs.roomID, rs.actor, false)
		}),
		domain.EventMuteAll: moderated(func(ctx context.Context, rs *roomSession) error {
			return rs.srv.deps.Moderation.MuteAll(ctx, rs.roomID, rs.actor)
		}),
		domain.EventEndMeeting: moderated(func(ctx context.Context, rs *roomSession) error {
			return rs.srv.deps.Moderation.EndMeeting(ctx, rs.roomID, rs.actor)
		}),
		domain.EventKickUser: {fn: handleKick},

		domain.EventBreakoutCreate:    {fn: handleBreakoutCreate},
		domain.EventBreakoutAssign:    {fn: handleBreakoutAssign},
		domain.EventBreakoutJoin:      {fn: handleBreakoutJoin},
		domain.EventBreakoutLeave:     {fn: handleBreakoutLeave},
		domain.EventBreakoutBroadcast: {fn: handleBreakoutBroadcast},
		domain.EventBreakoutClose: moderated(func(ctx context.Context, rs *roomSession) error {
			_, err := rs.srv.deps.Breakouts.CloseAll(ctx, rs.roomID, rs.actor)
			return err
		}),
	}
}

func (rs *roomSession) displayName(fromClient string) string {
	if rs.ident.name != "" {
		return rs.ident.name
	}
	return utils.TruncateString(strings.TrimSpace(utils.SanitizeString(fromClient)), 64)
}

// handleJoinRoom announces the participant. From the lobby it asks the
// moderator for access instead.
func handleJoinRoom(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	if !rs.isJoined() {
		return handleAlert(ctx, rs, in)
	}
	var data joinData
	if err := decode(in, &data); err != nil {
		return err
	}
	return rs.relay(ctx, domain.EventUserJoined, domain.JoinedPayload{
		UserID:      rs.ident.participant,
		Username:    rs.displayName(data.Username),
		IsModerator: rs.moderator,
	})
}

func handleAlert(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	if rs.isJoined() {
		return fmt.Errorf("%w: already in the room", domain.ErrInvalidEvent)
	}
	var data joinData
	if err := decode(in, &data); err != nil {
		return err
	}
	return rs.srv.deps.Approvals.RequestJoin(ctx, domain.JoinRequest{
		RoomID:        rs.roomID,
		ParticipantID: rs.ident.participant,
		DisplayName:   rs.displayName(data.Username),
		ConnectionID:  rs.conn.id,
	})
}

func handleAlertResponse(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	var data decisionData
	if err := decode(in, &data); err != nil {
		return err
	}
	target := data.RequestingUserID
	if target == "" {
		target = data.UserID
	}
	if target == "" {
		return fmt.Errorf("%w: requesting_user_id required", domain.ErrInvalidEvent)
	}
	return rs.srv.deps.Approvals.Decide(ctx, rs.roomID, rs.actor, target, data.Approved)
}

func handleChat(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	var data chatData
	if err := decode(in, &data); err != nil {
		return err
	}
	msg := strings.TrimSpace(data.Message)
	if msg == "" {
		return fmt.Errorf("%w: empty message", domain.ErrInvalidEvent)
	}
	return rs.relay(ctx, domain.EventChatMessage, domain.ChatPayload{
		UserID:  rs.ident.participant,
		Message: utils.TruncateString(msg, maxChatLength),
	})
}

// handleStroke relays whiteboard pointer events with their data untouched.
func handleStroke(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	if len(in.Data) == 0 || !json.Valid(in.Data) {
		return fmt.Errorf("%w: %s needs data", domain.ErrInvalidEvent, in.Type)
	}
	return rs.relay(ctx, in.Type, domain.StrokePayload{Data: in.Data})
}

func handleColor(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	var data colorData
	if err := decode(in, &data); err != nil {
		return err
	}
	if data.Color == "" {
		return fmt.Errorf("%w: color required", domain.ErrInvalidEvent)
	}
	return rs.relay(ctx, domain.EventColorChange, domain.ColorPayload{Color: utils.TruncateString(data.Color, 32)})
}

func handleMuteStatus(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	var data muteData
	if err := decode(in, &data); err != nil {
		return err
	}
	return rs.relay(ctx, domain.EventMuteStatus, domain.MuteStatusPayload{UserID: rs.ident.participant, Muted: data.Muted})
}

// handleShareInfo answers request-info. The moderator flag is the server's view,
// never the client's.
func handleShareInfo(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	var data joinData
	if err := decode(in, &data); err != nil {
		return err
	}
	return rs.relay(ctx, domain.EventShareInfo, domain.JoinedPayload{
		UserID:      rs.ident.participant,
		Username:    rs.displayName(data.Username),
		IsModerator: rs.moderator,
	})
}

func handleKick(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	var data kickData
	if err := decode(in, &data); err != nil {
		return err
	}
	return rs.srv.deps.Moderation.Kick(ctx, rs.roomID, rs.actor, data.TargetUserID)
}

func handleBreakoutCreate(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	var data breakoutCreateData
	if err := decode(in, &data); err != nil {
		return err
	}
	_, err := rs.srv.deps.Breakouts.Create(ctx, rs.roomID, rs.actor, data.Names)
	return err
}

func handleBreakoutAssign(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	var data breakoutAssignData
	if err := decode(in, &data); err != nil {
		return err
	}
	return rs.srv.deps.Breakouts.Assign(ctx, rs.roomID, rs.actor, data.Assignments)
}

func handleBreakoutJoin(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	var data breakoutJoinData
	if err := decode(in, &data); err != nil {
		return err
	}
	return rs.joinBreakout(ctx, data.BreakoutID)
}

func handleBreakoutLeave(ctx context.Context, rs *roomSession, _ domain.Inbound) error {
	return rs.leaveBreakout(ctx)
}

func handleBreakoutBroadcast(ctx context.Context, rs *roomSession, in domain.Inbound) error {
	var data breakoutMessageData
	if err := decode(in, &data); err != nil {
		return err
	}
	return rs.srv.deps.Breakouts.Broadcast(ctx, rs.roomID, rs.actor, data.Message)
}
