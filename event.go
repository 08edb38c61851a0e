package botschafter

import "encoding/json"

// EventType classifies who a message update belongs to.
type EventType int

const (
	// EventUndefined covers payloads outside the recognized shape
	EventUndefined EventType = iota
	// EventSendMessage is a message sent by the session's own user
	EventSendMessage
	// EventReceiveMessage is a message from any other peer
	EventReceiveMessage
)

func (t EventType) String() string {
	switch t {
	case EventSendMessage:
		return "SEND_MESSAGE"
	case EventReceiveMessage:
		return "RECEIVE_MESSAGE"
	default:
		return "UNDEFINED"
	}
}

// ActionType classifies the optional action a payload carries.
type ActionType int

const (
	// ActionNone means the payload has no action field
	ActionNone ActionType = iota
	// ActionUnknown means the action value is not one the broker knows
	ActionUnknown
	// ActionChatAddUser reports a user added to a chat
	ActionChatAddUser
	// ActionCreateGroupChat reports a newly created group chat
	ActionCreateGroupChat
	// ActionAddContact reports a contact addition
	ActionAddContact
)

func (a ActionType) String() string {
	switch a {
	case ActionUnknown:
		return "UNKNOWN_ACTION"
	case ActionChatAddUser:
		return "CHAT_ADD_USER"
	case ActionCreateGroupChat:
		return "CREATE_GROUP_CHAT"
	case ActionAddContact:
		return "ADD_CONTACT"
	default:
		return "NO_ACTION"
	}
}

// Event is the classified, dispatch-ready form of one decoded payload. It is
// transient: built per payload, handed to at most one handler plus the
// registered observers, then discarded.
type Event struct {
	Source  *Session
	Type    EventType
	Action  ActionType
	Payload map[string]interface{}
}

// SenderPeerID returns the sending peer's id when the payload carries a
// usable from.peer_id.
func (e *Event) SenderPeerID() (int64, bool) {
	return senderPeerID(e.Payload)
}

// classify derives the (type, action) pair for a payload. A "message" event
// from the session's own user id is a send, from anyone else (or with no
// usable sender) a receive; everything else stays undefined. The action
// field maps by wire string, unknown strings classify rather than reject.
func classify(payload map[string]interface{}, currentUserID int64) (EventType, ActionType) {
	evtType := EventUndefined
	if name, ok := payload["event"].(string); ok && name == "message" {
		if peerID, ok := senderPeerID(payload); ok && peerID == currentUserID {
			evtType = EventSendMessage
		} else {
			evtType = EventReceiveMessage
		}
	}

	action := ActionNone
	if raw, present := payload["action"]; present {
		action = ActionUnknown
		if name, ok := raw.(string); ok {
			switch name {
			case "chat_add_user":
				action = ActionChatAddUser
			case "create_group_chat":
				action = ActionCreateGroupChat
			case "add_contact":
				action = ActionAddContact
			}
		}
	}

	return evtType, action
}

// senderPeerID digs out payload.from.peer_id. The ingester decodes numbers
// as json.Number, but payloads built in process may carry plain numerics.
func senderPeerID(payload map[string]interface{}) (int64, bool) {
	from, ok := payload["from"].(map[string]interface{})
	if !ok {
		return 0, false
	}

	switch v := from["peer_id"].(type) {
	case json.Number:
		id, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return id, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
