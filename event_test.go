package botschafter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/botschafter/internal/ingest"
)

func TestClassify(t *testing.T) {
	const me = int64(7)

	tests := []struct {
		name       string
		line       string
		wantType   EventType
		wantAction ActionType
	}{
		{
			name:       "own message",
			line:       `{"event":"message","from":{"peer_id":7}}`,
			wantType:   EventSendMessage,
			wantAction: ActionNone,
		},
		{
			name:       "peer message",
			line:       `{"event":"message","from":{"peer_id":9}}`,
			wantType:   EventReceiveMessage,
			wantAction: ActionNone,
		},
		{
			name:       "chat add user",
			line:       `{"event":"message","from":{"peer_id":9},"action":"chat_add_user"}`,
			wantType:   EventReceiveMessage,
			wantAction: ActionChatAddUser,
		},
		{
			name:       "create group chat",
			line:       `{"event":"message","from":{"peer_id":9},"action":"create_group_chat"}`,
			wantType:   EventReceiveMessage,
			wantAction: ActionCreateGroupChat,
		},
		{
			name:       "add contact",
			line:       `{"event":"message","from":{"peer_id":9},"action":"add_contact"}`,
			wantType:   EventReceiveMessage,
			wantAction: ActionAddContact,
		},
		{
			name:       "unknown action string",
			line:       `{"event":"message","from":{"peer_id":9},"action":"frobnicate"}`,
			wantType:   EventReceiveMessage,
			wantAction: ActionUnknown,
		},
		{
			name:       "noise before the object",
			line:       `LOG noise {"event":"message","from":{"peer_id":9}}`,
			wantType:   EventReceiveMessage,
			wantAction: ActionNone,
		},
		{
			name:       "non-message event",
			line:       `{"event":"read_receipt","from":{"peer_id":9}}`,
			wantType:   EventUndefined,
			wantAction: ActionNone,
		},
		{
			name:       "missing event field",
			line:       `{"from":{"peer_id":9}}`,
			wantType:   EventUndefined,
			wantAction: ActionNone,
		},
		{
			name:       "message without sender",
			line:       `{"event":"message"}`,
			wantType:   EventReceiveMessage,
			wantAction: ActionNone,
		},
		{
			name:       "non-string action",
			line:       `{"event":"message","from":{"peer_id":9},"action":42}`,
			wantType:   EventReceiveMessage,
			wantAction: ActionUnknown,
		},
		{
			name:       "action without message event",
			line:       `{"event":"service","action":"add_contact"}`,
			wantType:   EventUndefined,
			wantAction: ActionAddContact,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, ok := ingest.DecodeLine(tt.line)
			require.True(t, ok, "line should decode")

			evtType, action := classify(payload, me)
			assert.Equal(t, tt.wantType, evtType)
			assert.Equal(t, tt.wantAction, action)
		})
	}
}

func TestClassifyPlainNumericPeerID(t *testing.T) {
	payload := map[string]interface{}{
		"event": "message",
		"from":  map[string]interface{}{"peer_id": 7},
	}
	evtType, _ := classify(payload, 7)
	assert.Equal(t, EventSendMessage, evtType)
}

func TestSenderPeerID(t *testing.T) {
	tests := []struct {
		name string
		from interface{}
		want int64
		ok   bool
	}{
		{"json number", map[string]interface{}{"peer_id": json.Number("42")}, 42, true},
		{"float", map[string]interface{}{"peer_id": float64(7)}, 7, true},
		{"plain int", map[string]interface{}{"peer_id": 3}, 3, true},
		{"string id", map[string]interface{}{"peer_id": "9"}, 0, false},
		{"missing id", map[string]interface{}{}, 0, false},
		{"no from", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := map[string]interface{}{"event": "message"}
			if tt.from != nil {
				payload["from"] = tt.from
			}
			evt := &Event{Payload: payload}
			got, ok := evt.SenderPeerID()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTypeStrings(t *testing.T) {
	assert.Equal(t, "SEND_MESSAGE", EventSendMessage.String())
	assert.Equal(t, "RECEIVE_MESSAGE", EventReceiveMessage.String())
	assert.Equal(t, "UNDEFINED", EventUndefined.String())

	assert.Equal(t, "NO_ACTION", ActionNone.String())
	assert.Equal(t, "UNKNOWN_ACTION", ActionUnknown.String())
	assert.Equal(t, "CHAT_ADD_USER", ActionChatAddUser.String())
	assert.Equal(t, "CREATE_GROUP_CHAT", ActionCreateGroupChat.String())
	assert.Equal(t, "ADD_CONTACT", ActionAddContact.String())
}
