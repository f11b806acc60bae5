package model

type PlaybackState string

const (
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
)

func (s PlaybackState) Valid() bool {
	return s == StatePlaying || s == StatePaused
}

// VideoServiceNetflix is the only supported video service for now.
const VideoServiceNetflix = "netflix"

func ValidVideoService(s string) bool {
	return s == VideoServiceNetflix
}

// IconNames is the set of profile icons clients may pick from.
var IconNames = []string{
	"alien",
	"cat",
	"ghost",
	"ninja",
	"panda",
	"penguin",
	"robot",
	"unicorn",
}

func ValidIcon(name string) bool {
	for _, icon := range IconNames {
		if icon == name {
			return true
		}
	}
	return false
}

// MaxNameLength caps display names, longer names are truncated.
const MaxNameLength = 16

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon"`
	Active    bool   `json:"active"`
	Typing    bool   `json:"typing"`
	Buffering bool   `json:"buffering"`
	SessionID string `json:"-"`
}

// Clone returns a copy safe to hand to the transport; the sender
// goroutine marshals events after the engine lock is released, so live
// registry structures must never cross that boundary.
func (u *User) Clone() *User {
	cp := *u
	return &cp
}

type Session struct {
	ID                string              `json:"id"`
	Users             []string            `json:"users"`
	OwnerID           string              `json:"ownerId,omitempty"`
	VideoService      string              `json:"videoService"`
	VideoID           int                 `json:"videoId"`
	State             PlaybackState       `json:"state"`
	Position          int64               `json:"position"`          // milliseconds
	PositionUpdatedAt int64               `json:"positionUpdatedAt"` // epoch milliseconds
	Messages          map[string]*Message `json:"messages"`
}

// HasUser reports whether id is a member of the session.
func (s *Session) HasUser(id string) bool {
	for _, uid := range s.Users {
		if uid == id {
			return true
		}
	}
	return false
}

// RemoveUser drops id from the member list, preserving join order.
func (s *Session) RemoveUser(id string) {
	for i, uid := range s.Users {
		if uid == id {
			s.Users = append(s.Users[:i], s.Users[i+1:]...)
			return
		}
	}
}

// Clone deep-copies the session, see User.Clone.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Users = append([]string(nil), s.Users...)
	cp.Messages = make(map[string]*Message, len(s.Messages))
	for id, msg := range s.Messages {
		cp.Messages[id] = msg.Clone()
	}
	return &cp
}

type Message struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Content     string          `json:"content"`
	IsSystemMsg bool            `json:"isSystemMsg"`
	CreatedAt   int64           `json:"createdAt"` // epoch milliseconds
	Likes       map[string]Like `json:"likes"`
}

// Clone deep-copies the message, see User.Clone.
func (m *Message) Clone() *Message {
	cp := *m
	cp.Likes = make(map[string]Like, len(m.Likes))
	for id, like := range m.Likes {
		cp.Likes[id] = like
	}
	return &cp
}

type Like struct {
	UserID  string `json:"userId"`
	LikedAt int64  `json:"likedAt"` // epoch milliseconds
}

// Event types sent by server.
const (
	EventInit          = "init"
	EventError         = "error"
	EventAck           = "ack"
	EventJoinSession   = "joinSession"
	EventLeaveSession  = "leaveSession"
	EventSendMessage   = "sendMessage"
	EventLikeMessage   = "likeMessage"
	EventUnlikeMessage = "unlikeMessage"
	EventTyping        = "typing"
	EventChangeName    = "changeName"
	EventChangeIcon    = "changeIcon"
	EventBuffering     = "buffering"
	EventUpdateSession = "updateSession"
	EventChangeVideoID = "changeVideoId"
)

type Event struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq,omitempty"` // echoes the request seq on acks
	Err  string `json:"error,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Wire is the outbound channel handle of one connected client.
// Sends are best-effort: a full buffer means the event is dropped.
type Wire struct {
	TX chan Event
}

func NewWire() Wire {
	return Wire{
		TX: make(chan Event, 64),
	}
}
