package chat

import "time"

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ParseSender maps stored sender values onto user/bot. Anything that is not
// the user is the assistant.
func ParseSender(s string) Sender {
	if s == string(SenderUser) {
		return SenderUser
	}
	return SenderBot
}

// Turn is one rendered chat message.
type Turn struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Sender Sender   `json:"sender"`
	Images []string `json:"images"`
}

func (t Turn) clone() Turn {
	if t.Images != nil {
		t.Images = append([]string(nil), t.Images...)
	}
	return t
}

// Message is the persisted row of a turn, keyed by user and creation order.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index:idx_messages_user_created,priority:1" json:"-"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Sender    string    `gorm:"type:varchar(8);not null" json:"sender"`
	Images    []string  `gorm:"serializer:json" json:"images"`
	CreatedAt time.Time `gorm:"index:idx_messages_user_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "messages" }
