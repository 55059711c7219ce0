package model

import (
	"testing"
	"time"
)

func TestSenderDisplayName(t *testing.T) {
	tests := []struct {
		name   string
		sender *Sender
		want   string
	}{
		{"nil", nil, ""},
		{"first only", &Sender{FirstName: "Anna"}, "Anna"},
		{"full", &Sender{FirstName: "Anna", LastName: "K", Username: "annak"}, "Anna K (@annak)"},
		{"username only", &Sender{Username: "channel_bot"}, "@channel_bot"},
		{"last only", &Sender{LastName: "Petrov"}, "Petrov"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sender.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageParentAndKey(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"no parent", Message{TelegramID: 10}, false},
		{"parent", Message{TelegramID: 11, ReplyToMsgID: 10}, true},
		{"self reference", Message{TelegramID: 12, ReplyToMsgID: 12}, false},
		{"negative", Message{TelegramID: 13, ReplyToMsgID: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.HasParent(); got != tt.want {
				t.Errorf("HasParent() = %v, want %v", got, tt.want)
			}
		})
	}

	m := Message{TelegramID: 5, ChannelID: -100}
	if m.Key() != (MessageKey{ChannelID: -100, TelegramID: 5}) {
		t.Errorf("Key() = %+v", m.Key())
	}
	if m.HasDate() {
		t.Error("zero Date must report HasDate() == false")
	}
	m.Date = time.Unix(1, 0)
	if !m.HasDate() {
		t.Error("HasDate() = false after setting Date")
	}
}

func TestChainAccessors(t *testing.T) {
	var empty Chain
	if empty.Root().TelegramID != 0 || empty.Replies() != nil {
		t.Error("empty chain accessors should return zero values")
	}
	c := Chain{{TelegramID: 1}, {TelegramID: 2, ReplyToMsgID: 1}, {TelegramID: 3, ReplyToMsgID: 2}}
	if c.Root().TelegramID != 1 {
		t.Errorf("Root = %d", c.Root().TelegramID)
	}
	if r := c.Replies(); len(r) != 2 || r[0].TelegramID != 2 {
		t.Errorf("Replies = %+v", r)
	}
}
