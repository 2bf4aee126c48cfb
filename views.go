package chatloop

import (
	"encoding/json"
	"time"

	"github.com/joeycumines/go-chatloop/pbx"
)

// DataMessage is a read-only view of a message published to a topic.
type DataMessage struct {
	data *pbx.ServerData
}

func newDataMessage(data *pbx.ServerData) *DataMessage {
	return &DataMessage{data: data}
}

// Topic is the topic the message was published to.
func (x *DataMessage) Topic() string { return x.data.Topic }

// FromUserID is the id of the user who published the message.
func (x *DataMessage) FromUserID() string { return x.data.FromUserID }

// ID is the sequence id of the message, within its topic.
func (x *DataMessage) ID() int32 { return x.data.SeqID }

// Timestamp is when the message was published.
func (x *DataMessage) Timestamp() time.Time { return millisTime(x.data.Timestamp) }

// DeletedAt is when the message was deleted, or the zero time.
func (x *DataMessage) DeletedAt() time.Time { return millisTime(x.data.DeletedAt) }

// Content returns the raw message content.
func (x *DataMessage) Content() []byte { return x.data.Content }

// ContentString decodes content published as a JSON string, see
// Session.PublishString.
func (x *DataMessage) ContentString() (string, error) {
	var s string
	if err := json.Unmarshal(x.data.Content, &s); err != nil {
		return "", err
	}
	return s, nil
}

// Headers returns the message head. Values are JSON-encoded.
func (x *DataMessage) Headers() map[string][]byte { return x.data.Head }

// Header decodes the head value named key into v, reporting false if absent.
func (x *DataMessage) Header(key string, v any) (bool, error) {
	b, ok := x.data.Head[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

// Subscription is a read-only view of a topic subscription. From the
// perspective of a topic it describes a subscribed user; from the "me" or
// "fnd" topics it describes a topic or a user.
type Subscription struct {
	sub *pbx.TopicSub
}

// UserID is the subscribed user, empty for topic entries.
func (x *Subscription) UserID() string { return x.sub.UserID }

// Topic is the subscribed topic, empty for user entries.
func (x *Subscription) Topic() string { return x.sub.Topic }

// LastMessageID is the sequence id of the last message in the topic.
func (x *Subscription) LastMessageID() int32 { return x.sub.SeqID }

// LastMessageAt is when the last message was published, or the zero time.
func (x *Subscription) LastMessageAt() time.Time { return millisTime(x.sub.TouchedAt) }

// LastSeenAt is when the peer of a p2p topic was last online, or the zero
// time.
func (x *Subscription) LastSeenAt() time.Time { return millisTime(x.sub.LastSeenTime) }

// LastSeenUserAgent is the user agent of the peer of a p2p topic when it was
// last online.
func (x *Subscription) LastSeenUserAgent() string { return x.sub.LastSeenUserAgent }

func (x *Subscription) Online() bool    { return x.sub.Online }
func (x *Subscription) ReadID() int32   { return x.sub.ReadID }
func (x *Subscription) RecvID() int32   { return x.sub.RecvID }
func (x *Subscription) Public() []byte  { return x.sub.Public }
func (x *Subscription) Private() []byte { return x.sub.Private }

func newSubscriptions(subs []*pbx.TopicSub) []*Subscription {
	out := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub != nil {
			out = append(out, &Subscription{sub: sub})
		}
	}
	return out
}

// TopicDescription is a read-only view of a topic's metadata.
type TopicDescription struct {
	desc *pbx.TopicDesc
	name string
}

func newTopicDescription(name string, desc *pbx.TopicDesc) *TopicDescription {
	if desc == nil {
		desc = new(pbx.TopicDesc)
	}
	return &TopicDescription{name: name, desc: desc}
}

// Name is the topic name, from the perspective of the current session. For a
// p2p topic, this is the id of the peer.
func (x *TopicDescription) Name() string { return x.name }

func (x *TopicDescription) CreatedAt() time.Time { return millisTime(x.desc.CreatedAt) }
func (x *TopicDescription) UpdatedAt() time.Time { return millisTime(x.desc.UpdatedAt) }

// DefaultAuthAccess is the default access mode for authenticated users.
func (x *TopicDescription) DefaultAuthAccess() string {
	if x.desc.Defacs == nil {
		return ""
	}
	return x.desc.Defacs.Auth
}

// DefaultAnonAccess is the default access mode for anonymous users.
func (x *TopicDescription) DefaultAnonAccess() string {
	if x.desc.Defacs == nil {
		return ""
	}
	return x.desc.Defacs.Anon
}

// WantAccess is the access mode requested by the current user.
func (x *TopicDescription) WantAccess() string {
	if x.desc.Acs == nil {
		return ""
	}
	return x.desc.Acs.Want
}

// GivenAccess is the access mode granted to the current user.
func (x *TopicDescription) GivenAccess() string {
	if x.desc.Acs == nil {
		return ""
	}
	return x.desc.Acs.Given
}

func (x *TopicDescription) LastMessageID() int32        { return x.desc.SeqID }
func (x *TopicDescription) ReadMessageID() int32        { return x.desc.ReadID }
func (x *TopicDescription) ReceivedMessageID() int32    { return x.desc.RecvID }
func (x *TopicDescription) LastDeletedMessageID() int32 { return x.desc.DelID }
func (x *TopicDescription) Public() []byte              { return x.desc.Public }
func (x *TopicDescription) Private() []byte             { return x.desc.Private }

func millisTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func timeMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
