package pbx

import (
	"encoding/json"
	"fmt"
)

type (
	// ServerPayload is implemented by every server-to-client payload kind.
	ServerPayload interface {
		serverKind() string
	}

	// ServerCtrl is the generic reply to a request, correlated by ID.
	ServerCtrl struct {
		ID     string
		Topic  string
		Code   int32
		Text   string
		Params map[string][]byte
	}

	// ServerData is a published message, pushed to attached sessions.
	ServerData struct {
		Topic      string
		FromUserID string
		Timestamp  int64
		DeletedAt  int64
		SeqID      int32
		Head       map[string][]byte
		Content    []byte
	}

	// ServerPres is a presence notification.
	ServerPres struct {
		Topic        string
		Src          string
		What         string
		UserAgent    string
		SeqID        int32
		DelID        int32
		DelSeq       []SeqRange
		TargetUserID string
		ActorUserID  string
		Acs          *AccessMode
	}

	// ServerMeta is the reply to a get (or a sub carrying a get query),
	// correlated by ID.
	ServerMeta struct {
		ID    string
		Topic string
		Desc  *TopicDesc
		Sub   []*TopicSub
		Del   *DelValues
		Tags  []string
	}

	// ServerInfo forwards a ClientNote from another session.
	ServerInfo struct {
		Topic      string
		FromUserID string
		What       NoteWhat
		SeqID      int32
	}
)

const (
	kindCtrl = "ctrl"
	kindData = "data"
	kindPres = "pres"
	kindMeta = "meta"
	kindInfo = "info"
)

func (*ServerCtrl) serverKind() string { return kindCtrl }
func (*ServerData) serverKind() string { return kindData }
func (*ServerPres) serverKind() string { return kindPres }
func (*ServerMeta) serverKind() string { return kindMeta }
func (*ServerInfo) serverKind() string { return kindInfo }

// Kind returns the JSON key of the payload, e.g. "ctrl", or "" if unset.
func (x *ServerMsg) Kind() string {
	if x == nil || x.Payload == nil {
		return ""
	}
	return x.Payload.serverKind()
}

// ReplyID returns the correlation id of a ctrl or meta payload, and false
// for every other kind.
func (x *ServerMsg) ReplyID() (string, bool) {
	if x == nil {
		return "", false
	}
	switch p := x.Payload.(type) {
	case *ServerCtrl:
		return p.ID, true
	case *ServerMeta:
		return p.ID, true
	default:
		return "", false
	}
}

// Param decodes the JSON-encoded param named key into v. It reports false if
// the param is absent.
func (x *ServerCtrl) Param(key string, v any) (bool, error) {
	b, ok := x.Params[key]
	if !ok || len(b) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return true, fmt.Errorf("pbx: ctrl param %q: %w", key, err)
	}
	return true, nil
}
