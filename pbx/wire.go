package pbx

import (
	"encoding/json"
	"time"
)

// JSON forms of the payloads, named after the keys used on the wire.
type (
	hiJSON struct {
		ID        string `json:"id,omitempty"`
		UserAgent string `json:"ua,omitempty"`
		Ver       string `json:"ver,omitempty"`
		DeviceID  string `json:"dev,omitempty"`
		Lang      string `json:"lang,omitempty"`
		Platform  string `json:"platf,omitempty"`
	}

	accJSON struct {
		ID     string       `json:"id,omitempty"`
		User   string       `json:"user,omitempty"`
		Scheme string       `json:"scheme,omitempty"`
		Secret []byte       `json:"secret,omitempty"`
		Login  bool         `json:"login,omitempty"`
		Tags   []string     `json:"tags,omitempty"`
		Desc   *setDescJSON `json:"desc,omitempty"`
	}

	loginJSON struct {
		ID     string `json:"id,omitempty"`
		Scheme string `json:"scheme,omitempty"`
		Secret []byte `json:"secret,omitempty"`
	}

	subJSON struct {
		ID    string        `json:"id,omitempty"`
		Topic string        `json:"topic,omitempty"`
		Set   *setQueryJSON `json:"set,omitempty"`
		Get   *getQueryJSON `json:"get,omitempty"`
	}

	leaveJSON struct {
		ID    string `json:"id,omitempty"`
		Topic string `json:"topic,omitempty"`
		Unsub bool   `json:"unsub,omitempty"`
	}

	pubJSON struct {
		ID      string                     `json:"id,omitempty"`
		Topic   string                     `json:"topic,omitempty"`
		NoEcho  bool                       `json:"noecho,omitempty"`
		Head    map[string]json.RawMessage `json:"head,omitempty"`
		Content json.RawMessage            `json:"content,omitempty"`
	}

	// get and set queries are inlined
	getJSON struct {
		ID    string `json:"id,omitempty"`
		Topic string `json:"topic,omitempty"`
		getQueryJSON
	}

	setJSON struct {
		ID    string `json:"id,omitempty"`
		Topic string `json:"topic,omitempty"`
		setQueryJSON
	}

	delJSON struct {
		ID     string     `json:"id,omitempty"`
		Topic  string     `json:"topic,omitempty"`
		What   DelWhat    `json:"what,omitempty"`
		DelSeq []SeqRange `json:"delseq,omitempty"`
		User   string     `json:"user,omitempty"`
		Hard   bool       `json:"hard,omitempty"`
	}

	noteJSON struct {
		Topic string   `json:"topic,omitempty"`
		What  NoteWhat `json:"what,omitempty"`
		SeqID int32    `json:"seq,omitempty"`
	}

	getQueryJSON struct {
		What string       `json:"what,omitempty"`
		Desc *getOptsJSON `json:"desc,omitempty"`
		Sub  *getOptsJSON `json:"sub,omitempty"`
		Data *getOptsJSON `json:"data,omitempty"`
	}

	getOptsJSON struct {
		IfModifiedSince *time.Time `json:"ims,omitempty"`
		User            string     `json:"user,omitempty"`
		Topic           string     `json:"topic,omitempty"`
		SinceID         int32      `json:"since,omitempty"`
		BeforeID        int32      `json:"before,omitempty"`
		Limit           int32      `json:"limit,omitempty"`
	}

	setQueryJSON struct {
		Desc *setDescJSON `json:"desc,omitempty"`
		Sub  *setSubJSON  `json:"sub,omitempty"`
		Tags []string     `json:"tags,omitempty"`
	}

	setDescJSON struct {
		DefaultAcs *DefaultAcsMode `json:"defacs,omitempty"`
		Public     json.RawMessage `json:"public,omitempty"`
		Private    json.RawMessage `json:"private,omitempty"`
	}

	setSubJSON struct {
		User string `json:"user,omitempty"`
		Mode string `json:"mode,omitempty"`
	}

	ctrlJSON struct {
		ID     string                     `json:"id,omitempty"`
		Topic  string                     `json:"topic,omitempty"`
		Code   int32                      `json:"code"`
		Text   string                     `json:"text,omitempty"`
		Params map[string]json.RawMessage `json:"params,omitempty"`
	}

	dataJSON struct {
		Topic     string                     `json:"topic,omitempty"`
		From      string                     `json:"from,omitempty"`
		Timestamp *time.Time                 `json:"ts,omitempty"`
		DeletedAt *time.Time                 `json:"deleted,omitempty"`
		SeqID     int32                      `json:"seq,omitempty"`
		Head      map[string]json.RawMessage `json:"head,omitempty"`
		Content   json.RawMessage            `json:"content,omitempty"`
	}

	presJSON struct {
		Topic     string      `json:"topic,omitempty"`
		Src       string      `json:"src,omitempty"`
		What      string      `json:"what,omitempty"`
		UserAgent string      `json:"ua,omitempty"`
		SeqID     int32       `json:"seq,omitempty"`
		DelID     int32       `json:"clear,omitempty"`
		DelSeq    []SeqRange  `json:"delseq,omitempty"`
		Target    string      `json:"tgt,omitempty"`
		Actor     string      `json:"act,omitempty"`
		Acs       *AccessMode `json:"dacs,omitempty"`
	}

	metaJSON struct {
		ID    string          `json:"id,omitempty"`
		Topic string          `json:"topic,omitempty"`
		Desc  *topicDescJSON  `json:"desc,omitempty"`
		Sub   []*topicSubJSON `json:"sub,omitempty"`
		Del   *delValuesJSON  `json:"del,omitempty"`
		Tags  []string        `json:"tags,omitempty"`
	}

	infoJSON struct {
		Topic string   `json:"topic,omitempty"`
		From  string   `json:"from,omitempty"`
		What  NoteWhat `json:"what,omitempty"`
		SeqID int32    `json:"seq,omitempty"`
	}

	topicDescJSON struct {
		CreatedAt *time.Time      `json:"created,omitempty"`
		UpdatedAt *time.Time      `json:"updated,omitempty"`
		TouchedAt *time.Time      `json:"touched,omitempty"`
		Defacs    *DefaultAcsMode `json:"defacs,omitempty"`
		Acs       *AccessMode     `json:"acs,omitempty"`
		SeqID     int32           `json:"seq,omitempty"`
		ReadID    int32           `json:"read,omitempty"`
		RecvID    int32           `json:"recv,omitempty"`
		DelID     int32           `json:"clear,omitempty"`
		Public    json.RawMessage `json:"public,omitempty"`
		Private   json.RawMessage `json:"private,omitempty"`
	}

	topicSubJSON struct {
		UpdatedAt *time.Time      `json:"updated,omitempty"`
		DeletedAt *time.Time      `json:"deleted,omitempty"`
		Online    bool            `json:"online,omitempty"`
		Acs       *AccessMode     `json:"acs,omitempty"`
		ReadID    int32           `json:"read,omitempty"`
		RecvID    int32           `json:"recv,omitempty"`
		Public    json.RawMessage `json:"public,omitempty"`
		Private   json.RawMessage `json:"private,omitempty"`
		User      string          `json:"user,omitempty"`
		Topic     string          `json:"topic,omitempty"`
		TouchedAt *time.Time      `json:"touched,omitempty"`
		SeqID     int32           `json:"seq,omitempty"`
		DelID     int32           `json:"clear,omitempty"`
		Seen      *lastSeenJSON   `json:"seen,omitempty"`
	}

	lastSeenJSON struct {
		When      *time.Time `json:"when,omitempty"`
		UserAgent string     `json:"ua,omitempty"`
	}

	delValuesJSON struct {
		DelID  int32      `json:"clear,omitempty"`
		DelSeq []SeqRange `json:"delseq,omitempty"`
	}
)

func encodeClientPayload(payload ClientPayload) any {
	switch p := payload.(type) {
	case *ClientHi:
		return &hiJSON{ID: p.ID, UserAgent: p.UserAgent, Ver: p.Ver, DeviceID: p.DeviceID, Lang: p.Lang, Platform: p.Platform}
	case *ClientAcc:
		return &accJSON{ID: p.ID, User: p.UserID, Scheme: p.Scheme, Secret: p.Secret, Login: p.Login, Tags: p.Tags, Desc: encodeSetDesc(p.Desc)}
	case *ClientLogin:
		return &loginJSON{ID: p.ID, Scheme: p.Scheme, Secret: p.Secret}
	case *ClientSub:
		return &subJSON{ID: p.ID, Topic: p.Topic, Set: encodeSetQuery(p.SetQuery), Get: encodeGetQuery(p.GetQuery)}
	case *ClientLeave:
		return &leaveJSON{ID: p.ID, Topic: p.Topic, Unsub: p.Unsub}
	case *ClientPub:
		return &pubJSON{ID: p.ID, Topic: p.Topic, NoEcho: p.NoEcho, Head: encodeRawMap(p.Head), Content: p.Content}
	case *ClientGet:
		x := &getJSON{ID: p.ID, Topic: p.Topic}
		if q := encodeGetQuery(p.Query); q != nil {
			x.getQueryJSON = *q
		}
		return x
	case *ClientSet:
		x := &setJSON{ID: p.ID, Topic: p.Topic}
		if q := encodeSetQuery(p.Query); q != nil {
			x.setQueryJSON = *q
		}
		return x
	case *ClientDel:
		return &delJSON{ID: p.ID, Topic: p.Topic, What: p.What, DelSeq: p.DelSeq, User: p.UserID, Hard: p.Hard}
	case *ClientNote:
		return &noteJSON{Topic: p.Topic, What: p.What, SeqID: p.SeqID}
	default:
		return nil
	}
}

func decodeClientPayload(kind string, raw json.RawMessage) (ClientPayload, error) {
	switch kind {
	case kindHi:
		var x hiJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ClientHi{ID: x.ID, UserAgent: x.UserAgent, Ver: x.Ver, DeviceID: x.DeviceID, Lang: x.Lang, Platform: x.Platform}, nil
	case kindAcc:
		var x accJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ClientAcc{ID: x.ID, UserID: x.User, Scheme: x.Scheme, Secret: x.Secret, Login: x.Login, Tags: x.Tags, Desc: decodeSetDesc(x.Desc)}, nil
	case kindLogin:
		var x loginJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ClientLogin{ID: x.ID, Scheme: x.Scheme, Secret: x.Secret}, nil
	case kindSub:
		var x subJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ClientSub{ID: x.ID, Topic: x.Topic, SetQuery: decodeSetQuery(x.Set), GetQuery: decodeGetQuery(x.Get)}, nil
	case kindLeave:
		var x leaveJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ClientLeave{ID: x.ID, Topic: x.Topic, Unsub: x.Unsub}, nil
	case kindPub:
		var x pubJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ClientPub{ID: x.ID, Topic: x.Topic, NoEcho: x.NoEcho, Head: decodeRawMap(x.Head), Content: rawBytes(x.Content)}, nil
	case kindGet:
		var x getJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ClientGet{ID: x.ID, Topic: x.Topic, Query: decodeGetQuery(&x.getQueryJSON)}, nil
	case kindSet:
		var x setJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ClientSet{ID: x.ID, Topic: x.Topic, Query: decodeSetQuery(&x.setQueryJSON)}, nil
	case kindDel:
		var x delJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ClientDel{ID: x.ID, Topic: x.Topic, What: x.What, DelSeq: x.DelSeq, UserID: x.User, Hard: x.Hard}, nil
	case kindNote:
		var x noteJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ClientNote{Topic: x.Topic, What: x.What, SeqID: x.SeqID}, nil
	default:
		return nil, &UnknownKindError{Kind: kind}
	}
}

func encodeServerPayload(payload ServerPayload) any {
	switch p := payload.(type) {
	case *ServerCtrl:
		return &ctrlJSON{ID: p.ID, Topic: p.Topic, Code: p.Code, Text: p.Text, Params: encodeRawMap(p.Params)}
	case *ServerData:
		return &dataJSON{
			Topic:     p.Topic,
			From:      p.FromUserID,
			Timestamp: encodeTime(p.Timestamp),
			DeletedAt: encodeTime(p.DeletedAt),
			SeqID:     p.SeqID,
			Head:      encodeRawMap(p.Head),
			Content:   p.Content,
		}
	case *ServerPres:
		return &presJSON{
			Topic:     p.Topic,
			Src:       p.Src,
			What:      p.What,
			UserAgent: p.UserAgent,
			SeqID:     p.SeqID,
			DelID:     p.DelID,
			DelSeq:    p.DelSeq,
			Target:    p.TargetUserID,
			Actor:     p.ActorUserID,
			Acs:       p.Acs,
		}
	case *ServerMeta:
		x := &metaJSON{ID: p.ID, Topic: p.Topic, Tags: p.Tags}
		if d := p.Desc; d != nil {
			x.Desc = &topicDescJSON{
				CreatedAt: encodeTime(d.CreatedAt),
				UpdatedAt: encodeTime(d.UpdatedAt),
				TouchedAt: encodeTime(d.TouchedAt),
				Defacs:    d.Defacs,
				Acs:       d.Acs,
				SeqID:     d.SeqID,
				ReadID:    d.ReadID,
				RecvID:    d.RecvID,
				DelID:     d.DelID,
				Public:    d.Public,
				Private:   d.Private,
			}
		}
		for _, sub := range p.Sub {
			s := &topicSubJSON{
				UpdatedAt: encodeTime(sub.UpdatedAt),
				DeletedAt: encodeTime(sub.DeletedAt),
				Online:    sub.Online,
				Acs:       sub.Acs,
				ReadID:    sub.ReadID,
				RecvID:    sub.RecvID,
				Public:    sub.Public,
				Private:   sub.Private,
				User:      sub.UserID,
				Topic:     sub.Topic,
				TouchedAt: encodeTime(sub.TouchedAt),
				SeqID:     sub.SeqID,
				DelID:     sub.DelID,
			}
			if sub.LastSeenTime != 0 || sub.LastSeenUserAgent != "" {
				s.Seen = &lastSeenJSON{When: encodeTime(sub.LastSeenTime), UserAgent: sub.LastSeenUserAgent}
			}
			x.Sub = append(x.Sub, s)
		}
		if p.Del != nil {
			x.Del = &delValuesJSON{DelID: p.Del.DelID, DelSeq: p.Del.DelSeq}
		}
		return x
	case *ServerInfo:
		return &infoJSON{Topic: p.Topic, From: p.FromUserID, What: p.What, SeqID: p.SeqID}
	default:
		return nil
	}
}

func decodeServerPayload(kind string, raw json.RawMessage) (ServerPayload, error) {
	switch kind {
	case kindCtrl:
		var x ctrlJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ServerCtrl{ID: x.ID, Topic: x.Topic, Code: x.Code, Text: x.Text, Params: decodeRawMap(x.Params)}, nil
	case kindData:
		var x dataJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ServerData{
			Topic:      x.Topic,
			FromUserID: x.From,
			Timestamp:  decodeTime(x.Timestamp),
			DeletedAt:  decodeTime(x.DeletedAt),
			SeqID:      x.SeqID,
			Head:       decodeRawMap(x.Head),
			Content:    rawBytes(x.Content),
		}, nil
	case kindPres:
		var x presJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ServerPres{
			Topic:        x.Topic,
			Src:          x.Src,
			What:         x.What,
			UserAgent:    x.UserAgent,
			SeqID:        x.SeqID,
			DelID:        x.DelID,
			DelSeq:       x.DelSeq,
			TargetUserID: x.Target,
			ActorUserID:  x.Actor,
			Acs:          x.Acs,
		}, nil
	case kindMeta:
		var x metaJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		meta := &ServerMeta{ID: x.ID, Topic: x.Topic, Tags: x.Tags}
		if d := x.Desc; d != nil {
			meta.Desc = &TopicDesc{
				CreatedAt: decodeTime(d.CreatedAt),
				UpdatedAt: decodeTime(d.UpdatedAt),
				TouchedAt: decodeTime(d.TouchedAt),
				Defacs:    d.Defacs,
				Acs:       d.Acs,
				SeqID:     d.SeqID,
				ReadID:    d.ReadID,
				RecvID:    d.RecvID,
				DelID:     d.DelID,
				Public:    rawBytes(d.Public),
				Private:   rawBytes(d.Private),
			}
		}
		for _, s := range x.Sub {
			if s == nil {
				continue
			}
			sub := &TopicSub{
				UpdatedAt: decodeTime(s.UpdatedAt),
				DeletedAt: decodeTime(s.DeletedAt),
				Online:    s.Online,
				Acs:       s.Acs,
				ReadID:    s.ReadID,
				RecvID:    s.RecvID,
				Public:    rawBytes(s.Public),
				Private:   rawBytes(s.Private),
				UserID:    s.User,
				Topic:     s.Topic,
				TouchedAt: decodeTime(s.TouchedAt),
				SeqID:     s.SeqID,
				DelID:     s.DelID,
			}
			if s.Seen != nil {
				sub.LastSeenTime = decodeTime(s.Seen.When)
				sub.LastSeenUserAgent = s.Seen.UserAgent
			}
			meta.Sub = append(meta.Sub, sub)
		}
		if x.Del != nil {
			meta.Del = &DelValues{DelID: x.Del.DelID, DelSeq: x.Del.DelSeq}
		}
		return meta, nil
	case kindInfo:
		var x infoJSON
		if err := json.Unmarshal(raw, &x); err != nil {
			return nil, err
		}
		return &ServerInfo{Topic: x.Topic, FromUserID: x.From, What: x.What, SeqID: x.SeqID}, nil
	default:
		return nil, &UnknownKindError{Kind: kind}
	}
}

func encodeGetQuery(q *GetQuery) *getQueryJSON {
	if q == nil {
		return nil
	}
	return &getQueryJSON{What: q.What, Desc: encodeGetOpts(q.Desc), Sub: encodeGetOpts(q.Sub), Data: encodeGetOpts(q.Data)}
}

func decodeGetQuery(q *getQueryJSON) *GetQuery {
	if q == nil || (q.What == "" && q.Desc == nil && q.Sub == nil && q.Data == nil) {
		return nil
	}
	return &GetQuery{What: q.What, Desc: decodeGetOpts(q.Desc), Sub: decodeGetOpts(q.Sub), Data: decodeGetOpts(q.Data)}
}

func encodeGetOpts(o *GetOpts) *getOptsJSON {
	if o == nil {
		return nil
	}
	return &getOptsJSON{
		IfModifiedSince: encodeTime(o.IfModifiedSince),
		User:            o.User,
		Topic:           o.Topic,
		SinceID:         o.SinceID,
		BeforeID:        o.BeforeID,
		Limit:           o.Limit,
	}
}

func decodeGetOpts(o *getOptsJSON) *GetOpts {
	if o == nil {
		return nil
	}
	return &GetOpts{
		IfModifiedSince: decodeTime(o.IfModifiedSince),
		User:            o.User,
		Topic:           o.Topic,
		SinceID:         o.SinceID,
		BeforeID:        o.BeforeID,
		Limit:           o.Limit,
	}
}

func encodeSetQuery(q *SetQuery) *setQueryJSON {
	if q == nil {
		return nil
	}
	x := &setQueryJSON{Desc: encodeSetDesc(q.Desc), Tags: q.Tags}
	if q.Sub != nil {
		x.Sub = &setSubJSON{User: q.Sub.UserID, Mode: q.Sub.Mode}
	}
	return x
}

func decodeSetQuery(q *setQueryJSON) *SetQuery {
	if q == nil || (q.Desc == nil && q.Sub == nil && q.Tags == nil) {
		return nil
	}
	x := &SetQuery{Desc: decodeSetDesc(q.Desc), Tags: q.Tags}
	if q.Sub != nil {
		x.Sub = &SetSub{UserID: q.Sub.User, Mode: q.Sub.Mode}
	}
	return x
}

func encodeSetDesc(d *SetDesc) *setDescJSON {
	if d == nil {
		return nil
	}
	return &setDescJSON{DefaultAcs: d.DefaultAcs, Public: d.Public, Private: d.Private}
}

func decodeSetDesc(d *setDescJSON) *SetDesc {
	if d == nil {
		return nil
	}
	return &SetDesc{DefaultAcs: d.DefaultAcs, Public: rawBytes(d.Public), Private: rawBytes(d.Private)}
}

func encodeRawMap(m map[string][]byte) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	x := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		if len(v) == 0 {
			v = []byte("null")
		}
		x[k] = v
	}
	return x
}

func decodeRawMap(m map[string]json.RawMessage) map[string][]byte {
	if m == nil {
		return nil
	}
	x := make(map[string][]byte, len(m))
	for k, v := range m {
		x[k] = rawBytes(v)
	}
	return x
}

// rawBytes maps absent and null values to nil.
func rawBytes(b json.RawMessage) []byte {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return []byte(b)
}

func encodeTime(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

func decodeTime(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
