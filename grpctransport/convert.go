package grpctransport

import (
	"strings"

	"github.com/joeycumines/go-chatloop/pbx"
	pb "github.com/tinode/chat/pbx"
)

// EncodeClientMsg converts msg to its protobuf form, failing with
// pbx.ErrNoPayload if it has no valid payload.
func EncodeClientMsg(msg *pbx.ClientMsg) (*pb.ClientMsg, error) {
	if msg == nil || !pbx.IsValidPayload(msg.Payload) {
		return nil, pbx.ErrNoPayload
	}
	var out pb.ClientMsg
	switch p := msg.Payload.(type) {
	case *pbx.ClientHi:
		out.Message = &pb.ClientMsg_Hi{Hi: &pb.ClientHi{
			Id:        p.ID,
			UserAgent: p.UserAgent,
			Ver:       p.Ver,
			DeviceId:  p.DeviceID,
			Lang:      p.Lang,
			Platform:  p.Platform,
		}}
	case *pbx.ClientAcc:
		out.Message = &pb.ClientMsg_Acc{Acc: &pb.ClientAcc{
			Id:     p.ID,
			UserId: p.UserID,
			Scheme: p.Scheme,
			Secret: p.Secret,
			Login:  p.Login,
			Tags:   p.Tags,
			Desc:   encodeSetDesc(p.Desc),
		}}
	case *pbx.ClientLogin:
		out.Message = &pb.ClientMsg_Login{Login: &pb.ClientLogin{Id: p.ID, Scheme: p.Scheme, Secret: p.Secret}}
	case *pbx.ClientSub:
		out.Message = &pb.ClientMsg_Sub{Sub: &pb.ClientSub{
			Id:       p.ID,
			Topic:    p.Topic,
			SetQuery: encodeSetQuery(p.SetQuery),
			GetQuery: encodeGetQuery(p.GetQuery),
		}}
	case *pbx.ClientLeave:
		out.Message = &pb.ClientMsg_Leave{Leave: &pb.ClientLeave{Id: p.ID, Topic: p.Topic, Unsub: p.Unsub}}
	case *pbx.ClientPub:
		out.Message = &pb.ClientMsg_Pub{Pub: &pb.ClientPub{
			Id:      p.ID,
			Topic:   p.Topic,
			NoEcho:  p.NoEcho,
			Head:    p.Head,
			Content: p.Content,
		}}
	case *pbx.ClientGet:
		out.Message = &pb.ClientMsg_Get{Get: &pb.ClientGet{Id: p.ID, Topic: p.Topic, Query: encodeGetQuery(p.Query)}}
	case *pbx.ClientSet:
		out.Message = &pb.ClientMsg_Set{Set: &pb.ClientSet{Id: p.ID, Topic: p.Topic, Query: encodeSetQuery(p.Query)}}
	case *pbx.ClientDel:
		out.Message = &pb.ClientMsg_Del{Del: &pb.ClientDel{
			Id:     p.ID,
			Topic:  p.Topic,
			What:   pb.ClientDel_What(pb.ClientDel_What_value[strings.ToUpper(string(p.What))]),
			DelSeq: encodeSeqRanges(p.DelSeq),
			UserId: p.UserID,
			Hard:   p.Hard,
		}}
	case *pbx.ClientNote:
		out.Message = &pb.ClientMsg_Note{Note: &pb.ClientNote{
			Topic: p.Topic,
			What:  encodeNoteWhat(p.What),
			SeqId: p.SeqID,
		}}
	default:
		return nil, pbx.ErrNoPayload
	}
	return &out, nil
}

// DecodeClientMsg converts msg from its protobuf form. The payload is nil if
// the message carries none.
func DecodeClientMsg(msg *pb.ClientMsg) *pbx.ClientMsg {
	var out pbx.ClientMsg
	switch m := msg.GetMessage().(type) {
	case *pb.ClientMsg_Hi:
		p := m.Hi
		out.Payload = &pbx.ClientHi{
			ID:        p.GetId(),
			UserAgent: p.GetUserAgent(),
			Ver:       p.GetVer(),
			DeviceID:  p.GetDeviceId(),
			Lang:      p.GetLang(),
			Platform:  p.GetPlatform(),
		}
	case *pb.ClientMsg_Acc:
		p := m.Acc
		out.Payload = &pbx.ClientAcc{
			ID:     p.GetId(),
			UserID: p.GetUserId(),
			Scheme: p.GetScheme(),
			Secret: p.GetSecret(),
			Login:  p.GetLogin(),
			Tags:   p.GetTags(),
			Desc:   decodeSetDesc(p.GetDesc()),
		}
	case *pb.ClientMsg_Login:
		p := m.Login
		out.Payload = &pbx.ClientLogin{ID: p.GetId(), Scheme: p.GetScheme(), Secret: p.GetSecret()}
	case *pb.ClientMsg_Sub:
		p := m.Sub
		out.Payload = &pbx.ClientSub{
			ID:       p.GetId(),
			Topic:    p.GetTopic(),
			SetQuery: decodeSetQuery(p.GetSetQuery()),
			GetQuery: decodeGetQuery(p.GetGetQuery()),
		}
	case *pb.ClientMsg_Leave:
		p := m.Leave
		out.Payload = &pbx.ClientLeave{ID: p.GetId(), Topic: p.GetTopic(), Unsub: p.GetUnsub()}
	case *pb.ClientMsg_Pub:
		p := m.Pub
		out.Payload = &pbx.ClientPub{
			ID:      p.GetId(),
			Topic:   p.GetTopic(),
			NoEcho:  p.GetNoEcho(),
			Head:    p.GetHead(),
			Content: p.GetContent(),
		}
	case *pb.ClientMsg_Get:
		p := m.Get
		out.Payload = &pbx.ClientGet{ID: p.GetId(), Topic: p.GetTopic(), Query: decodeGetQuery(p.GetQuery())}
	case *pb.ClientMsg_Set:
		p := m.Set
		out.Payload = &pbx.ClientSet{ID: p.GetId(), Topic: p.GetTopic(), Query: decodeSetQuery(p.GetQuery())}
	case *pb.ClientMsg_Del:
		p := m.Del
		out.Payload = &pbx.ClientDel{
			ID:     p.GetId(),
			Topic:  p.GetTopic(),
			What:   pbx.DelWhat(enumName(pb.ClientDel_What_name, int32(p.GetWhat()))),
			DelSeq: decodeSeqRanges(p.GetDelSeq()),
			UserID: p.GetUserId(),
			Hard:   p.GetHard(),
		}
	case *pb.ClientMsg_Note:
		p := m.Note
		out.Payload = &pbx.ClientNote{
			Topic: p.GetTopic(),
			What:  pbx.NoteWhat(enumName(pb.InfoNote_name, int32(p.GetWhat()))),
			SeqID: p.GetSeqId(),
		}
	}
	return &out
}

// EncodeServerMsg converts msg to its protobuf form, failing with
// pbx.ErrNoPayload if it has no valid payload.
func EncodeServerMsg(msg *pbx.ServerMsg) (*pb.ServerMsg, error) {
	if msg == nil || !pbx.IsValidPayload(msg.Payload) {
		return nil, pbx.ErrNoPayload
	}
	var out pb.ServerMsg
	switch p := msg.Payload.(type) {
	case *pbx.ServerCtrl:
		out.Message = &pb.ServerMsg_Ctrl{Ctrl: &pb.ServerCtrl{
			Id:     p.ID,
			Topic:  p.Topic,
			Code:   p.Code,
			Text:   p.Text,
			Params: p.Params,
		}}
	case *pbx.ServerData:
		out.Message = &pb.ServerMsg_Data{Data: &pb.ServerData{
			Topic:      p.Topic,
			FromUserId: p.FromUserID,
			Timestamp:  p.Timestamp,
			DeletedAt:  p.DeletedAt,
			SeqId:      p.SeqID,
			Head:       p.Head,
			Content:    p.Content,
		}}
	case *pbx.ServerPres:
		out.Message = &pb.ServerMsg_Pres{Pres: &pb.ServerPres{
			Topic:        p.Topic,
			Src:          p.Src,
			What:         pb.ServerPres_What(pb.ServerPres_What_value[strings.ToUpper(p.What)]),
			UserAgent:    p.UserAgent,
			SeqId:        p.SeqID,
			DelId:        p.DelID,
			DelSeq:       encodeSeqRanges(p.DelSeq),
			TargetUserId: p.TargetUserID,
			ActorUserId:  p.ActorUserID,
			Acs:          encodeAccessMode(p.Acs),
		}}
	case *pbx.ServerMeta:
		meta := &pb.ServerMeta{Id: p.ID, Topic: p.Topic, Tags: p.Tags}
		if d := p.Desc; d != nil {
			meta.Desc = &pb.TopicDesc{
				CreatedAt: d.CreatedAt,
				UpdatedAt: d.UpdatedAt,
				TouchedAt: d.TouchedAt,
				Defacs:    encodeDefaultAcs(d.Defacs),
				Acs:       encodeAccessMode(d.Acs),
				SeqId:     d.SeqID,
				ReadId:    d.ReadID,
				RecvId:    d.RecvID,
				DelId:     d.DelID,
				Public:    d.Public,
				Private:   d.Private,
			}
		}
		for _, s := range p.Sub {
			meta.Sub = append(meta.Sub, &pb.TopicSub{
				UpdatedAt:         s.UpdatedAt,
				DeletedAt:         s.DeletedAt,
				Online:            s.Online,
				Acs:               encodeAccessMode(s.Acs),
				ReadId:            s.ReadID,
				RecvId:            s.RecvID,
				Public:            s.Public,
				Private:           s.Private,
				UserId:            s.UserID,
				Topic:             s.Topic,
				TouchedAt:         s.TouchedAt,
				SeqId:             s.SeqID,
				DelId:             s.DelID,
				LastSeenTime:      s.LastSeenTime,
				LastSeenUserAgent: s.LastSeenUserAgent,
			})
		}
		if p.Del != nil {
			meta.Del = &pb.DelValues{DelId: p.Del.DelID, DelSeq: encodeSeqRanges(p.Del.DelSeq)}
		}
		out.Message = &pb.ServerMsg_Meta{Meta: meta}
	case *pbx.ServerInfo:
		out.Message = &pb.ServerMsg_Info{Info: &pb.ServerInfo{
			Topic:      p.Topic,
			FromUserId: p.FromUserID,
			What:       encodeNoteWhat(p.What),
			SeqId:      p.SeqID,
		}}
	default:
		return nil, pbx.ErrNoPayload
	}
	return &out, nil
}

// DecodeServerMsg converts msg from its protobuf form. The payload is nil if
// the message carries none, e.g. one of a kind this package does not model.
func DecodeServerMsg(msg *pb.ServerMsg) *pbx.ServerMsg {
	var out pbx.ServerMsg
	switch m := msg.GetMessage().(type) {
	case *pb.ServerMsg_Ctrl:
		p := m.Ctrl
		out.Payload = &pbx.ServerCtrl{
			ID:     p.GetId(),
			Topic:  p.GetTopic(),
			Code:   p.GetCode(),
			Text:   p.GetText(),
			Params: p.GetParams(),
		}
	case *pb.ServerMsg_Data:
		p := m.Data
		out.Payload = &pbx.ServerData{
			Topic:      p.GetTopic(),
			FromUserID: p.GetFromUserId(),
			Timestamp:  p.GetTimestamp(),
			DeletedAt:  p.GetDeletedAt(),
			SeqID:      p.GetSeqId(),
			Head:       p.GetHead(),
			Content:    p.GetContent(),
		}
	case *pb.ServerMsg_Pres:
		p := m.Pres
		out.Payload = &pbx.ServerPres{
			Topic:        p.GetTopic(),
			Src:          p.GetSrc(),
			What:         enumName(pb.ServerPres_What_name, int32(p.GetWhat())),
			UserAgent:    p.GetUserAgent(),
			SeqID:        p.GetSeqId(),
			DelID:        p.GetDelId(),
			DelSeq:       decodeSeqRanges(p.GetDelSeq()),
			TargetUserID: p.GetTargetUserId(),
			ActorUserID:  p.GetActorUserId(),
			Acs:          decodeAccessMode(p.GetAcs()),
		}
	case *pb.ServerMsg_Meta:
		p := m.Meta
		meta := &pbx.ServerMeta{ID: p.GetId(), Topic: p.GetTopic(), Tags: p.GetTags()}
		if d := p.GetDesc(); d != nil {
			meta.Desc = &pbx.TopicDesc{
				CreatedAt: d.GetCreatedAt(),
				UpdatedAt: d.GetUpdatedAt(),
				TouchedAt: d.GetTouchedAt(),
				Defacs:    decodeDefaultAcs(d.GetDefacs()),
				Acs:       decodeAccessMode(d.GetAcs()),
				SeqID:     d.GetSeqId(),
				ReadID:    d.GetReadId(),
				RecvID:    d.GetRecvId(),
				DelID:     d.GetDelId(),
				Public:    d.GetPublic(),
				Private:   d.GetPrivate(),
			}
		}
		for _, s := range p.GetSub() {
			meta.Sub = append(meta.Sub, &pbx.TopicSub{
				UpdatedAt:         s.GetUpdatedAt(),
				DeletedAt:         s.GetDeletedAt(),
				Online:            s.GetOnline(),
				Acs:               decodeAccessMode(s.GetAcs()),
				ReadID:            s.GetReadId(),
				RecvID:            s.GetRecvId(),
				Public:            s.GetPublic(),
				Private:           s.GetPrivate(),
				UserID:            s.GetUserId(),
				Topic:             s.GetTopic(),
				TouchedAt:         s.GetTouchedAt(),
				SeqID:             s.GetSeqId(),
				DelID:             s.GetDelId(),
				LastSeenTime:      s.GetLastSeenTime(),
				LastSeenUserAgent: s.GetLastSeenUserAgent(),
			})
		}
		if d := p.GetDel(); d != nil {
			meta.Del = &pbx.DelValues{DelID: d.GetDelId(), DelSeq: decodeSeqRanges(d.GetDelSeq())}
		}
		out.Payload = meta
	case *pb.ServerMsg_Info:
		p := m.Info
		out.Payload = &pbx.ServerInfo{
			Topic:      p.GetTopic(),
			FromUserID: p.GetFromUserId(),
			What:       pbx.NoteWhat(enumName(pb.InfoNote_name, int32(p.GetWhat()))),
			SeqID:      p.GetSeqId(),
		}
	}
	return &out
}

func encodeNoteWhat(what pbx.NoteWhat) pb.InfoNote {
	return pb.InfoNote(pb.InfoNote_value[strings.ToUpper(string(what))])
}

// enumName returns the lower case name of an enum value.
func enumName(names map[int32]string, v int32) string {
	return strings.ToLower(names[v])
}

func encodeGetQuery(q *pbx.GetQuery) *pb.GetQuery {
	if q == nil {
		return nil
	}
	return &pb.GetQuery{What: q.What, Desc: encodeGetOpts(q.Desc), Sub: encodeGetOpts(q.Sub), Data: encodeGetOpts(q.Data)}
}

func decodeGetQuery(q *pb.GetQuery) *pbx.GetQuery {
	if q == nil {
		return nil
	}
	return &pbx.GetQuery{What: q.GetWhat(), Desc: decodeGetOpts(q.GetDesc()), Sub: decodeGetOpts(q.GetSub()), Data: decodeGetOpts(q.GetData())}
}

func encodeGetOpts(o *pbx.GetOpts) *pb.GetOpts {
	if o == nil {
		return nil
	}
	return &pb.GetOpts{
		IfModifiedSince: o.IfModifiedSince,
		User:            o.User,
		Topic:           o.Topic,
		SinceId:         o.SinceID,
		BeforeId:        o.BeforeID,
		Limit:           o.Limit,
	}
}

func decodeGetOpts(o *pb.GetOpts) *pbx.GetOpts {
	if o == nil {
		return nil
	}
	return &pbx.GetOpts{
		IfModifiedSince: o.GetIfModifiedSince(),
		User:            o.GetUser(),
		Topic:           o.GetTopic(),
		SinceID:         o.GetSinceId(),
		BeforeID:        o.GetBeforeId(),
		Limit:           o.GetLimit(),
	}
}

func encodeSetQuery(q *pbx.SetQuery) *pb.SetQuery {
	if q == nil {
		return nil
	}
	out := &pb.SetQuery{Desc: encodeSetDesc(q.Desc), Tags: q.Tags}
	if q.Sub != nil {
		out.Sub = &pb.SetSub{UserId: q.Sub.UserID, Mode: q.Sub.Mode}
	}
	return out
}

func decodeSetQuery(q *pb.SetQuery) *pbx.SetQuery {
	if q == nil {
		return nil
	}
	out := &pbx.SetQuery{Desc: decodeSetDesc(q.GetDesc()), Tags: q.GetTags()}
	if s := q.GetSub(); s != nil {
		out.Sub = &pbx.SetSub{UserID: s.GetUserId(), Mode: s.GetMode()}
	}
	return out
}

func encodeSetDesc(d *pbx.SetDesc) *pb.SetDesc {
	if d == nil {
		return nil
	}
	return &pb.SetDesc{DefaultAcs: encodeDefaultAcs(d.DefaultAcs), Public: d.Public, Private: d.Private}
}

func decodeSetDesc(d *pb.SetDesc) *pbx.SetDesc {
	if d == nil {
		return nil
	}
	return &pbx.SetDesc{DefaultAcs: decodeDefaultAcs(d.GetDefaultAcs()), Public: d.GetPublic(), Private: d.GetPrivate()}
}

func encodeDefaultAcs(m *pbx.DefaultAcsMode) *pb.DefaultAcsMode {
	if m == nil {
		return nil
	}
	return &pb.DefaultAcsMode{Auth: m.Auth, Anon: m.Anon}
}

func decodeDefaultAcs(m *pb.DefaultAcsMode) *pbx.DefaultAcsMode {
	if m == nil {
		return nil
	}
	return &pbx.DefaultAcsMode{Auth: m.GetAuth(), Anon: m.GetAnon()}
}

func encodeAccessMode(m *pbx.AccessMode) *pb.AccessMode {
	if m == nil {
		return nil
	}
	return &pb.AccessMode{Want: m.Want, Given: m.Given}
}

func decodeAccessMode(m *pb.AccessMode) *pbx.AccessMode {
	if m == nil {
		return nil
	}
	return &pbx.AccessMode{Want: m.GetWant(), Given: m.GetGiven()}
}

func encodeSeqRanges(ranges []pbx.SeqRange) []*pb.SeqRange {
	if ranges == nil {
		return nil
	}
	out := make([]*pb.SeqRange, len(ranges))
	for i, r := range ranges {
		out[i] = &pb.SeqRange{Low: r.Low, Hi: r.Hi}
	}
	return out
}

func decodeSeqRanges(ranges []*pb.SeqRange) []pbx.SeqRange {
	if ranges == nil {
		return nil
	}
	out := make([]pbx.SeqRange, len(ranges))
	for i, r := range ranges {
		out[i] = pbx.SeqRange{Low: r.GetLow(), Hi: r.GetHi()}
	}
	return out
}
