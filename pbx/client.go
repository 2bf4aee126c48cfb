package pbx

type (
	// ClientPayload is implemented by every client-to-server payload kind.
	ClientPayload interface {
		clientKind() string
	}

	// Request is a ClientPayload that expects exactly one correlated reply,
	// identified by its message id. Notes are not requests.
	Request interface {
		ClientPayload
		GetID() string
		SetID(id string)
	}

	// ClientHi is the handshake, the first envelope sent on a new stream.
	ClientHi struct {
		ID        string
		UserAgent string
		Ver       string
		DeviceID  string
		Lang      string
		Platform  string
	}

	// ClientAcc creates or updates an account. UserID "new" creates one.
	ClientAcc struct {
		ID     string
		UserID string
		Scheme string
		Secret []byte
		Login  bool
		Tags   []string
		Desc   *SetDesc
	}

	// ClientLogin authenticates the session.
	ClientLogin struct {
		ID     string
		Scheme string
		Secret []byte
	}

	// ClientSub subscribes to, attaches to, or creates (topic "new") a topic.
	ClientSub struct {
		ID       string
		Topic    string
		SetQuery *SetQuery
		GetQuery *GetQuery
	}

	// ClientLeave detaches from a topic, optionally unsubscribing.
	ClientLeave struct {
		ID    string
		Topic string
		Unsub bool
	}

	// ClientPub publishes content to a topic.
	ClientPub struct {
		ID      string
		Topic   string
		NoEcho  bool
		Head    map[string][]byte
		Content []byte
	}

	// ClientGet queries topic metadata or message history.
	ClientGet struct {
		ID    string
		Topic string
		Query *GetQuery
	}

	// ClientSet updates topic metadata.
	ClientSet struct {
		ID    string
		Topic string
		Query *SetQuery
	}

	// ClientDel deletes messages, a topic, a subscription, or a user.
	ClientDel struct {
		ID     string
		Topic  string
		What   DelWhat
		DelSeq []SeqRange
		UserID string
		Hard   bool
	}

	// ClientNote is a fire-and-forget notification. It carries no id and
	// the server never acknowledges it.
	ClientNote struct {
		Topic string
		What  NoteWhat
		SeqID int32
	}

	// DelWhat selects what a ClientDel removes.
	DelWhat string

	// NoteWhat selects the kind of ClientNote.
	NoteWhat string
)

const (
	DelMsg   DelWhat = "msg"
	DelTopic DelWhat = "topic"
	DelSub   DelWhat = "sub"
	DelUser  DelWhat = "user"

	NoteKeyPress NoteWhat = "kp"
	NoteRecv     NoteWhat = "recv"
	NoteRead     NoteWhat = "read"
)

const (
	kindHi    = "hi"
	kindAcc   = "acc"
	kindLogin = "login"
	kindSub   = "sub"
	kindLeave = "leave"
	kindPub   = "pub"
	kindGet   = "get"
	kindSet   = "set"
	kindDel   = "del"
	kindNote  = "note"
)

var (
	_ Request       = (*ClientHi)(nil)
	_ Request       = (*ClientAcc)(nil)
	_ Request       = (*ClientLogin)(nil)
	_ Request       = (*ClientSub)(nil)
	_ Request       = (*ClientLeave)(nil)
	_ Request       = (*ClientPub)(nil)
	_ Request       = (*ClientGet)(nil)
	_ Request       = (*ClientSet)(nil)
	_ Request       = (*ClientDel)(nil)
	_ ClientPayload = (*ClientNote)(nil)
)

func (*ClientHi) clientKind() string    { return kindHi }
func (*ClientAcc) clientKind() string   { return kindAcc }
func (*ClientLogin) clientKind() string { return kindLogin }
func (*ClientSub) clientKind() string   { return kindSub }
func (*ClientLeave) clientKind() string { return kindLeave }
func (*ClientPub) clientKind() string   { return kindPub }
func (*ClientGet) clientKind() string   { return kindGet }
func (*ClientSet) clientKind() string   { return kindSet }
func (*ClientDel) clientKind() string   { return kindDel }
func (*ClientNote) clientKind() string  { return kindNote }

func (x *ClientHi) GetID() string    { return x.ID }
func (x *ClientAcc) GetID() string   { return x.ID }
func (x *ClientLogin) GetID() string { return x.ID }
func (x *ClientSub) GetID() string   { return x.ID }
func (x *ClientLeave) GetID() string { return x.ID }
func (x *ClientPub) GetID() string   { return x.ID }
func (x *ClientGet) GetID() string   { return x.ID }
func (x *ClientSet) GetID() string   { return x.ID }
func (x *ClientDel) GetID() string   { return x.ID }

func (x *ClientHi) SetID(id string)    { x.ID = id }
func (x *ClientAcc) SetID(id string)   { x.ID = id }
func (x *ClientLogin) SetID(id string) { x.ID = id }
func (x *ClientSub) SetID(id string)   { x.ID = id }
func (x *ClientLeave) SetID(id string) { x.ID = id }
func (x *ClientPub) SetID(id string)   { x.ID = id }
func (x *ClientGet) SetID(id string)   { x.ID = id }
func (x *ClientSet) SetID(id string)   { x.ID = id }
func (x *ClientDel) SetID(id string)   { x.ID = id }

// Kind returns the JSON key of the payload, e.g. "pub", or "" if unset.
func (x *ClientMsg) Kind() string {
	if x == nil || x.Payload == nil {
		return ""
	}
	return x.Payload.clientKind()
}
