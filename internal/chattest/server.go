// Package chattest implements a small in-memory chat server, speaking the
// envelope protocol over the Tinode pbx.Node gRPC service, for tests and
// demos.
//
// It supports accounts (basic, token, and anonymous), group and p2p topics,
// the "me" and "fnd" topics, publishing, history, metadata, deletion, and
// notes. Access control is limited to requiring authentication, and topic
// ownership for deletion.
package chattest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	eventloop "github.com/joeycumines/go-eventloop"
	inprocgrpc "github.com/joeycumines/go-inprocgrpc"
	"github.com/joeycumines/go-chatloop/grpctransport"
	"github.com/joeycumines/go-chatloop/pbx"
	pb "github.com/tinode/chat/pbx"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Version is reported in the handshake reply.
const Version = "0.16"

type (
	// Server is an in-memory pbx.Node implementation. Envelopes from all
	// connections are handled one at a time, under a single lock.
	Server struct {
		pb.UnimplementedNodeServer
		now      func() time.Time
		users    map[string]*user
		logins   map[string]string
		tokens   map[string]string
		topics   map[string]*topic
		conns    map[*conn]struct{}
		mu       sync.Mutex
		nextUser int
		nextGrp  int
		nextTok  int
		nextAnon int
	}

	user struct {
		id      string
		secret  string
		tags    []string
		public  []byte
		private []byte
		updated time.Time
	}

	topic struct {
		name    string
		owner   string
		peers   [2]string
		created time.Time
		updated time.Time
		touched time.Time
		public  []byte
		tags    []string
		subs    map[string]*sub
		msgs    []*pbx.ServerData
		seq     int32
		delID   int32
		p2p     bool
	}

	sub struct {
		private []byte
		hidden  []pbx.SeqRange
		updated time.Time
		readID  int32
		recvID  int32
	}

	conn struct {
		stream   pb.Node_MessageLoopServer
		kill     chan error
		attached map[string]struct{}
		userID   string
		fnd      string
		greeted  bool
	}
)

var _ pb.NodeServer = (*Server)(nil)

// New initializes a new, empty Server.
func New() *Server {
	return &Server{
		now:    time.Now,
		users:  make(map[string]*user),
		logins: make(map[string]string),
		tokens: make(map[string]string),
		topics: make(map[string]*topic),
		conns:  make(map[*conn]struct{}),
	}
}

// Serve registers the server on a new in-process channel, driven by a new
// event loop, returning a transport connected to it, and a func stopping the
// loop. The target passed to the transport's Open is ignored.
func (s *Server) Serve() (pbx.Transport, func(), error) {
	loop, err := eventloop.New()
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	ch := inprocgrpc.NewChannel(inprocgrpc.WithLoop(loop))
	pb.RegisterNodeServer(ch, s)
	return grpctransport.New(grpctransport.WithConn(ch)), func() {
		s.Disconnect()
		cancel()
		<-done
	}, nil
}

// Disconnect abruptly ends every connection, with codes.Unavailable.
func (s *Server) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		select {
		case c.kill <- status.Error(codes.Unavailable, "chattest: server going away"):
		default:
		}
	}
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// MessageLoop implements pb.NodeServer.
func (s *Server) MessageLoop(stream pb.Node_MessageLoopServer) error {
	c := &conn{
		stream:   stream,
		kill:     make(chan error, 1),
		attached: make(map[string]struct{}),
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	type received struct {
		msg *pbx.ClientMsg
		err error
	}
	recv := make(chan received)
	go func() {
		for {
			in, err := stream.Recv()
			var msg *pbx.ClientMsg
			if err == nil {
				msg = grpctransport.DecodeClientMsg(in)
			}
			select {
			case recv <- received{msg, err}:
			case <-stream.Context().Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case err := <-c.kill:
			return err
		case r := <-recv:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return nil
				}
				return r.err
			}
			if err := s.handle(c, r.msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) handle(c *conn, msg *pbx.ClientMsg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := msg.Payload.(*pbx.ClientHi); !ok && !c.greeted {
		return status.Error(codes.FailedPrecondition, "chattest: expected hi")
	}

	switch p := msg.Payload.(type) {
	case *pbx.ClientHi:
		return s.hi(c, p)
	case *pbx.ClientAcc:
		return s.acc(c, p)
	case *pbx.ClientLogin:
		return s.login(c, p)
	case *pbx.ClientNote:
		if c.userID != "" {
			s.note(c, p)
		}
		return nil
	}

	req, ok := msg.Payload.(pbx.Request)
	if !ok {
		return status.Error(codes.InvalidArgument, "chattest: unexpected payload")
	}
	if c.userID == "" {
		return reply(c, ctrl(req.GetID(), "", 401, "authentication required"))
	}

	switch p := msg.Payload.(type) {
	case *pbx.ClientSub:
		return s.sub(c, p)
	case *pbx.ClientLeave:
		return s.leave(c, p)
	case *pbx.ClientPub:
		return s.pub(c, p)
	case *pbx.ClientGet:
		return s.get(c, p)
	case *pbx.ClientSet:
		return s.set(c, p)
	case *pbx.ClientDel:
		return s.del(c, p)
	default:
		return reply(c, ctrl(req.GetID(), "", 501, "not implemented"))
	}
}

func reply(c *conn, payload pbx.ServerPayload) error {
	msg, err := grpctransport.EncodeServerMsg(&pbx.ServerMsg{Payload: payload})
	if err != nil {
		return err
	}
	return c.stream.Send(msg)
}

func ctrl(id, topic string, code int32, text string, params ...any) *pbx.ServerCtrl {
	x := pbx.ServerCtrl{ID: id, Topic: topic, Code: code, Text: text}
	if len(params) != 0 {
		x.Params = make(map[string][]byte, len(params)/2)
		for i := 0; i+1 < len(params); i += 2 {
			b, err := json.Marshal(params[i+1])
			if err != nil {
				panic(err)
			}
			x.Params[params[i].(string)] = b
		}
	}
	return &x
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func (s *Server) hi(c *conn, p *pbx.ClientHi) error {
	if p.Ver == "" {
		return reply(c, ctrl(p.ID, "", 400, "malformed"))
	}
	c.greeted = true
	return reply(c, ctrl(p.ID, "", 201, "created", "ver", Version, "build", "chattest"))
}

func (s *Server) acc(c *conn, p *pbx.ClientAcc) error {
	if p.UserID != "new" {
		return reply(c, ctrl(p.ID, "", 501, "not implemented"))
	}

	var login string
	switch p.Scheme {
	case "basic":
		var ok bool
		login, _, ok = strings.Cut(string(p.Secret), ":")
		if !ok || login == "" {
			return reply(c, ctrl(p.ID, "", 400, "malformed"))
		}
		if _, exists := s.logins[login]; exists {
			return reply(c, ctrl(p.ID, "", 409, "duplicate credential"))
		}
	case "anonymous":
		s.nextAnon++
		login = fmt.Sprintf("anon%d", s.nextAnon)
	default:
		return reply(c, ctrl(p.ID, "", 401, "authentication failed"))
	}

	s.nextUser++
	u := &user{
		id:      fmt.Sprintf("usr%d", s.nextUser),
		secret:  string(p.Secret),
		tags:    p.Tags,
		updated: s.now(),
	}
	if p.Desc != nil {
		u.public, u.private = p.Desc.Public, p.Desc.Private
	}
	s.users[u.id] = u
	s.logins[login] = u.id

	token := s.issueToken(u.id)
	if p.Login {
		c.userID = u.id
	}
	return reply(c, ctrl(p.ID, "", 201, "created", "user", u.id, "token", token, "authlvl", "auth"))
}

func (s *Server) issueToken(userID string) string {
	s.nextTok++
	raw := fmt.Sprintf("chattest:%s:%d", userID, s.nextTok)
	s.tokens[raw] = userID
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func (s *Server) login(c *conn, p *pbx.ClientLogin) error {
	var userID string
	switch p.Scheme {
	case "basic":
		login, _, _ := strings.Cut(string(p.Secret), ":")
		id, ok := s.logins[login]
		if !ok || s.users[id].secret != string(p.Secret) {
			return reply(c, ctrl(p.ID, "", 401, "authentication failed"))
		}
		userID = id
	case "token":
		id, ok := s.tokens[string(p.Secret)]
		if !ok {
			return reply(c, ctrl(p.ID, "", 401, "authentication failed"))
		}
		userID = id
	default:
		return reply(c, ctrl(p.ID, "", 401, "authentication failed"))
	}
	if c.userID != "" && c.userID != userID {
		return reply(c, ctrl(p.ID, "", 409, "already authenticated"))
	}
	c.userID = userID
	return reply(c, ctrl(p.ID, "", 200, "ok", "user", userID, "token", s.issueToken(userID)))
}

// lookup resolves the name of a topic, as seen by c, to its key.
func (s *Server) lookup(c *conn, name string) string {
	if strings.HasPrefix(name, "usr") {
		a, b := c.userID, name
		if b < a {
			a, b = b, a
		}
		return "p2p" + a + "-" + b
	}
	return name
}

// viewName is the name of t as seen by userID.
func (t *topic) viewName(userID string) string {
	if !t.p2p {
		return t.name
	}
	if t.peers[0] == userID {
		return t.peers[1]
	}
	return t.peers[0]
}

func (s *Server) sub(c *conn, p *pbx.ClientSub) error {
	switch p.Topic {
	case "me", "fnd":
		if _, ok := c.attached[p.Topic]; ok {
			return reply(c, ctrl(p.ID, p.Topic, 304, "already subscribed"))
		}
		c.attached[p.Topic] = struct{}{}
		return reply(c, ctrl(p.ID, p.Topic, 200, "ok"))

	case "new":
		now := s.now()
		s.nextGrp++
		t := &topic{
			name:    fmt.Sprintf("grp%d", s.nextGrp),
			owner:   c.userID,
			created: now,
			updated: now,
			subs:    map[string]*sub{c.userID: {updated: now}},
		}
		if q := p.SetQuery; q != nil {
			t.tags = q.Tags
			if q.Desc != nil {
				t.public = q.Desc.Public
				t.subs[c.userID].private = q.Desc.Private
			}
		}
		s.topics[t.name] = t
		c.attached[t.name] = struct{}{}
		return reply(c, ctrl(p.ID, t.name, 200, "ok"))
	}

	key := s.lookup(c, p.Topic)
	t, ok := s.topics[key]
	if !ok {
		if !strings.HasPrefix(p.Topic, "usr") {
			return reply(c, ctrl(p.ID, p.Topic, 404, "not found"))
		}
		if _, ok := s.users[p.Topic]; !ok || p.Topic == c.userID {
			return reply(c, ctrl(p.ID, p.Topic, 404, "not found"))
		}
		now := s.now()
		t = &topic{
			name:    key,
			owner:   c.userID,
			peers:   [2]string{c.userID, p.Topic},
			created: now,
			updated: now,
			subs: map[string]*sub{
				c.userID: {updated: now},
				p.Topic:  {updated: now},
			},
			p2p: true,
		}
		s.topics[key] = t
	}

	if _, ok := c.attached[key]; ok {
		return reply(c, ctrl(p.ID, p.Topic, 304, "already subscribed"))
	}
	if _, ok := t.subs[c.userID]; !ok {
		t.subs[c.userID] = &sub{updated: s.now()}
	}
	c.attached[key] = struct{}{}
	return reply(c, ctrl(p.ID, p.Topic, 200, "ok"))
}

func (s *Server) leave(c *conn, p *pbx.ClientLeave) error {
	key := s.lookup(c, p.Topic)
	if _, ok := c.attached[key]; !ok {
		return reply(c, ctrl(p.ID, p.Topic, 304, "ignored"))
	}
	delete(c.attached, key)
	if t, ok := s.topics[key]; ok && p.Unsub {
		delete(t.subs, c.userID)
		for o := range s.conns {
			if o.userID == c.userID {
				delete(o.attached, key)
			}
		}
	}
	return reply(c, ctrl(p.ID, p.Topic, 200, "ok"))
}

func (s *Server) pub(c *conn, p *pbx.ClientPub) error {
	key := s.lookup(c, p.Topic)
	t, ok := s.topics[key]
	if !ok {
		return reply(c, ctrl(p.ID, p.Topic, 404, "not found"))
	}
	if _, ok := c.attached[key]; !ok {
		return reply(c, ctrl(p.ID, p.Topic, 409, "must attach first"))
	}

	now := s.now()
	t.seq++
	t.touched = now
	data := &pbx.ServerData{
		Topic:      key,
		FromUserID: c.userID,
		Timestamp:  millis(now),
		SeqID:      t.seq,
		Head:       p.Head,
		Content:    p.Content,
	}
	t.msgs = append(t.msgs, data)

	if err := reply(c, ctrl(p.ID, p.Topic, 202, "accepted", "seq", t.seq)); err != nil {
		return err
	}

	for o := range s.conns {
		if _, ok := o.attached[key]; !ok || (o == c && p.NoEcho) {
			continue
		}
		v := *data
		v.Topic = t.viewName(o.userID)
		if err := reply(o, &v); err != nil && o == c {
			return err
		}
	}
	return nil
}

func (s *Server) get(c *conn, p *pbx.ClientGet) error {
	if p.Query == nil {
		return reply(c, ctrl(p.ID, p.Topic, 400, "malformed"))
	}
	switch p.Query.What {
	case "desc":
		return s.getDesc(c, p)
	case "sub":
		return s.getSub(c, p)
	case "data":
		return s.getData(c, p)
	default:
		return reply(c, ctrl(p.ID, p.Topic, 400, "malformed"))
	}
}

func (s *Server) getDesc(c *conn, p *pbx.ClientGet) error {
	var since int64
	if p.Query.Desc != nil {
		since = p.Query.Desc.IfModifiedSince
	}

	if p.Topic == "me" {
		u := s.users[c.userID]
		desc := pbx.TopicDesc{UpdatedAt: millis(u.updated)}
		if millis(u.updated) > since {
			desc.Public, desc.Private = u.public, u.private
		}
		return reply(c, &pbx.ServerMeta{ID: p.ID, Topic: p.Topic, Desc: &desc})
	}

	t, ok := s.topics[s.lookup(c, p.Topic)]
	if !ok {
		return reply(c, ctrl(p.ID, p.Topic, 404, "not found"))
	}
	desc := pbx.TopicDesc{
		CreatedAt: millis(t.created),
		UpdatedAt: millis(t.updated),
		TouchedAt: millis(t.touched),
		Defacs:    &pbx.DefaultAcsMode{Auth: "JRWPS", Anon: "N"},
		SeqID:     t.seq,
		DelID:     t.delID,
	}
	if sb, ok := t.subs[c.userID]; ok {
		given := "JRWPS"
		if t.owner == c.userID {
			given = "JRWPASDO"
		}
		desc.Acs = &pbx.AccessMode{Want: given, Given: given}
		desc.ReadID, desc.RecvID = sb.readID, sb.recvID
		if millis(sb.updated) > since {
			desc.Private = sb.private
		}
	}
	if millis(t.updated) > since {
		desc.Public = t.public
		if t.p2p {
			if peer := s.users[t.viewName(c.userID)]; peer != nil {
				desc.Public = peer.public
			}
		}
	}
	return reply(c, &pbx.ServerMeta{ID: p.ID, Topic: p.Topic, Desc: &desc})
}

func (s *Server) getSub(c *conn, p *pbx.ClientGet) error {
	var (
		since int64
		limit int
		subs  []*pbx.TopicSub
	)
	if o := p.Query.Sub; o != nil {
		since, limit = o.IfModifiedSince, int(o.Limit)
	}

	switch p.Topic {
	case "me":
		for _, t := range s.topics {
			sb, ok := t.subs[c.userID]
			if !ok {
				continue
			}
			v := pbx.TopicSub{
				Topic:     t.viewName(c.userID),
				UpdatedAt: millis(sb.updated),
				TouchedAt: millis(t.touched),
				SeqID:     t.seq,
				DelID:     t.delID,
				ReadID:    sb.readID,
				RecvID:    sb.recvID,
			}
			if millis(t.updated) > since {
				v.Public = t.public
			}
			if millis(sb.updated) > since {
				v.Private = sb.private
			}
			if t.p2p {
				peer := t.viewName(c.userID)
				v.Online = s.online(peer)
				if u := s.users[peer]; u != nil && millis(u.updated) > since {
					v.Public = u.public
				}
			}
			subs = append(subs, &v)
		}

	case "fnd":
		subs = s.find(c)

	default:
		t, ok := s.topics[s.lookup(c, p.Topic)]
		if !ok {
			return reply(c, ctrl(p.ID, p.Topic, 404, "not found"))
		}
		for id, sb := range t.subs {
			v := pbx.TopicSub{
				UserID:    id,
				UpdatedAt: millis(sb.updated),
				Online:    s.attached(id, t.name),
				ReadID:    sb.readID,
				RecvID:    sb.recvID,
			}
			if u := s.users[id]; u != nil && millis(u.updated) > since {
				v.Public = u.public
			}
			subs = append(subs, &v)
		}
	}

	if len(subs) == 0 {
		return reply(c, ctrl(p.ID, p.Topic, 204, "no content"))
	}
	slices.SortFunc(subs, func(a, b *pbx.TopicSub) int {
		return strings.Compare(a.UserID+a.Topic, b.UserID+b.Topic)
	})
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return reply(c, &pbx.ServerMeta{ID: p.ID, Topic: p.Topic, Sub: subs})
}

func (s *Server) online(userID string) bool {
	for o := range s.conns {
		if o.userID == userID {
			return true
		}
	}
	return false
}

func (s *Server) attached(userID, key string) bool {
	for o := range s.conns {
		if _, ok := o.attached[key]; ok && o.userID == userID {
			return true
		}
	}
	return false
}

// find matches the tags of users and group topics against any term of the
// query set on the "fnd" topic of c.
func (s *Server) find(c *conn) []*pbx.TopicSub {
	terms := strings.FieldsFunc(c.fnd, func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(terms) == 0 {
		return nil
	}
	match := func(tags []string) bool {
		for _, tag := range tags {
			if slices.Contains(terms, tag) {
				return true
			}
		}
		return false
	}
	var out []*pbx.TopicSub
	for _, u := range s.users {
		if u.id != c.userID && match(u.tags) {
			out = append(out, &pbx.TopicSub{UserID: u.id, Public: u.public, Online: s.online(u.id)})
		}
	}
	for _, t := range s.topics {
		if !t.p2p && match(t.tags) {
			out = append(out, &pbx.TopicSub{Topic: t.name, Public: t.public, SeqID: t.seq})
		}
	}
	return out
}

func (s *Server) getData(c *conn, p *pbx.ClientGet) error {
	key := s.lookup(c, p.Topic)
	t, ok := s.topics[key]
	if !ok {
		return reply(c, ctrl(p.ID, p.Topic, 404, "not found"))
	}
	sb, ok := t.subs[c.userID]
	if !ok {
		return reply(c, ctrl(p.ID, p.Topic, 403, "permission denied"))
	}
	o := p.Query.Data
	if o == nil {
		o = new(pbx.GetOpts)
	}

	// newest first, as the limit applies to the most recent messages
	var found []*pbx.ServerData
	for i := len(t.msgs) - 1; i >= 0; i-- {
		m := t.msgs[i]
		if (o.SinceID > 0 && m.SeqID < o.SinceID) || (o.BeforeID > 0 && m.SeqID >= o.BeforeID) {
			continue
		}
		if m.DeletedAt != 0 || slices.ContainsFunc(sb.hidden, func(r pbx.SeqRange) bool { return r.Contains(m.SeqID) }) {
			continue
		}
		found = append(found, m)
		if o.Limit > 0 && len(found) == int(o.Limit) {
			break
		}
	}

	if len(found) == 0 {
		return reply(c, ctrl(p.ID, p.Topic, 204, "no content"))
	}
	for i := len(found) - 1; i >= 0; i-- {
		v := *found[i]
		v.Topic = t.viewName(c.userID)
		if err := reply(c, &v); err != nil {
			return err
		}
	}
	return reply(c, ctrl(p.ID, p.Topic, 200, "ok", "count", len(found)))
}

func (s *Server) set(c *conn, p *pbx.ClientSet) error {
	q := p.Query
	if q == nil {
		return reply(c, ctrl(p.ID, p.Topic, 400, "malformed"))
	}
	now := s.now()

	switch p.Topic {
	case "fnd":
		if q.Desc != nil && q.Desc.Public != nil {
			var query string
			if err := json.Unmarshal(q.Desc.Public, &query); err != nil {
				return reply(c, ctrl(p.ID, p.Topic, 400, "malformed"))
			}
			c.fnd = query
		}
		return reply(c, ctrl(p.ID, p.Topic, 200, "ok"))

	case "me":
		u := s.users[c.userID]
		if q.Tags != nil {
			u.tags = q.Tags
		}
		if q.Desc != nil {
			if q.Desc.Public != nil {
				u.public = q.Desc.Public
			}
			if q.Desc.Private != nil {
				u.private = q.Desc.Private
			}
		}
		u.updated = now
		return reply(c, ctrl(p.ID, p.Topic, 200, "ok"))
	}

	t, ok := s.topics[s.lookup(c, p.Topic)]
	if !ok {
		return reply(c, ctrl(p.ID, p.Topic, 404, "not found"))
	}
	sb, ok := t.subs[c.userID]
	if !ok {
		return reply(c, ctrl(p.ID, p.Topic, 403, "permission denied"))
	}
	if (q.Tags != nil || (q.Desc != nil && q.Desc.Public != nil)) && t.owner != c.userID {
		return reply(c, ctrl(p.ID, p.Topic, 403, "permission denied"))
	}
	if q.Tags != nil {
		t.tags = q.Tags
	}
	if q.Desc != nil {
		if q.Desc.Public != nil {
			t.public = q.Desc.Public
			t.updated = now
		}
		if q.Desc.Private != nil {
			sb.private = q.Desc.Private
			sb.updated = now
		}
	}
	return reply(c, ctrl(p.ID, p.Topic, 200, "ok"))
}

func (s *Server) del(c *conn, p *pbx.ClientDel) error {
	key := s.lookup(c, p.Topic)
	t, ok := s.topics[key]
	if !ok {
		return reply(c, ctrl(p.ID, p.Topic, 404, "not found"))
	}
	sb, ok := t.subs[c.userID]
	if !ok {
		return reply(c, ctrl(p.ID, p.Topic, 403, "permission denied"))
	}

	switch p.What {
	case pbx.DelMsg:
		if len(p.DelSeq) == 0 {
			return reply(c, ctrl(p.ID, p.Topic, 400, "malformed"))
		}
		if p.Hard && t.owner != c.userID {
			return reply(c, ctrl(p.ID, p.Topic, 403, "permission denied"))
		}
		t.delID++
		if p.Hard {
			now := millis(s.now())
			for _, m := range t.msgs {
				if slices.ContainsFunc(p.DelSeq, func(r pbx.SeqRange) bool { return r.Contains(m.SeqID) }) {
					m.DeletedAt, m.Content, m.Head = now, nil, nil
				}
			}
		} else {
			sb.hidden = append(sb.hidden, p.DelSeq...)
		}
		return reply(c, ctrl(p.ID, p.Topic, 200, "ok", "del", t.delID))

	case pbx.DelTopic:
		if t.owner != c.userID {
			delete(t.subs, c.userID)
			delete(c.attached, key)
			return reply(c, ctrl(p.ID, p.Topic, 200, "ok"))
		}
		delete(s.topics, key)
		for o := range s.conns {
			delete(o.attached, key)
		}
		return reply(c, ctrl(p.ID, p.Topic, 200, "ok"))

	default:
		return reply(c, ctrl(p.ID, p.Topic, 501, "not implemented"))
	}
}

// note updates receipts, then forwards the note, as info, to the other
// connections attached to the topic.
func (s *Server) note(c *conn, p *pbx.ClientNote) {
	key := s.lookup(c, p.Topic)
	t, ok := s.topics[key]
	if !ok {
		return
	}
	if _, ok := c.attached[key]; !ok {
		return
	}
	if sb := t.subs[c.userID]; sb != nil {
		switch p.What {
		case pbx.NoteRecv:
			sb.recvID = max(sb.recvID, min(p.SeqID, t.seq))
		case pbx.NoteRead:
			sb.readID = max(sb.readID, min(p.SeqID, t.seq))
			sb.recvID = max(sb.recvID, sb.readID)
		}
	}
	for o := range s.conns {
		if _, ok := o.attached[key]; !ok || o == c {
			continue
		}
		_ = reply(o, &pbx.ServerInfo{
			Topic:      t.viewName(o.userID),
			FromUserID: c.userID,
			What:       p.What,
			SeqID:      p.SeqID,
		})
	}
}
