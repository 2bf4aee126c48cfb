package chatloop

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joeycumines/go-chatloop/pbx"
)

// Authentication schemes.
const (
	SchemeBasic     = "basic"
	SchemeToken     = "token"
	SchemeAnonymous = "anonymous"
)

// Well-known topic names.
const (
	TopicMe  = "me"
	TopicFnd = "fnd"
	TopicNew = "new"
)

type (
	// AccountOptions models optional configuration for Session.Register.
	AccountOptions struct {
		// Scheme is one of SchemeBasic, the default, or SchemeAnonymous.
		Scheme string

		// NoLogin disables logging in as the new account.
		NoLogin bool

		// Tags are used to discover the user, see Session.FindUsers.
		Tags []string

		// Public is visible to all users.
		Public []byte

		// Private is visible only to the user.
		Private []byte
	}

	// TopicOptions models the metadata of a topic, for Session.NewTopic and
	// Session.SetTopicDescription. Nil fields are left unchanged.
	TopicOptions struct {
		// Tags are used to discover the topic, see Session.FindTopics.
		Tags []string

		// Public is visible to all users.
		Public []byte

		// Private is visible only to the current user.
		Private []byte
	}

	// PublishOptions models optional headers and flags for Session.Publish.
	PublishOptions struct {
		// Priority is a display hint, e.g. {"level": "high"}.
		Priority any

		// Headers are additional application specific headers, conventionally
		// prefixed "x-<application>-".
		Headers map[string]any

		// Forwarded is "topic:seq" of the original of a forwarded message.
		Forwarded string

		// Mime is the content type, "text/plain" if empty.
		Mime string

		// Replace is ":seq" of the message this one replaces.
		Replace string

		// Reply is ":seq" of the message this one replies to.
		Reply string

		// Thread is ":seq" of the first message of the thread.
		Thread string

		// Hashtags lists hashtags, without the '#'.
		Hashtags []string

		// Mentions lists mentioned user ids.
		Mentions []string

		// NoEcho suppresses the copy of the message this session would
		// otherwise receive.
		NoEcho bool
	}

	// HistoryQuery narrows Session.GetMessageHistory. Zero fields are unset.
	HistoryQuery struct {
		// Since is the inclusive lower bound on sequence ids.
		Since int32

		// Before is the exclusive upper bound on sequence ids.
		Before int32

		// Limit is the maximum number of messages.
		Limit int32
	}
)

// Login authenticates the session, returning a token for use with
// SchemeToken by later sessions. The scheme is SchemeBasic, where secret is
// "user:password", or SchemeToken, where secret is the base64 token.
func (s *Session) Login(ctx context.Context, secret, scheme string) (string, error) {
	var raw []byte
	switch scheme {
	case SchemeBasic:
		raw = []byte(secret)
	case SchemeToken:
		b, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return ``, &ValidationError{Op: `login`, Message: `token is not valid base64`}
		}
		raw = b
	default:
		return ``, &ValidationError{Op: `login`, Message: fmt.Sprintf(`scheme must be one of [%s %s]`, SchemeBasic, SchemeToken)}
	}

	ctrl, err := request[*pbx.ServerCtrl](ctx, s, `login`, &pbx.ClientLogin{
		Scheme: scheme,
		Secret: raw,
	})
	if err != nil {
		return ``, err
	}

	return s.authenticated(`login`, ctrl)
}

// Register creates a new account and, unless opts.NoLogin is set, logs in as
// it, returning a token for use with SchemeToken. The secret is
// "user:password" for SchemeBasic, and ignored for SchemeAnonymous. The opts
// may be nil.
func (s *Session) Register(ctx context.Context, secret string, opts *AccountOptions) (string, error) {
	if opts == nil {
		opts = new(AccountOptions)
	}
	scheme := opts.Scheme
	if scheme == `` {
		scheme = SchemeBasic
	}

	acc := pbx.ClientAcc{
		UserID: `new`,
		Scheme: scheme,
		Login:  !opts.NoLogin,
		Tags:   opts.Tags,
	}
	if opts.Public != nil || opts.Private != nil {
		acc.Desc = &pbx.SetDesc{Public: opts.Public, Private: opts.Private}
	}

	switch scheme {
	case SchemeBasic:
		if secret == `` {
			return ``, &ValidationError{Op: `register`, Message: `basic scheme requires a secret`}
		}
		acc.Secret = []byte(secret)
	case SchemeAnonymous:
	default:
		return ``, &ValidationError{Op: `register`, Message: fmt.Sprintf(`scheme must be one of [%s %s]`, SchemeAnonymous, SchemeBasic)}
	}

	ctrl, err := request[*pbx.ServerCtrl](ctx, s, `register`, &acc)
	if err != nil {
		return ``, err
	}

	if opts.NoLogin {
		var token string
		if _, err := ctrl.Param(`token`, &token); err != nil {
			return ``, err
		}
		return token, nil
	}

	return s.authenticated(`register`, ctrl)
}

func (s *Session) authenticated(op string, ctrl *pbx.ServerCtrl) (string, error) {
	var userID string
	if ok, err := ctrl.Param(`user`, &userID); err != nil {
		return ``, err
	} else if !ok || userID == `` {
		return ``, fmt.Errorf(`%w: %s reply has no user`, ErrUnexpectedReply, op)
	}
	var token string
	if _, err := ctrl.Param(`token`, &token); err != nil {
		return ``, err
	}
	s.setUserID(userID)
	s.logger.Info().
		Str(`user`, userID).
		Log(`chatloop: authenticated`)
	return token, nil
}

// Subscribe subscribes to, or attaches to, topic.
func (s *Session) Subscribe(ctx context.Context, topic string) error {
	if err := validateTopic(`subscribe`, topic); err != nil {
		return err
	}
	_, err := s.send(ctx, `subscribe`, &pbx.ClientSub{Topic: topic}, true)
	return err
}

// NewTopic creates a group topic and subscribes to it, returning its name.
// The opts may be nil.
func (s *Session) NewTopic(ctx context.Context, opts *TopicOptions) (string, error) {
	ctrl, err := request[*pbx.ServerCtrl](ctx, s, `new topic`, &pbx.ClientSub{
		Topic:    TopicNew,
		SetQuery: opts.setQuery(),
	})
	if err != nil {
		return ``, err
	}
	if ctrl.Topic == `` {
		return ``, fmt.Errorf(`%w: new topic reply has no topic`, ErrUnexpectedReply)
	}
	return ctrl.Topic, nil
}

// Leave detaches from topic, affecting only this session, and optionally
// unsubscribes, affecting all sessions of the user.
func (s *Session) Leave(ctx context.Context, topic string, unsubscribe bool) error {
	if err := validateTopic(`leave`, topic); err != nil {
		return err
	}
	_, err := s.send(ctx, `leave`, &pbx.ClientLeave{Topic: topic, Unsub: unsubscribe}, true)
	return err
}

// Publish distributes content to the subscribers of topic, returning the
// sequence id assigned to the message, or 0 if the server did not report
// one. The opts may be nil.
func (s *Session) Publish(ctx context.Context, topic string, content []byte, opts *PublishOptions) (int32, error) {
	if err := validateTopic(`publish`, topic); err != nil {
		return 0, err
	}
	pub := pbx.ClientPub{Topic: topic, Content: content}
	if opts != nil {
		pub.NoEcho = opts.NoEcho
		head, err := opts.head()
		if err != nil {
			return 0, &ValidationError{Op: `publish`, Message: err.Error()}
		}
		pub.Head = head
	}

	ctrl, err := request[*pbx.ServerCtrl](ctx, s, `publish`, &pub)
	if err != nil {
		return 0, err
	}

	var seq int32
	if _, err := ctrl.Param(`seq`, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// PublishString publishes content encoded as a JSON string, see
// DataMessage.ContentString.
func (s *Session) PublishString(ctx context.Context, topic, content string, opts *PublishOptions) (int32, error) {
	b, err := json.Marshal(content)
	if err != nil {
		return 0, err
	}
	return s.Publish(ctx, topic, b, opts)
}

// GetTopicDescription returns the description of topic. If ifModifiedSince
// is non-zero, the public and private fields are only populated if updated
// after it.
func (s *Session) GetTopicDescription(ctx context.Context, topic string, ifModifiedSince time.Time) (*TopicDescription, error) {
	if err := validateTopic(`get topic description`, topic); err != nil {
		return nil, err
	}
	meta, err := request[*pbx.ServerMeta](ctx, s, `get topic description`, &pbx.ClientGet{
		Topic: topic,
		Query: &pbx.GetQuery{
			What: `desc`,
			Desc: &pbx.GetOpts{IfModifiedSince: timeMillis(ifModifiedSince)},
		},
	})
	if err != nil {
		return nil, err
	}
	return newTopicDescription(topic, meta.Desc), nil
}

// GetSubscriptions lists the subscriptions of topic: the subscribed users,
// or, for TopicMe, the topics the current user is subscribed to. A limit of
// 0 means the server default. If ifModifiedSince is non-zero, the public and
// private fields are only populated if updated after it.
func (s *Session) GetSubscriptions(ctx context.Context, topic string, limit int32, ifModifiedSince time.Time) ([]*Subscription, error) {
	if err := validateTopic(`get subscriptions`, topic); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, &ValidationError{Op: `get subscriptions`, Message: `negative limit`}
	}
	resp, err := s.send(ctx, `get subscriptions`, &pbx.ClientGet{
		Topic: topic,
		Query: &pbx.GetQuery{
			What: `sub`,
			Sub: &pbx.GetOpts{
				IfModifiedSince: timeMillis(ifModifiedSince),
				Limit:           limit,
			},
		},
	}, true)
	if err != nil {
		return nil, err
	}
	switch p := resp.Payload.(type) {
	case *pbx.ServerMeta:
		return newSubscriptions(p.Sub), nil
	case *pbx.ServerCtrl:
		// ok, with no results
		return []*Subscription{}, nil
	default:
		return nil, fmt.Errorf(`%w: get subscriptions answered with %s`, ErrUnexpectedReply, resp.Kind())
	}
}

// GetSubscribedTopics lists the topics the current user is subscribed to,
// subscribing to TopicMe first.
func (s *Session) GetSubscribedTopics(ctx context.Context, limit int32, ifModifiedSince time.Time) ([]*Subscription, error) {
	if err := s.Subscribe(ctx, TopicMe); err != nil {
		return nil, err
	}
	return s.GetSubscriptions(ctx, TopicMe, limit, ifModifiedSince)
}

// GetSubscribedUsers lists the users subscribed to topic.
func (s *Session) GetSubscribedUsers(ctx context.Context, topic string, limit int32, ifModifiedSince time.Time) ([]*Subscription, error) {
	return s.GetSubscriptions(ctx, topic, limit, ifModifiedSince)
}

// FindUsers searches for users by tag query, e.g. "email:alice@example.com".
func (s *Session) FindUsers(ctx context.Context, query string) ([]*Subscription, error) {
	results, err := s.find(ctx, query)
	if err != nil {
		return nil, err
	}
	users := results[:0]
	for _, v := range results {
		if v.UserID() != `` {
			users = append(users, v)
		}
	}
	return users, nil
}

// FindTopics searches for topics by tag query, e.g. "region:us".
func (s *Session) FindTopics(ctx context.Context, query string) ([]*Subscription, error) {
	results, err := s.find(ctx, query)
	if err != nil {
		return nil, err
	}
	topics := results[:0]
	for _, v := range results {
		if v.Topic() != `` {
			topics = append(topics, v)
		}
	}
	return topics, nil
}

func (s *Session) find(ctx context.Context, query string) ([]*Subscription, error) {
	if query == `` {
		return nil, &ValidationError{Op: `find`, Message: `empty query`}
	}
	public, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	if err := s.Subscribe(ctx, TopicFnd); err != nil {
		return nil, err
	}
	if err := s.SetTopicDescription(ctx, TopicFnd, &TopicOptions{Public: public}); err != nil {
		return nil, err
	}
	return s.GetSubscriptions(ctx, TopicFnd, 0, time.Time{})
}

// GetMessageHistory requests message history for topic. Messages arrive as
// pushes, see Session.Pushes, and have all been received by the time this
// method returns. The q may be nil.
func (s *Session) GetMessageHistory(ctx context.Context, topic string, q *HistoryQuery) error {
	if err := validateTopic(`get message history`, topic); err != nil {
		return err
	}
	opts := new(pbx.GetOpts)
	if q != nil {
		if q.Since < 0 || q.Before < 0 || q.Limit < 0 {
			return &ValidationError{Op: `get message history`, Message: `negative bound`}
		}
		opts.SinceID, opts.BeforeID, opts.Limit = q.Since, q.Before, q.Limit
	}
	_, err := s.send(ctx, `get message history`, &pbx.ClientGet{
		Topic: topic,
		Query: &pbx.GetQuery{What: `data`, Data: opts},
	}, true)
	return err
}

// SetTopicDescription updates the metadata of topic.
func (s *Session) SetTopicDescription(ctx context.Context, topic string, opts *TopicOptions) error {
	if err := validateTopic(`set topic description`, topic); err != nil {
		return err
	}
	q := opts.setQuery()
	if q == nil {
		return &ValidationError{Op: `set topic description`, Message: `nothing to set`}
	}
	_, err := s.send(ctx, `set topic description`, &pbx.ClientSet{Topic: topic, Query: q}, true)
	return err
}

// DeleteMessages deletes messages from topic. Each range is
// inclusive-exclusive, and a range with Hi of 0 is the single id Low. A soft
// delete hides the messages from the current user only, a hard delete
// removes their content for all users.
func (s *Session) DeleteMessages(ctx context.Context, topic string, ranges []pbx.SeqRange, hard bool) error {
	if err := validateTopic(`delete messages`, topic); err != nil {
		return err
	}
	if len(ranges) == 0 {
		return &ValidationError{Op: `delete messages`, Message: `no messages`}
	}
	seq := make([]pbx.SeqRange, len(ranges))
	for i, r := range ranges {
		if r.Low < 1 || (r.Hi != 0 && r.Hi <= r.Low) {
			return &ValidationError{Op: `delete messages`, Message: fmt.Sprintf(`invalid range [%d, %d)`, r.Low, r.Hi)}
		}
		if r.Hi == 0 {
			r.Hi = r.Low + 1
		}
		seq[i] = r
	}
	_, err := s.send(ctx, `delete messages`, &pbx.ClientDel{
		Topic:  topic,
		What:   pbx.DelMsg,
		DelSeq: seq,
		Hard:   hard,
	}, true)
	return err
}

// DeleteTopic deletes topic.
func (s *Session) DeleteTopic(ctx context.Context, topic string, hard bool) error {
	if err := validateTopic(`delete topic`, topic); err != nil {
		return err
	}
	_, err := s.send(ctx, `delete topic`, &pbx.ClientDel{
		Topic: topic,
		What:  pbx.DelTopic,
		Hard:  hard,
	}, true)
	return err
}

// NotifyKeyPress tells other sessions attached to topic that the user is
// composing a message. Notes exceeding the key press rate limit, see
// WithKeyPressRates, are silently dropped.
func (s *Session) NotifyKeyPress(ctx context.Context, topic string) error {
	if err := validateTopic(`notify key press`, topic); err != nil {
		return err
	}
	if _, ok := s.keyPress.Allow(topic); !ok {
		s.logger.Debug().
			Str(`topic`, topic).
			Log(`chatloop: key press throttled`)
		return nil
	}
	_, err := s.send(ctx, `notify key press`, &pbx.ClientNote{Topic: topic, What: pbx.NoteKeyPress}, false)
	return err
}

// NotifyReceived tells other sessions attached to topic that the user has
// received message seq.
func (s *Session) NotifyReceived(ctx context.Context, topic string, seq int32) error {
	return s.notifyReceipt(ctx, `notify received`, topic, pbx.NoteRecv, seq)
}

// NotifyRead tells other sessions attached to topic that the user has read
// message seq.
func (s *Session) NotifyRead(ctx context.Context, topic string, seq int32) error {
	return s.notifyReceipt(ctx, `notify read`, topic, pbx.NoteRead, seq)
}

func (s *Session) notifyReceipt(ctx context.Context, op, topic string, what pbx.NoteWhat, seq int32) error {
	if err := validateTopic(op, topic); err != nil {
		return err
	}
	if seq < 1 {
		return &ValidationError{Op: op, Message: `invalid sequence id`}
	}
	if s.opts.receipts.immediate() {
		_, err := s.send(ctx, op, &pbx.ClientNote{Topic: topic, What: what, SeqID: seq}, false)
		return err
	}
	if err := s.ensureReady(ctx, op); err != nil {
		return err
	}
	b := s.receiptBatcher()
	if b == nil {
		return s.closedError(op)
	}
	if _, err := b.Submit(ctx, receiptJob{topic: topic, what: what, seq: seq}); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return s.closedError(op)
	}
	return nil
}

func (x *TopicOptions) setQuery() *pbx.SetQuery {
	if x == nil || (x.Tags == nil && x.Public == nil && x.Private == nil) {
		return nil
	}
	q := pbx.SetQuery{Tags: x.Tags}
	if x.Public != nil || x.Private != nil {
		q.Desc = &pbx.SetDesc{Public: x.Public, Private: x.Private}
	}
	return &q
}

func (x *PublishOptions) head() (map[string][]byte, error) {
	head := make(map[string][]byte)
	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf(`header %q: %w`, key, err)
		}
		head[key] = b
		return nil
	}
	for key, v := range x.Headers {
		if err := set(key, v); err != nil {
			return nil, err
		}
	}
	for _, h := range [...]struct {
		key   string
		value string
	}{
		{`forwarded`, x.Forwarded},
		{`mime`, x.Mime},
		{`replace`, x.Replace},
		{`reply`, x.Reply},
		{`thread`, x.Thread},
	} {
		if h.value != `` {
			if err := set(h.key, h.value); err != nil {
				return nil, err
			}
		}
	}
	if x.Hashtags != nil {
		if err := set(`hashtags`, x.Hashtags); err != nil {
			return nil, err
		}
	}
	if x.Mentions != nil {
		if err := set(`mentions`, x.Mentions); err != nil {
			return nil, err
		}
	}
	if x.Priority != nil {
		if err := set(`priority`, x.Priority); err != nil {
			return nil, err
		}
	}
	if len(head) == 0 {
		return nil, nil
	}
	return head, nil
}

func validateTopic(op, topic string) error {
	if topic == `` {
		return &ValidationError{Op: op, Message: `empty topic`}
	}
	return nil
}
