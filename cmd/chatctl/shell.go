package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joeycumines/go-chatloop"
	"github.com/joeycumines/go-chatloop/pbx"
	"github.com/joeycumines/go-prompt"
	pstrings "github.com/joeycumines/go-prompt/strings"
)

// requestTimeout bounds each command.
const requestTimeout = 15 * time.Second

var errUsage = errors.New("usage")

type (
	shell struct {
		session *chatloop.Session
		out     io.Writer
		mu      sync.Mutex
	}

	command struct {
		usage       string
		description string
		run         func(x *shell, ctx context.Context, args []string) error
		minArgs     int
	}
)

var commands = map[string]*command{
	"login": {
		usage:       "login <user:password> | login token <token>",
		description: "Authenticate the session",
		minArgs:     1,
		run:         (*shell).login,
	},
	"register": {
		usage:       "register <user:password> [tag...]",
		description: "Create an account and log in as it",
		minArgs:     1,
		run:         (*shell).register,
	},
	"anon": {
		usage:       "anon",
		description: "Create an anonymous account and log in as it",
		run:         (*shell).anonymous,
	},
	"whoami": {
		usage:       "whoami",
		description: "Print the user id of the session",
		run:         (*shell).whoami,
	},
	"sub": {
		usage:       "sub <topic>",
		description: "Subscribe to, or attach to, a topic",
		minArgs:     1,
		run:         (*shell).subscribe,
	},
	"new": {
		usage:       "new [tag...]",
		description: "Create a group topic",
		run:         (*shell).newTopic,
	},
	"leave": {
		usage:       "leave <topic> [unsub]",
		description: "Detach from a topic, optionally unsubscribing",
		minArgs:     1,
		run:         (*shell).leave,
	},
	"pub": {
		usage:       "pub <topic> <text...>",
		description: "Publish a text message",
		minArgs:     2,
		run:         (*shell).publish,
	},
	"desc": {
		usage:       "desc <topic>",
		description: "Print the description of a topic",
		minArgs:     1,
		run:         (*shell).describe,
	},
	"subs": {
		usage:       "subs [topic]",
		description: "List subscribers of a topic, or the topics of the user",
		run:         (*shell).subscriptions,
	},
	"users": {
		usage:       "users <tag...>",
		description: "Find users by tag",
		minArgs:     1,
		run:         (*shell).findUsers,
	},
	"topics": {
		usage:       "topics <tag...>",
		description: "Find group topics by tag",
		minArgs:     1,
		run:         (*shell).findTopics,
	},
	"history": {
		usage:       "history <topic> [limit]",
		description: "Request past messages, which are printed as they arrive",
		minArgs:     1,
		run:         (*shell).history,
	},
	"del": {
		usage:       "del <topic> <seq> [hi] [hard]",
		description: "Delete messages seq up to but excluding hi",
		minArgs:     2,
		run:         (*shell).deleteMessages,
	},
	"deltopic": {
		usage:       "deltopic <topic> [hard]",
		description: "Delete a topic, or unsubscribe if not the owner",
		minArgs:     1,
		run:         (*shell).deleteTopic,
	},
	"typing": {
		usage:       "typing <topic>",
		description: "Send a key press notification",
		minArgs:     1,
		run:         (*shell).typing,
	},
	"read": {
		usage:       "read <topic> <seq>",
		description: "Mark messages read, up to seq",
		minArgs:     2,
		run:         (*shell).markRead,
	},
}

func newShell(session *chatloop.Session, out io.Writer) *shell {
	return &shell{session: session, out: out}
}

func (x *shell) printf(format string, args ...any) {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, _ = fmt.Fprintf(x.out, format, args...)
}

// exec runs a single line of input, reporting if the shell should exit.
func (x *shell) exec(ctx context.Context, line string) (bool, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}
	name, args := args[0], args[1:]

	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		x.help()
		return false, nil
	}

	cmd, ok := commands[name]
	if !ok {
		return false, fmt.Errorf("unknown command %q, try help", name)
	}
	if len(args) < cmd.minArgs {
		return false, fmt.Errorf("%w: %s", errUsage, cmd.usage)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := cmd.run(x, ctx, args); err != nil {
		if errors.Is(err, errUsage) {
			return false, fmt.Errorf("%w: %s", err, cmd.usage)
		}
		return false, err
	}
	return false, nil
}

func (x *shell) help() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		x.printf("  %-40s %s\n", commands[name].usage, commands[name].description)
	}
	x.printf("  %-40s %s\n", "quit", "Exit")
}

// printPushes prints data messages until the session closes or ctx is done.
func (x *shell) printPushes(ctx context.Context) error {
	cursor := x.session.Pushes()
	for {
		err := cursor.NextBatch(ctx, nil, func(msg *chatloop.DataMessage) error {
			x.printMessage(msg)
			return nil
		})
		if err != nil {
			return err
		}
	}
}

func (x *shell) printMessage(msg *chatloop.DataMessage) {
	if !msg.DeletedAt().IsZero() {
		x.printf("[%s #%d] (deleted)\n", msg.Topic(), msg.ID())
		return
	}
	content, err := msg.ContentString()
	if err != nil {
		content = fmt.Sprintf("(%d bytes)", len(msg.Content()))
	}
	x.printf("[%s #%d] %s %s: %s\n", msg.Topic(), msg.ID(), msg.Timestamp().Format(time.Kitchen), msg.FromUserID(), content)
}

func (x *shell) login(ctx context.Context, args []string) error {
	secret, scheme := args[0], chatloop.SchemeBasic
	if args[0] == chatloop.SchemeToken {
		if len(args) != 2 {
			return errUsage
		}
		secret, scheme = args[1], chatloop.SchemeToken
	}
	token, err := x.session.Login(ctx, secret, scheme)
	if err != nil {
		return err
	}
	return x.printIdentity(token)
}

func (x *shell) register(ctx context.Context, args []string) error {
	token, err := x.session.Register(ctx, args[0], &chatloop.AccountOptions{Tags: args[1:]})
	if err != nil {
		return err
	}
	return x.printIdentity(token)
}

func (x *shell) anonymous(ctx context.Context, _ []string) error {
	token, err := x.session.Register(ctx, "", &chatloop.AccountOptions{Scheme: chatloop.SchemeAnonymous})
	if err != nil {
		return err
	}
	return x.printIdentity(token)
}

func (x *shell) printIdentity(token string) error {
	userID, err := x.session.UserID()
	if err != nil {
		return err
	}
	x.printf("logged in as %s, token %s\n", userID, token)
	return nil
}

func (x *shell) whoami(context.Context, []string) error {
	userID, err := x.session.UserID()
	if err != nil {
		return err
	}
	x.printf("%s\n", userID)
	return nil
}

func (x *shell) subscribe(ctx context.Context, args []string) error {
	if err := x.session.Subscribe(ctx, args[0]); err != nil {
		return err
	}
	x.printf("subscribed to %s\n", args[0])
	return nil
}

func (x *shell) newTopic(ctx context.Context, args []string) error {
	topic, err := x.session.NewTopic(ctx, &chatloop.TopicOptions{Tags: args})
	if err != nil {
		return err
	}
	x.printf("created %s\n", topic)
	return nil
}

func (x *shell) leave(ctx context.Context, args []string) error {
	var unsubscribe bool
	switch len(args) {
	case 1:
	case 2:
		if args[1] != "unsub" {
			return errUsage
		}
		unsubscribe = true
	default:
		return errUsage
	}
	if err := x.session.Leave(ctx, args[0], unsubscribe); err != nil {
		return err
	}
	x.printf("left %s\n", args[0])
	return nil
}

func (x *shell) publish(ctx context.Context, args []string) error {
	seq, err := x.session.PublishString(ctx, args[0], strings.Join(args[1:], " "), &chatloop.PublishOptions{NoEcho: true})
	if err != nil {
		return err
	}
	x.printf("published %s #%d\n", args[0], seq)
	return nil
}

func (x *shell) describe(ctx context.Context, args []string) error {
	desc, err := x.session.GetTopicDescription(ctx, args[0], time.Time{})
	if err != nil {
		return err
	}
	x.printf("%s: created %s, last #%d, read #%d, recv #%d, access %s/%s, default %s/%s",
		desc.Name(),
		desc.CreatedAt().Format(time.RFC3339),
		desc.LastMessageID(),
		desc.ReadMessageID(),
		desc.ReceivedMessageID(),
		desc.WantAccess(),
		desc.GivenAccess(),
		desc.DefaultAuthAccess(),
		desc.DefaultAnonAccess(),
	)
	if public := desc.Public(); len(public) != 0 {
		x.printf(", public %s", public)
	}
	x.printf("\n")
	return nil
}

func (x *shell) subscriptions(ctx context.Context, args []string) error {
	var (
		subs []*chatloop.Subscription
		err  error
	)
	switch len(args) {
	case 0:
		subs, err = x.session.GetSubscribedTopics(ctx, 0, time.Time{})
	case 1:
		subs, err = x.session.GetSubscribedUsers(ctx, args[0], 0, time.Time{})
	default:
		return errUsage
	}
	if err != nil {
		return err
	}
	x.printSubscriptions(subs)
	return nil
}

func (x *shell) findUsers(ctx context.Context, args []string) error {
	subs, err := x.session.FindUsers(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	x.printSubscriptions(subs)
	return nil
}

func (x *shell) findTopics(ctx context.Context, args []string) error {
	subs, err := x.session.FindTopics(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	x.printSubscriptions(subs)
	return nil
}

func (x *shell) printSubscriptions(subs []*chatloop.Subscription) {
	if len(subs) == 0 {
		x.printf("(none)\n")
		return
	}
	for _, sub := range subs {
		name := sub.Topic()
		if name == "" {
			name = sub.UserID()
		}
		online := ""
		if sub.Online() {
			online = " online"
		}
		x.printf("  %s: last #%d, read #%d, recv #%d%s", name, sub.LastMessageID(), sub.ReadID(), sub.RecvID(), online)
		if public := sub.Public(); len(public) != 0 {
			x.printf(", public %s", public)
		}
		x.printf("\n")
	}
}

func (x *shell) history(ctx context.Context, args []string) error {
	q := chatloop.HistoryQuery{Limit: 24}
	if len(args) > 2 {
		return errUsage
	}
	if len(args) == 2 {
		limit, err := parseSeq(args[1])
		if err != nil {
			return err
		}
		q.Limit = limit
	}
	return x.session.GetMessageHistory(ctx, args[0], &q)
}

func (x *shell) deleteMessages(ctx context.Context, args []string) error {
	topic, args := args[0], args[1:]
	var hard bool
	if n := len(args); args[n-1] == "hard" {
		hard, args = true, args[:n-1]
	}
	if len(args) == 0 || len(args) > 2 {
		return errUsage
	}
	var r pbx.SeqRange
	var err error
	if r.Low, err = parseSeq(args[0]); err != nil {
		return err
	}
	if len(args) == 2 {
		if r.Hi, err = parseSeq(args[1]); err != nil {
			return err
		}
	}
	if err := x.session.DeleteMessages(ctx, topic, []pbx.SeqRange{r}, hard); err != nil {
		return err
	}
	x.printf("deleted from %s\n", topic)
	return nil
}

func (x *shell) deleteTopic(ctx context.Context, args []string) error {
	var hard bool
	switch len(args) {
	case 1:
	case 2:
		if args[1] != "hard" {
			return errUsage
		}
		hard = true
	default:
		return errUsage
	}
	if err := x.session.DeleteTopic(ctx, args[0], hard); err != nil {
		return err
	}
	x.printf("deleted %s\n", args[0])
	return nil
}

func (x *shell) typing(ctx context.Context, args []string) error {
	return x.session.NotifyKeyPress(ctx, args[0])
}

func (x *shell) markRead(ctx context.Context, args []string) error {
	seq, err := parseSeq(args[1])
	if err != nil {
		return err
	}
	return x.session.NotifyRead(ctx, args[0], seq)
}

func parseSeq(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: invalid message id %q", errUsage, s)
	}
	return int32(v), nil
}

func completer(in prompt.Document) ([]prompt.Suggest, pstrings.RuneNumber, pstrings.RuneNumber) {
	endIndex := in.CurrentRuneIndex()
	w := in.GetWordBeforeCursor()
	startIndex := endIndex - pstrings.RuneCountInString(w)

	// only the command name is completed
	if strings.ContainsAny(strings.TrimLeft(in.TextBeforeCursor(), " "), " ") {
		return nil, startIndex, endIndex
	}

	s := make([]prompt.Suggest, 0, len(commands)+2)
	for name, cmd := range commands {
		s = append(s, prompt.Suggest{Text: name, Description: cmd.description})
	}
	s = append(s,
		prompt.Suggest{Text: "help", Description: "List commands"},
		prompt.Suggest{Text: "quit", Description: "Exit"},
	)
	sort.Slice(s, func(i, j int) bool { return s[i].Text < s[j].Text })

	return prompt.FilterHasPrefix(s, w, true), startIndex, endIndex
}
