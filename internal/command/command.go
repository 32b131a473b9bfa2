// Package command turns chat messages into service calls. Commands are
// dispatched through a table keyed by Tag.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/release-watcher/internal/release"
)

// Tag identifies a chat command.
type Tag int

// Supported commands.
const (
	TagUnknown Tag = iota
	TagStart
	TagHelp
	TagLast
	TagMore
	TagPing
)

var names = map[string]Tag{
	"start": TagStart,
	"help":  TagHelp,
	"last":  TagLast,
	"more":  TagMore,
	"ping":  TagPing,
}

func (t Tag) String() string {
	for name, tag := range names {
		if tag == t {
			return name
		}
	}
	return "unknown"
}

// Fixed replies.
const (
	UnknownReply  = "Хм.. может /help?"
	FetchingReply = "Получаю информацию о релизе.."
	allWaitReply  = "Придется подождать.. (~1мин.) Подписок много.. Ушёл, за информацией.."
)

// Command is a parsed chat command.
type Command struct {
	Tag  Tag
	Args []string
}

// Parse splits text into a command and reports whether it names a known
// one. "/more_X_Y" carries its arguments in the command word; other commands
// take space separated arguments. A trailing "@botname" on the command word
// is ignored.
func Parse(text string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, false
	}
	word, _, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
	args := fields[1:]

	if rest, ok := strings.CutPrefix(word, "more_"); ok {
		parts := strings.Split(rest, "_")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Command{}, false
		}
		return Command{Tag: TagMore, Args: parts}, true
	}
	tag, ok := names[strings.ToLower(word)]
	if !ok || tag == TagMore {
		return Command{}, false
	}
	return Command{Tag: tag, Args: args}, true
}

// Request is an inbound chat message.
type Request struct {
	ChatID    string `json:"chat_id"`
	FirstName string `json:"first_name"`
	// Username is stored with the subscription; it may be absent.
	Username *string `json:"username,omitempty"`
	Text     string  `json:"text"`
}

// Backend is the part of the service the commands use.
type Backend interface {
	Sources() []release.Source
	Subscribe(ctx context.Context, chatID string, name *string) (bool, error)
	LookupRecent(ctx context.Context, filter string) (string, error)
	LookupDetail(ctx context.Context, code, id string) (string, error)
	Ping(ctx context.Context, code string) (string, error)
}

// Reply holds the messages sent back to the chat, in order.
type Reply []string

// Handler produces the reply to one command.
type Handler func(ctx context.Context, req Request, cmd Command) (Reply, error)

// Table maps each command to its handler.
type Table map[Tag]Handler

// Router dispatches parsed commands to handlers.
type Router struct {
	backend     Backend
	defaultCode string
	table       Table
	logger      *zap.Logger
}

// NewRouter builds the command table. defaultCode is used when /last or
// /ping is given no usable site code.
func NewRouter(backend Backend, defaultCode string, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{backend: backend, defaultCode: defaultCode, logger: logger}
	r.table = Table{
		TagStart: r.start,
		TagHelp:  r.help,
		TagLast:  r.last,
		TagMore:  r.more,
		TagPing:  r.ping,
	}
	return r
}

// Handle parses the request text and runs the matching handler. Failures are
// logged and answered with the generic hint.
func (r *Router) Handle(ctx context.Context, req Request) Reply {
	cmd, ok := Parse(req.Text)
	h, found := r.table[cmd.Tag]
	if !ok || !found {
		return Reply{UnknownReply}
	}
	replies, err := h(ctx, req, cmd)
	if err != nil {
		r.logger.Warn("command failed",
			zap.String("command", cmd.Tag.String()),
			zap.String("chat_id", req.ChatID),
			zap.Error(err),
		)
		return append(replies, UnknownReply)
	}
	return replies
}

func (r *Router) start(ctx context.Context, req Request, _ Command) (Reply, error) {
	added, err := r.backend.Subscribe(ctx, req.ChatID, req.Username)
	if err != nil {
		return nil, err
	}
	greeting := "Привет, " + req.FirstName
	if added {
		greeting = "Добро пожаловать, " + req.FirstName
	}
	return Reply{greeting, r.HelpText()}, nil
}

func (r *Router) help(context.Context, Request, Command) (Reply, error) {
	return Reply{r.HelpText()}, nil
}

func (r *Router) last(ctx context.Context, _ Request, cmd Command) (Reply, error) {
	code := firstArg(cmd)
	if code != "all" {
		if _, ok := r.source(code); !ok {
			code = r.defaultCode
		}
	}
	wait := allWaitReply
	if src, ok := r.source(code); ok {
		wait = fmt.Sprintf("Подождите.. Получаю информацию о последних релизах %s..", src.Title)
	}
	text, err := r.backend.LookupRecent(ctx, code)
	if err != nil {
		return Reply{wait}, err
	}
	return Reply{wait, text}, nil
}

func (r *Router) more(ctx context.Context, _ Request, cmd Command) (Reply, error) {
	text, err := r.backend.LookupDetail(ctx, cmd.Args[0], cmd.Args[1])
	if err != nil {
		return Reply{FetchingReply}, err
	}
	return Reply{FetchingReply, text}, nil
}

func (r *Router) ping(ctx context.Context, _ Request, cmd Command) (Reply, error) {
	code := firstArg(cmd)
	if _, ok := r.source(code); !ok {
		code = r.defaultCode
	}
	text, err := r.backend.Ping(ctx, code)
	switch {
	case errors.Is(err, release.ErrUnknownSource):
		return nil, err
	case err != nil:
		r.logger.Info("ping failed", zap.String("code", code), zap.Error(err))
		return Reply{"Сайт не отвечает"}, nil
	}
	return Reply{text}, nil
}

func (r *Router) source(code string) (release.Source, bool) {
	for _, src := range r.backend.Sources() {
		if src.Code == code {
			return src, true
		}
	}
	return release.Source{}, false
}

func firstArg(cmd Command) string {
	if len(cmd.Args) == 0 {
		return ""
	}
	return cmd.Args[0]
}

var helpEntries = []struct{ key, desc string }{
	{"/start", "начать использовать бота"},
	{"/help", "показать доступные команды"},
	{"/ping X", "получить статус сайта, где X - код сайта (если X не указано, то выведет для %s)"},
	{"/last X", "показать последние релизы, где\nX - код сайта (если X не указано, то выведет для %s)"},
	{"/more_X_Y", "показать полную информацию о фильме или сериале, где\nX - код сайта, Y - id релиза"},
}

// HelpText lists the commands and the configured site codes.
func (r *Router) HelpText() string {
	var b strings.Builder
	b.WriteString("<b>Доступны следующие команды: </b>\n")
	for _, e := range helpEntries {
		desc := e.desc
		if strings.Contains(desc, "%s") {
			desc = fmt.Sprintf(desc, r.defaultCode)
		}
		b.WriteString(e.key + " - " + desc + "\n\n")
	}
	b.WriteString("<b>Коды сайтов:</b>\n")
	for _, src := range r.backend.Sources() {
		what := "фильмов"
		if src.Kind == release.KindSeries {
			what = "сериалов"
		}
		fmt.Fprintf(&b, "%s - релизы %s %s\n", src.Code, what, src.Title)
	}
	b.WriteString("all - релизы со всех сайтов в подписке (для команды /last)\n")
	return b.String()
}
