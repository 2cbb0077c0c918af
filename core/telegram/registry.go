package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/m3rciful/vatwatch/core/logger"
	"github.com/m3rciful/vatwatch/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

// CommandEntry is a registered command under its canonical "/name".
type CommandEntry struct {
	Name string
	commands.Command
}

// Registry holds bot commands and callbacks. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	commands  map[string]commands.Command
	aliases   map[string]string // "/alias" -> canonical name
	callbacks map[string]tele.HandlerFunc

	callbackNotFound tele.HandlerFunc
	textFallback     tele.HandlerFunc
}

// NewRegistry creates an empty Registry. Unknown callbacks are answered
// with "Unsupported action".
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		aliases:   make(map[string]string),
		callbacks: make(map[string]tele.HandlerFunc),
		callbackNotFound: func(c tele.Context) error {
			_ = c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
			return nil
		},
	}
}

func slash(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return "/" + name
}

// RegisterCommand adds cmd under name, which must start with "/". Names and
// aliases share one namespace.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) error {
	switch {
	case name == "" || cmd.Handler == nil || cmd.Description == "":
		return wireReject("command", name, "invalid")
	case name[0] != '/':
		return wireReject("command", name, "no_slash_prefix")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolve(name) != "" {
		return wireReject("command", name, "duplicate")
	}
	for _, alias := range cmd.Aliases {
		if r.resolve(slash(alias)) != "" {
			return wireReject("command", alias, "duplicate_alias")
		}
	}
	r.commands[name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[slash(alias)] = name
	}
	return nil
}

// resolve maps a "/name" or "/alias" to the canonical name, or "".
func (r *Registry) resolve(name string) string {
	if _, ok := r.commands[name]; ok {
		return name
	}
	return r.aliases[name]
}

// LookupCommand finds a command by name or alias, with or without the
// leading slash, and returns its canonical name.
func (r *Registry) LookupCommand(name string) (string, commands.Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := r.resolve(slash(name))
	if key == "" {
		return "", commands.Command{}, false
	}
	return key, r.commands[key], true
}

// Commands returns every command sorted by name.
func (r *Registry) Commands() []CommandEntry {
	r.mu.RLock()
	out := make([]CommandEntry, 0, len(r.commands))
	for name, cmd := range r.commands {
		out = append(out, CommandEntry{Name: name, Command: cmd})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListCommands returns the command menu; visibleOnly leaves out hidden and
// admin-only commands.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	var menu []tele.Command
	for _, e := range r.Commands() {
		if visibleOnly && (e.Hidden || e.AdminOnly) {
			continue
		}
		menu = append(menu, tele.Command{Text: e.Name, Description: e.Description})
	}
	return menu
}

// RegisterCallback binds handler to a callback unique key.
func (r *Registry) RegisterCallback(key string, handler tele.HandlerFunc) error {
	if key == "" || handler == nil {
		return wireReject("callback", key, "invalid")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.callbacks[key]; exists {
		return wireReject("callback", key, "duplicate")
	}
	r.callbacks[key] = handler
	return nil
}

// GetCallback returns the handler bound to key.
func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// ListCallbacks returns the sorted callback keys.
func (r *Registry) ListCallbacks() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.callbacks))
	for k := range r.callbacks {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (r *Registry) CallbackNotFound() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbackNotFound
}

// SetTextFallback sets the handler for text that matches no route.
func (r *Registry) SetTextFallback(h tele.HandlerFunc) {
	r.mu.Lock()
	r.textFallback = h
	r.mu.Unlock()
}

func (r *Registry) TextFallback() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.textFallback
}

func wireReject(kind, name, reason string) error {
	logger.Warn(context.Background(), "tg.wire", "register."+kind+".skip",
		slog.String("name", name),
		slog.String("reason", reason),
	)
	return fmt.Errorf("register %s %q: %s", kind, name, reason)
}

// InitBotCommands publishes the visible commands with setMyCommands.
func InitBotCommands(bot *tele.Bot, reg *Registry) {
	if err := bot.SetCommands(reg.ListCommands(true)); err != nil {
		logger.Error(context.Background(), "tg.wire", "register.commands.set_failed",
			slog.String("err", err.Error()),
		)
	}
}
