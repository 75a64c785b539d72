package command

import "sync"

var (
	regMu    sync.RWMutex
	registry = map[string]Command{}
)

// Register adds a command, wrapped by the given middleware innermost-first.
func Register(cmd Command, mw ...Middleware) {
	for _, m := range mw {
		cmd = m(cmd)
	}
	regMu.Lock()
	registry[cmd.Name()] = cmd
	regMu.Unlock()
}

// Get returns the command with the given name.
func Get(name string) (Command, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	cmd, ok := registry[name]
	return cmd, ok
}

// All returns every registered command.
func All() []Command {
	regMu.RLock()
	defer regMu.RUnlock()
	list := make([]Command, 0, len(registry))
	for _, cmd := range registry {
		list = append(list, cmd)
	}
	return list
}
