package input

// Binding describes a control key for the help footer.
type Binding struct {
	Keys []string
	Help string
	Desc string
	// Short marks bindings shown in the one-line footer.
	Short bool
}

// Bindings lists the control keys HandleKey recognizes, in display order.
var Bindings = []Binding{
	{Keys: []string{"enter"}, Help: "enter", Desc: "send", Short: true},
	{Keys: []string{"shift+up", "shift+down"}, Help: "shift+↑↓", Desc: "scroll", Short: true},
	{Keys: []string{"pgup", "pgdown"}, Help: "pgup/pgdn", Desc: "page", Short: true},
	{Keys: []string{"ctrl+a"}, Help: "ctrl+a", Desc: "follow", Short: true},
	{Keys: []string{"ctrl+home"}, Help: "ctrl+home", Desc: "oldest"},
	{Keys: []string{"ctrl+end"}, Help: "ctrl+end", Desc: "newest"},
	{Keys: []string{"up", "down"}, Help: "↑↓", Desc: "history"},
	{Keys: []string{"ctrl+t"}, Help: "ctrl+t", Desc: "text/hex", Short: true},
	{Keys: []string{"ctrl+r"}, Help: "ctrl+r", Desc: "reconnect"},
	{Keys: []string{"ctrl+u"}, Help: "ctrl+u", Desc: "clear line"},
	{Keys: []string{"esc", "ctrl+c", "ctrl+d"}, Help: "esc", Desc: "quit", Short: true},
}
