package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"arbor/internal/dragdrop"
	"arbor/internal/tree"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	skeletonStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Toggle   key.Binding
	MoveUp   key.Binding
	MoveDown key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Toggle, k.MoveUp, k.MoveDown, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Toggle:   key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "expand/collapse")),
	MoveUp:   key.NewBinding(key.WithKeys("K"), key.WithHelp("K", "move before")),
	MoveDown: key.NewBinding(key.WithKeys("J"), key.WithHelp("J", "move after")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type row struct {
	id       string
	depth    int
	expanded bool
	node     tree.Node
}

type browser struct {
	app     *App
	rows    []row
	cursor  int
	height  int
	help    help.Model
	lastErr string
}

type refreshMsg struct{}

func newBrowser(app *App) browser {
	b := browser{app: app, height: 24, help: help.New()}
	b.rebuild()
	return b
}

// rebuild flattens the expanded portion of the tree into display rows
// and pushes the visible window into the cache's protection logic.
func (b *browser) rebuild() {
	b.rows = b.rows[:0]
	ix := b.app.tree.Index()

	type frame struct {
		id    string
		depth int
	}
	var worklist []frame
	roots := ix.Roots()
	for i := len(roots) - 1; i >= 0; i-- {
		worklist = append(worklist, frame{roots[i], 0})
	}
	for len(worklist) > 0 {
		f := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		node, ok := b.app.tree.GetNode(f.id)
		if !ok {
			continue
		}
		expanded := b.app.tree.IsExpanded(f.id)
		b.rows = append(b.rows, row{id: f.id, depth: f.depth, expanded: expanded, node: node})
		if expanded {
			children := ix.Children(f.id)
			for i := len(children) - 1; i >= 0; i-- {
				worklist = append(worklist, frame{children[i].ID, f.depth + 1})
			}
		}
	}

	if b.cursor >= len(b.rows) {
		b.cursor = len(b.rows) - 1
	}
	if b.cursor < 0 {
		b.cursor = 0
	}

	visible := make([]string, 0, b.height)
	start := b.cursor - b.height/2
	if start < 0 {
		start = 0
	}
	for i := start; i < len(b.rows) && len(visible) < b.height; i++ {
		visible = append(visible, b.rows[i].id)
	}
	b.app.tree.SetVisible(visible)
}

func (b browser) Init() tea.Cmd {
	return nil
}

func (b browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		_, v := docStyle.GetFrameSize()
		b.height = msg.Height - v - 4
		b.rebuild()

	case refreshMsg:
		b.lastErr = ""
		b.rebuild()

	case error:
		b.lastErr = msg.Error()
		b.rebuild()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return b, tea.Quit
		case key.Matches(msg, keys.Up):
			b.app.tree.MarkActivity(tree.InputKeyboard)
			if b.cursor > 0 {
				b.cursor--
			}
			b.rebuild()
		case key.Matches(msg, keys.Down):
			b.app.tree.MarkActivity(tree.InputKeyboard)
			if b.cursor < len(b.rows)-1 {
				b.cursor++
			}
			b.rebuild()
		case key.Matches(msg, keys.Toggle):
			return b, b.toggleCurrent()
		case key.Matches(msg, keys.MoveUp):
			return b, b.moveCurrent(dragdrop.Before)
		case key.Matches(msg, keys.MoveDown):
			return b, b.moveCurrent(dragdrop.After)
		}
	}
	return b, nil
}

func (b *browser) toggleCurrent() tea.Cmd {
	if b.cursor >= len(b.rows) {
		return nil
	}
	r := b.rows[b.cursor]
	app := b.app
	if r.expanded {
		app.Collapse(r.id)
		b.rebuild()
		return nil
	}
	if !r.node.HasChildren {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Expand(ctx, r.id); err != nil {
			return err
		}
		return refreshMsg{}
	}
}

// moveCurrent swaps the node under the cursor with its neighbor through
// a full drag-drop transaction.
func (b *browser) moveCurrent(pos dragdrop.Position) tea.Cmd {
	if b.cursor >= len(b.rows) {
		return nil
	}
	r := b.rows[b.cursor]
	siblings := siblingRows(b.rows, b.cursor)
	var target string
	for i, s := range siblings {
		if s != r.id {
			continue
		}
		if pos == dragdrop.Before && i > 0 {
			target = siblings[i-1]
		}
		if pos == dragdrop.After && i < len(siblings)-1 {
			target = siblings[i+1]
		}
		break
	}
	if target == "" {
		return nil
	}
	app := b.app
	req := dragdrop.MoveRequest{DraggedIDs: []string{r.id}, TargetID: target, Position: pos}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := app.MoveNode(ctx, req); err != nil {
			return err
		}
		return refreshMsg{}
	}
}

// siblingRows lists the display-order ids sharing the cursor row's
// parent.
func siblingRows(rows []row, cursor int) []string {
	parent := rows[cursor].node.ParentID
	out := make([]string, 0, 8)
	for _, r := range rows {
		if r.node.ParentID == parent {
			out = append(out, r.id)
		}
	}
	return out
}

func (b browser) View() string {
	var sb strings.Builder
	start := 0
	if b.cursor >= b.height {
		start = b.cursor - b.height + 1
	}
	end := start + b.height
	if end > len(b.rows) {
		end = len(b.rows)
	}
	for i := start; i < end; i++ {
		r := b.rows[i]
		marker := "  "
		if r.node.HasChildren {
			marker = "▸ "
			if r.expanded {
				marker = "▾ "
			}
		}
		label := r.id
		if len(r.node.Payload) > 0 {
			label = string(r.node.Payload)
		}
		line := strings.Repeat("  ", r.depth) + marker + label
		switch {
		case r.node.IsSkeleton:
			line = skeletonStyle.Render(line + " (loading)")
		case i == b.cursor:
			line = cursorStyle.Render("> " + line)
		default:
			line = "  " + line
		}
		sb.WriteString(line + "\n")
	}

	status := statusStyle.Render(fmt.Sprintf("%d rows | %d cached", len(b.rows), b.app.tree.CachedPayloads()))
	if b.lastErr != "" {
		status += " " + errorStyle.Render(b.lastErr)
	}
	header := titleStyle("Arbor Tree Browser")
	return docStyle.Render(header + "\n\n" + sb.String() + "\n" + status + "\n" + b.help.View(keys))
}
