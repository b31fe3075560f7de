package display

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dgnsrekt/sportscaster/internal/messages"
)

// EmotionColors maps commentary emotions to their accent colors.
var EmotionColors = map[string]string{
	"excited":      "#facc15",
	"tense":        "#f97316",
	"thoughtful":   "#60a5fa",
	"celebratory":  "#4ade80",
	"disappointed": "#f87171",
	"urgent":       "#ef4444",
	"neutral":      "#9ca3af",
}

// EmotionColor returns the accent for emotion, falling back to neutral.
func EmotionColor(emotion string) string {
	if c, ok := EmotionColors[strings.ToLower(emotion)]; ok {
		return c
	}
	return EmotionColors[messages.DefaultEmotion]
}

// Renderer draws a lower-third: older lines dimmed, the latest line bold
// in its emotion color.
type Renderer struct {
	r     *lipgloss.Renderer
	width int
	max   int
}

// NewRenderer renders for w. Color support is detected from w.
func NewRenderer(w io.Writer, width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	return &Renderer{r: lipgloss.NewRenderer(w), width: width, max: DefaultFeedLimit}
}

// Render returns the last lines of items as a styled block.
func (r *Renderer) Render(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	if len(items) > r.max {
		items = items[len(items)-r.max:]
	}

	older := r.r.NewStyle().
		Foreground(lipgloss.Color("243")).
		Width(r.width - 4)

	lines := make([]string, 0, len(items))
	for i, it := range items {
		if i < len(items)-1 {
			lines = append(lines, older.Render(it.Text))
			continue
		}
		latest := r.r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(EmotionColor(it.Emotion))).
			Width(r.width - 4)
		tag := r.r.NewStyle().
			Foreground(lipgloss.Color(EmotionColor(it.Emotion))).
			Render(strings.ToUpper(it.Emotion))
		lines = append(lines, latest.Render(it.Text), tag)
	}

	latest := items[len(items)-1]
	box := r.r.NewStyle().
		Border(lipgloss.ThickBorder(), false, false, false, true).
		BorderForeground(lipgloss.Color(EmotionColor(latest.Emotion))).
		PaddingLeft(1)
	return box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// Status renders a one-line status message.
func (r *Renderer) Status(active bool, text string) string {
	dot := r.r.NewStyle().Foreground(lipgloss.Color("243")).Render("○")
	if active {
		dot = r.r.NewStyle().Foreground(lipgloss.Color("42")).Render("●")
	}
	return dot + " " + r.r.NewStyle().Foreground(lipgloss.Color("252")).Render(text)
}
