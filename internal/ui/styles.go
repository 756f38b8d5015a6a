package ui

import (
	"image/color"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/fang"
)

// Color palette, shared by the terminal styles and the fang help screen.
var (
	ColorPrimary   = lipgloss.Color("#15803D") // Forest green
	ColorSecondary = lipgloss.Color("#0EA5E9") // Sky
	ColorSuccess   = lipgloss.Color("#22C55E") // Green
	ColorWarning   = lipgloss.Color("#EAB308") // Yellow
	ColorError     = lipgloss.Color("#DC2626") // Red
	ColorMuted     = lipgloss.Color("#78716C") // Stone
	ColorHighlight = lipgloss.Color("#A3E635") // Lime

	ColorText     = lipgloss.Color("#FAFAF9")
	ColorTextDim  = lipgloss.Color("#A8A29E")
	ColorTextMute = lipgloss.Color("#78716C")
)

// styleWrapper wraps a lipgloss style
type styleWrapper struct {
	style lipgloss.Style
}

func (s styleWrapper) Render(str string) string { return s.style.Render(str) }
func (s styleWrapper) Bold(v bool) styleWrapper { return styleWrapper{s.style.Bold(v)} }

func fg(c color.Color) styleWrapper { return styleWrapper{lipgloss.NewStyle().Foreground(c)} }

// Text styles
var (
	Dim       = fg(ColorTextDim)
	Muted     = fg(ColorTextMute)
	Success   = fg(ColorSuccess)
	Warning   = fg(ColorWarning)
	Error     = fg(ColorError)
	Secondary = fg(ColorSecondary)
	Highlight = styleWrapper{lipgloss.NewStyle().Foreground(ColorHighlight).Bold(true)}

	// SectionHeader titles the blocks of a validation report.
	SectionHeader = styleWrapper{lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)}
)

// Stage row styles of a Workflow.
var (
	StepPending  = fg(ColorMuted)
	StepRunning  = fg(ColorSecondary)
	StepComplete = fg(ColorSuccess)
	StepFailed   = fg(ColorError)
	StepSkipped  = fg(ColorWarning)
)

func GetCheckMark() string { return Success.Render("✓") }
func GetCrossMark() string { return Error.Render("✗") }
func GetWarnMark() string  { return Warning.Render("⚠") }
func GetBullet() string    { return Muted.Render("•") }

// boxWrapper is a bordered panel.
type boxWrapper struct {
	style lipgloss.Style
}

func (b boxWrapper) Render(str string) string { return b.style.Render(str) }

func box(c color.Color) boxWrapper {
	return boxWrapper{lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(c).
		Padding(0, 1)}
}

var (
	Box        = box(ColorMuted)
	SuccessBox = box(ColorSuccess)
	ErrorBox   = box(ColorError)
)

// FormatKeyValue formats a key-value pair with styling
func FormatKeyValue(key, value string) string {
	return Dim.Render(key+": ") + value
}

// FormatStatus prefixes message with the mark for status
// (success, error or warning); anything else gets a bullet.
func FormatStatus(status, message string) string {
	icon := GetBullet()
	switch status {
	case "success":
		icon = GetCheckMark()
	case "error":
		icon = GetCrossMark()
	case "warning":
		icon = GetWarnMark()
	}
	return icon + " " + message
}

// FangColorScheme maps the palette onto fang's help and error screens.
func FangColorScheme(c lipgloss.LightDarkFunc) fang.ColorScheme {
	return fang.ColorScheme{
		Base:           ColorText,
		Title:          ColorPrimary,
		Description:    ColorTextDim,
		Codeblock:      c(lipgloss.Color("#1F2937"), lipgloss.Color("#2F2E36")),
		Program:        ColorSecondary,
		DimmedArgument: ColorMuted,
		Comment:        ColorMuted,
		Flag:           ColorSuccess,
		FlagDefault:    ColorTextDim,
		Command:        ColorHighlight,
		QuotedString:   ColorSecondary,
		Argument:       ColorText,
		Help:           ColorTextDim,
		Dash:           ColorMuted,
		ErrorHeader:    [2]color.Color{ColorText, ColorError},
		ErrorDetails:   ColorError,
	}
}

// BannerASCII is the ASCII art banner for the application
const BannerASCII = `
    _    ___ ___   _____       _     _
   / \  / _ \_ _| | ____|_   _(_) __| | ___ _ __   ___ ___
  / _ \| | | | |  |  _| \ \ / / |/ _` + "`" + ` |/ _ \ '_ \ / __/ _ \
 / ___ \ |_| | |  | |___ \ V /| | (_| |  __/ | | | (_|  __/
/_/   \_\___/___| |_____| \_/ |_|\__,_|\___|_| |_|\___\___|
`

// RenderGradientBanner renders the banner in the primary green.
func RenderGradientBanner(banner string) string {
	return styleWrapper{lipgloss.NewStyle().Foreground(ColorPrimary)}.Render(banner)
}
