// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the mentor CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// =============================================================================
// Output Level
// =============================================================================

// Level controls how much decoration a Printer emits.
type Level string

const (
	// LevelStyled enables colors, icons and boxes.
	LevelStyled Level = "styled"

	// LevelPlain keeps icons and layout but never emits ANSI sequences.
	LevelPlain Level = "plain"

	// LevelMachine prints prefixed plain lines suitable for scripting.
	LevelMachine Level = "machine"
)

// OutputEnv overrides level detection when set.
const OutputEnv = "MENTOR_OUTPUT"

// ParseLevel converts a flag or environment value to a Level. Unknown
// values yield LevelPlain.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "styled", "full", "color":
		return LevelStyled
	case "machine", "quiet", "q":
		return LevelMachine
	default:
		return LevelPlain
	}
}

// DetectLevel picks the output level for f.
//
// # Description
//
// MENTOR_OUTPUT wins when set. Otherwise a terminal gets LevelStyled unless
// NO_COLOR is set, and anything else (pipes, files) gets LevelPlain.
func DetectLevel(f *os.File) Level {
	if v := os.Getenv(OutputEnv); v != "" {
		return ParseLevel(v)
	}
	if f == nil || os.Getenv("NO_COLOR") != "" {
		return LevelPlain
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return LevelStyled
	}
	return LevelPlain
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes themed lines to out. In LevelMachine, warnings and errors
// go to errOut.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	level  Level
}

// NewPrinter creates a Printer. A nil errOut falls back to out.
func NewPrinter(out, errOut io.Writer, level Level) *Printer {
	if errOut == nil {
		errOut = out
	}
	return &Printer{out: out, errOut: errOut, level: level}
}

// Level returns the printer's output level.
func (p *Printer) Level() Level { return p.level }

func (p *Printer) style(s lipgloss.Style, text string) string {
	if p.level != LevelStyled {
		return text
	}
	return s.Render(text)
}

func (p *Printer) icon(i Icon) string {
	switch i {
	case IconSuccess:
		return p.style(Styles.Success, string(i))
	case IconWarning:
		return p.style(Styles.Warning, string(i))
	case IconError:
		return p.style(Styles.Error, string(i))
	default:
		return string(i)
	}
}

// Title prints a heading. Machine output omits it.
func (p *Printer) Title(text string) {
	if p.level == LevelMachine {
		return
	}
	fmt.Fprintln(p.out, p.style(Styles.Title, text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if p.level == LevelMachine {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.icon(IconSuccess), p.style(Styles.Success, text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	if p.level == LevelMachine {
		fmt.Fprintf(p.errOut, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.icon(IconWarning), p.style(Styles.Warning, text))
}

// Error prints an error message
func (p *Printer) Error(text string) {
	if p.level == LevelMachine {
		fmt.Fprintf(p.errOut, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.icon(IconError), p.style(Styles.Error, text))
}

// Info prints an informational line
func (p *Printer) Info(text string) {
	if p.level == LevelMachine {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.style(Styles.Muted, "│"), text)
}

// Muted prints secondary text. Machine output omits it.
func (p *Printer) Muted(text string) {
	if p.level == LevelMachine {
		return
	}
	fmt.Fprintln(p.out, p.style(Styles.Muted, text))
}

// KeyValue prints an aligned "key: value" line.
func (p *Printer) KeyValue(key, value string) {
	if p.level == LevelMachine {
		fmt.Fprintf(p.out, "%s=%s\n", key, value)
		return
	}
	fmt.Fprintf(p.out, "  %s %s\n", p.style(Styles.Subtitle, fmt.Sprintf("%-16s", key+":")), value)
}

// Item prints one list entry. index > 0 numbers it, otherwise a bullet is used.
func (p *Printer) Item(index int, text string) {
	marker := string(IconBullet)
	if index > 0 {
		marker = fmt.Sprintf("%d.", index)
	}
	if p.level == LevelMachine {
		fmt.Fprintf(p.out, "%s %s\n", marker, text)
		return
	}
	fmt.Fprintf(p.out, "  %s %s\n", p.style(Styles.Highlight, marker), text)
}

// Box prints content in a rounded box titled title.
func (p *Printer) Box(title, content string) {
	p.box(Styles.Box, Styles.Title, title, content)
}

// WarningBox prints content in a warning-styled box.
func (p *Printer) WarningBox(title, content string) {
	if p.level == LevelMachine {
		fmt.Fprintf(p.errOut, "WARN %s: %s\n", title, content)
		return
	}
	p.box(Styles.WarningBox, Styles.Warning.Bold(true), title, content)
}

func (p *Printer) box(frame, heading lipgloss.Style, title, content string) {
	switch p.level {
	case LevelMachine:
		fmt.Fprintf(p.out, "%s: %s\n", title, content)
	case LevelPlain:
		fmt.Fprintf(p.out, "%s\n%s\n", title, content)
	default:
		fmt.Fprintln(p.out, frame.Width(72).Render(heading.Render(title)+"\n"+content))
	}
}
