// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"regexp"
	"strings"
)

type latexReplacement struct {
	pattern *regexp.Regexp
	repl    string
}

var latexReplacements = []latexReplacement{
	{regexp.MustCompile(`\\cdot`), "·"},
	{regexp.MustCompile(`\\times`), "×"},
	{regexp.MustCompile(`\\to`), "→"},
	{regexp.MustCompile(`\\leq`), "≤"},
	{regexp.MustCompile(`\\geq`), "≥"},
	{regexp.MustCompile(`\\neq`), "≠"},
	{regexp.MustCompile(`\\pm`), "±"},
	{regexp.MustCompile(`\\approx`), "≈"},
	{regexp.MustCompile(`\\infty`), "∞"},
	{regexp.MustCompile(`\\Rightarrow`), "⇒"},
	{regexp.MustCompile(`\\Leftarrow`), "⇐"},
	{regexp.MustCompile(`\\sin`), "sin"},
	{regexp.MustCompile(`\\cos`), "cos"},
	{regexp.MustCompile(`\\tan`), "tan"},
	{regexp.MustCompile(`\\ln`), "ln"},
	{regexp.MustCompile(`\\log`), "log"},
	{regexp.MustCompile(`\\lim`), "lim"},
	{regexp.MustCompile(`\\mathbb\{R\}`), "R"},
	{regexp.MustCompile(`\\mathbb\{Z\}`), "Z"},
	{regexp.MustCompile(`\\mathbb\{Q\}`), "Q"},
	{regexp.MustCompile(`\\sqrt`), "√"},
	{regexp.MustCompile(`\\pi`), "π"},
	{regexp.MustCompile(`\\theta`), "θ"},
	{regexp.MustCompile(`\\alpha`), "α"},
	{regexp.MustCompile(`\\beta`), "β"},
	{regexp.MustCompile(`\\gamma`), "γ"},
	{regexp.MustCompile(`\\Delta`), "Δ"},
}

var (
	mathDelimiters  = strings.NewReplacer("$$", "", "$", "", `\[`, "", `\]`, "", `\(`, "", `\)`, "", "**", "", "`", "")
	markdownHeader  = regexp.MustCompile(`(?m)^\s*#{1,6}\s*`)
	sizingCommands  = regexp.MustCompile(`\\(left|right|big|Big|quad|qquad)\\?`)
	fracPattern     = regexp.MustCompile(`\\frac\{([^}]+)\}\{([^}]+)\}`)
	squarePower     = regexp.MustCompile(`\^2`)
	cubePower       = regexp.MustCompile(`\^3`)
	operatorSpacing = regexp.MustCompile(`\s*([=+\-×·*/])\s*`)
	anyWhitespace   = regexp.MustCompile(`\s+`)
)

// normalizeMath turns LaTeX-flavoured model output into plain readable text.
//
// # Description
//
// Strips math delimiters and markdown emphasis, drops sizing commands,
// rewrites \frac{a}{b} as (a)/(b), maps common commands to unicode, renders
// ^2 and ^3 as superscripts, puts single spaces around operators and
// collapses all whitespace (newlines included) into single spaces.
//
// # Examples
//
//	normalizeMath(`$x^2 + \frac{1}{2}$`) // "x² + (1) / (2)"
//	normalizeMath("2x+3=7")              // "2x + 3 = 7"
func normalizeMath(text string) string {
	if text == "" {
		return text
	}
	text = mathDelimiters.Replace(text)
	text = markdownHeader.ReplaceAllString(text, "")
	text = sizingCommands.ReplaceAllString(text, "")
	text = fracPattern.ReplaceAllString(text, "(${1})/(${2})")
	for _, r := range latexReplacements {
		text = r.pattern.ReplaceAllString(text, r.repl)
	}
	text = squarePower.ReplaceAllString(text, "²")
	text = cubePower.ReplaceAllString(text, "³")
	text = operatorSpacing.ReplaceAllString(text, " ${1} ")
	return strings.TrimSpace(anyWhitespace.ReplaceAllString(text, " "))
}

// normalizeLines applies normalizeMath to each line independently so the
// line structure survives for free-text step parsing.
func normalizeLines(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = normalizeMath(line)
	}
	return strings.Join(lines, "\n")
}
