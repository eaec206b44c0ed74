// Package placeholder renders the local last-resort illustration. It never
// touches the network and cannot fail.
package placeholder

import (
	"encoding/base64"
	"fmt"
	"html"
	"strings"
	"unicode"
)

// MaxTitleRunes is how much of the title is drawn on the placeholder.
const MaxTitleRunes = 40

const svgTemplate = `<?xml version='1.0' encoding='UTF-8'?>
<svg xmlns='http://www.w3.org/2000/svg' width='1024' height='1024'>
  <defs>
    <linearGradient id='g' x1='0' y1='0' x2='1' y2='1'>
      <stop offset='0%%' stop-color='#a8e6cf'/>
      <stop offset='50%%' stop-color='#7fcdcd'/>
      <stop offset='100%%' stop-color='#81c784'/>
    </linearGradient>
  </defs>
  <rect width='1024' height='1024' fill='url(#g)'/>
  <g fill='#000000' opacity='0.15'>
    <circle cx='200' cy='200' r='60'/>
    <circle cx='250' cy='260' r='20'/>
    <circle cx='160' cy='260' r='20'/>
  </g>
  <text x='50%%' y='52%%' dominant-baseline='middle' text-anchor='middle' font-family='Georgia, serif' font-size='64' fill='rgba(0,0,0,0.65)'>%s</text>
  <text x='50%%' y='60%%' dominant-baseline='middle' text-anchor='middle' font-family='Georgia, serif' font-size='36' fill='rgba(0,0,0,0.55)'>Illustration placeholder</text>
</svg>`

// Title returns the text drawn on the placeholder: "Story" for a blank title,
// otherwise the first MaxTitleRunes runes. Runes XML forbids are dropped.
func Title(title string) string {
	title = strings.TrimSpace(strings.Map(xmlRune, strings.ToValidUTF8(title, "")))
	if title == "" {
		return "Story"
	}
	r := []rune(title)
	if len(r) > MaxTitleRunes {
		r = r[:MaxTitleRunes]
	}
	return string(r)
}

// xmlRune drops control characters other than tab, newline and carriage return,
// plus the noncharacters U+FFFE and U+FFFF.
func xmlRune(r rune) rune {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return r
	case unicode.IsControl(r), r == 0xFFFE, r == 0xFFFF:
		return -1
	}
	return r
}

// SVG renders the placeholder markup with the title escaped.
func SVG(title string) string {
	return fmt.Sprintf(svgTemplate, html.EscapeString(Title(title)))
}

// DataURI returns the placeholder as a base64 data URI.
func DataURI(title string) string {
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(SVG(title)))
}
