// Package chart renders the small inline SVG charts of the reports page.
package chart

import (
	"fmt"
	"html/template"
	"math"
	"strings"
)

// Defaults used when Options leave a field empty.
const (
	DefaultWidth   = 720
	DefaultHeight  = 260
	DefaultPadding = 36.0
	DefaultTicks   = 5
)

const (
	axisColor = "#6b5b4b"
	gridColor = "#d9cbb8"
)

// Series is one named set of values, aligned with the chart labels.
type Series struct {
	Name   string
	Color  string
	Values []float64
}

// Options tune a chart.
type Options struct {
	Title       string
	Description string
	Width       int
	Height      int
	Padding     float64
	Ticks       int
}

type frame struct {
	width, height int
	pad           float64
	w, h          float64
	min, max      float64
	ticks         int
}

func newFrame(opts Options, values ...[]float64) (frame, error) {
	f := frame{width: opts.Width, height: opts.Height, pad: opts.Padding, ticks: opts.Ticks}
	if f.width <= 0 {
		f.width = DefaultWidth
	}
	if f.height <= 0 {
		f.height = DefaultHeight
	}
	if f.pad <= 0 {
		f.pad = DefaultPadding
	}
	if f.ticks <= 0 {
		f.ticks = DefaultTicks
	}
	f.w = float64(f.width) - 2*f.pad
	f.h = float64(f.height) - 2*f.pad
	if f.w <= 0 || f.h <= 0 {
		return frame{}, fmt.Errorf("chart: viewport too small")
	}
	for _, set := range values {
		for _, v := range set {
			f.min = math.Min(f.min, v)
			f.max = math.Max(f.max, v)
		}
	}
	if math.Abs(f.max-f.min) < 1e-9 {
		f.max = f.min + 1
	}
	return f, nil
}

func (f frame) y(v float64) float64 {
	return f.pad + f.h - (v-f.min)*f.h/(f.max-f.min)
}

func (f frame) open(b *strings.Builder, opts Options, kind string) {
	titleID := makeID(opts.Title, kind+"-title")
	descID := makeID(opts.Title, kind+"-desc")
	fmt.Fprintf(b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" role="img" aria-labelledby="%s %s">`, f.width, f.height, titleID, descID)
	fmt.Fprintf(b, `<title id="%s">%s</title>`, titleID, template.HTMLEscapeString(fallback(opts.Title, "Graphique")))
	fmt.Fprintf(b, `<desc id="%s">%s</desc>`, descID, template.HTMLEscapeString(fallback(opts.Description, "Évolution hebdomadaire")))
	for i := 0; i <= f.ticks; i++ {
		ratio := float64(i) / float64(f.ticks)
		v := f.min + (f.max-f.min)*ratio
		y := f.y(v)
		fmt.Fprintf(b, `<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke="%s" stroke-width="0.5" stroke-dasharray="2,4" aria-hidden="true"></line>`, f.pad, y, f.pad+f.w, y, gridColor)
		fmt.Fprintf(b, `<text x="%.2f" y="%.2f" fill="%s" font-size="10" text-anchor="end">%s</text>`, f.pad-6, y+4, axisColor, formatTick(v))
	}
	fmt.Fprintf(b, `<g stroke="%s" aria-label="Axes">`, axisColor)
	fmt.Fprintf(b, `<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke-width="1"></line>`, f.pad, f.pad, f.pad, f.pad+f.h)
	fmt.Fprintf(b, `<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke-width="1"></line>`, f.pad, f.y(0), f.pad+f.w, f.y(0))
	b.WriteString("</g>")
}

func (f frame) legend(b *strings.Builder, series []Series) {
	x := f.pad
	y := math.Max(f.pad-14, 12)
	for i, s := range series {
		fmt.Fprintf(b, `<rect x="%.2f" y="%.2f" width="10" height="10" fill="%s"></rect>`, x, y-8, colorOf(s, i))
		fmt.Fprintf(b, `<text x="%.2f" y="%.2f" fill="%s" font-size="10">%s</text>`, x+14, y+1, axisColor, template.HTMLEscapeString(s.Name))
		x += 110
	}
}

// Bars renders grouped bars, one group per label and one bar per series.
func Bars(labels []string, series []Series, opts Options) (template.HTML, error) {
	if len(labels) == 0 {
		return "", fmt.Errorf("chart: labels required")
	}
	if len(series) == 0 {
		return "", fmt.Errorf("chart: at least one series required")
	}
	values := make([][]float64, 0, len(series))
	for _, s := range series {
		if len(s.Values) != len(labels) {
			return "", fmt.Errorf("chart: series %q has %d values for %d labels", s.Name, len(s.Values), len(labels))
		}
		values = append(values, s.Values)
	}
	f, err := newFrame(opts, values...)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	f.open(&b, opts, "bars")
	group := f.w / float64(len(labels))
	bar := group * 0.8 / float64(len(series))
	zero := f.y(0)
	for i, label := range labels {
		x0 := f.pad + float64(i)*group + group*0.1
		for j, s := range series {
			top := f.y(s.Values[i])
			y, h := top, zero-top
			if h < 0 {
				y, h = zero, -h
			}
			fmt.Fprintf(&b, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s"><title>%s %s : %s</title></rect>`,
				x0+float64(j)*bar, y, bar*0.9, h, colorOf(s, j),
				template.HTMLEscapeString(s.Name), template.HTMLEscapeString(label), formatTick(s.Values[i]))
		}
		fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="%s" font-size="10" text-anchor="middle">%s</text>`, x0+group*0.4, f.pad+f.h+14, axisColor, template.HTMLEscapeString(label))
	}
	f.legend(&b, series)
	b.WriteString("</svg>")
	return template.HTML(b.String()), nil
}

// Trend renders one series as a polyline with dots.
func Trend(labels []string, s Series, opts Options) (template.HTML, error) {
	if len(s.Values) == 0 {
		return "", fmt.Errorf("chart: series required")
	}
	if len(s.Values) != len(labels) {
		return "", fmt.Errorf("chart: labels length must match series")
	}
	f, err := newFrame(opts, s.Values)
	if err != nil {
		return "", err
	}
	color := colorOf(s, 0)
	step := 0.0
	if len(labels) > 1 {
		step = f.w / float64(len(labels)-1)
	}
	xAt := func(i int) float64 {
		if len(labels) == 1 {
			return f.pad + f.w/2
		}
		return f.pad + float64(i)*step
	}

	var b strings.Builder
	f.open(&b, opts, "trend")
	var path strings.Builder
	for i, v := range s.Values {
		cmd := "L"
		if i == 0 {
			cmd = "M"
		}
		fmt.Fprintf(&path, "%s%.2f %.2f ", cmd, xAt(i), f.y(v))
	}
	fmt.Fprintf(&b, `<path d="%s" fill="none" stroke="%s" stroke-width="2" stroke-linejoin="round" stroke-linecap="round"></path>`, strings.TrimSpace(path.String()), color)
	for i, v := range s.Values {
		fmt.Fprintf(&b, `<circle cx="%.2f" cy="%.2f" r="3" fill="%s"><title>%s : %s</title></circle>`, xAt(i), f.y(v), color, template.HTMLEscapeString(labels[i]), formatTick(v))
		fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="%s" font-size="10" text-anchor="middle">%s</text>`, xAt(i), f.pad+f.h+14, axisColor, template.HTMLEscapeString(labels[i]))
	}
	f.legend(&b, []Series{s})
	b.WriteString("</svg>")
	return template.HTML(b.String()), nil
}

var palette = []string{"#b45309", "#7c2d12", "#15803d", "#1d4ed8"}

func colorOf(s Series, i int) string {
	if s.Color != "" {
		return s.Color
	}
	return palette[i%len(palette)]
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

func makeID(base, suffix string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, strings.ToLower(strings.TrimSpace(base)))
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		cleaned = "chart"
	}
	return cleaned + "-" + suffix
}

func formatTick(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1_000_000:
		return fmt.Sprintf("%.1fM", v/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("%.1fk", v/1_000)
	case math.Abs(v-math.Round(v)) < 1e-9:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}
