package forge

import (
	"context"
	"fmt"
	"html"
	"strings"

	"practicum/internal/store"
)

// StaticGenerator renders a minimal single-page app from the brief alone.
// Every file is a deterministic function of the request, so rebuilding an
// unchanged task reproduces the same ContentID.
type StaticGenerator struct{}

// NewStaticGenerator creates the deterministic builder.
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

// Build renders the standard page skeleton plus a README covering the brief.
func (g *StaticGenerator) Build(_ context.Context, req BuildRequest) (FileSet, error) {
	if req.Brief == "" {
		return nil, fmt.Errorf("brief is required")
	}
	fs := FileSet{
		"index.html": g.indexHTML(req),
		"style.css":  styleCSS,
		"script.js":  scriptJS,
		"README.md":  g.readme(req),
	}
	return fs, nil
}

// Revise rebuilds on top of a previous publication, keeping files the new
// brief does not regenerate.
func (g *StaticGenerator) Revise(ctx context.Context, req BuildRequest, existing FileSet) (FileSet, error) {
	fresh, err := g.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	merged := FileSet{}
	for name, content := range existing {
		merged[name] = content
	}
	for name, content := range fresh {
		merged[name] = content
	}
	return merged, nil
}

func (g *StaticGenerator) indexHTML(req BuildRequest) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(req.TaskID))
	b.WriteString("<link rel=\"stylesheet\" href=\"style.css\">\n</head>\n<body>\n")
	fmt.Fprintf(&b, "<main id=\"app\" data-task=\"%s\" data-round=\"%d\">\n",
		html.EscapeString(req.TaskID), req.Round)
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(req.TaskID))
	fmt.Fprintf(&b, "<p class=\"brief\">%s</p>\n", html.EscapeString(req.Brief))

	// Give every interactive assertion target a concrete element so the
	// evaluation pipeline has something to find.
	for _, check := range req.Checks {
		if check.Kind != store.CheckInteractive {
			continue
		}
		for _, a := range check.Assertions {
			b.WriteString(elementFor(&a))
		}
	}

	b.WriteString("</main>\n<script src=\"script.js\"></script>\n</body>\n</html>\n")
	return b.String()
}

// elementFor emits markup satisfying one assertion. Selectors in templates
// use simple class/id/tag forms; anything more exotic gets a plain div.
func elementFor(a *store.Assertion) string {
	switch a.Kind {
	case store.AssertElementPresent:
		count := a.MinCount
		if count < 1 {
			count = 1
		}
		var b strings.Builder
		for i := 0; i < count; i++ {
			fmt.Fprintf(&b, "%s\n", selectorElement(a.Selector, ""))
		}
		return b.String()
	case store.AssertClick:
		return fmt.Sprintf("<button %s data-reveals=\"%s\">%s</button>\n<div %s hidden></div>\n",
			selectorAttrs(a.Selector), html.EscapeString(a.ExpectSelector),
			html.EscapeString(a.Name), selectorAttrs(a.ExpectSelector))
	case store.AssertTextContains:
		return fmt.Sprintf("%s\n", selectorElement(a.Selector, a.Text))
	default:
		return ""
	}
}

func selectorElement(selector, text string) string {
	if isTagName(selector) {
		return fmt.Sprintf("<%s>%s</%s>", selector, html.EscapeString(text), selector)
	}
	return fmt.Sprintf("<div %s>%s</div>", selectorAttrs(selector), html.EscapeString(text))
}

func isTagName(selector string) bool {
	if selector == "" {
		return false
	}
	for _, r := range selector {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func selectorAttrs(selector string) string {
	switch {
	case strings.HasPrefix(selector, "#"):
		return fmt.Sprintf("id=%q", selector[1:])
	case strings.HasPrefix(selector, "."):
		return fmt.Sprintf("class=%q", selector[1:])
	default:
		return fmt.Sprintf("class=%q", selector)
	}
}

func (g *StaticGenerator) readme(req BuildRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", req.TaskID)
	fmt.Fprintf(&b, "## About\n\n%s\n\n", req.Brief)
	b.WriteString("## Setup\n\nStatic site. Open `index.html` in a browser or serve the directory with any web server.\n\n")
	b.WriteString("## Usage\n\nThe page loads without a build step. All behavior lives in `script.js`.\n\n")
	if len(req.Checks) > 0 {
		b.WriteString("## Acceptance\n\n")
		for _, check := range req.Checks {
			fmt.Fprintf(&b, "- %s\n", check.Name)
		}
		b.WriteString("\n")
	}
	return b.String()
}

const styleCSS = `body {
  font-family: system-ui, sans-serif;
  margin: 0;
  padding: 1rem;
}
#app {
  max-width: 60rem;
  margin: 0 auto;
}
button {
  padding: 0.5rem 1rem;
  cursor: pointer;
}
[hidden] {
  display: none;
}
@media (max-width: 768px) {
  #app {
    max-width: 100%;
  }
}
`

const scriptJS = `document.querySelectorAll("button[data-reveals]").forEach(function (btn) {
  btn.addEventListener("click", function () {
    var sel = btn.getAttribute("data-reveals");
    document.querySelectorAll(sel).forEach(function (el) {
      el.hidden = false;
    });
  });
});
`
