package http

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"livespese/internal/core"
	"livespese/internal/view"
	appweb "livespese/web"
)

// Fragment template names. Each one renders the inner HTML of the page region
// with the same id, and doubles as the SSE event name that carries it.
const (
	fragmentItems   = "items"
	fragmentError   = "error"
	fragmentAlert   = "alert"
	fragmentConfirm = "confirm"
	fragmentForm    = "form"
	pageIndex       = "index.html"
)

// streamFragments are pushed on every change, in this order.
var streamFragments = []string{fragmentItems, fragmentAlert, fragmentError, fragmentConfirm}

type itemRow struct {
	ID        string
	Name      string
	Price     string
	CreatedAt time.Time
}

// pageData is the template view of a view.State.
type pageData struct {
	Items     []itemRow
	Total     string
	ShowTotal bool
	Loaded    bool
	Draft     core.Draft
	Error     string
	Alert     string
	Pending   *itemRow
}

func newPageData(st view.State) pageData {
	d := pageData{
		Items:     make([]itemRow, 0, len(st.Items)),
		Total:     st.TotalText(),
		ShowTotal: st.ShowTotal(),
		Loaded:    st.Loaded,
		Draft:     st.Draft,
		Error:     st.Error,
		Alert:     st.Alert,
	}
	for _, it := range st.Items {
		d.Items = append(d.Items, newItemRow(it))
	}
	if it, ok := st.Pending(); ok {
		row := newItemRow(it)
		d.Pending = &row
	}
	return d
}

func newItemRow(it core.Item) itemRow {
	return itemRow{
		ID:        it.ID,
		Name:      displayName(it.Name),
		Price:     core.FormatAmount(it.Price),
		CreatedAt: it.CreatedAt,
	}
}

func parseTemplates() (*template.Template, error) {
	t, err := template.New("").ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return t, nil
}

// renderer executes page and fragment templates into buffers so a failed
// render never leaves a half-written response.
type renderer struct {
	templates *template.Template
}

func (rd renderer) render(name string, data pageData) ([]byte, error) {
	var buf bytes.Buffer
	if err := rd.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// renderWithOOB renders name followed by out-of-band swaps for the given
// regions, for htmx responses that change more than their target.
func (rd renderer) renderWithOOB(name string, data pageData, oob ...string) ([]byte, error) {
	body, err := rd.render(name, data)
	if err != nil {
		return nil, err
	}
	for _, region := range oob {
		inner, err := rd.render(region, data)
		if err != nil {
			return nil, err
		}
		body = append(body, fmt.Sprintf(`<div id="%s" hx-swap-oob="innerHTML">`, region)...)
		body = append(body, inner...)
		body = append(body, "</div>"...)
	}
	return body, nil
}
