package wayfind

import (
	"bytes"
	"html/template"
)

// NoDescription is shown when a POI has no description.
const NoDescription = "No description"

// PopupContent is the data shown in a POI popup.
type PopupContent struct {
	Name        string
	Floor       string
	Space       string
	Description string
}

var popupTmpl = template.Must(template.New("popup").Parse(
	`<h3>{{.Name}}</h3><p><strong>Floor: {{.Floor}}</strong></p>` +
		`{{if .Space}}<p class="space">{{.Space}}</p>{{end}}` +
		`<p>{{if .Description}}{{.Description}}{{else}}` + NoDescription + `{{end}}</p>`))

// PopupRenderer turns popup content into HTML.
type PopupRenderer func(PopupContent) (string, error)

// RenderPopup is the default PopupRenderer.
func RenderPopup(c PopupContent) (string, error) {
	var buf bytes.Buffer
	if err := popupTmpl.Execute(&buf, c); err != nil {
		return "", err
	}
	return buf.String(), nil
}
