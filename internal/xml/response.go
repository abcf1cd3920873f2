package xml

import (
	"fmt"
	"net/http"

	"github.com/beevik/etree"
	"github.com/cyp0633/calengine/report"
)

// StatusLine formats an HTTP status for a DAV:status element.
func StatusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}

// Multistatus renders report items. Resolved properties go into a 200
// propstat and unresolved ones into a 404 propstat; items that are not 200
// carry only a status.
func Multistatus(items []report.Item, props []string) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := createElement("multistatus")
	addNamespaces(root)
	doc.SetRoot(root)

	for _, item := range items {
		root.AddChild(encodeResponse(item, props))
	}
	return doc
}

func encodeResponse(item report.Item, props []string) *etree.Element {
	resp := createElement("response")
	href := createElement("href")
	href.SetText(item.Href)
	resp.AddChild(href)

	if item.Status != http.StatusOK {
		status := createElement("status")
		status.SetText(StatusLine(item.Status))
		resp.AddChild(status)
		return resp
	}

	var found, missing []*etree.Element
	for _, name := range props {
		elem := createElement(name)
		value, err := item.Props[name].Get()
		if err != nil {
			missing = append(missing, elem)
			continue
		}
		elem.SetText(value)
		found = append(found, elem)
	}

	if len(found) > 0 || len(missing) == 0 {
		resp.AddChild(propstat(found, http.StatusOK))
	}
	if len(missing) > 0 {
		resp.AddChild(propstat(missing, http.StatusNotFound))
	}
	return resp
}

func propstat(elems []*etree.Element, code int) *etree.Element {
	ps := createElement("propstat")
	prop := createElement("prop")
	for _, e := range elems {
		prop.AddChild(e)
	}
	ps.AddChild(prop)
	status := createElement("status")
	status.SetText(StatusLine(code))
	ps.AddChild(status)
	return ps
}
