package xml

import "github.com/beevik/etree"

// Namespace definitions for CalDAV and WebDAV
const (
	// DAV is the WebDAV namespace
	DAV = "DAV:"
	// CalDAV is the CalDAV namespace
	CalDAV = "urn:ietf:params:xml:ns:caldav"
	// CalendarServer is the Calendar Server namespace (used by some implementations)
	CalendarServer = "http://calendarserver.org/ns/"
)

// NamespaceMap maps the prefixes used in responses to their namespaces.
var NamespaceMap = map[string]string{
	"d":   DAV,
	"cal": CalDAV,
	"cs":  CalendarServer,
}

// PropPrefixMap holds the prefix of every element we emit.
var PropPrefixMap = map[string]string{
	"multistatus":      "d",
	"response":         "d",
	"href":             "d",
	"propstat":         "d",
	"prop":             "d",
	"status":           "d",
	"error":            "d",
	"getetag":          "d",
	"getcontentlength": "d",
	"getlastmodified":  "d",
	"getcontenttype":   "d",
	"displayname":      "d",
	"supported-report": "d",

	"calendar-data":                  "cal",
	"valid-filter":                   "cal",
	"valid-calendar-data":            "cal",
	"supported-calendar-data":        "cal",
	"supported-calendar-component":   "cal",
	"valid-calendar-object-resource": "cal",
	"no-uid-conflict":                "cal",
	"supported-collation":            "cal",

	"getctag": "cs",
}

// addNamespaces declares every prefix of NamespaceMap on the root element.
func addNamespaces(root *etree.Element) {
	for _, prefix := range []string{"d", "cal", "cs"} {
		root.CreateAttr("xmlns:"+prefix, NamespaceMap[prefix])
	}
}

// createElement creates an element with the prefix taken from PropPrefixMap,
// defaulting to "d".
func createElement(name string) *etree.Element {
	prefix, exists := PropPrefixMap[name]
	if !exists {
		prefix = "d"
	}
	elem := etree.NewElement(name)
	elem.Space = prefix
	return elem
}

// childrenNamed returns the child elements with the given local name,
// whatever their prefix.
func childrenNamed(parent *etree.Element, localName string) []*etree.Element {
	var elements []*etree.Element
	for _, child := range parent.ChildElements() {
		if child.Tag == localName {
			elements = append(elements, child)
		}
	}
	return elements
}

// childNamed returns the first child element with the given local name.
func childNamed(parent *etree.Element, localName string) *etree.Element {
	if elements := childrenNamed(parent, localName); len(elements) > 0 {
		return elements[0]
	}
	return nil
}
