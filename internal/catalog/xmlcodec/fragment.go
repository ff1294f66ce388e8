package xmlcodec

import (
	"encoding/xml"
	"io"
	"strings"
)

// coreKeptProperties is the attribute allow-list for the core fragment's
// Properties element.
var coreKeptProperties = map[string]bool{
	"UpdateType":            true,
	"AutoSelectOnWebSites":  true,
	"EulaID":                true,
	"ExplicitlyDeployable":  true,
	"OSUpgrade":             true,
}

// extendedDroppedProperties is the attribute deny-list for the extended
// fragment's ExtendedProperties element.
var extendedDroppedProperties = map[string]bool{
	"UpdateType":           true,
	"ExplicitlyDeployable": true,
	"AutoSelectOnWebSites": true,
	"EulaID":               true,
	"PublicationState":     true,
	"PublisherID":          true,
	"CreationDate":         true,
	"IsPublic":             true,
	"LegacyName":           true,
	"DetectoidType":        true,
	"OSUpgrade":            true,
	"PerUser":              true,
}

// Core produces the core fragment: UpdateIdentity, Properties (attribute
// allow-list), Relationships, and ApplicabilityRules with every
// d.WindowsDriverMetaData child emptied. Output has no added whitespace so
// it is byte-stable.
func Core(raw []byte) ([]byte, error) {
	return filterTopLevel(raw, []string{"UpdateIdentity", "Properties", "Relationships", "ApplicabilityRules"},
		func(name string, attrs []xml.Attr) (string, []xml.Attr) {
			if name == "Properties" {
				return "Properties", keepAttrs(attrs, coreKeptProperties)
			}
			return name, attrs
		},
		func(name string) bool { return name == "d.WindowsDriverMetaData" },
	)
}

// Extended produces the extended fragment: Properties renamed to
// ExtendedProperties with the deny-list removed, followed by Files and
// HandlerSpecificData.
func Extended(raw []byte) ([]byte, error) {
	return filterTopLevel(raw, []string{"Properties", "Files", "HandlerSpecificData"},
		func(name string, attrs []xml.Attr) (string, []xml.Attr) {
			if name == "Properties" {
				return "ExtendedProperties", dropAttrs(attrs, extendedDroppedProperties)
			}
			return name, attrs
		},
		nil,
	)
}

// Localized returns the first LocalizedProperties element whose Language
// attribute is in the requested set, or an empty slice if none match.
func Localized(raw []byte, languages map[string]bool) ([]byte, error) {
	dec := xml.NewDecoder(strings.NewReader(string(raw)))
	depth := 0
	capturing := false
	var buf strings.Builder
	enc := xml.NewEncoder(&buf)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := rewriteName(t.Name.Space, t.Name.Local)
			if !capturing && strings.HasSuffix(name, "LocalizedProperties") {
				lang := attrValue(t.Attr, "Language")
				if languages[lang] {
					capturing = true
					depth = 0
				} else {
					continue
				}
			}
			if capturing {
				if err := enc.EncodeToken(cleanStart(t)); err != nil {
					return nil, err
				}
				depth++
			}

		case xml.EndElement:
			if capturing {
				depth--
				name := rewriteName(t.Name.Space, t.Name.Local)
				if err := enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}}); err != nil {
					return nil, err
				}
				if depth == 0 {
					capturing = false
					if err := enc.Flush(); err != nil {
						return nil, err
					}
					return []byte(buf.String()), nil
				}
			}

		case xml.CharData:
			if capturing {
				if err := enc.EncodeToken(t); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// filterTopLevel walks raw and re-emits each element whose rewritten name is
// in keep, with its subtree, applying rename/attr filtering and optionally
// emptying matched subtrees (emptySubtree reports by rewritten name). An
// element is matched wherever it lies outside an already captured subtree;
// its nesting depth in raw is not checked.
func filterTopLevel(raw []byte, keep []string, rename func(string, []xml.Attr) (string, []xml.Attr), emptySubtree func(string) bool) ([]byte, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}

	dec := xml.NewDecoder(strings.NewReader(string(raw)))
	var buf strings.Builder
	enc := xml.NewEncoder(&buf)

	depth := 0
	capturing := false
	emptying := 0 // >0 while inside a subtree being emptied (still emits an empty element once)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := rewriteName(t.Name.Space, t.Name.Local)

			if !capturing {
				if depth == 0 && keepSet[name] {
					capturing = true
					depth = 0
				} else {
					continue
				}
			}

			if emptying > 0 {
				emptying++
				depth++
				continue
			}

			outName, outAttrs := name, stripNamespaceAttrs(t.Attr)
			if rename != nil {
				outName, outAttrs = rename(name, outAttrs)
			}

			if emptySubtree != nil && emptySubtree(name) {
				if err := enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: outName}, Attr: outAttrs}); err != nil {
					return nil, err
				}
				emptying = 1
				depth++
				continue
			}

			if err := enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: outName}, Attr: outAttrs}); err != nil {
				return nil, err
			}
			depth++

		case xml.EndElement:
			if !capturing {
				continue
			}
			name := rewriteName(t.Name.Space, t.Name.Local)
			if emptying > 0 {
				emptying--
				depth--
				if emptying == 0 {
					if err := enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}}); err != nil {
						return nil, err
					}
				}
				if depth == 0 {
					capturing = false
				}
				continue
			}

			outName := name
			if rename != nil {
				outName, _ = rename(name, nil)
			}
			if err := enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: outName}}); err != nil {
				return nil, err
			}
			depth--
			if depth == 0 {
				capturing = false
			}

		case xml.CharData:
			if capturing && emptying == 0 {
				if err := enc.EncodeToken(t); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

func cleanStart(t xml.StartElement) xml.StartElement {
	name := rewriteName(t.Name.Space, t.Name.Local)
	return xml.StartElement{Name: xml.Name{Local: name}, Attr: stripNamespaceAttrs(t.Attr)}
}

func stripNamespaceAttrs(attrs []xml.Attr) []xml.Attr {
	out := make([]xml.Attr, 0, len(attrs))
	for _, a := range attrs {
		if isNamespaceDecl(a.Name.Space, a.Name.Local) {
			continue
		}
		out = append(out, xml.Attr{Name: xml.Name{Local: rewriteName(a.Name.Space, a.Name.Local)}, Value: a.Value})
	}
	return out
}

func keepAttrs(attrs []xml.Attr, allow map[string]bool) []xml.Attr {
	out := make([]xml.Attr, 0, len(attrs))
	for _, a := range attrs {
		if allow[a.Name.Local] {
			out = append(out, a)
		}
	}
	return out
}

func dropAttrs(attrs []xml.Attr, deny map[string]bool) []xml.Attr {
	out := make([]xml.Attr, 0, len(attrs))
	for _, a := range attrs {
		if !deny[a.Name.Local] {
			out = append(out, a)
		}
	}
	return out
}
