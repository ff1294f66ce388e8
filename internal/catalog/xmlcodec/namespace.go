// Package xmlcodec decodes an update's canonical XML into the typed model
// (C2) and produces core/extended/localized fragments from it (C8).
//
// The canonical XML uses several namespaces (base applicability, MSI
// applicability, Windows-driver handler, update root). Known namespaces are
// rewritten onto a short prefix; everything else collapses to its local
// name, and all xmlns declaration attributes are dropped so the output never
// contains a namespace declaration.
package xmlcodec

import "strings"

// Known namespace URIs and the short prefix assigned to elements/attributes
// in that namespace. Anything not listed here loses its namespace entirely
// and keeps only its local name.
const (
	nsBaseApplicability = "http://schemas.microsoft.com/msus/2002/12/Applicability"
	nsMSIApplicability  = "http://schemas.microsoft.com/msus/2002/12/MsiApplicability"
	nsDriverHandler     = "http://schemas.microsoft.com/msus/2002/12/WindowsDriver"
	nsUpdateRoot        = "http://schemas.microsoft.com/msus/2002/12/Update"
)

var namespacePrefixes = map[string]string{
	nsBaseApplicability: "b",
	nsMSIApplicability:  "m",
	nsDriverHandler:     "d",
	nsUpdateRoot:        "", // update root is unprefixed
}

// rewriteName maps (namespace, local) to the output tag name used by the
// decoder and fragmenter: "<prefix>.<local>" for known namespaces other than
// the update root, or bare "<local>" otherwise.
func rewriteName(space, local string) string {
	prefix, known := namespacePrefixes[space]
	if !known || prefix == "" {
		return local
	}
	return prefix + "." + local
}

// isNamespaceDecl reports whether an attribute name is an xmlns declaration
// (bare "xmlns" or "xmlns:prefix"), which the decoder always drops.
func isNamespaceDecl(space, local string) bool {
	return space == "xmlns" || local == "xmlns" || strings.HasPrefix(local, "xmlns:")
}
