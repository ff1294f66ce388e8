package clientsyncrpc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
)

const soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

// fault is the SOAP fault shape returned for unimplemented or malformed
// operations.
type fault struct {
	Code   string
	String string
}

// readBody unwraps an incoming SOAP envelope and returns the Body's single
// child element's raw bytes, mirroring how soapclient unwraps upstream
// responses (internal/catalog/syncengine/soapclient).
func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("clientsyncrpc: read request body: %w", err)
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("clientsyncrpc: no Body element found in request")
		}
		if err != nil {
			return nil, fmt.Errorf("clientsyncrpc: parse envelope: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Body" {
			continue
		}
		var inner struct {
			Inner []byte `xml:",innerxml"`
		}
		if err := dec.DecodeElement(&inner, &se); err != nil {
			return nil, fmt.Errorf("clientsyncrpc: decode Body: %w", err)
		}
		return inner.Inner, nil
	}
}

// writeResponse wraps body (already-marshaled XML) in a SOAP envelope and
// writes it with a 200 status.
func writeResponse(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><s:Envelope xmlns:s="%s"><s:Body>`, soapEnvelopeNS)
	w.Write(body)
	fmt.Fprint(w, `</s:Body></s:Envelope>`)
}

// writeFault wraps f in a SOAP fault envelope with status code.
func writeFault(w http.ResponseWriter, status int, f fault) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><s:Envelope xmlns:s="%s"><s:Body><s:Fault><faultcode>%s</faultcode><faultstring>%s</faultstring></s:Fault></s:Body></s:Envelope>`,
		soapEnvelopeNS, xmlEscape(f.Code), xmlEscape(f.String))
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
