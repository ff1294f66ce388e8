package export

import (
	"bytes"
	"fmt"
	"io"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
)

// writeMetadata emits metadata.txt: one line per update, categories first,
// then the bundle closure of selected updates. Each line is
// "<guid>,<rev:8hex>,<xmlsize:8hex>,<xml>\r\n" (spec §4.6); the embedded hex
// size lets a reader split lines without escaping the XML payload.
func writeMetadata(w io.Writer, categories, closure []identity.PackageIdentity, records map[identity.PackageIdentity]store.Record) error {
	for _, id := range categories {
		if err := writeMetadataLine(w, id, records); err != nil {
			return err
		}
	}
	for _, id := range closure {
		if err := writeMetadataLine(w, id, records); err != nil {
			return err
		}
	}
	return nil
}

func writeMetadataLine(w io.Writer, id identity.PackageIdentity, records map[identity.PackageIdentity]store.Record) error {
	rec, ok := records[id]
	if !ok {
		return fmt.Errorf("metadata.txt: missing record for %s", id)
	}
	_, err := fmt.Fprintf(w, "%s,%08x,%08x,%s\r\n", id.ID.String(), id.Revision, len(rec.RawXML), rec.RawXML)
	return err
}

// parseMetadataLine is the inverse of writeMetadataLine, used by the export
// package's own round-trip test.
func parseMetadataLine(line []byte) (guid string, rev uint32, xml []byte, err error) {
	parts := bytes.SplitN(line, []byte(","), 4)
	if len(parts) != 4 {
		return "", 0, nil, fmt.Errorf("malformed metadata line")
	}
	guid = string(parts[0])
	var size uint32
	if _, err := fmt.Sscanf(string(parts[1]), "%08x", &rev); err != nil {
		return "", 0, nil, err
	}
	if _, err := fmt.Sscanf(string(parts[2]), "%08x", &size); err != nil {
		return "", 0, nil, err
	}
	xml = bytes.TrimSuffix(parts[3], []byte("\r\n"))
	return guid, rev, xml, nil
}
