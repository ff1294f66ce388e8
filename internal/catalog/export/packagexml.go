package export

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
)

const (
	formatVersion   = "1.0"
	protocolVersion = "1.20"
)

type exportPackageXML struct {
	XMLName         xml.Name       `xml:"ExportPackage"`
	ServerID        string         `xml:"ServerID"`
	CreationTime    string         `xml:"CreationTime"`
	FormatVersion   string         `xml:"FormatVersion"`
	ProtocolVersion string         `xml:"ProtocolVersion"`
	Languages       languagesXML   `xml:"Languages"`
	Files           filesXML       `xml:"Files"`
	Updates         updatesXML     `xml:"Updates"`
}

type languagesXML struct {
	Language []string `xml:"Language"`
}

type fileXML struct {
	Digest   string `xml:"Digest,attr"`
	FileName string `xml:"FileName,attr"`
	Size     int64  `xml:"Size,attr"`
}

type filesXML struct {
	File []fileXML `xml:"File"`
}

type updateRefXML struct {
	UpdateID           string   `xml:"UpdateID,attr"`
	RevisionNumber     uint32   `xml:"RevisionNumber,attr"`
	IsCategory         bool     `xml:"IsCategory,attr,omitempty"`
	ProductIDs         []string `xml:"ProductID,omitempty"`
	ClassificationIDs  []string `xml:"ClassificationID,omitempty"`
	FileDigests        []string `xml:"FileDigest,omitempty"`
}

type updatesXML struct {
	Update []updateRefXML `xml:"Update"`
}

// buildPackageXML assembles package.xml (spec §4.6): categories listed
// before updates, a distinct-by-digest file list, and a fresh ServerID per
// export.
func buildPackageXML(categories, closure []identity.PackageIdentity, records map[identity.PackageIdentity]store.Record, languages []string) ([]byte, error) {
	doc := exportPackageXML{
		ServerID:        uuid.NewString(),
		CreationTime:    time.Now().UTC().Format(time.RFC3339),
		FormatVersion:   formatVersion,
		ProtocolVersion: protocolVersion,
		Languages:       languagesXML{Language: languages},
	}

	seenDigests := map[string]bool{}

	appendUpdate := func(id identity.PackageIdentity, isCategory bool) error {
		rec, ok := records[id]
		if !ok {
			return fmt.Errorf("package.xml: missing record for %s", id)
		}
		ref := updateRefXML{
			UpdateID:       id.ID.String(),
			RevisionNumber: id.Revision,
			IsCategory:     isCategory,
		}
		for _, p := range rec.Update.ProductIDs {
			ref.ProductIDs = append(ref.ProductIDs, p.ID.String())
		}
		for _, c := range rec.Update.ClassificationIDs {
			ref.ClassificationIDs = append(ref.ClassificationIDs, c.ID.String())
		}
		for _, f := range rec.Update.Files {
			digest, ok := identity.Strongest(f.Digests)
			if !ok {
				continue
			}
			key := string(digest.Algorithm) + ":" + digest.Value
			ref.FileDigests = append(ref.FileDigests, digest.Value)
			if !seenDigests[key] {
				seenDigests[key] = true
				doc.Files.File = append(doc.Files.File, fileXML{
					Digest:   digest.Value,
					FileName: f.Name,
					Size:     f.Size,
				})
			}
		}
		doc.Updates.Update = append(doc.Updates.Update, ref)
		return nil
	}

	for _, id := range categories {
		if err := appendUpdate(id, true); err != nil {
			return nil, err
		}
	}
	for _, id := range closure {
		if err := appendUpdate(id, false); err != nil {
			return nil, err
		}
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
