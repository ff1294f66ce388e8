package xmlcodec

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
)

// Decode parses an update's canonical XML into the typed model. id is the
// identity the XML was stored under; the returned Update carries id, and the
// embedded UpdateIdentity is not compared against it.
func Decode(raw []byte, id identity.PackageIdentity) (*identity.Update, error) {
	dec := xml.NewDecoder(newReaderFromBytes(raw))

	u := &identity.Update{Identity: id}
	var path []string
	var curFile *identity.File
	var curDriver *identity.DriverMetadata
	var inLocalizedEN bool
	var curAtLeastOne *identity.Prerequisite

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode update xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := rewriteName(t.Name.Space, t.Name.Local)
			path = append(path, name)
			full := strings.Join(path, "/")

			switch {
			case strings.HasSuffix(full, "Properties") && !strings.Contains(full, "LocalizedProperties"):
				applyProperties(u, t.Attr)

			case strings.HasSuffix(full, "CategoryInformation"):
				applyCategoryType(u, t.Attr)

			case strings.HasSuffix(full, "LocalizedProperties"):
				inLocalizedEN = attrIs(t.Attr, "Language", "en")

			case strings.HasSuffix(full, "Simple"):
				simpleID, ok := attrIdentity(t.Attr)
				if !ok {
					continue
				}
				if curAtLeastOne != nil {
					curAtLeastOne.Members = append(curAtLeastOne.Members, simpleID)
				} else {
					u.Prerequisites = append(u.Prerequisites, identity.Prerequisite{
						Kind:   identity.PrerequisiteSimple,
						Simple: simpleID,
					})
				}

			case strings.HasSuffix(full, "AtLeastOne"):
				curAtLeastOne = &identity.Prerequisite{
					Kind:       identity.PrerequisiteAtLeastOne,
					IsCategory: attrBool(t.Attr, "IsCategory"),
				}

			case strings.HasSuffix(full, "BundledUpdates/UpdateIdentity"):
				if rid, ok := attrIdentity(t.Attr); ok {
					u.BundledUpdates = append(u.BundledUpdates, rid)
				}

			case strings.HasSuffix(full, "SupersededUpdates/UpdateIdentity"):
				if rid, ok := attrIdentity(t.Attr); ok {
					u.SupersededBy = append(u.SupersededBy, rid)
				}

			case strings.HasSuffix(full, "/File"):
				f := identity.File{
					Name:      attrValue(t.Attr, "FileName"),
					SourceURL: attrValue(t.Attr, "SourceURL"),
				}
				if sz := attrValue(t.Attr, "Size"); sz != "" {
					if n, err := strconv.ParseInt(sz, 10, 64); err == nil {
						f.Size = n
					}
				}
				curFile = &f

			case strings.HasSuffix(full, "WindowsDriverMetaData"):
				d := identity.DriverMetadata{
					HardwareID:         attrValue(t.Attr, "HardwareID"),
					CompatibleID:       attrValue(t.Attr, "CompatibleID"),
					Class:              attrValue(t.Attr, "Class"),
					Provider:           attrValue(t.Attr, "Provider"),
					ComputerHardwareID: attrValue(t.Attr, "ComputerHardwareID"),
					FeatureScore:       255,
				}
				if rank := attrValue(t.Attr, "DriverRank"); rank != "" {
					if n, err := strconv.ParseUint(rank, 0, 32); err == nil {
						d.FeatureScore = byte((n >> 16) & 0xFF) // GG nibble pair of 0xSSGGTHHH
					}
				}
				if dateStr := attrValue(t.Attr, "DriverVerDate"); dateStr != "" {
					if ts, err := time.Parse(time.RFC3339, dateStr); err == nil {
						d.Date = ts.Unix()
					}
				}
				curDriver = &d
			}

		case xml.EndElement:
			name := rewriteName(t.Name.Space, t.Name.Local)
			switch {
			case strings.HasSuffix(name, "AtLeastOne"):
				if curAtLeastOne != nil {
					u.Prerequisites = append(u.Prerequisites, *curAtLeastOne)
					curAtLeastOne = nil
				}
			case strings.HasSuffix(name, "File"):
				if curFile != nil {
					u.Files = append(u.Files, *curFile)
					curFile = nil
				}
			case strings.HasSuffix(name, "WindowsDriverMetaData"):
				if curDriver != nil {
					u.Drivers = append(u.Drivers, *curDriver)
					curDriver = nil
				}
			case strings.HasSuffix(name, "LocalizedProperties"):
				inLocalizedEN = false
			}
			if len(path) > 0 {
				path = path[:len(path)-1]
			}

		case xml.CharData:
			full := strings.Join(path, "/")
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			switch {
			case inLocalizedEN && strings.HasSuffix(full, "Title"):
				u.Title = text
			case inLocalizedEN && strings.HasSuffix(full, "Description"):
				u.Description = text
			case strings.HasSuffix(full, "KBArticleID"):
				u.KBArticleID = text
			case strings.HasSuffix(full, "SupportUrl"):
				u.SupportURL = text
			case strings.HasSuffix(full, "/Digest") || strings.HasSuffix(full, "FileDigest"):
				// the digest value is the element text; its algorithm is inferred
				// from the decoded length (20 bytes SHA-1, otherwise SHA-256).
				if curFile != nil {
					curFile.Digests = append(curFile.Digests, identity.Digest{
						Algorithm: digestAlgorithmFromLen(text),
						Value:     text,
					})
				}
			}
		}
	}

	return u, nil
}

func applyProperties(u *identity.Update, attrs []xml.Attr) {
	if v := attrValue(attrs, "UpdateType"); v != "" {
		u.Type = identity.UpdateType(v)
	}
	if attrBool(attrs, "OSUpgrade") {
		u.OSUpgrade = true
	}
}

func applyCategoryType(u *identity.Update, attrs []xml.Attr) {
	switch attrValue(attrs, "CategoryType") {
	case "Company", "Product":
		u.Type = identity.UpdateTypeProduct
	case "UpdateClassification":
		u.Type = identity.UpdateTypeClassification
	}
}

func attrValue(attrs []xml.Attr, local string) string {
	for _, a := range attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func attrBool(attrs []xml.Attr, local string) bool {
	v := attrValue(attrs, local)
	b, _ := strconv.ParseBool(v)
	return b
}

func attrIs(attrs []xml.Attr, local, want string) bool {
	return attrValue(attrs, local) == want
}

func attrIdentity(attrs []xml.Attr) (identity.PackageIdentity, bool) {
	guid := attrValue(attrs, "UpdateID")
	rev := attrValue(attrs, "RevisionNumber")
	if guid == "" {
		return identity.PackageIdentity{}, false
	}
	revNum, _ := strconv.ParseUint(rev, 10, 32)
	id, err := identity.Parse(guid, uint32(revNum))
	if err != nil {
		return identity.PackageIdentity{}, false
	}
	return id, true
}

func digestAlgorithmFromLen(b64 string) identity.DigestAlgorithm {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return identity.DigestSHA256
	}
	switch len(raw) {
	case 20:
		return identity.DigestSHA1
	case 32:
		return identity.DigestSHA256
	default:
		return identity.DigestSHA256
	}
}

func newReaderFromBytes(b []byte) io.Reader {
	return strings.NewReader(string(b))
}

// PeekIdentity scans raw for its top-level UpdateIdentity element and
// returns the GUID+revision it carries, without decoding the rest of the
// document. Used by the sync engine to resolve a fetched update's own
// identity before it knows what key to decode it under.
func PeekIdentity(raw []byte) (identity.PackageIdentity, bool) {
	dec := xml.NewDecoder(newReaderFromBytes(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return identity.PackageIdentity{}, false
		}
		if se, ok := tok.(xml.StartElement); ok {
			if rewriteName(se.Name.Space, se.Name.Local) == "UpdateIdentity" {
				return attrIdentity(se.Attr)
			}
		}
	}
}
