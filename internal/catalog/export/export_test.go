package export

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/query"
	"github.com/mscatalog/catalogrelay/internal/catalog/store"
	"github.com/mscatalog/catalogrelay/internal/catalog/store/sqlite"
	"github.com/mscatalog/catalogrelay/internal/catalog/xmlcodec"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	sqlite.SetDecoder(xmlcodec.Decode)
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func mustID(t *testing.T, guid string) identity.PackageIdentity {
	t.Helper()
	id, err := identity.Parse(guid, 1)
	require.NoError(t, err)
	return id
}

func putCategory(t *testing.T, st *sqlite.Store, id identity.PackageIdentity, typ identity.UpdateType) {
	t.Helper()
	raw := []byte(fmt.Sprintf(`<Category><UpdateIdentity UpdateID="%s" RevisionNumber="%d"/><Properties UpdateType="%s"/></Category>`, id.ID, id.Revision, typ))
	require.NoError(t, st.Put(context.Background(), store.Record{Update: &identity.Update{Identity: id, Type: typ}, RawXML: raw}))
}

func putBundle(t *testing.T, st *sqlite.Store, id identity.PackageIdentity, members []identity.PackageIdentity) {
	t.Helper()
	u := &identity.Update{Identity: id, Type: identity.UpdateTypeSoftware, Title: "Bundle " + id.String(), BundledUpdates: members}
	raw := []byte(fmt.Sprintf(`<SoftwareUpdate><UpdateIdentity UpdateID="%s" RevisionNumber="%d"/></SoftwareUpdate>`, id.ID, id.Revision))
	require.NoError(t, st.Put(context.Background(), store.Record{Update: u, RawXML: raw}))
}

func putLeaf(t *testing.T, st *sqlite.Store, id identity.PackageIdentity) {
	t.Helper()
	u := &identity.Update{Identity: id, Type: identity.UpdateTypeSoftware, Title: "Leaf " + id.String()}
	raw := []byte(fmt.Sprintf(`<SoftwareUpdate><UpdateIdentity UpdateID="%s" RevisionNumber="%d"/></SoftwareUpdate>`, id.ID, id.Revision))
	require.NoError(t, st.Put(context.Background(), store.Record{Update: u, RawXML: raw}))
}

func TestExport_IncludesCategoriesAndBundleClosure(t *testing.T) {
	st := openTestStore(t)
	product := mustID(t, "10000000-0000-0000-0000-000000000001")
	putCategory(t, st, product, identity.UpdateTypeProduct)

	member := mustID(t, "20000000-0000-0000-0000-000000000002")
	putLeaf(t, st, member)

	bundle := mustID(t, "30000000-0000-0000-0000-000000000003")
	putBundle(t, st, bundle, []identity.PackageIdentity{member})

	svc := New(st, st, query.New(st, st), nil)

	archive, err := svc.Export(context.Background(), Filter{})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)

	var metadataTxt, packageXML []byte
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		switch f.Name {
		case "metadata.txt":
			metadataTxt = data
		case "package.xml":
			packageXML = data
		}
	}
	require.NotNil(t, metadataTxt)
	require.NotNil(t, packageXML)

	lines := bytes.Split(bytes.TrimRight(metadataTxt, "\r\n"), []byte("\r\n"))
	require.Len(t, lines, 3) // product category + member + bundle, member before bundle

	guid, rev, xml, err := parseMetadataLine(lines[0])
	require.NoError(t, err)
	require.Equal(t, product.ID.String(), guid)
	require.Equal(t, uint32(1), rev)
	require.Contains(t, string(xml), "Category")

	// member must appear before the bundle that contains it.
	memberGUID, _, _, err := parseMetadataLine(lines[1])
	require.NoError(t, err)
	require.Equal(t, member.ID.String(), memberGUID)

	bundleGUID, _, _, err := parseMetadataLine(lines[2])
	require.NoError(t, err)
	require.Equal(t, bundle.ID.String(), bundleGUID)

	require.Contains(t, string(packageXML), "<ExportPackage>")
	require.Contains(t, string(packageXML), "<ServerID>")
}

func TestExport_FirstXCapsSelection(t *testing.T) {
	st := openTestStore(t)
	for i := 0; i < 3; i++ {
		id := mustID(t, fmt.Sprintf("4000000%d-0000-0000-0000-000000000000", i))
		putLeaf(t, st, id)
	}

	svc := New(st, st, query.New(st, st), nil)
	archive, err := svc.Export(context.Background(), Filter{FirstX: 1})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	for _, f := range zr.File {
		if f.Name != "metadata.txt" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		lines := bytes.Split(bytes.TrimRight(data, "\r\n"), []byte("\r\n"))
		require.Len(t, lines, 1)
	}
}
