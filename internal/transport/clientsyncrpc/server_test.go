package clientsyncrpc

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mscatalog/catalogrelay/internal/catalog/clientsync"
	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/internal/catalog/prereq"
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

func putDetectoid(t *testing.T, st *sqlite.Store, id identity.PackageIdentity) {
	t.Helper()
	raw := []byte(fmt.Sprintf(`<Detectoid><UpdateIdentity UpdateID="%s" RevisionNumber="%d"/><Properties UpdateType="Detectoid"/></Detectoid>`, id.ID, id.Revision))
	require.NoError(t, st.Put(context.Background(), store.Record{Update: &identity.Update{Identity: id, Type: identity.UpdateTypeDetectoid}, RawXML: raw}))
}

func newTestServer(t *testing.T, st *sqlite.Store) *Server {
	t.Helper()
	graph := prereq.New(st, st)
	svc, err := clientsync.New(clientsync.Config{
		Store:            st,
		Index:            st,
		Graph:            graph,
		MaxPerResponse:   50,
		SessionCacheSize: 64,
	})
	require.NoError(t, err)
	return New(svc, nil, nil)
}

func postSOAP(t *testing.T, srv *Server, action string, body string) *httptest.ResponseRecorder {
	t.Helper()
	envelope := `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` + body + `</s:Body></s:Envelope>`
	req := httptest.NewRequest(http.MethodPost, "/ClientWebService/client.asmx", strings.NewReader(envelope))
	req.Header.Set("SOAPAction", `"http://www.microsoft.com/SoftwareDistribution/`+action+`"`)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	return rec
}

// soapBody returns the child of the response envelope's Body.
func soapBody(t *testing.T, rec *httptest.ResponseRecorder) []byte {
	t.Helper()
	inner, err := readBody(httptest.NewRequest(http.MethodPost, "/", rec.Body))
	require.NoError(t, err)
	return inner
}

func TestGetConfig_ReturnsFreshCookie(t *testing.T) {
	st := openTestStore(t)
	srv := newTestServer(t, st)

	rec := postSOAP(t, srv, "GetConfig", `<GetConfigRequest><protocol>1.20</protocol></GetConfigRequest>`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp getConfigResponseXML
	require.NoError(t, xml.Unmarshal(soapBody(t, rec), &resp))
	require.Equal(t, protocolVersion, resp.ProtocolVersion)
	require.NotEmpty(t, resp.NewCookie.EncryptedData)
}

func TestSyncUpdates_RootLayerOverRPC(t *testing.T) {
	st := openTestStore(t)
	root := mustID(t, "11111111-1111-1111-1111-111111111111")
	putDetectoid(t, st, root)
	srv := newTestServer(t, st)

	rec := postSOAP(t, srv, "SyncUpdates", `<SyncUpdatesRequest><cookie><EncryptedData></EncryptedData></cookie><parameters></parameters></SyncUpdatesRequest>`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp syncUpdatesResponseXML
	require.NoError(t, xml.Unmarshal(soapBody(t, rec), &resp))
	require.Equal(t, "root", resp.Result.OfferedLayer)
	require.Len(t, resp.Result.Updates, 1)
	require.Equal(t, "Evaluate", resp.Result.Updates[0].Action)
	require.NotEmpty(t, resp.Result.NewCookie.EncryptedData)
}

func TestUnimplementedOperation_Faults(t *testing.T) {
	st := openTestStore(t)
	srv := newTestServer(t, st)

	rec := postSOAP(t, srv, "RegisterComputer", `<RegisterComputerRequest/>`)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
	require.Contains(t, rec.Body.String(), "s:Fault")
}
