// Package clientsyncrpc exposes the downstream client-sync protocol (spec
// §6) as a SOAP-style HTTP endpoint: GetConfig, GetConfig2, GetCookie,
// SyncUpdates, GetExtendedUpdateInfo, GetExtendedUpdateInfo2 are served
// against internal/catalog/clientsync; RegisterComputer, StartCategoryScan,
// SyncPrinterCatalog, RefreshCache, GetFileLocations, and GetTimestamps
// always fault, since the spec only requires the first group implemented.
package clientsyncrpc

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mscatalog/catalogrelay/internal/catalog/clientsync"
	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
	"github.com/mscatalog/catalogrelay/pkg/metrics"
)

const protocolVersion = "1.20"

var unimplementedOps = []string{
	"RegisterComputer",
	"StartCategoryScan",
	"SyncPrinterCatalog",
	"RefreshCache",
	"GetFileLocations",
	"GetTimestamps",
}

// Server dispatches client-sync RPCs by SOAPAction.
type Server struct {
	svc     *clientsync.Service
	metrics *metrics.ClientSyncMetrics
	logger  *slog.Logger
}

// New builds a Server wrapping svc.
func New(svc *clientsync.Service, m *metrics.ClientSyncMetrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, metrics: m, logger: logger.With("component", "clientsyncrpc")}
}

// Routes mounts the single ServerSyncWebService-style endpoint every
// operation is dispatched through by SOAPAction, the same shape the
// upstream protocol uses (internal/catalog/syncengine/soapclient).
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	handler := http.Handler(http.HandlerFunc(s.dispatch))
	if s.metrics != nil {
		handler = s.metrics.HTTP.Middleware(handler)
	}
	r.Handle("/ClientWebService/client.asmx", handler).Methods(http.MethodPost)
	return r
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	action := soapAction(r.Header.Get("SOAPAction"))

	for _, op := range unimplementedOps {
		if action == op {
			writeFault(w, http.StatusNotImplemented, fault{Code: "s:Client", String: op + " is not implemented"})
			return
		}
	}

	body, err := readBody(r)
	if err != nil {
		writeFault(w, http.StatusBadRequest, fault{Code: "s:Client", String: err.Error()})
		return
	}

	switch action {
	case "GetConfig", "GetConfig2":
		s.handleGetConfig(w, body)
	case "GetCookie":
		s.handleGetCookie(w, body)
	case "SyncUpdates":
		s.handleSyncUpdates(w, r, body)
	case "GetExtendedUpdateInfo", "GetExtendedUpdateInfo2":
		s.handleGetExtendedUpdateInfo(w, r, body)
	default:
		writeFault(w, http.StatusBadRequest, fault{Code: "s:Client", String: "unknown operation: " + action})
	}
}

// soapAction strips the quoting and URL prefix WSUS-style clients send in
// the SOAPAction header, leaving the bare operation name.
func soapAction(header string) string {
	h := strings.Trim(header, `"`)
	if idx := strings.LastIndex(h, "/"); idx >= 0 {
		h = h[idx+1:]
	}
	return h
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ []byte) {
	resp := getConfigResponseXML{
		ProtocolVersion: protocolVersion,
		NewCookie:       cookieXML{EncryptedData: s.svc.NewSession()},
	}
	out, err := xml.Marshal(resp)
	if err != nil {
		writeFault(w, http.StatusInternalServerError, fault{Code: "s:Server", String: err.Error()})
		return
	}
	writeResponse(w, out)
}

func (s *Server) handleGetCookie(w http.ResponseWriter, _ []byte) {
	resp := getCookieResponseXML{NewCookie: cookieXML{EncryptedData: s.svc.NewSession()}}
	out, err := xml.Marshal(resp)
	if err != nil {
		writeFault(w, http.StatusInternalServerError, fault{Code: "s:Server", String: err.Error()})
		return
	}
	writeResponse(w, out)
}

func (s *Server) handleSyncUpdates(w http.ResponseWriter, r *http.Request, body []byte) {
	var req syncUpdatesRequestXML
	if err := xml.Unmarshal(body, &req); err != nil {
		writeFault(w, http.StatusBadRequest, fault{Code: "s:Client", String: "malformed SyncUpdatesRequest: " + err.Error()})
		return
	}

	installed, err := toIdentitySet(req.Parameters.InstalledNonLeafUpdateIDs)
	if err != nil {
		writeFault(w, http.StatusBadRequest, fault{Code: "s:Client", String: err.Error()})
		return
	}
	cached, err := toIdentitySet(req.Parameters.OtherCachedUpdateIDs)
	if err != nil {
		writeFault(w, http.StatusBadRequest, fault{Code: "s:Client", String: err.Error()})
		return
	}
	installedDrivers, err := toIdentitySet(req.Parameters.InstalledDriverUpdateIDs)
	if err != nil {
		writeFault(w, http.StatusBadRequest, fault{Code: "s:Client", String: err.Error()})
		return
	}

	devices := make([]clientsync.DeviceSpec, 0, len(req.Parameters.Devices))
	for _, d := range req.Parameters.Devices {
		devices = append(devices, clientsync.DeviceSpec{HardwareIDs: d.HardwareID})
	}

	resp, err := s.svc.SyncUpdates(r.Context(), clientsync.Request{
		Cookie:              req.Cookie.EncryptedData,
		Installed:           installed,
		Cached:              cached,
		SkipSoftwareSync:    req.Parameters.SkipSoftwareSync,
		SkipDriverSync:      req.Parameters.SkipDriverSync,
		ComputerHardwareIDs: req.Parameters.ComputerHardwareIDs,
		Devices:             devices,
		InstalledDrivers:    installedDrivers,
	})
	if err != nil {
		writeFault(w, http.StatusInternalServerError, fault{Code: "s:Server", String: err.Error()})
		return
	}

	updates := make([]offeredUpdateXML, 0, len(resp.Updates))
	for _, u := range resp.Updates {
		updates = append(updates, offeredUpdateXML{
			RevisionID: u.RevisionIndex,
			Action:     string(u.Action),
			Xml:        u.CoreXML,
		})
	}

	out, err := xml.Marshal(syncUpdatesResponseXML{
		Result: syncUpdatesResultXML{
			NewCookie:    cookieXML{EncryptedData: resp.Cookie},
			Updates:      updates,
			Truncated:    resp.Truncated,
			OfferedLayer: string(resp.Layer),
		},
	})
	if err != nil {
		writeFault(w, http.StatusInternalServerError, fault{Code: "s:Server", String: err.Error()})
		return
	}
	writeResponse(w, out)
}

func (s *Server) handleGetExtendedUpdateInfo(w http.ResponseWriter, r *http.Request, body []byte) {
	var req getExtendedUpdateInfoRequestXML
	if err := xml.Unmarshal(body, &req); err != nil {
		writeFault(w, http.StatusBadRequest, fault{Code: "s:Client", String: "malformed GetExtendedUpdateInfoRequest: " + err.Error()})
		return
	}

	resp, err := s.svc.GetExtendedUpdateInfo(r.Context(), req.Cookie.EncryptedData, req.RevisionIDs, req.Locales)
	if err != nil {
		writeFault(w, http.StatusInternalServerError, fault{Code: "s:Server", String: err.Error()})
		return
	}

	updates := make([]extendedInfoXML, 0, len(resp.Infos))
	for _, info := range resp.Infos {
		locs := make([]fileLocationXML, 0, len(info.Files))
		for _, f := range info.Files {
			locs = append(locs, fileLocationXML{Digest: f.Digest, URL: f.URL})
		}
		updates = append(updates, extendedInfoXML{
			UpdateID:       info.Identity.ID.String(),
			RevisionNumber: info.Identity.Revision,
			Xml:            info.ExtendedXML,
			LocalizedXml:   info.LocalizedXML,
			FileLocations:  locs,
		})
	}

	out, err := xml.Marshal(getExtendedUpdateInfoResponseXML{
		Result: getExtendedUpdateInfoResultXML{Updates: updates},
	})
	if err != nil {
		writeFault(w, http.StatusInternalServerError, fault{Code: "s:Server", String: err.Error()})
		return
	}
	writeResponse(w, out)
}

func toIdentitySet(ids []updateIDXML) (map[identity.PackageIdentity]bool, error) {
	out := make(map[identity.PackageIdentity]bool, len(ids))
	for _, raw := range ids {
		id, err := identity.Parse(raw.UpdateID, raw.RevisionNumber)
		if err != nil {
			return nil, fmt.Errorf("clientsyncrpc: %s", err)
		}
		out[id] = true
	}
	return out, nil
}
