// Package soapclient implements the server-to-server SOAP RPCs the sync
// engine (C4) drives against an upstream catalog server: the
// GetAuthConfig/GetAuthorizationCookie/GetCookie auth exchange and the
// GetConfigData/GetRevisionIdList/GetUpdateData catalog fetch calls.
//
// No SOAP library exists anywhere in the example pack this module was
// grounded on, so the envelope is built and parsed with encoding/xml
// directly, in the same token-streaming style internal/catalog/xmlcodec
// uses for update bodies.
package soapclient

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

// FaultCode classifies a SOAP fault into the handful of buckets the sync
// engine's retry policy cares about (spec §4.1/§A). The wire fault code is
// a WSUS-defined string (e.g. "InvalidAuthorizationCookie"); FaultCodeOther
// covers every string this client doesn't recognize.
type FaultCode int

const (
	FaultCodeOther FaultCode = iota
	FaultCodeTimeout
	FaultCodeInvalidAuthorizationCookie
	FaultCodeInvalidParameters
	FaultCodeIncompatibleProtocolVersion
	FaultCodeInternalServerError
)

func (c FaultCode) String() string {
	switch c {
	case FaultCodeTimeout:
		return "Timeout"
	case FaultCodeInvalidAuthorizationCookie:
		return "InvalidAuthorizationCookie"
	case FaultCodeInvalidParameters:
		return "InvalidParameters"
	case FaultCodeIncompatibleProtocolVersion:
		return "IncompatibleProtocolVersion"
	case FaultCodeInternalServerError:
		return "InternalServerError"
	default:
		return "Other"
	}
}

// wireFaultCodes maps the faultcode string the upstream server puts on the
// wire to our FaultCode classification. Unrecognized strings classify as
// FaultCodeOther, not an error, since new fault codes are added to the
// protocol over time without this client needing to track every one.
var wireFaultCodes = map[string]FaultCode{
	"Timeout":                     FaultCodeTimeout,
	"InvalidAuthorizationCookie":  FaultCodeInvalidAuthorizationCookie,
	"InvalidParameters":           FaultCodeInvalidParameters,
	"IncompatibleProtocolVersion": FaultCodeIncompatibleProtocolVersion,
	"InternalServerError":         FaultCodeInternalServerError,
}

// Classify maps err to a FaultCode. A non-Fault error (a transport failure,
// a decode error) classifies as FaultCodeOther.
func Classify(err error) FaultCode {
	var fault *Fault
	if !errors.As(err, &fault) {
		return FaultCodeOther
	}
	return fault.Code()
}

// Fault represents a SOAP fault returned by the upstream server. WireCode is
// the faultcode string as the server sent it; Code() classifies it.
type Fault struct {
	WireCode string
	String   string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.WireCode, f.String)
}

// Code classifies the fault's wire code string.
func (f *Fault) Code() FaultCode {
	if code, ok := wireFaultCodes[f.WireCode]; ok {
		return code
	}
	return FaultCodeOther
}

// Client issues SOAP RPCs against an upstream catalog server's
// ServerSyncWebService endpoint.
type Client struct {
	rootURL string
	http    *http.Client
}

// New builds a Client against rootURL with the given request timeout.
func New(rootURL string, timeout time.Duration) *Client {
	return &Client{
		rootURL: rootURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// AuthConfig is the response to GetAuthConfig: which auth plugins the
// upstream server supports for this account.
type AuthConfig struct {
	PluginNames []string
}

// GetAuthConfig retrieves the supported auth plugin list.
func (c *Client) GetAuthConfig(ctx context.Context) (*AuthConfig, error) {
	body, err := c.call(ctx, "GetAuthConfig", struct {
		XMLName xml.Name `xml:"GetConfigRequest"`
		Protocol string  `xml:"protocol"`
	}{Protocol: "1.20"})
	if err != nil {
		return nil, err
	}

	var resp struct {
		XMLName     xml.Name `xml:"GetAuthConfigResponse"`
		PluginNames []string `xml:"GetAuthConfigResult>PluginNames>string"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("soapclient: decode GetAuthConfig response: %w", err)
	}
	return &AuthConfig{PluginNames: resp.PluginNames}, nil
}

// AuthCookie is an authentication cookie issued by the upstream server,
// carrying both the opaque cookie data and its expiry.
type AuthCookie struct {
	Data       string
	Expiration time.Time
}

// GetAuthorizationCookie exchanges account credentials for an auth cookie
// (the HaveAuthInfo -> HaveAuthCookie transition).
func (c *Client) GetAuthorizationCookie(ctx context.Context, accountName, accountKey string) (*AuthCookie, error) {
	body, err := c.call(ctx, "GetAuthorizationCookie", struct {
		XMLName     xml.Name `xml:"GetAuthorizationCookieRequest"`
		AccountName string   `xml:"accountName"`
		AccountKey  string   `xml:"accountKey"`
	}{AccountName: accountName, AccountKey: accountKey})
	if err != nil {
		return nil, err
	}

	var resp struct {
		XMLName    xml.Name `xml:"GetAuthorizationCookieResponse"`
		CookieData string   `xml:"GetAuthorizationCookieResult>CookieData"`
		Expiration string   `xml:"GetAuthorizationCookieResult>Expiration"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("soapclient: decode GetAuthorizationCookie response: %w", err)
	}
	exp, _ := time.Parse(time.RFC3339, resp.Expiration)
	return &AuthCookie{Data: resp.CookieData, Expiration: exp}, nil
}

// AccessCookie is the cookie presented on every subsequent catalog RPC (the
// HaveAuthCookie -> HaveAccessCookie transition).
type AccessCookie struct {
	Data       string
	Expiration time.Time
}

// GetCookie exchanges an auth cookie for an access cookie.
func (c *Client) GetCookie(ctx context.Context, authCookie string) (*AccessCookie, error) {
	body, err := c.call(ctx, "GetCookie", struct {
		XMLName    xml.Name `xml:"GetCookieRequest"`
		OldCookie  string   `xml:"oldCookie"`
		LastChange string   `xml:"lastChange"`
	}{OldCookie: authCookie})
	if err != nil {
		return nil, err
	}

	var resp struct {
		XMLName    xml.Name `xml:"GetCookieResponse"`
		CookieData string   `xml:"GetCookieResult>EncryptedData"`
		Expiration string   `xml:"GetCookieResult>Expiration"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("soapclient: decode GetCookie response: %w", err)
	}
	exp, _ := time.Parse(time.RFC3339, resp.Expiration)
	return &AccessCookie{Data: resp.CookieData, Expiration: exp}, nil
}

// ConfigData carries the server-side limit the fetch loop must respect,
// the maximum number of updates per GetUpdateData call, and the server's
// protocol version.
type ConfigData struct {
	MaxNumberOfUpdatesPerRequest int
	ProtocolVersion              string
}

// GetConfigData retrieves server-side fetch limits.
func (c *Client) GetConfigData(ctx context.Context, accessCookie string) (*ConfigData, error) {
	body, err := c.call(ctx, "GetConfigData", struct {
		XMLName    xml.Name `xml:"GetConfigDataRequest"`
		LastChange string   `xml:"lastChange"`
	}{}, withCookie(accessCookie))
	if err != nil {
		return nil, err
	}

	var resp struct {
		XMLName    xml.Name `xml:"GetConfigDataResponse"`
		MaxNumber  int      `xml:"GetConfigDataResult>MaxNumberOfUpdatesPerRequest"`
		ProtoVer   string   `xml:"GetConfigDataResult>ProtocolVersion"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("soapclient: decode GetConfigData response: %w", err)
	}
	if resp.MaxNumber == 0 {
		resp.MaxNumber = 100
	}
	return &ConfigData{MaxNumberOfUpdatesPerRequest: resp.MaxNumber, ProtocolVersion: resp.ProtoVer}, nil
}

// RevisionIDList is one page of revision identifiers matching a delta
// anchor filter, plus the anchor to resume from on the next call.
type RevisionIDList struct {
	RevisionIDs []uint32
	NewAnchor   string
}

// FilterRequest names the delta-anchor filter the revision list is fetched
// against: a set of category GUIDs plus the anchor returned by the previous
// call (empty for a full sync). It carries no explicit update list.
type FilterRequest struct {
	Categories []string
	Anchor     string
}

// GetRevisionIdList fetches the next page of revision IDs for filter.
func (c *Client) GetRevisionIdList(ctx context.Context, accessCookie string, filter FilterRequest) (*RevisionIDList, error) {
	body, err := c.call(ctx, "GetRevisionIdList", struct {
		XMLName    xml.Name `xml:"GetRevisionIdListRequest"`
		Filter     []string `xml:"filter>Categories>string"`
		Anchor     string   `xml:"filter>Anchor"`
	}{Filter: filter.Categories, Anchor: filter.Anchor}, withCookie(accessCookie))
	if err != nil {
		return nil, err
	}

	var resp struct {
		XMLName     xml.Name `xml:"GetRevisionIdListResponse"`
		RevisionIDs []uint32 `xml:"GetRevisionIdListResult>NewRevisions>int"`
		NewAnchor   string   `xml:"GetRevisionIdListResult>Anchor"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("soapclient: decode GetRevisionIdList response: %w", err)
	}
	return &RevisionIDList{RevisionIDs: resp.RevisionIDs, NewAnchor: resp.NewAnchor}, nil
}

// UpdateXML is one update's raw canonical XML fragment, keyed by revision ID.
type UpdateXML struct {
	RevisionID int
	XML        []byte
}

// GetUpdateData fetches the full XML bodies for a batch of revision IDs.
func (c *Client) GetUpdateData(ctx context.Context, accessCookie string, revisionIDs []uint32) ([]UpdateXML, error) {
	body, err := c.call(ctx, "GetUpdateData", struct {
		XMLName     xml.Name `xml:"GetUpdateDataRequest"`
		RevisionIDs []uint32 `xml:"revisionIDs>int"`
	}{RevisionIDs: revisionIDs}, withCookie(accessCookie))
	if err != nil {
		return nil, err
	}

	var resp struct {
		XMLName xml.Name `xml:"GetUpdateDataResponse"`
		Updates []struct {
			RevisionID int    `xml:"RevisionId"`
			XMLFragment string `xml:"Xml"`
		} `xml:"GetUpdateDataResult>updates>UpdateData"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("soapclient: decode GetUpdateData response: %w", err)
	}

	out := make([]UpdateXML, 0, len(resp.Updates))
	for _, u := range resp.Updates {
		out = append(out, UpdateXML{RevisionID: u.RevisionID, XML: []byte(u.XMLFragment)})
	}
	return out, nil
}

type callOption func(*soapHeader)

type soapHeader struct {
	cookie string
}

func withCookie(cookie string) callOption {
	return func(h *soapHeader) { h.cookie = cookie }
}

// call POSTs a SOAP envelope wrapping body to the upstream root URL and
// returns the unwrapped response body, translating a SOAP Fault into an
// error.
func (c *Client) call(ctx context.Context, action string, body interface{}, opts ...callOption) ([]byte, error) {
	var hdr soapHeader
	for _, opt := range opts {
		opt(&hdr)
	}

	payload, err := xml.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("soapclient: marshal %s request: %w", action, err)
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	fmt.Fprintf(&buf, `<s:Envelope xmlns:s="%s">`, soapEnvelopeNS)
	if hdr.cookie != "" {
		fmt.Fprintf(&buf, `<s:Header><AuthCookieHeader xmlns="http://www.microsoft.com/SoftwareDistribution"><AuthCookie>%s</AuthCookie></AuthCookieHeader></s:Header>`, hdr.cookie)
	}
	buf.WriteString(`<s:Body>`)
	buf.Write(payload)
	buf.WriteString(`</s:Body></s:Envelope>`)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rootURL, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("soapclient: build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"http://www.microsoft.com/SoftwareDistribution/`+action+`"`)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("soapclient: %s request: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("soapclient: read %s response: %w", action, err)
	}

	if resp.StatusCode >= 400 {
		if fault, ok := parseFault(raw); ok {
			return nil, fault
		}
		return nil, fmt.Errorf("soapclient: %s returned HTTP %d", action, resp.StatusCode)
	}

	return unwrapEnvelope(raw)
}

func parseFault(raw []byte) (*Fault, bool) {
	var env struct {
		Body struct {
			Fault *struct {
				Code   string `xml:"faultcode"`
				String string `xml:"faultstring"`
			} `xml:"Fault"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(raw, &env); err != nil || env.Body.Fault == nil {
		return nil, false
	}
	return &Fault{WireCode: env.Body.Fault.Code, String: env.Body.Fault.String}, true
}

// unwrapEnvelope returns the raw bytes of the SOAP Body's single child
// element, so callers can xml.Unmarshal it directly into their response DTO
// without fighting the envelope's namespace prefixes.
func unwrapEnvelope(raw []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("soapclient: no Body element found in response")
		}
		if err != nil {
			return nil, fmt.Errorf("soapclient: parse envelope: %w", err)
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "Body" {
				depth++
				if depth == 1 {
					var inner struct {
						Inner []byte `xml:",innerxml"`
					}
					if err := dec.DecodeElement(&inner, &se); err != nil {
						return nil, fmt.Errorf("soapclient: decode Body: %w", err)
					}
					return inner.Inner, nil
				}
			}
		}
	}
}
