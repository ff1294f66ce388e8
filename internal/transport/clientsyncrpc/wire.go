package clientsyncrpc

import "encoding/xml"

// cookieXML is the opaque session cookie exchanged on every call after the
// first, modeled the same way soapclient models the upstream access cookie
// (internal/catalog/syncengine/soapclient): an encrypted-data blob the
// client echoes back verbatim. No expiration is carried.
type cookieXML struct {
	EncryptedData string `xml:"EncryptedData"`
}

type getConfigRequestXML struct {
	XMLName  xml.Name `xml:"GetConfigRequest"`
	Protocol string   `xml:"protocol"`
}

type getConfigResponseXML struct {
	XMLName         xml.Name  `xml:"GetConfigResponse"`
	ProtocolVersion string    `xml:"GetConfigResult>ProtocolVersion"`
	NewCookie       cookieXML `xml:"GetConfigResult>NewCookie"`
}

type getCookieRequestXML struct {
	XMLName   xml.Name `xml:"GetCookieRequest"`
	OldCookie string   `xml:"oldCookie"`
}

type getCookieResponseXML struct {
	XMLName   xml.Name  `xml:"GetCookieResponse"`
	NewCookie cookieXML `xml:"GetCookieResult>NewCookie"`
}

type updateIDXML struct {
	UpdateID       string `xml:"UpdateID,attr"`
	RevisionNumber uint32 `xml:"RevisionNumber,attr"`
}

type deviceXML struct {
	HardwareID []string `xml:"HardwareID"`
}

type syncUpdatesParametersXML struct {
	SkipSoftwareSync          bool          `xml:"SkipSoftwareSync"`
	SkipDriverSync            bool          `xml:"SkipDriverSync"`
	InstalledNonLeafUpdateIDs []updateIDXML `xml:"InstalledNonLeafUpdateIDs>UpdateId"`
	OtherCachedUpdateIDs      []updateIDXML `xml:"OtherCachedUpdateIDs>UpdateId"`
	InstalledDriverUpdateIDs  []updateIDXML `xml:"InstalledDriverUpdateIDs>UpdateId"`
	ComputerHardwareIDs       []string      `xml:"ComputerHardwareIDs>HardwareID"`
	Devices                   []deviceXML   `xml:"Devices>Device"`
}

type syncUpdatesRequestXML struct {
	XMLName    xml.Name                 `xml:"SyncUpdatesRequest"`
	Cookie     cookieXML                `xml:"cookie"`
	Parameters syncUpdatesParametersXML `xml:"parameters"`
}

type offeredUpdateXML struct {
	RevisionID int    `xml:"RevisionID,attr"`
	Action     string `xml:"Action,attr"`
	Xml        []byte `xml:"Xml,innerxml"`
}

type syncUpdatesResultXML struct {
	NewCookie     cookieXML          `xml:"NewCookie"`
	Updates       []offeredUpdateXML `xml:"Updates>Update"`
	Truncated     bool               `xml:"Truncated"`
	OfferedLayer  string             `xml:"OfferedLayer"`
}

type syncUpdatesResponseXML struct {
	XMLName xml.Name             `xml:"SyncUpdatesResponse"`
	Result  syncUpdatesResultXML `xml:"SyncUpdatesResult"`
}

type getExtendedUpdateInfoRequestXML struct {
	XMLName         xml.Name `xml:"GetExtendedUpdateInfoRequest"`
	Cookie          cookieXML `xml:"cookie"`
	RevisionIDs     []int    `xml:"revisionIDs>int"`
	Locales         []string `xml:"locales>string"`
}

type fileLocationXML struct {
	Digest string `xml:"Digest,attr"`
	URL    string `xml:"Url,attr"`
}

type extendedInfoXML struct {
	UpdateID       string            `xml:"UpdateID,attr"`
	RevisionNumber uint32            `xml:"RevisionNumber,attr"`
	Xml            []byte            `xml:"Xml,innerxml"`
	LocalizedXml   []byte            `xml:"LocalizedXml,innerxml"`
	FileLocations  []fileLocationXML `xml:"FileLocations>FileLocation"`
}

type getExtendedUpdateInfoResultXML struct {
	Updates []extendedInfoXML `xml:"Updates>Update"`
}

type getExtendedUpdateInfoResponseXML struct {
	XMLName xml.Name                       `xml:"GetExtendedUpdateInfoResponse"`
	Result  getExtendedUpdateInfoResultXML `xml:"GetExtendedUpdateInfoResult"`
}
