package dav

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jun/gophdav/internal/locks"
)

// maxBodySize caps PROPFIND and LOCK request bodies.
const maxBodySize = 1 << 20

// https://datatracker.ietf.org/doc/html/rfc4918#section-14.20
// propname OR allprop, include? OR prop
type PropFind struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	PropName *struct{} `xml:"propname"`
	AllProp  *struct{} `xml:"allprop"`
	Include  *Include  `xml:"include"`
	Prop     *Prop     `xml:"prop"`
}

// https://datatracker.ietf.org/doc/html/rfc4918#section-14.8
type Include struct {
	XMLName    xml.Name `xml:"DAV: include"`
	Inclusions []Any    `xml:",any"`
}

// https://tools.ietf.org/html/rfc4918#section-14.18
type Prop struct {
	XMLName xml.Name `xml:"DAV: prop"`
	Props   []Any    `xml:",any"`
}

// Any is an element kept as raw inner XML.
type Any struct {
	XMLName xml.Name `xml:""`
	Content []byte   `xml:",innerxml"`
}

// https://tools.ietf.org/html/rfc4918#section-14.16
type MultiStatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []Response `xml:"response"`
}

// https://datatracker.ietf.org/doc/html/rfc4918#section-14.24
type Response struct {
	Href      string     `xml:"href"`
	PropStats []PropStat `xml:"propstat,omitempty"`
	Status    string     `xml:"status,omitempty"`
}

// https://datatracker.ietf.org/doc/html/rfc4918#section-14.22
type PropStat struct {
	Prop   Prop   `xml:"prop"`
	Status string `xml:"status"`
}

// ErrorBody is the DAV:error element carrying precondition codes.
type ErrorBody struct {
	XMLName    xml.Name `xml:"DAV: error"`
	Conditions []Any    `xml:",any"`
}

// https://datatracker.ietf.org/doc/html/rfc4918#section-14.11
type LockInfo struct {
	XMLName   xml.Name  `xml:"DAV: lockinfo"`
	Exclusive *struct{} `xml:"lockscope>exclusive"`
	Shared    *struct{} `xml:"lockscope>shared"`
	Write     *struct{} `xml:"locktype>write"`
	Owner     *Owner    `xml:"owner"`
}

// Owner is the client's owner element, reduced to an href or plain text so it
// can be echoed without the client's namespace prefixes.
type Owner struct {
	Href string `xml:"href"`
	Text string `xml:",chardata"`
}

type rawXML struct {
	Inner string `xml:",innerxml"`
}

// Scope returns the requested scope; exclusive when none was named.
func (li *LockInfo) Scope() locks.Scope {
	if li.Shared != nil && li.Exclusive == nil {
		return locks.Shared
	}
	return locks.Exclusive
}

// OwnerXML returns the owner as XML content in the DAV: namespace, or "".
func (li *LockInfo) OwnerXML() string {
	if li.Owner == nil {
		return ""
	}
	var buf bytes.Buffer
	if href := strings.TrimSpace(li.Owner.Href); href != "" {
		buf.WriteString("<href>")
		_ = xml.EscapeText(&buf, []byte(href))
		buf.WriteString("</href>")
		return buf.String()
	}
	_ = xml.EscapeText(&buf, []byte(strings.TrimSpace(li.Owner.Text)))
	return buf.String()
}

// https://datatracker.ietf.org/doc/html/rfc4918#section-14.1
type activeLock struct {
	XMLName   xml.Name  `xml:"DAV: activelock"`
	Exclusive *struct{} `xml:"lockscope>exclusive"`
	Shared    *struct{} `xml:"lockscope>shared"`
	Write     struct{}  `xml:"locktype>write"`
	Depth     string    `xml:"depth"`
	Owner     *rawXML   `xml:"owner,omitempty"`
	Timeout   string    `xml:"timeout"`
	LockToken string    `xml:"locktoken>href"`
	LockRoot  string    `xml:"lockroot>href"`
}

// lockDiscovery is the DAV:lockdiscovery body.
type lockDiscovery struct {
	XMLName xml.Name     `xml:"DAV: lockdiscovery"`
	Locks   []activeLock `xml:"activelock"`
}

type lockResponse struct {
	XMLName   xml.Name      `xml:"DAV: prop"`
	Discovery lockDiscovery `xml:"lockdiscovery"`
}

var (
	CreationDateName     = xml.Name{Space: "DAV:", Local: "creationdate"}
	DisplayNameName      = xml.Name{Space: "DAV:", Local: "displayname"}
	GetContentLengthName = xml.Name{Space: "DAV:", Local: "getcontentlength"}
	GetContentTypeName   = xml.Name{Space: "DAV:", Local: "getcontenttype"}
	GetETagName          = xml.Name{Space: "DAV:", Local: "getetag"}
	GetLastModifiedName  = xml.Name{Space: "DAV:", Local: "getlastmodified"}
	ResourceTypeName     = xml.Name{Space: "DAV:", Local: "resourcetype"}
	SupportedLockName    = xml.Name{Space: "DAV:", Local: "supportedlock"}
	LockDiscoveryName    = xml.Name{Space: "DAV:", Local: "lockdiscovery"}

	lockTokenSubmittedName = xml.Name{Space: "DAV:", Local: "lock-token-submitted"}
)

// AllProp lists the properties returned for allprop and propname.
var AllProp = []xml.Name{
	CreationDateName,
	DisplayNameName,
	GetContentLengthName,
	GetContentTypeName,
	GetETagName,
	GetLastModifiedName,
	ResourceTypeName,
	SupportedLockName,
	LockDiscoveryName,
}

// ReadPropFind decodes a PROPFIND body. An empty body means allprop.
func ReadPropFind(r io.Reader) (*PropFind, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return &PropFind{AllProp: &struct{}{}}, nil
	}
	var pf PropFind
	if err := xml.Unmarshal(body, &pf); err != nil {
		return nil, Errorf(KindMalformed, "propfind body: %w", err)
	}
	if pf.AllProp == nil && pf.PropName == nil && pf.Prop == nil {
		return nil, Errorf(KindMalformed, "propfind body names no properties")
	}
	return &pf, nil
}

// ReadLockInfo decodes a LOCK body. An empty body returns nil, which asks for
// a refresh.
func ReadLockInfo(r io.Reader) (*LockInfo, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var li LockInfo
	if err := xml.Unmarshal(body, &li); err != nil {
		return nil, Errorf(KindMalformed, "lockinfo body: %w", err)
	}
	return &li, nil
}

func readBody(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return nil, Errorf(KindMalformed, "read body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, Errorf(KindMalformed, "body larger than %d bytes", maxBodySize)
	}
	return bytes.TrimSpace(body), nil
}

// TextProp is a property with character data.
func TextProp(name xml.Name, value string) Any {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(value))
	return Any{XMLName: name, Content: buf.Bytes()}
}

// EmptyProp is a property with no value, as used by propname and 404 propstats.
func EmptyProp(name xml.Name) Any {
	return Any{XMLName: name}
}

// ResourceTypeProp renders DAV:resourcetype.
func ResourceTypeProp(collection bool) Any {
	if collection {
		return Any{XMLName: ResourceTypeName, Content: []byte(`<collection xmlns="DAV:"/>`)}
	}
	return EmptyProp(ResourceTypeName)
}

// SupportedLockProp renders DAV:supportedlock for exclusive and shared write locks.
func SupportedLockProp() Any {
	const entries = `<lockentry xmlns="DAV:"><lockscope><exclusive/></lockscope><locktype><write/></locktype></lockentry>` +
		`<lockentry xmlns="DAV:"><lockscope><shared/></lockscope><locktype><write/></locktype></lockentry>`
	return Any{XMLName: SupportedLockName, Content: []byte(entries)}
}

// LockDiscoveryProp renders DAV:lockdiscovery for ls. href maps a lock root
// to its escaped URL path.
func LockDiscoveryProp(ls []locks.Lock, now time.Time, href func(locks.Lock) string) (Any, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	for _, l := range ls {
		al := newActiveLock(l, now, href(l))
		if err := enc.Encode(&al); err != nil {
			return Any{}, err
		}
	}
	if err := enc.Flush(); err != nil {
		return Any{}, err
	}
	return Any{XMLName: LockDiscoveryName, Content: buf.Bytes()}, nil
}

func newActiveLock(l locks.Lock, now time.Time, root string) activeLock {
	al := activeLock{
		Depth:     l.Depth.String(),
		Timeout:   "Second-" + strconv.FormatInt(int64(l.Remaining(now).Round(time.Second)/time.Second), 10),
		LockToken: l.Token,
		LockRoot:  root,
	}
	if l.Scope == locks.Shared {
		al.Shared = &struct{}{}
	} else {
		al.Exclusive = &struct{}{}
	}
	if l.Owner != "" {
		al.Owner = &rawXML{Inner: l.Owner}
	}
	return al
}

// WriteLockResponse writes the LOCK success body with status code.
func WriteLockResponse(w http.ResponseWriter, code int, l locks.Lock, now time.Time, root string) error {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Lock-Token", "<"+l.Token+">")
	w.WriteHeader(code)
	return writeXML(w, &lockResponse{Discovery: lockDiscovery{Locks: []activeLock{newActiveLock(l, now, root)}}})
}

// WriteMultiStatus writes ms with status 207.
func WriteMultiStatus(w http.ResponseWriter, ms *MultiStatus) error {
	var buf bytes.Buffer
	if err := writeXML(&buf, ms); err != nil {
		return fmt.Errorf("encode multistatus: %w", err)
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusMultiStatus)
	_, err := w.Write(buf.Bytes())
	return err
}

// StatusLine renders "HTTP/1.1 <code> <text>".
func StatusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}

func writeXML(w io.Writer, v any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(v)
}
