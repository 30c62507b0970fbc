package proxy

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/momentics/netcore/api"
)

// Scheme identifies a proxy authentication mechanism by its
// Proxy-Authenticate token (case-insensitive).
type Scheme int

const (
	SchemeUnknown Scheme = iota
	SchemeBasic
	SchemeDigest
	SchemeNTLM
	SchemeNegotiate
)

// ParseScheme maps a WWW-/Proxy-Authenticate challenge's leading scheme
// token to a Scheme.
func ParseScheme(challenge string) Scheme {
	token := strings.ToLower(strings.Fields(challenge)[0])
	switch token {
	case "basic":
		return SchemeBasic
	case "digest":
		return SchemeDigest
	case "ntlm":
		return SchemeNTLM
	case "negotiate":
		return SchemeNegotiate
	default:
		return SchemeUnknown
	}
}

// NeedsFreshConnection reports whether this scheme's multi-leg exchange
// must run over a brand-new TCP connection per leg (spec.md §4.3: NTLM
// and Negotiate do; Basic and Digest re-send on the same connection).
func (s Scheme) NeedsFreshConnection() bool {
	return s == SchemeNTLM || s == SchemeNegotiate
}

// Credentials are the proxy username/password/domain this connector
// authenticates with.
type Credentials struct {
	Username string
	Password string
	Domain   string // NTLM/Negotiate only
}

// RequestInfo carries the fields an authenticator may need to fold into
// its response (Digest's method+URI, NTLM's target info).
type RequestInfo struct {
	Method string
	URI    string
}

// Authenticator is the contract spec.md §4.3 names: init, next_token,
// auth_header, has_header.
type Authenticator interface {
	// Init prepares the authenticator for a fresh exchange.
	Init(creds Credentials, req RequestInfo) error
	// NextToken advances the exchange given the latest challenge (the
	// full Proxy-Authenticate header value, including scheme token).
	// It returns false once no further leg is needed.
	NextToken(challenge string) (more bool, err error)
	// AuthHeader renders the current Proxy-Authorization header value.
	AuthHeader() string
	// HasHeader reports whether AuthHeader currently has a value to send.
	HasHeader() bool
}

// --- Basic ---------------------------------------------------------

// BasicAuthenticator emits base64(user:pass) exactly once.
type BasicAuthenticator struct {
	header string
	sent   bool
}

func (a *BasicAuthenticator) Init(creds Credentials, _ RequestInfo) error {
	raw := creds.Username + ":" + creds.Password
	a.header = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	a.sent = false
	return nil
}

func (a *BasicAuthenticator) NextToken(_ string) (bool, error) {
	a.sent = true
	return false, nil
}

func (a *BasicAuthenticator) AuthHeader() string { return a.header }
func (a *BasicAuthenticator) HasHeader() bool    { return a.header != "" }

// --- Digest (RFC 2617) ----------------------------------------------

// DigestAuthenticator implements RFC 2617 MD5 digest auth (qop=auth).
type DigestAuthenticator struct {
	creds Credentials
	req   RequestInfo

	realm, nonce, opaque, qop, algorithm string
	nc                                   int
	header                               string
}

func (a *DigestAuthenticator) Init(creds Credentials, req RequestInfo) error {
	a.creds = creds
	a.req = req
	a.nc = 0
	a.header = ""
	return nil
}

func (a *DigestAuthenticator) NextToken(challenge string) (bool, error) {
	params := parseAuthParams(challenge)
	a.realm = params["realm"]
	a.nonce = params["nonce"]
	a.opaque = params["opaque"]
	a.qop = params["qop"]
	a.algorithm = params["algorithm"]
	if a.nonce == "" {
		return false, api.NewError(api.ProtoError, "proxy.DigestAuthenticator", "missing nonce in challenge", nil)
	}
	a.nc++

	cnonce, err := randomHex(8)
	if err != nil {
		return false, api.NewError(api.FAILED, "proxy.DigestAuthenticator", "cnonce generation failed", err)
	}

	ha1 := md5hex(fmt.Sprintf("%s:%s:%s", a.creds.Username, a.realm, a.creds.Password))
	ha2 := md5hex(fmt.Sprintf("%s:%s", a.req.Method, a.req.URI))

	var response string
	ncStr := fmt.Sprintf("%08x", a.nc)
	if strings.Contains(a.qop, "auth") {
		response = md5hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, a.nonce, ncStr, cnonce, "auth", ha2))
	} else {
		response = md5hex(fmt.Sprintf("%s:%s:%s", ha1, a.nonce, ha2))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		a.creds.Username, a.realm, a.nonce, a.req.URI, response)
	if strings.Contains(a.qop, "auth") {
		fmt.Fprintf(&b, `, qop=auth, nc=%s, cnonce="%s"`, ncStr, cnonce)
	}
	if a.opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, a.opaque)
	}
	a.header = b.String()
	return false, nil
}

func (a *DigestAuthenticator) AuthHeader() string { return a.header }
func (a *DigestAuthenticator) HasHeader() bool    { return a.header != "" }

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func parseAuthParams(challenge string) map[string]string {
	out := make(map[string]string)
	fields := strings.Fields(challenge)
	if len(fields) < 1 {
		return out
	}
	rest := strings.Join(fields[1:], " ")
	for _, part := range strings.Split(rest, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.ToLower(kv[0])] = strings.Trim(kv[1], `"`)
	}
	return out
}

// --- NTLM / Negotiate -------------------------------------------------

// TokenEngine computes the next outgoing token for a multi-leg,
// cryptographically-signed exchange (NTLM's NT/LM response hashes, or a
// Negotiate/SPNEGO/Kerberos GSS token), given the server's last
// challenge token (nil on the first leg). Real NTLM/Kerberos response
// computation is a security-sensitive external collaborator this
// library does not re-implement — the same boundary spec.md draws
// around the TLS engine — so callers plug in a TokenEngine backed by
// whatever credential/crypto library their deployment already trusts
// (e.g. an SSPI binding on Windows, or a gokrb5-style Kerberos client).
type TokenEngine interface {
	// NextToken returns the token to send for the next leg, and done=true
	// once the exchange has produced its final leg.
	NextToken(serverToken []byte) (token []byte, done bool, err error)
}

// multiLegAuthenticator drives NTLM's and Negotiate's shared three(+)-leg
// shape: init sends an initial token (a "type 1" message-equivalent),
// each server challenge yields one more client token, until TokenEngine
// reports done.
type multiLegAuthenticator struct {
	scheme string
	engine TokenEngine
	header string
	leg    int
}

// NewNTLMAuthenticator builds an Authenticator driving an NTLMSSP
// exchange via engine.
func NewNTLMAuthenticator(engine TokenEngine) Authenticator {
	return &multiLegAuthenticator{scheme: "NTLM", engine: engine}
}

// NewNegotiateAuthenticator builds an Authenticator driving a
// Negotiate/SPNEGO exchange via engine.
func NewNegotiateAuthenticator(engine TokenEngine) Authenticator {
	return &multiLegAuthenticator{scheme: "Negotiate", engine: engine}
}

func (a *multiLegAuthenticator) Init(_ Credentials, _ RequestInfo) error {
	a.leg = 0
	a.header = ""
	token, _, err := a.engine.NextToken(nil)
	if err != nil {
		return api.NewError(api.SSLError, "proxy.multiLegAuthenticator", "initial token generation failed", err)
	}
	a.leg++
	a.header = a.scheme + " " + base64.StdEncoding.EncodeToString(token)
	return nil
}

func (a *multiLegAuthenticator) NextToken(challenge string) (bool, error) {
	fields := strings.Fields(challenge)
	var serverToken []byte
	if len(fields) > 1 {
		decoded, err := base64.StdEncoding.DecodeString(fields[1])
		if err == nil {
			serverToken = decoded
		}
	}
	if serverToken == nil && a.leg == 1 {
		// A bare scheme challenge right after Init: the initial token
		// from Init has not been sent yet and is the one to send now.
		return true, nil
	}
	token, done, err := a.engine.NextToken(serverToken)
	if err != nil {
		return false, api.NewError(api.SSLError, "proxy.multiLegAuthenticator", "token exchange failed", err)
	}
	a.leg++
	a.header = a.scheme + " " + base64.StdEncoding.EncodeToString(token)
	return !done, nil
}

func (a *multiLegAuthenticator) AuthHeader() string { return a.header }
func (a *multiLegAuthenticator) HasHeader() bool    { return a.header != "" }
