// Package privacy reduces raw client metadata (IP, user agent) to forms safe
// to persist or log. Two views exist: the storage view keeps enough precision
// to correlate abuse (masked subnet plus a keyed fingerprint of the full
// value), the log view is coarser and carries no fingerprint at all.
package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
	"strings"

	"authgate/internal/netutil"
)

const fingerprintLen = 16 // hex chars kept from the HMAC output

type Config struct {
	// HashSalt keys the fingerprint HMAC. Two deployments with different
	// salts produce uncorrelatable fingerprints for the same client.
	HashSalt string
	// StoreRaw skips masking for the storage view. Explicit operator opt-in.
	StoreRaw bool
}

type Anonymizer struct {
	cfg Config
}

func New(cfg Config) *Anonymizer { return &Anonymizer{cfg: cfg} }

// StorageView is what the session manager and security-event writers persist.
type StorageView struct {
	IP        string
	IPHash    string
	UserAgent string
}

// LogView is safe for free-text log lines.
type LogView struct {
	IP        string
	UserAgent string
}

func (a *Anonymizer) Storage(ip, ua string) StorageView {
	ua = netutil.TruncateUserAgent(ua)
	if a.cfg.StoreRaw {
		return StorageView{IP: ip, IPHash: a.Fingerprint(ip), UserAgent: ua}
	}
	return StorageView{
		IP:        MaskIP(ip),
		IPHash:    a.Fingerprint(ip),
		UserAgent: ua,
	}
}

func (a *Anonymizer) Log(ip, ua string) LogView {
	return LogView{IP: coarseMask(ip), UserAgent: AgentFamily(ua)}
}

// Fingerprint derives a salted, truncated one-way identifier from the full
// raw value. Keyed on the raw value, so two IPs in the same /24 still get
// distinct fingerprints.
func (a *Anonymizer) Fingerprint(raw string) string {
	if raw == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.HashSalt))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))[:fingerprintLen]
}

// MaskIP truncates an IPv4 address to its /24 and an IPv6 address to its
// first four groups. Unparseable input is replaced wholesale.
func MaskIP(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "invalid"
	}
	if addr.Is4() || addr.Is4In6() {
		b := addr.As4()
		b[3] = 0
		return netip.AddrFrom4(b).String() + "/24"
	}
	b := addr.As16()
	for i := 8; i < 16; i++ {
		b[i] = 0
	}
	return netip.AddrFrom16(b).String() + "/64"
}

// coarseMask keeps only the first half of the address for log lines.
func coarseMask(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "invalid"
	}
	if addr.Is4() || addr.Is4In6() {
		b := addr.As4()
		b[2], b[3] = 0, 0
		return netip.AddrFrom4(b).String() + "/16"
	}
	b := addr.As16()
	for i := 4; i < 16; i++ {
		b[i] = 0
	}
	return netip.AddrFrom16(b).String() + "/32"
}

// AgentFamily reduces a user-agent string to its leading product token, e.g.
// "Mozilla/5.0 (X11; Linux x86_64) ..." -> "Mozilla".
func AgentFamily(ua string) string {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return "unknown"
	}
	if idx := strings.IndexAny(ua, "/ ("); idx > 0 {
		ua = ua[:idx]
	}
	const maxFamily = 64
	if len(ua) > maxFamily {
		ua = ua[:maxFamily]
	}
	return ua
}
