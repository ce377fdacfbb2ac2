package model

import "time"

// Platform names a wallet ecosystem a pass is enrolled in.
type Platform string

const (
	PlatformApple  Platform = "apple"
	PlatformGoogle Platform = "google"
)

// UsageType is the redemption policy of a pass.
type UsageType string

const (
	UsageSingle UsageType = "single_use"
	UsageMulti  UsageType = "multi_use"
)

// PassStatus is derived from the explicit timestamp columns of a pass and
// is never stored on its own.
type PassStatus string

const (
	PassActive   PassStatus = "active"
	PassRedeemed PassStatus = "redeemed"
	PassVoided   PassStatus = "voided"
	PassExpired  PassStatus = "expired"
)

// Pass is a single issued wallet credential owned by one tenant user.
//
// Fields:
//  ID                  – primary key identifier.
//  UserID              – owning tenant.
//  TemplateID          – template the pass was generated from.
//  SerialNumber        – unique, immutable serial shared with the wallet.
//  PassTypeID          – Apple pass type identifier (also the APNs topic).
//  Platforms           – wallets the pass was issued to.
//  UsageType           – single_use or multi_use.
//  Data                – field key/value payload rendered on the pass.
//  AuthenticationToken – per-pass secret for the device web service.
//  PkpassPath          – blob path of the generated file; nil when stale.
//  VoidedAt            – set when the pass was voided (terminal).
//  RedeemedAt          – set when a single-use pass was redeemed (terminal).
//  ExpiresAt           – optional expiry.
//  CreatedAt/UpdatedAt – timestamps; UpdatedAt doubles as the device
//                        polling cache-invalidation tag.
type Pass struct {
	ID                  uint64            `json:"id"`
	UserID              uint64            `json:"-"`
	TemplateID          uint64            `json:"template_id"`
	SerialNumber        string            `json:"serial_number"`
	PassTypeID          string            `json:"pass_type_id"`
	Platforms           []Platform        `json:"platforms"`
	UsageType           UsageType         `json:"usage_type"`
	Data                map[string]string `json:"pass_data"`
	AuthenticationToken string            `json:"-"`
	PkpassPath          *string           `json:"-"`
	VoidedAt            *time.Time        `json:"voided_at"`
	RedeemedAt          *time.Time        `json:"redeemed_at"`
	ExpiresAt           *time.Time        `json:"expires_at"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Status derives the lifecycle state at the given instant. Voided wins over
// everything, a redeemed pass stays redeemed after its expiry passes.
func (p *Pass) Status(now time.Time) PassStatus {
	switch {
	case p.VoidedAt != nil:
		return PassVoided
	case p.RedeemedAt != nil:
		return PassRedeemed
	case p.IsExpired(now):
		return PassExpired
	default:
		return PassActive
	}
}

// IsExpired reports whether the pass has an expiry at or before now.
func (p *Pass) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// HasPlatform reports whether the pass was issued to the given wallet.
func (p *Pass) HasPlatform(pl Platform) bool {
	for _, v := range p.Platforms {
		if v == pl {
			return true
		}
	}
	return false
}

// PassFilter narrows the set of passes a bulk update applies to. Empty
// fields do not filter.
type PassFilter struct {
	Status   PassStatus `json:"status,omitempty"`
	Platform Platform   `json:"platform,omitempty"`
}

// Matches applies the filter to a pass in memory.
func (f PassFilter) Matches(p *Pass, now time.Time) bool {
	if f.Status != "" && p.Status(now) != f.Status {
		return false
	}
	if f.Platform != "" && !p.HasPlatform(f.Platform) {
		return false
	}
	return true
}
