package model

import "time"

// ScanAction is what a scanner attempted.
type ScanAction string

const (
	ActionScan             ScanAction = "scan"
	ActionRedeem           ScanAction = "redeem"
	ActionVisit            ScanAction = "visit"
	ActionInvalidSignature ScanAction = "invalid_signature"
)

// ScanResult is the outcome of a scan attempt.
type ScanResult string

const (
	ResultSuccess          ScanResult = "success"
	ResultAlreadyRedeemed  ScanResult = "already_redeemed"
	ResultVoided           ScanResult = "voided"
	ResultExpired          ScanResult = "expired"
	ResultNotFound         ScanResult = "not_found"
	ResultInvalidSignature ScanResult = "invalid_signature"
)

// ScanEvent is a write-once audit row for one scanner attempt.
type ScanEvent struct {
	ID            uint64     `json:"id"`
	UserID        uint64     `json:"-"`
	PassID        *uint64    `json:"pass_id"`
	ScannerLinkID uint64     `json:"scanner_link_id"`
	Action        ScanAction `json:"action"`
	Result        ScanResult `json:"result"`
	IPAddress     string     `json:"ip_address"`
	UserAgent     string     `json:"user_agent"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ScannerLink is a tenant-scoped token used by physical scanners. Only the
// SHA-256 hash of the token is stored.
type ScannerLink struct {
	ID        uint64 // scanner_links.id
	UserID    uint64 // scanner_links.user_id
	Name      string // scanner_links.name
	TokenHash string // scanner_links.token_hash
	IsActive  bool   // scanner_links.is_active
}
