package store

import "time"

// StoredError is the JSON shape persisted in the orders.error and
// challenges.error columns: a problem kind paired with a detail string,
// mirroring original_source's `row(type, detail)` tuples. Nullable error
// columns are scanned as raw bytes and decoded with parseErrorColumn
// rather than relying on a custom sql.Scanner, since jsonb NULL handling
// through a pointer-to-struct scan target is easy to get subtly wrong.
type StoredError struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

type AccountStatus string

const (
	AccountValid       AccountStatus = "valid"
	AccountDeactivated AccountStatus = "deactivated"
	AccountRevoked     AccountStatus = "revoked"
)

type Account struct {
	ID     string
	JWK    string
	Mail   *string
	Status AccountStatus
}

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderReady      OrderStatus = "ready"
	OrderProcessing OrderStatus = "processing"
	OrderValid      OrderStatus = "valid"
	OrderInvalid    OrderStatus = "invalid"
)

type Order struct {
	ID        string
	AccountID string
	Status    OrderStatus
	ExpiresAt time.Time
	Error     *StoredError
}

type AuthzStatus string

const (
	AuthzPending     AuthzStatus = "pending"
	AuthzValid       AuthzStatus = "valid"
	AuthzInvalid     AuthzStatus = "invalid"
	AuthzDeactivated AuthzStatus = "deactivated"
	AuthzExpired     AuthzStatus = "expired"
)

type Authorization struct {
	ID      string
	OrderID string
	Domain  string
	Status  AuthzStatus
}

type ChallengeStatus string

const (
	ChallengePending    ChallengeStatus = "pending"
	ChallengeProcessing ChallengeStatus = "processing"
	ChallengeValid      ChallengeStatus = "valid"
	ChallengeInvalid    ChallengeStatus = "invalid"
)

type Challenge struct {
	ID          string
	AuthzID     string
	Token       string
	Status      ChallengeStatus
	ValidatedAt *time.Time
	Error       *StoredError
}

type Certificate struct {
	SerialNumber               string
	OrderID                    string
	CSRPEM                     string
	ChainPEM                   string
	NotValidBefore             time.Time
	NotValidAfter              time.Time
	RevokedAt                  *time.Time
	UserInformedCertWillExpire bool
	UserInformedCertHasExpired bool
}

type CA struct {
	SerialNumber string
	CertPEM      string
	KeyPEMEnc    []byte
	Active       bool
	CRLPEM       *string
}
