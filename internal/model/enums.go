package model

type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusExpired SessionStatus = "expired"
	SessionStatusRevoked SessionStatus = "revoked"
)

type WalletType string

const (
	WalletTypeSui WalletType = "sui"
	WalletTypeEVM WalletType = "evm"
)

type KeyAlgorithm string

const (
	KeyAlgorithmEd25519 KeyAlgorithm = "ed25519"
)
