package hsm

// Operation names. Used as audit log entries, Prometheus labels, and
// session permission entries.
const (
	OpCreateSession     = "create_session"
	OpCloseSession      = "close_session"
	OpGenerateRSA       = "generate_rsa_key"
	OpGenerateEd25519   = "generate_ed25519_key"
	OpGenerateSymmetric = "generate_symmetric_key"
	OpGenerateHMAC      = "generate_hmac_key"
	OpListKeys          = "list_keys"
	OpGetPublicKey      = "get_public_key"
	OpDeleteKey         = "delete_key"
	OpExportKey         = "export_key"
	OpEncrypt           = "encrypt"
	OpDecrypt           = "decrypt"
	OpSign              = "sign"
	OpVerify            = "verify"
	OpComputeMAC        = "compute_mac"
	OpVerifyMAC         = "verify_mac"
	OpHealthCheck       = "health_check"
)
