package config

type Config struct {
	ServerAddr     string
	AllowedOrigins []string
	AttestAddr     string
	// Relaxed allows serving without a configured attestation verifier.
	// Emulator/test runs only; strict mode fails closed without one.
	Relaxed bool
}
