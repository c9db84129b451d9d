package config

type Config struct {
	JWTSecret string
	// Relaxed allows the body-supplied uid fallback and skips the
	// verified-email requirement. Emulator/test runs only.
	Relaxed bool
}
