// Package secrets manages participant shared secrets. Secrets are stored as
// salted hashes on the participant row, never in plaintext; verification is
// constant-time. A read-through cache keeps the hot path off the store for
// concurrent readers.
package secrets

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"practicum/internal/logging"
	"practicum/internal/store"
)

// MinSecretLength is the smallest acceptable secret.
const MinSecretLength = 8

// HashSecret hashes a secret with the participant id as salt, so equal
// secrets from different participants produce different hashes.
func HashSecret(participant, secret string) string {
	sum := sha256.Sum256([]byte(participant + ":" + secret))
	return hex.EncodeToString(sum[:])
}

// Registry verifies participant credentials against the store.
type Registry struct {
	st     store.Store
	mu     sync.RWMutex
	cache  map[string]string // participant id -> secret hash
	logger *slog.Logger
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(st store.Store) *Registry {
	return &Registry{
		st:     st,
		cache:  make(map[string]string),
		logger: logging.New("secrets"),
	}
}

// Register stores (or replaces) a participant's endpoint and secret hash.
func (r *Registry) Register(participant, endpoint, secret string) error {
	if participant == "" {
		return fmt.Errorf("participant id is required")
	}
	if len(secret) < MinSecretLength {
		return fmt.Errorf("secret must be at least %d characters", MinSecretLength)
	}
	hash := HashSecret(participant, secret)
	err := r.st.UpsertParticipant(&store.Participant{
		ID:         participant,
		Endpoint:   endpoint,
		SecretHash: hash,
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", participant, err)
	}
	r.mu.Lock()
	r.cache[participant] = hash
	r.mu.Unlock()
	r.logger.Info("registered participant", "participant", participant)
	return nil
}

// Verify reports whether the secret matches the participant's registered
// hash. Comparison is constant-time; unknown participants always fail.
func (r *Registry) Verify(participant, secret string) bool {
	r.mu.RLock()
	stored, ok := r.cache[participant]
	r.mu.RUnlock()

	if !ok {
		p, err := r.st.GetParticipant(participant)
		if err != nil {
			r.logger.Warn("participant lookup failed", "participant", participant, "error", err)
			return false
		}
		if p == nil {
			return false
		}
		stored = p.SecretHash
		r.mu.Lock()
		r.cache[participant] = stored
		r.mu.Unlock()
	}

	provided := HashSecret(participant, secret)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(stored)) == 1
}

// Remove deletes a participant's registration and drops the cache entry.
func (r *Registry) Remove(participant string) error {
	if err := r.st.RemoveParticipant(participant); err != nil {
		return fmt.Errorf("remove %s: %w", participant, err)
	}
	r.mu.Lock()
	delete(r.cache, participant)
	r.mu.Unlock()
	return nil
}

// ImportRoster reads a roster CSV in the registration form export format
// (timestamp,email,endpoint,secret) and registers each row. Rows with short
// secrets are skipped with a warning rather than aborting the import.
func (r *Registry) ImportRoster(rd io.Reader) (int, error) {
	reader := csv.NewReader(rd)
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read roster header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"email", "endpoint", "secret"} {
		if _, ok := col[required]; !ok {
			return 0, fmt.Errorf("roster missing %q column", required)
		}
	}

	count := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read roster row: %w", err)
		}
		email := strings.TrimSpace(row[col["email"]])
		endpoint := strings.TrimSpace(row[col["endpoint"]])
		secret := strings.TrimSpace(row[col["secret"]])
		if err := r.Register(email, endpoint, secret); err != nil {
			r.logger.Warn("skipping roster row", "participant", email, "error", err)
			continue
		}
		count++
	}
	r.logger.Info("imported roster", "registered", count)
	return count, nil
}
