package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"

	"github.com/dannaaduna/oacd-core/internal/types"
	"github.com/google/uuid"
)

// ErrBadCredentials indicates the login/password pair was rejected
var ErrBadCredentials = errors.New("bad credentials")

// Directory is the external agent-auth store. The session core only
// consumes this contract; production deployments back it with the
// cluster's directory service
type Directory interface {
	Authenticate(ctx context.Context, login, password string) (types.AgentAuth, error)
}

type seededAgent struct {
	passwordHash [32]byte
	auth         types.AgentAuth
}

// SeedDirectory is an in-memory Directory for development and tests,
// populated from the AGENT_SEED env string:
// login:password:security[;login:password:security...]
type SeedDirectory struct {
	agents map[string]seededAgent
	mu     sync.RWMutex
}

// NewSeedDirectory parses a seed string. Malformed entries are skipped
func NewSeedDirectory(seed string) *SeedDirectory {
	d := &SeedDirectory{agents: make(map[string]seededAgent)}
	for _, entry := range strings.Split(seed, ";") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		security := types.SecurityAgent
		if len(parts) >= 3 {
			switch types.SecurityLevel(parts[2]) {
			case types.SecuritySupervisor:
				security = types.SecuritySupervisor
			case types.SecurityAdmin:
				security = types.SecurityAdmin
			}
		}
		d.Add(parts[0], parts[1], security)
	}
	return d
}

// Add registers an agent with the Default profile and the english skill
func (d *SeedDirectory) Add(login, password string, security types.SecurityLevel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[login] = seededAgent{
		passwordHash: sha256.Sum256([]byte(password)),
		auth: types.AgentAuth{
			ID:       uuid.New().String(),
			Login:    login,
			Profile:  "Default",
			Security: security,
			Skills:   types.SkillSet{{Atom: "english"}},
		},
	}
}

// Authenticate implements Directory
func (d *SeedDirectory) Authenticate(_ context.Context, login, password string) (types.AgentAuth, error) {
	d.mu.RLock()
	a, ok := d.agents[login]
	d.mu.RUnlock()
	if !ok {
		return types.AgentAuth{}, ErrBadCredentials
	}
	hash := sha256.Sum256([]byte(password))
	if subtle.ConstantTimeCompare(hash[:], a.passwordHash[:]) != 1 {
		return types.AgentAuth{}, ErrBadCredentials
	}
	return a.auth, nil
}
