// Package allocator derives the unique coordinates of a new instance:
// normalized name, container name, database name, listen port and
// generated credentials.
package allocator

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/gosimple/slug"
	"github.com/nimbushost/fleet/internal/instance/domain"
	"gorm.io/gorm"
)

const (
	dbPasswordLength    = 32
	adminPasswordLength = 12

	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Allocation holds the derived coordinates for a new instance.
type Allocation struct {
	Name          string
	ContainerName string
	DBName        string
	DBPassword    string
	AdminPassword string
	Domain        string
	Port          int
}

type Allocator struct {
	repo            domain.Repository
	portBase        int
	containerPrefix string
	domainSuffix    string
}

func New(repo domain.Repository, portBase int, containerPrefix, domainSuffix string) *Allocator {
	return &Allocator{
		repo:            repo,
		portBase:        portBase,
		containerPrefix: containerPrefix,
		domainSuffix:    domainSuffix,
	}
}

// Normalize lowercases and slugifies a requested instance name so it
// is safe as a container name, database name and subdomain label.
func Normalize(name string) string {
	return slug.Make(strings.ToLower(strings.TrimSpace(name)))
}

// Allocate derives coordinates inside the caller's transaction. The
// port is the configured base when the fleet is empty, otherwise one
// above the current maximum. Uniqueness is still enforced by the
// database; callers retry on duplicate-key errors.
func (a *Allocator) Allocate(ctx context.Context, tx *gorm.DB, requestedName, requestedDomain, requestedContainer string) (*Allocation, error) {
	name := Normalize(requestedName)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", domain.ErrInvalidRequest)
	}

	containerName := strings.TrimSpace(requestedContainer)
	if containerName == "" {
		containerName = a.containerPrefix + name
	}

	port, err := a.nextPort(ctx, tx)
	if err != nil {
		return nil, err
	}

	dbPassword, err := randomString(dbPasswordLength)
	if err != nil {
		return nil, err
	}
	adminPassword, err := randomString(adminPasswordLength)
	if err != nil {
		return nil, err
	}

	instanceDomain := strings.ToLower(strings.TrimSpace(requestedDomain))
	if instanceDomain == "" {
		instanceDomain = name + a.domainSuffix
	}

	return &Allocation{
		Name:          name,
		ContainerName: containerName,
		DBName:        strings.ReplaceAll(name, "-", "_"),
		DBPassword:    dbPassword,
		AdminPassword: adminPassword,
		Domain:        instanceDomain,
		Port:          port,
	}, nil
}

func (a *Allocator) nextPort(ctx context.Context, tx *gorm.DB) (int, error) {
	max, ok, err := a.repo.MaxPort(ctx, tx)
	if err != nil {
		return 0, err
	}
	if !ok || max < a.portBase {
		return a.portBase, nil
	}
	return max + 1, nil
}

func randomString(n int) (string, error) {
	out := make([]byte, n)
	alphabetLen := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
