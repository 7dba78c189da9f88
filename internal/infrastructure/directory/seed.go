// Package directory imports user and role entries from a YAML seed file.
package directory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/pkg/utils"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Seed is the document read from a seed file:
//
//	users:
//	  - id: ra.budi
//	    name: Budi Santoso
//	    roles: [risk_analyst]
type Seed struct {
	Users []*entity.User `yaml:"users"`
}

// Parse decodes and validates a seed document. Unknown keys are rejected.
func Parse(data []byte) (*Seed, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty seed")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var seed Seed
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// ParseReader reads r fully and delegates to Parse
func ParseReader(r io.Reader) (*Seed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed: %w", err)
	}
	return Parse(data)
}

// LoadFile parses the seed file at path
func LoadFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return ParseReader(f)
}

// Validate checks ids, rejects duplicates and normalizes role names
func (s *Seed) Validate() error {
	if len(s.Users) == 0 {
		return fmt.Errorf("seed has no users")
	}

	seen := make(map[string]bool, len(s.Users))
	for i, u := range s.Users {
		if u == nil {
			return fmt.Errorf("user #%d: empty entry", i+1)
		}
		u.ID = strings.TrimSpace(u.ID)
		if err := utils.ValidateUserID(u.ID); err != nil {
			return fmt.Errorf("user #%d: %w", i+1, err)
		}
		if seen[u.ID] {
			return fmt.Errorf("user #%d: duplicate id %q", i+1, u.ID)
		}
		seen[u.ID] = true

		roles := make([]string, 0, len(u.Roles))
		dup := make(map[string]bool, len(u.Roles))
		for _, role := range u.Roles {
			role = strings.ToLower(strings.TrimSpace(role))
			if role == "" {
				return fmt.Errorf("user %q: empty role", u.ID)
			}
			if !dup[role] {
				dup[role] = true
				roles = append(roles, role)
			}
		}
		u.Roles = roles
	}
	return nil
}

// Apply upserts every seed user in one transaction and returns the number written
func Apply(ctx context.Context, tx port.TransactionManager, w port.DirectoryWriter, seed *Seed, logger *zap.Logger) (int, error) {
	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		for _, u := range seed.Users {
			if err := w.UpsertUser(ctx, u); err != nil {
				return fmt.Errorf("upsert %s: %w", u.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("Failed to apply directory seed", zap.Error(err))
		return 0, err
	}

	logger.Info("Directory seed applied", zap.Int("users", len(seed.Users)))
	return len(seed.Users), nil
}
