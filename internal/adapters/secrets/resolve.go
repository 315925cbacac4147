package secrets

import (
	"context"
	"fmt"

	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// Ref binds a secret path to the config field it populates
type Ref struct {
	Target *string
	Path   string
}

// Resolve fills every Ref with a non-empty Path. Refs with an empty path
// keep the value they were loaded with.
func Resolve(ctx context.Context, manager ports.SecretManager, refs ...Ref) error {
	for _, ref := range refs {
		if ref.Path == "" || ref.Target == nil {
			continue
		}
		secret, err := manager.GetSecret(ctx, ref.Path)
		if err != nil {
			return fmt.Errorf("resolve secret %s: %w", ref.Path, err)
		}
		*ref.Target = secret.Value
	}
	return nil
}
