//go:build nonative

package runners

import (
	"github.com/edgehive/engine-runner/pkg/engine/discovery"
	"github.com/edgehive/engine-runner/pkg/engine/models"
)

func nativeFactories(models.Resolver) []discovery.Factory {
	return nil
}
